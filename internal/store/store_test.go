package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finscenario/scenariomap/internal/audit"
	"github.com/finscenario/scenariomap/internal/scenario"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	sqlite, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "nested", "scenarios.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mem, err := Open(ctx, "memory", "")
	require.NoError(t, err)
	return map[string]Store{"memory": mem, "sqlite": sqlite}
}

func sampleScenario(id string, created time.Time) *scenario.Scenario {
	return &scenario.Scenario{
		ID:          id,
		Name:        "Scenario " + id,
		Description: "AES:opaque",
		RiskType:    "Credit",
		Source:      scenario.SourceUpload,
		FileName:    "batch.csv",
		CreatedAt:   created,
		State:       scenario.StatePersisted,
		StepLog: []scenario.StepEntry{
			{Step: scenario.StepNormalize, Status: scenario.StatusOK, Timestamp: created},
		},
	}
}

// ─── Scenarios ────────────────────────────────────────────────────────────────

func TestStore_CreateGetUpdate(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sc := sampleScenario("scn-1", base)
			require.NoError(t, st.Create(ctx, sc))

			got, err := st.Get(ctx, "scn-1")
			require.NoError(t, err)
			assert.True(t, got.CreatedAt.Equal(base))
			assert.Nil(t, got.ConfidenceScore)
			assert.Empty(t, got.MatchedCases)
			assert.Len(t, got.StepLog, 1)

			score := 0.8123
			sc.State = scenario.StateDone
			sc.ConfidenceScore = &score
			sc.MatchedCases = []scenario.Match{{CaseID: "HC-008", Name: "Counterparty Default", Score: 0.8123, Percentage: "81%"}}
			sc.Recommendations = []string{"Collateralise OTC exposure"}
			sc.RecommendationSource = scenario.FromHistoricalFallback
			sc.StepLog = append(sc.StepLog, scenario.StepEntry{Step: scenario.StepMatch, Status: scenario.StatusOK, Timestamp: base.Add(time.Second)})
			require.NoError(t, st.Update(ctx, sc))

			got, err = st.Get(ctx, "scn-1")
			require.NoError(t, err)
			want := sc.Clone()
			opt := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
			if diff := cmp.Diff(want, got, opt); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_Errors(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := st.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound), "Get err = %v", err)

			err = st.Update(ctx, sampleScenario("missing", time.Now()))
			assert.True(t, errors.Is(err, ErrNotFound), "Update err = %v", err)

			require.NoError(t, st.Create(ctx, sampleScenario("dup", time.Now())))
			err = st.Create(ctx, sampleScenario("dup", time.Now()))
			assert.True(t, errors.Is(err, ErrConflict), "Create err = %v", err)
		})
	}
}

func TestStore_Recent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, st.Create(ctx, sampleScenario(fmt.Sprintf("scn-%d", i), base.Add(time.Duration(i)*time.Minute))))
			}
			got, err := st.Recent(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"scn-4", "scn-3", "scn-2"}, []string{got[0].ID, got[1].ID, got[2].ID})
			assert.Equal(t, scenario.SourceUpload, got[0].Source)

			all, err := st.Recent(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}

// ─── Audit ────────────────────────────────────────────────────────────────────

func TestStore_Audit(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				require.NoError(t, st.AppendAudit(ctx, audit.Entry{
					ID:        fmt.Sprintf("a-%d", i),
					Actor:     "alice",
					Action:    audit.ActionCreate,
					Resource:  fmt.Sprintf("scn-%d", i),
					Details:   "AES:sealed",
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}))
			}
			got, err := st.ListAudit(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a-2", got[0].ID)
			assert.Equal(t, "a-1", got[1].ID)
			assert.Equal(t, "AES:sealed", got[0].Details)
			assert.True(t, got[0].CreatedAt.Equal(base.Add(2*time.Second)))
		})
	}
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func TestClampRecent(t *testing.T) {
	cases := map[int]int{-1: DefaultRecentLimit, 0: DefaultRecentLimit, 1: 1, 50: 50, 100: 100, 1000: MaxRecentLimit}
	for in, want := range cases {
		if got := ClampRecent(in); got != want {
			t.Errorf("ClampRecent(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &SQL{postgres: true}
	if got := pg.rebind("SELECT ? , ? FROM t WHERE id = ?"); got != "SELECT $1 , $2 FROM t WHERE id = $3" {
		t.Errorf("rebind = %q", got)
	}
	lite := &SQL{}
	if got := lite.rebind("id = ?"); got != "id = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "")
	assert.Error(t, err)
	_, err = Open(context.Background(), "postgres", "")
	assert.Error(t, err)
}
