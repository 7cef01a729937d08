package matcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finscenario/scenariomap/internal/scenario"
)

// ─── Reference corpus ─────────────────────────────────────────────────────────

func TestReferenceCases(t *testing.T) {
	cases := ReferenceCases()
	require.Len(t, cases, 50)

	seen := map[string]bool{}
	for _, c := range cases {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.IssueDescription)
		assert.NotEmpty(t, c.Impact)
		assert.NotEmpty(t, c.RiskType)
		assert.Len(t, c.Recommendations, 3, "case %s", c.ID)
	}
	assert.True(t, seen["HC-001"])
	assert.True(t, seen["HC-050"])
}

func TestSnapshot_SortedAndCopied(t *testing.T) {
	snap := NewSnapshot([]scenario.HistoricalCase{hc("B", "b", "", ""), hc("A", "a", "", "")}, "test")
	cases := snap.Cases()
	require.Len(t, cases, 2)
	assert.Equal(t, "A", cases[0].ID)

	cases[0].Recommendations[0] = "mutated"
	c, ok := snap.Case("A")
	require.True(t, ok)
	assert.Equal(t, "rec for A", c.Recommendations[0])

	_, ok = snap.Case("missing")
	assert.False(t, ok)
}

func TestCorpus_ZeroValueIsEmpty(t *testing.T) {
	var c Corpus
	assert.Equal(t, 0, c.Snapshot().Len())
	assert.Empty(t, c.Snapshot().Cases())
}

// ─── Loading ──────────────────────────────────────────────────────────────────

func TestLoadCases_EmptyPathIsEmbedded(t *testing.T) {
	cases, err := LoadCases("")
	require.NoError(t, err)
	assert.Len(t, cases, 50)
}

func TestLoadCases_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "cases.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
- id: C-1
  name: Rate shock
  risk_type: Market
  issue_description: rates up
  impact: losses
  recommendations: [hedge]
- name: ""
`), 0644))
	cases, err := LoadCases(yamlPath)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "Market", cases[0].RiskType)
	assert.Equal(t, "HC-002", cases[1].ID)
	assert.Equal(t, "Case 2", cases[1].Name)

	jsonPath := filepath.Join(dir, "cases.JSON")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"id":"J-1","name":"Json case","issueDescription":"x","riskType":"Credit"}]`), 0644))
	cases, err = LoadCases(jsonPath)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "x", cases[0].IssueDescription)
	assert.Equal(t, "Credit", cases[0].RiskType)
}

func TestLoadCases_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadCases(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("- id: A\n  name: a\n- id: A\n  name: b\n"), 0644))
	_, err = LoadCases(dup)
	assert.ErrorContains(t, err, "duplicate")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = LoadCases(bad)
	assert.Error(t, err)
}

// ─── Swap ─────────────────────────────────────────────────────────────────────

func TestCorpus_ReloadKeepsSnapshotOnError(t *testing.T) {
	c := NewCorpus(ReferenceCases(), EmbeddedSource)
	before := c.Snapshot()

	_, err := c.Reload(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Same(t, before, c.Snapshot())

	snap, err := c.Reload("")
	require.NoError(t, err)
	assert.Equal(t, EmbeddedSource, snap.Source())
	assert.NotSame(t, before, c.Snapshot())
}

func TestCorpus_ConcurrentSwapAndMatch(t *testing.T) {
	small := []scenario.HistoricalCase{hc("S-1", "Liquidity", "funding", "Liquidity"), hc("S-2", "Credit", "default", "Credit")}
	full := ReferenceCases()
	c := NewCorpus(full, EmbeddedSource)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i == 0 {
					if j%2 == 0 {
						c.Swap(small, "small")
					} else {
						c.Swap(full, EmbeddedSource)
					}
					continue
				}
				snap := c.Snapshot()
				n := snap.Len()
				if n != 2 && n != 50 {
					t.Errorf("observed partial corpus of %d cases", n)
					return
				}
				for _, m := range Match(scenario.Draft{Name: "funding default", RiskType: "Credit"}, snap, 5) {
					if _, ok := snap.Case(m.CaseID); !ok {
						t.Errorf("match %s not in its snapshot", m.CaseID)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()
}
