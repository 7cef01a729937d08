package matcher

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finscenario/scenariomap/internal/scenario"
)

func hc(id, name, issue, riskType string) scenario.HistoricalCase {
	return scenario.HistoricalCase{ID: id, Name: name, IssueDescription: issue, RiskType: riskType,
		Recommendations: []string{"rec for " + id}}
}

func referenceSnapshot() *Snapshot {
	return NewSnapshot(ReferenceCases(), EmbeddedSource)
}

// ─── Tokenizer ────────────────────────────────────────────────────────────────

func TestTokenize(t *testing.T) {
	got := tokenize("The Counterparty-default, of 2020! a")
	want := []string{"counterparty", "default", "2020", "counterparty default", "default 2020"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokenize mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenize_OnlyStopWords(t *testing.T) {
	assert.Empty(t, tokenize("the and of to a"))
	assert.Empty(t, tokenize("   "))
}

// ─── Ranking ──────────────────────────────────────────────────────────────────

func TestMatch_ReferenceCorpusFindsObviousCase(t *testing.T) {
	d := scenario.Draft{Name: "Cyber ransomware", Description: "data breach of customer records", RiskType: "Operational"}
	got := Match(d, referenceSnapshot(), DefaultTopK)
	require.NotEmpty(t, got)
	assert.Equal(t, "HC-009", got[0].CaseID)
	assert.LessOrEqual(t, len(got), DefaultTopK)
}

func TestMatch_Deterministic(t *testing.T) {
	snap := referenceSnapshot()
	d := scenario.Draft{Name: "Counterparty default - Corp XYZ", Description: "Major counterparty defaulted on repo", RiskType: "Credit"}
	first := Match(d, snap, 10)
	second := Match(d, snap, 10)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Match not deterministic (-first +second):\n%s", diff)
	}

	rebuilt := Match(d, referenceSnapshot(), 10)
	if diff := cmp.Diff(first, rebuilt); diff != "" {
		t.Errorf("Match differs across snapshots (-first +rebuilt):\n%s", diff)
	}
}

func TestMatch_SortedAndBounded(t *testing.T) {
	snap := referenceSnapshot()
	drafts := []scenario.Draft{
		{Name: "Liquidity run", Description: "depositors withdrew funding", RiskType: "Liquidity"},
		{Name: "Rate hike", Description: "central bank raised rates", RiskType: "Market"},
		{Name: "x", RiskType: "Credit"},
	}
	for _, d := range drafts {
		got := Match(d, snap, 100)
		assert.LessOrEqual(t, len(got), snap.Len())
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score, "results not sorted for %q", d.Name)
		}
		for _, m := range got {
			assert.Greater(t, m.Score, 0.0)
			assert.LessOrEqual(t, m.Score, 1.0)
		}
	}
}

func TestMatch_RiskTypeOutranksSimilarText(t *testing.T) {
	snap := NewSnapshot([]scenario.HistoricalCase{
		hc("A", "Funding stress", "wholesale funding stress", "Market"),
		hc("B", "Funding stress", "wholesale funding stress", "Liquidity"),
	}, "test")
	got := Match(scenario.Draft{Name: "funding stress", RiskType: "liquidity"}, snap, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].CaseID)
	assert.InDelta(t, got[0].Score-got[1].Score, riskTypeWeight, 0.0002)
}

func TestMatch_TiesKeepIDOrder(t *testing.T) {
	snap := NewSnapshot([]scenario.HistoricalCase{
		hc("X-2", "Settlement failure", "settlement fails", "Operational"),
		hc("X-1", "Settlement failure", "settlement fails", "Operational"),
		hc("X-3", "Unrelated", "volcano", "Other"),
	}, "test")
	got := Match(scenario.Draft{Name: "settlement failure"}, snap, 5)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"X-1", "X-2"}, []string{got[0].CaseID, got[1].CaseID})
	assert.Equal(t, got[0].Score, got[1].Score)
}

func TestMatch_RiskTypeOnlyDraft(t *testing.T) {
	got := Match(scenario.Draft{Name: "the of", RiskType: "Credit"}, referenceSnapshot(), DefaultTopK)
	require.Len(t, got, DefaultTopK)
	ids := make([]string, len(got))
	for i, m := range got {
		assert.Equal(t, riskTypeWeight, m.Score)
		assert.Equal(t, "Credit", m.RiskType)
		ids[i] = m.CaseID
	}
	assert.Equal(t, []string{"HC-004", "HC-007", "HC-008", "HC-011", "HC-014"}, ids)
}

func TestMatch_EmptyCorpus(t *testing.T) {
	got := Match(scenario.Draft{Name: "anything", RiskType: "Credit"}, NewSnapshot(nil, "empty"), 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Nil(t, Confidence(got))
}

func TestMatch_NoUsableText(t *testing.T) {
	got := Match(scenario.Draft{Name: "!!"}, referenceSnapshot(), 5)
	assert.Empty(t, got)
}

func TestMatch_UnrelatedTextExcluded(t *testing.T) {
	snap := NewSnapshot([]scenario.HistoricalCase{hc("A", "Volcano", "lava flow", "Other")}, "test")
	assert.Empty(t, Match(scenario.Draft{Name: "bond yields"}, snap, 5))
}

func TestMatch_DefaultTopK(t *testing.T) {
	got := Match(scenario.Draft{Name: "x", RiskType: "Operational"}, referenceSnapshot(), 0)
	assert.Len(t, got, DefaultTopK)
}

// ─── Confidence & presentation ────────────────────────────────────────────────

func TestConfidence(t *testing.T) {
	c := Confidence([]scenario.Match{{Score: 0.81234}, {Score: 0.5}})
	require.NotNil(t, c)
	assert.Equal(t, 0.8123, *c)

	low := Confidence([]scenario.Match{{Score: 0.2}})
	high := Confidence([]scenario.Match{{Score: 0.9}})
	assert.Less(t, *low, *high)
}

func TestPercent(t *testing.T) {
	cases := map[float64]string{0: "0%", 0.874: "87%", 0.875: "88%", 1: "100%", 1.3: "100%", -0.2: "0%"}
	for in, want := range cases {
		assert.Equal(t, want, Percent(in), "Percent(%v)", in)
	}
}
