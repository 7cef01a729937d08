package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/finscenario/scenariomap/internal/scenario"
)

const (
	// DefaultTopK is the number of matches kept when no limit is configured.
	DefaultTopK = 5

	textWeight     = 0.75
	riskTypeWeight = 0.25
)

// Match scores draft against every case in snap and returns at most topK
// cases with a positive score, best first. Equal scores keep corpus (id)
// order. An empty corpus or a draft with neither text nor risk type yields an
// empty slice.
func Match(draft scenario.Draft, snap *Snapshot, topK int) []scenario.Match {
	if snap.Len() == 0 {
		return []scenario.Match{}
	}
	tokens := tokenize(draft.Text())
	riskType := strings.TrimSpace(draft.RiskType)
	if len(tokens) == 0 && riskType == "" {
		return []scenario.Match{}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	query := snap.index.vectorize(tokens)
	type scored struct {
		pos   int
		score float64
	}
	ranked := make([]scored, 0, snap.Len())
	for i, c := range snap.cases {
		s := textWeight * cosine(query, snap.index.docs[i])
		if riskType != "" && strings.EqualFold(riskType, strings.TrimSpace(c.RiskType)) {
			s += riskTypeWeight
		}
		s = round4(math.Min(1, s))
		if s > 0 {
			ranked = append(ranked, scored{pos: i, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]scenario.Match, len(ranked))
	for i, r := range ranked {
		c := snap.cases[r.pos]
		out[i] = scenario.Match{
			CaseID:     c.ID,
			Name:       c.Name,
			RiskType:   c.RiskType,
			Score:      r.score,
			Percentage: Percent(r.score),
		}
	}
	return out
}

// Confidence derives the scenario confidence from the top match. It is nil
// when there are no matches.
func Confidence(matches []scenario.Match) *float64 {
	if len(matches) == 0 {
		return nil
	}
	c := round4(math.Max(0, math.Min(1, matches[0].Score)))
	return &c
}

// Percent renders a score in [0,1] as a whole percentage such as "87%".
func Percent(score float64) string {
	p := int(math.Round(score * 100))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return fmt.Sprintf("%d%%", p)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
