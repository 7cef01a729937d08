package recommend

import (
	"fmt"
	"strings"

	"github.com/finscenario/scenariomap/internal/scenario"
)

// maxPromptCases bounds how many matched cases are listed in a prompt.
const maxPromptCases = 10

const systemPrompt = `You are a banking risk and compliance advisor. Given a hypothetical scenario and a list of similar historical cases, you produce a short list of clear, actionable recommendations (controls, mitigations, or next steps). Output only the recommendations, one per line, as short bullet-style lines. No numbering, no preamble, no explanation. Each line should be one recommendation (max 1-2 sentences). Produce between 3 and 6 recommendations.`

// Prompt is the generator input.
type Prompt struct {
	System string
	User   string
}

// CaseContext is a matched historical case as seen by the adapter.
type CaseContext struct {
	Case       scenario.HistoricalCase
	Percentage string
}

// BuildPrompt renders the scenario and its matched cases.
func BuildPrompt(d scenario.Draft, cases []CaseContext) Prompt {
	casesText := "None provided."
	if len(cases) > 0 {
		var parts []string
		for i, c := range cases {
			if i == maxPromptCases {
				break
			}
			name := c.Case.Name
			if name == "" {
				name = c.Case.ID
			}
			line := fmt.Sprintf("  %d. %s", i+1, name)
			if c.Percentage != "" {
				line += fmt.Sprintf(" (similarity: %s)", c.Percentage)
			}
			parts = append(parts, line)
		}
		casesText = strings.Join(parts, "\n")
	}

	user := fmt.Sprintf("Scenario name: %s\nRisk type: %s\nDescription: %s\n\nSimilar historical cases:\n%s\n\nList 3 to 6 actionable recommendations, one per line.",
		orDefault(d.Name, "Unnamed"),
		orDefault(d.RiskType, "Not specified"),
		orDefault(d.Description, "No description."),
		casesText,
	)
	return Prompt{System: systemPrompt, User: user}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

const bulletChars = "0123456789.-)>•* \t"

// ParseRecommendations splits generator output into at most max cleaned
// lines. Leading list markers are stripped and code fences dropped.
func ParseRecommendations(raw string, max int) []string {
	out := []string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, bulletChars))
		if line == "" {
			continue
		}
		out = append(out, line)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// fallbackFromCases collects the matched cases' own recommendations in rank
// order without duplicates.
func fallbackFromCases(cases []CaseContext, max int) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, c := range cases {
		for _, r := range c.Case.Recommendations {
			r = strings.TrimSpace(r)
			key := strings.ToLower(r)
			if r == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
			if max > 0 && len(out) == max {
				return out
			}
		}
	}
	return out
}
