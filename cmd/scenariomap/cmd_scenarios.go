package main

// ---------------------------------------------------------------------------
// cmd_scenarios.go — submit, upload, get, and list scenarios
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func submitCmd(g *globalFlags) *cobra.Command {
	var name, description, riskType string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one scenario for matching",
		Example: `  scenariomap submit --name "Vendor outage" \
    --description "Payments processor offline for 48h" --risk-type Operational`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.postJSON("/api/v1/scenarios", map[string]string{
				"name":        name,
				"description": description,
				"riskType":    riskType,
			})
			if err != nil {
				return err
			}
			if g.jsonOut {
				printJSON(cmd.OutOrStdout(), body)
				return nil
			}
			return renderScenario(cmd.OutOrStdout(), body)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&name, "name", "n", "", "Scenario name (required)")
	f.StringVarP(&description, "description", "d", "", "Scenario description")
	f.StringVarP(&riskType, "risk-type", "r", "", "Risk type, e.g. Operational, Market, Credit")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func uploadCmd(g *globalFlags) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a CSV or JSON batch of scenarios",
		Long: `Upload a CSV file with a header row or a JSON array of objects. Each
record needs a name; description and riskType are optional.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.upload("/api/v1/scenarios/upload", args[0], contentType)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				printJSON(w, body)
				return nil
			}

			var res struct {
				CreatedIDs     []string `json:"createdIds"`
				TotalRecords   int      `json:"totalRecords"`
				SkippedRecords int      `json:"skippedRecords"`
				PrimaryID      string   `json:"primaryId"`
			}
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintf(w, "%s %d of %d records processed", green("✓"), len(res.CreatedIDs), res.TotalRecords)
			if res.SkippedRecords > 0 {
				fmt.Fprintf(w, ", %s", yellow(fmt.Sprintf("%d skipped", res.SkippedRecords)))
			}
			fmt.Fprintln(w)
			for _, id := range res.CreatedIDs {
				marker := " "
				if id == res.PrimaryID {
					marker = "*"
				}
				fmt.Fprintf(w, "  %s %s\n", marker, id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Override the content type (default from extension)")
	return cmd
}

func getCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <scenario-id>",
		Short: "Show a processed scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.get("/api/v1/scenarios/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			if g.jsonOut {
				printJSON(cmd.OutOrStdout(), body)
				return nil
			}
			return renderScenario(cmd.OutOrStdout(), body)
		},
	}
}

func recentCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.get("/api/v1/scenarios?limit=" + strconv.Itoa(limit))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				printJSON(w, body)
				return nil
			}

			var resp struct {
				Scenarios []map[string]interface{} `json:"scenarios"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			if len(resp.Scenarios) == 0 {
				fmt.Fprintln(w, dim("No scenarios yet."))
				return nil
			}
			t := NewTable(w, "ID", "NAME", "RISK TYPE", "SOURCE", "STATE", "CONFIDENCE", "CREATED")
			for _, s := range resp.Scenarios {
				t.AddRow(str(s["id"]), truncate(str(s["name"]), 32), str(s["riskType"]), str(s["source"]),
					str(s["state"]), formatScore(s["confidenceScore"]), str(s["createdAt"]))
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum scenarios to list (max 100)")
	return cmd
}

// renderScenario prints a full scenario response.
func renderScenario(w io.Writer, body []byte) error {
	var s struct {
		ID                   string   `json:"id"`
		Name                 string   `json:"name"`
		Description          string   `json:"description"`
		RiskType             string   `json:"riskType"`
		Source               string   `json:"source"`
		FileName             string   `json:"fileName"`
		State                string   `json:"state"`
		CreatedAt            string   `json:"createdAt"`
		ConfidenceScore      *float64 `json:"confidenceScore"`
		Recommendations      []string `json:"recommendations"`
		RecommendationSource string   `json:"recommendationSource"`
		MatchedCases         []struct {
			CaseID     string `json:"caseId"`
			Name       string `json:"name"`
			RiskType   string `json:"riskType"`
			Percentage string `json:"percentage"`
		} `json:"matchedCases"`
		StepLog []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
			Detail string `json:"detail"`
		} `json:"stepLog"`
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Fprintf(w, "%s %s\n\n", bold("●"), bold(s.Name))
	fmt.Fprintf(w, "  %-16s %s\n", "ID:", s.ID)
	fmt.Fprintf(w, "  %-16s %s\n", "State:", stateColor(s.State))
	fmt.Fprintf(w, "  %-16s %s\n", "Risk Type:", s.RiskType)
	src := s.Source
	if s.FileName != "" {
		src += " (" + s.FileName + ")"
	}
	fmt.Fprintf(w, "  %-16s %s\n", "Source:", src)
	fmt.Fprintf(w, "  %-16s %s\n", "Created:", s.CreatedAt)
	if s.ConfidenceScore != nil {
		fmt.Fprintf(w, "  %-16s %s\n", "Confidence:", formatScore(*s.ConfidenceScore))
	} else {
		fmt.Fprintf(w, "  %-16s %s\n", "Confidence:", dim("n/a"))
	}
	if s.Description != "" {
		fmt.Fprintf(w, "\n  %s\n  %s\n", bold("Description"), s.Description)
	}

	if len(s.MatchedCases) > 0 {
		fmt.Fprintf(w, "\n  %s\n", bold("Matched cases"))
		t := NewTable(w, "CASE", "NAME", "RISK TYPE", "SCORE")
		for _, m := range s.MatchedCases {
			t.AddRow(m.CaseID, truncate(m.Name, 40), m.RiskType, m.Percentage)
		}
		t.Render()
	}

	if len(s.Recommendations) > 0 {
		fmt.Fprintf(w, "\n  %s %s\n", bold("Recommendations"), dim("("+s.RecommendationSource+")"))
		for i, r := range s.Recommendations {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, r)
		}
	}

	if len(s.StepLog) > 0 {
		fmt.Fprintf(w, "\n  %s\n", bold("Workflow"))
		for _, st := range s.StepLog {
			marker := green("✓")
			switch st.Status {
			case "failed":
				marker = red("✗")
			case "degraded":
				marker = yellow("~")
			case "started":
				marker = dim("▸")
			}
			line := fmt.Sprintf("    %s %-20s", marker, st.Step)
			if st.Detail != "" {
				line += " " + dim(st.Detail)
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w)
	return nil
}
