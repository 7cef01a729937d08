package main

// ---------------------------------------------------------------------------
// cmd_status.go — status, reload, cases, audit, and logs of a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func statusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.get("/api/v1/status")
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				printJSON(w, body)
				return nil
			}

			var status map[string]interface{}
			if err := json.Unmarshal(body, &status); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			fmt.Fprintf(w, "%s scenariomap status\n\n", bold("●"))
			fmt.Fprintf(w, "  %-18s %s\n", "Version:", green(str(status["version"])))
			fmt.Fprintf(w, "  %-18s %s\n", "Status:", green(str(status["status"])))
			fmt.Fprintf(w, "  %-18s %vs\n", "Uptime:", status["uptime_seconds"])
			if enc, _ := status["encryption"].(bool); enc {
				fmt.Fprintf(w, "  %-18s %s\n", "Encryption:", green("enabled"))
			} else {
				fmt.Fprintf(w, "  %-18s %s\n", "Encryption:", yellow("disabled"))
			}

			if st, ok := status["storage"].(map[string]interface{}); ok {
				health := green("healthy")
				if h, _ := st["healthy"].(bool); !h {
					health = red("unhealthy: " + str(st["error"]))
				}
				fmt.Fprintf(w, "  %-18s %s %s\n", "Storage:", str(st["driver"]), health)
			}
			if corpus, ok := status["corpus"].(map[string]interface{}); ok {
				fmt.Fprintf(w, "  %-18s %v cases from %s\n", "Corpus:", corpus["cases"], str(corpus["source"]))
			}
			if gen, ok := status["generator"].(map[string]interface{}); ok {
				state := dim("not configured")
				if conf, _ := gen["configured"].(bool); conf {
					state = "breaker " + str(gen["breaker"])
				}
				fmt.Fprintf(w, "  %-18s %s %s\n", "Generator:", str(gen["name"]), state)
			}
			fmt.Fprintf(w, "  %-18s %v\n", "Bus Connected:", status["bus_connected"])

			if wf, ok := status["workflow"].(map[string]interface{}); ok {
				fmt.Fprintf(w, "\n  %s\n", bold("Workflow"))
				t := NewTable(w, "METRIC", "VALUE")
				for _, k := range []string{"processed", "rejected", "match_degraded", "recommend_degraded", "persist_failures", "uploads"} {
					if v, ok := wf[k]; ok {
						t.AddRow(k, str(v))
					}
				}
				t.Render()
			}
			fmt.Fprintln(w)
			return nil
		},
	}
}

func reloadCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload configuration and corpus on a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.postJSON("/api/v1/reload", nil)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				printJSON(w, body)
				return nil
			}
			var resp struct {
				Changes []string `json:"changes"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintf(w, "%s reloaded\n", green("✓"))
			for _, c := range resp.Changes {
				fmt.Fprintf(w, "  %s %s\n", green("↻"), c)
			}
			return nil
		},
	}
}

func casesCmd(g *globalFlags) *cobra.Command {
	var riskType string
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List the historical case corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.get("/api/v1/cases")
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				printJSON(w, body)
				return nil
			}
			var resp struct {
				Cases []struct {
					ID       string `json:"id"`
					Name     string `json:"name"`
					RiskType string `json:"riskType"`
					Impact   string `json:"impact"`
				} `json:"cases"`
				Source string `json:"source"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			t := NewTable(w, "ID", "NAME", "RISK TYPE", "IMPACT")
			n := 0
			for _, hc := range resp.Cases {
				if riskType != "" && hc.RiskType != riskType {
					continue
				}
				t.AddRow(hc.ID, truncate(hc.Name, 36), hc.RiskType, truncate(hc.Impact, 48))
				n++
			}
			t.Render()
			fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf("%d cases from %s", n, resp.Source)))
			return nil
		},
	}
	cmd.Flags().StringVar(&riskType, "risk-type", "", "Only show cases of this risk type")
	return cmd
}

func auditCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.get("/api/v1/audit?limit=" + strconv.Itoa(limit))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				printJSON(w, body)
				return nil
			}
			var resp struct {
				Entries []struct {
					Actor         string `json:"actor"`
					Action        string `json:"action"`
					Resource      string `json:"resource"`
					Details       string `json:"details"`
					CreatedAt     string `json:"createdAt"`
					Undecryptable bool   `json:"undecryptable"`
				} `json:"entries"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			if len(resp.Entries) == 0 {
				fmt.Fprintln(w, dim("Audit log is empty."))
				return nil
			}
			t := NewTable(w, "TIME", "ACTOR", "ACTION", "RESOURCE", "DETAILS")
			for _, e := range resp.Entries {
				details := truncate(e.Details, 48)
				if e.Undecryptable {
					details = "(undecryptable)"
				}
				t.AddRow(e.CreatedAt, e.Actor, e.Action, e.Resource, details)
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum entries to show (max 500)")
	return cmd
}

func logsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Fetch recent logs from a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			body, err := c.get("/api/v1/logs?limit=" + strconv.Itoa(limit))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				printJSON(w, body)
				return nil
			}
			var resp struct {
				Logs []struct {
					Time       string `json:"timestamp"`
					Level      string `json:"level"`
					Component  string `json:"component"`
					ScenarioID string `json:"scenario_id"`
					Message    string `json:"message"`
				} `json:"logs"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for _, l := range resp.Logs {
				level := l.Level
				switch level {
				case "error", "fatal":
					level = red(level)
				case "warn":
					level = yellow(level)
				default:
					level = dim(level)
				}
				line := fmt.Sprintf("%s %-5s", dim(l.Time), level)
				if l.Component != "" {
					line += " " + cyan("["+l.Component+"]")
				}
				if l.ScenarioID != "" {
					line += " " + dim(l.ScenarioID)
				}
				fmt.Fprintln(w, line+" "+l.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum log lines")
	return cmd
}
