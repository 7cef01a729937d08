package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/finscenario/scenariomap/internal/scenario"
)

// ---------------------------------------------------------------------------
// notification_templates.go — webhook payload formatters for PagerDuty,
// Slack, Microsoft Teams, Discord, and generic JSON.
//
// Each template produces the JSON schema the target service expects, so a
// completion webhook can point straight at a chat or paging endpoint.
//
//   webhooks:
//     urls: ["https://hooks.slack.com/services/..."]
//     template: "slack"
// ---------------------------------------------------------------------------

// NotificationTemplate formats a lifecycle event into a service-specific payload.
type NotificationTemplate interface {
	Format(ev *scenario.Event) interface{}
	Name() string
}

// GetNotificationTemplate returns a template by name, or nil if unknown.
func GetNotificationTemplate(name, routingKey string) NotificationTemplate {
	switch strings.ToLower(name) {
	case "pagerduty", "pd":
		return &PagerDutyTemplate{RoutingKey: routingKey}
	case "slack":
		return &SlackTemplate{}
	case "teams", "msteams":
		return &TeamsTemplate{}
	case "discord":
		return &DiscordTemplate{}
	case "generic", "":
		return &GenericTemplate{}
	default:
		return nil
	}
}

// ValidTemplateNames returns all supported template names.
func ValidTemplateNames() []string {
	return []string{"generic", "pagerduty", "slack", "teams", "discord"}
}

// outcome classifies an event for color and severity choices.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeDegraded
	outcomeFailed
)

func classify(ev *scenario.Event) outcome {
	switch {
	case ev.Details["state"] != "" && ev.Details["state"] != string(scenario.StateDone):
		return outcomeFailed
	case ev.Details["recommendation_source"] != "" && ev.Details["recommendation_source"] != string(scenario.FromGenerator):
		return outcomeDegraded
	default:
		return outcomeOK
	}
}

// eventFacts lists the detail fields worth showing, in a stable order.
func eventFacts(ev *scenario.Event) [][2]string {
	facts := [][2]string{{"Scenario", ev.ScenarioID}}
	for _, k := range []struct{ key, label string }{
		{"state", "State"},
		{"confidence", "Confidence"},
		{"matches", "Matched cases"},
		{"recommendation_source", "Recommendations"},
	} {
		if v := ev.Details[k.key]; v != "" {
			facts = append(facts, [2]string{k.label, v})
		}
	}
	if ev.Actor != "" {
		facts = append(facts, [2]string{"Actor", ev.Actor})
	}
	return facts
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ---------------------------------------------------------------------------
// PagerDuty Events API v2
// ---------------------------------------------------------------------------

type PagerDutyTemplate struct {
	RoutingKey string
}

func (t *PagerDutyTemplate) Name() string { return "pagerduty" }

func (t *PagerDutyTemplate) Format(ev *scenario.Event) interface{} {
	severity := "info"
	switch classify(ev) {
	case outcomeFailed:
		severity = "error"
	case outcomeDegraded:
		severity = "warning"
	}

	details := make(map[string]interface{}, len(ev.Details)+2)
	for k, v := range ev.Details {
		details[k] = v
	}
	details["scenario_id"] = ev.ScenarioID
	details["actor"] = ev.Actor

	return map[string]interface{}{
		"routing_key":  t.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    "scenariomap-" + ev.ScenarioID,
		"payload": map[string]interface{}{
			"summary":        "[scenariomap] " + ev.Summary,
			"source":         "scenariomap",
			"severity":       severity,
			"component":      "workflow",
			"group":          "risk",
			"class":          ev.Type,
			"timestamp":      ev.Timestamp.Format(time.RFC3339),
			"custom_details": details,
		},
	}
}

// ---------------------------------------------------------------------------
// Slack Block Kit
// ---------------------------------------------------------------------------

type SlackTemplate struct{}

func (t *SlackTemplate) Name() string { return "slack" }

func (t *SlackTemplate) Format(ev *scenario.Event) interface{} {
	emoji, color := "✅", "#2e7d32"
	switch classify(ev) {
	case outcomeFailed:
		emoji, color = "🔴", "#d32f2f"
	case outcomeDegraded:
		emoji, color = "🟠", "#ff9800"
	}

	facts := eventFacts(ev)
	fields := make([]map[string]interface{}, 0, len(facts))
	for _, f := range facts {
		fields = append(fields, map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("*%s:*\n%s", f[0], f[1])})
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type": "plain_text",
				"text": truncate(emoji+" "+ev.Summary, 150),
			},
		},
		{
			"type":   "section",
			"fields": fields,
		},
		{
			"type": "context",
			"elements": []map[string]interface{}{
				{"type": "mrkdwn", "text": fmt.Sprintf("Event `%s` | %s", shortID(ev.ID), ev.Timestamp.Format(time.RFC3339))},
			},
		},
	}

	return map[string]interface{}{
		"text":   ev.Summary,
		"blocks": blocks,
		"attachments": []map[string]interface{}{
			{"color": color, "blocks": []interface{}{}},
		},
	}
}

// ---------------------------------------------------------------------------
// Microsoft Teams MessageCard
// ---------------------------------------------------------------------------

type TeamsTemplate struct{}

func (t *TeamsTemplate) Name() string { return "teams" }

func (t *TeamsTemplate) Format(ev *scenario.Event) interface{} {
	themeColor := "2E7D32"
	switch classify(ev) {
	case outcomeFailed:
		themeColor = "D32F2F"
	case outcomeDegraded:
		themeColor = "FF9800"
	}

	facts := make([]map[string]string, 0, 6)
	for _, f := range eventFacts(ev) {
		facts = append(facts, map[string]string{"name": f[0], "value": f[1]})
	}

	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": themeColor,
		"summary":    "scenariomap: " + ev.Summary,
		"sections": []map[string]interface{}{
			{
				"activityTitle":    ev.Summary,
				"activitySubtitle": ev.Timestamp.Format(time.RFC3339),
				"facts":            facts,
				"markdown":         true,
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Discord Embed
// ---------------------------------------------------------------------------

type DiscordTemplate struct{}

func (t *DiscordTemplate) Name() string { return "discord" }

func (t *DiscordTemplate) Format(ev *scenario.Event) interface{} {
	color := 0x2E7D32
	switch classify(ev) {
	case outcomeFailed:
		color = 0xD32F2F
	case outcomeDegraded:
		color = 0xFF9800
	}

	facts := eventFacts(ev)
	fields := make([]map[string]interface{}, 0, len(facts))
	for _, f := range facts {
		fields = append(fields, map[string]interface{}{"name": f[0], "value": f[1], "inline": true})
	}

	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":     truncate(ev.Summary, 256),
				"color":     color,
				"fields":    fields,
				"footer":    map[string]string{"text": "Event " + shortID(ev.ID)},
				"timestamp": ev.Timestamp.Format(time.RFC3339),
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Generic JSON (default): the event as published on the bus
// ---------------------------------------------------------------------------

type GenericTemplate struct{}

func (t *GenericTemplate) Name() string { return "generic" }

func (t *GenericTemplate) Format(ev *scenario.Event) interface{} { return ev }

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
