package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/finscenario/scenariomap/internal/matcher"
)

func testReloadEngine() *Engine {
	cfg := DefaultConfig()
	return &Engine{
		Config: cfg,
		Corpus: matcher.NewCorpus(matcher.ReferenceCases(), matcher.EmbeddedSource),
		Logger: zerolog.Nop(),
	}
}

func writeReloadConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func hasChange(changes []string, parts ...string) bool {
	for _, c := range changes {
		ok := true
		for _, p := range parts {
			if !strings.Contains(c, p) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func TestReloadConfig_EmptyPath_Error(t *testing.T) {
	e := testReloadEngine()
	if _, err := ReloadConfig(e, "", zerolog.Nop()); err == nil {
		t.Error("expected error for empty config path")
	}
}

func TestReloadConfig_NonExistentFile_UsesDefaults(t *testing.T) {
	e := testReloadEngine()
	changes, err := ReloadConfig(e, "/nonexistent/config.yaml", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "corpus", "embedded", "50 cases") {
		t.Errorf("expected corpus reload entry in %v", changes)
	}
}

func TestReloadConfig_LogLevelChange(t *testing.T) {
	e := testReloadEngine()
	e.Config.Logging.Level = "info"
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.DebugLevel) })

	path := writeReloadConfig(t, `
logging:
  level: "debug"
`)
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "logging.level", "debug") {
		t.Errorf("expected logging level change in %v", changes)
	}
	if e.Config.LogLevel() != "debug" {
		t.Errorf("config not updated: level = %q", e.Config.LogLevel())
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("global level = %v, want debug", zerolog.GlobalLevel())
	}
}

func TestReloadConfig_APIKeysReloaded(t *testing.T) {
	e := testReloadEngine()
	e.Config.Server.APIKeys = []string{"old-key"}

	path := writeReloadConfig(t, `
server:
  api_keys:
    - "new-key-1"
    - "new-key-2"
`)
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "server.api_keys", "2 keys") {
		t.Errorf("expected api key change in %v", changes)
	}
	if !e.ValidateAPIKey("new-key-2") || e.ValidateAPIKey("old-key") {
		t.Errorf("keys not swapped: %v", e.Config.Server.APIKeys)
	}
}

func TestReloadConfig_WebhookURLsPushedToDispatcher(t *testing.T) {
	e := testReloadEngine()
	e.Webhooks = NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), nil)
	defer e.Webhooks.Stop()

	path := writeReloadConfig(t, `
webhooks:
  urls:
    - "https://hooks.example.com/risk"
`)
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "webhooks.urls", "1 URLs") {
		t.Errorf("expected webhook change in %v", changes)
	}
	if got := e.Webhooks.URLs(); len(got) != 1 || got[0] != "https://hooks.example.com/risk" {
		t.Errorf("dispatcher URLs = %v", got)
	}
}

func TestReloadConfig_WebhookTemplateSwapped(t *testing.T) {
	e := testReloadEngine()
	e.Webhooks = NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), nil)
	defer e.Webhooks.Stop()

	path := writeReloadConfig(t, `
webhooks:
  template: pagerduty
  routing_key: "rk-1"
`)
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "webhooks.template", "pagerduty") {
		t.Errorf("expected template change in %v", changes)
	}
	pd, ok := e.Webhooks.Template().(*PagerDutyTemplate)
	if !ok {
		t.Fatalf("dispatcher template = %T, want *PagerDutyTemplate", e.Webhooks.Template())
	}
	if pd.RoutingKey != "rk-1" {
		t.Errorf("RoutingKey = %q, want rk-1", pd.RoutingKey)
	}
}

func TestReloadConfig_CORSOrigins(t *testing.T) {
	e := testReloadEngine()
	path := writeReloadConfig(t, `
server:
  cors_origins: ["https://risk.example.com"]
`)
	if _, err := ReloadConfig(e, path, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	if got := e.ServerSettings().CORSOrigins; len(got) != 1 {
		t.Errorf("CORSOrigins = %v", got)
	}
}

func TestReloadConfig_SampleRulesReloaded(t *testing.T) {
	e := testReloadEngine()
	arch, err := NewArchiver(ArchiveConfig{Dir: t.TempDir()}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	e.Archiver = arch

	path := writeReloadConfig(t, `
archive:
  sample_rules:
    - event_type: "scenario.completed"
      sample_rate: 100
`)
	if _, err := ReloadConfig(e, path, zerolog.Nop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Config.Archive.SampleRules) != 1 {
		t.Errorf("expected 1 sample rule, got %d", len(e.Config.Archive.SampleRules))
	}
	if !arch.shouldSample([]byte(`{"type":"scenario.completed"}`)) {
		t.Error("archiver should sample with the reloaded rule")
	}
}

func TestReloadConfig_CorpusSwapped(t *testing.T) {
	e := testReloadEngine()
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "cases.yaml")
	corpus := `
- id: HC-900
  name: Vendor outage
  issue_description: Critical vendor went offline
  impact: Payments halted
  recommendations: [Dual-source vendors]
  risk_type: Operational
`
	if err := os.WriteFile(corpusPath, []byte(corpus), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeReloadConfig(t, "corpus:\n  path: \""+corpusPath+"\"\n")

	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "corpus", "1 cases") {
		t.Errorf("expected corpus change in %v", changes)
	}
	snap := e.Corpus.Snapshot()
	if snap.Len() != 1 || snap.Source() != corpusPath {
		t.Errorf("corpus not swapped: len=%d source=%q", snap.Len(), snap.Source())
	}
}

func TestReloadConfig_BadCorpusKeepsPrevious(t *testing.T) {
	e := testReloadEngine()
	path := writeReloadConfig(t, "corpus:\n  path: \"/nonexistent/cases.yaml\"\nlogging:\n  level: warn\n")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.DebugLevel) })

	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err == nil {
		t.Fatal("expected corpus error")
	}
	if e.Corpus.Snapshot().Len() != 50 {
		t.Errorf("previous corpus should stay live, got %d cases", e.Corpus.Snapshot().Len())
	}
	if !hasChange(changes, "logging.level", "warn") {
		t.Errorf("other settings should still apply: %v", changes)
	}
}

func TestEngine_ReloadWithoutConfigFileReloadsCorpus(t *testing.T) {
	e := testReloadEngine()
	e.Corpus.Swap(nil, "empty")

	changes, err := e.Reload()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || e.Corpus.Snapshot().Len() != 50 {
		t.Errorf("changes=%v len=%d", changes, e.Corpus.Snapshot().Len())
	}
}
