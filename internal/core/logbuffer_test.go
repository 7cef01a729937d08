package core

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stageLogger mimics the workflow's child logger: JSON lines tagged with a
// component and written straight into the buffer.
func stageLogger(b *LogRingBuffer) zerolog.Logger {
	return zerolog.New(b).With().Timestamp().Str("component", "workflow").Logger()
}

// logStages writes one "stage finished" line per scenario scn-0..scn-(n-1).
func logStages(l zerolog.Logger, n int) {
	for i := 0; i < n; i++ {
		l.Info().Str("scenario_id", fmt.Sprintf("scn-%d", i)).Str("step", "match").Msg("stage finished")
	}
}

func scenarioIDs(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ScenarioID
	}
	return out
}

// ─── Parsing ─────────────────────────────────────────────────────────────────

func TestLogRingBuffer_ParsesZerologLines(t *testing.T) {
	b := NewLogRingBuffer(10)
	logger := zerolog.New(b).With().Timestamp().Str("component", "workflow").Logger()
	logger.Info().Str("scenario_id", "scn-1").Msg("step finished")

	entries := b.GetEntries(1)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != "info" {
		t.Errorf("Level = %q, want info", e.Level)
	}
	if e.Component != "workflow" {
		t.Errorf("Component = %q, want workflow", e.Component)
	}
	if e.ScenarioID != "scn-1" {
		t.Errorf("ScenarioID = %q, want scn-1", e.ScenarioID)
	}
	if e.Message != "step finished" {
		t.Errorf("Message = %q, want step finished", e.Message)
	}
	if strings.HasSuffix(e.Raw, "\n") {
		t.Error("Raw should not keep the trailing newline")
	}
}

func TestLogRingBuffer_UsesLineTimestamp(t *testing.T) {
	b := NewLogRingBuffer(10)
	line := `{"level":"warn","component":"recommend","scenario_id":"scn-7","time":"2026-03-01T09:30:00Z","message":"recommendation generation failed"}` + "\n"
	n, err := b.Write([]byte(line))
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if n != len(line) {
		t.Errorf("Write() returned %d, want %d", n, len(line))
	}

	e := b.GetEntries(1)[0]
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, want)
	}
	if e.Level != "warn" || e.Component != "recommend" || e.ScenarioID != "scn-7" {
		t.Errorf("entry = %+v", e)
	}
}

func TestLogRingBuffer_NonJSONKeptRaw(t *testing.T) {
	b := NewLogRingBuffer(10)
	for _, line := range []string{"panic: corpus file truncated", "{not json"} {
		b.Write([]byte(line))
	}

	entries := b.GetEntries(2)
	for i, want := range []string{"panic: corpus file truncated", "{not json"} {
		if entries[i].Raw != want || entries[i].Message != want {
			t.Errorf("entries[%d] = %+v, want raw/message %q", i, entries[i], want)
		}
		if entries[i].Level != "" || entries[i].ScenarioID != "" {
			t.Errorf("entries[%d] should carry no parsed fields, got %+v", i, entries[i])
		}
		if entries[i].Timestamp.IsZero() {
			t.Errorf("entries[%d] should get a capture timestamp", i)
		}
	}
}

// ─── Bounds ──────────────────────────────────────────────────────────────────

func TestLogRingBuffer_GetEntries_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		written int
		ask     int
		want    int
	}{
		{"empty buffer", 0, 10, 0},
		{"fewer than stored", 5, 3, 3},
		{"more than stored", 3, 100, 3},
		{"zero", 1, 0, 0},
		{"negative", 1, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewLogRingBuffer(100)
			logStages(stageLogger(b), tt.written)
			if got := len(b.GetEntries(tt.ask)); got != tt.want {
				t.Errorf("GetEntries(%d) returned %d entries, want %d", tt.ask, got, tt.want)
			}
		})
	}
}

func TestNewLogRingBuffer_NonPositiveSize(t *testing.T) {
	b := NewLogRingBuffer(0)
	logStages(stageLogger(b), 1)
	if len(b.GetEntries(5)) != 1 {
		t.Error("zero-size buffer should fall back to a usable default")
	}
}

// ─── Ring order ──────────────────────────────────────────────────────────────

func TestLogRingBuffer_ChronologicalOrder(t *testing.T) {
	b := NewLogRingBuffer(10)
	logStages(stageLogger(b), 4)

	got := scenarioIDs(b.GetEntries(4))
	want := []string{"scn-0", "scn-1", "scn-2", "scn-3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestLogRingBuffer_WrapKeepsNewest(t *testing.T) {
	b := NewLogRingBuffer(3)
	logStages(stageLogger(b), 5)

	got := scenarioIDs(b.GetEntries(10))
	want := []string{"scn-2", "scn-3", "scn-4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("after wrap = %v, want %v", got, want)
	}
}

func TestLogRingBuffer_ExactlyFull(t *testing.T) {
	b := NewLogRingBuffer(3)
	logStages(stageLogger(b), 3)

	got := scenarioIDs(b.GetEntries(10))
	if len(got) != 3 || got[0] != "scn-0" || got[2] != "scn-2" {
		t.Errorf("full buffer = %v", got)
	}
}

// ─── MultiWriter ─────────────────────────────────────────────────────────────

func TestLogRingBuffer_MultiWriter(t *testing.T) {
	b := NewLogRingBuffer(10)
	var out bytes.Buffer

	logger := zerolog.New(b.MultiWriter(&out)).With().Str("component", "api").Logger()
	logger.Info().Str("scenario_id", "scn-42").Int("status", 201).Msg("request")

	entries := b.GetEntries(1)
	if len(entries) != 1 {
		t.Fatal("expected entry in ring buffer")
	}
	if entries[0].Component != "api" || entries[0].ScenarioID != "scn-42" {
		t.Errorf("ring buffer entry = %+v", entries[0])
	}
	if !strings.Contains(out.String(), `"scenario_id":"scn-42"`) {
		t.Errorf("regular writer = %q", out.String())
	}
}

// ─── Concurrent access ───────────────────────────────────────────────────────

func TestLogRingBuffer_ConcurrentSafe(t *testing.T) {
	b := NewLogRingBuffer(50)
	logger := stageLogger(b)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			logger.Info().Str("scenario_id", fmt.Sprintf("scn-%d", i)).Msg("stage finished")
		}(i)
		go func() {
			defer wg.Done()
			b.GetEntries(5)
		}()
	}
	wg.Wait()

	if got := len(b.GetEntries(100)); got != 20 {
		t.Errorf("expected 20 entries, got %d", got)
	}
}
