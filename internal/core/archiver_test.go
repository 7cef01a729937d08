package core

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultArchiveConfig(t *testing.T) {
	cfg := DefaultArchiveConfig()
	if cfg.Enabled {
		t.Error("archive should be disabled by default")
	}
	if cfg.Dir != "./data/archive" {
		t.Errorf("Dir = %q, want ./data/archive", cfg.Dir)
	}
	if cfg.RotateBytes != 100*1024*1024 {
		t.Errorf("RotateBytes = %d, want 100MB", cfg.RotateBytes)
	}
	if cfg.RotateInterval != "1h" {
		t.Errorf("RotateInterval = %q, want 1h", cfg.RotateInterval)
	}
	if !cfg.Compress {
		t.Error("Compress should be true by default")
	}
}

// ─── Sampling ───────────────────────────────────────────────────────────────

func TestArchiver_ShouldSample_NoRules(t *testing.T) {
	a := &Archiver{sampleCounters: make(map[string]int64)}
	if a.shouldSample([]byte(`{"type":"scenario.completed"}`)) {
		t.Error("should not sample when no rules configured")
	}
}

func TestArchiver_ShouldSample_MatchingRule(t *testing.T) {
	a := &Archiver{
		cfg: ArchiveConfig{
			SampleRules: []SampleRule{{EventType: "scenario.completed", SampleRate: 10}},
		},
		sampleCounters: make(map[string]int64),
	}

	data := []byte(`{"type":"scenario.completed"}`)
	dropped := 0
	for i := 0; i < 10; i++ {
		if a.shouldSample(data) {
			dropped++
		}
	}
	if dropped != 9 {
		t.Errorf("expected 9 dropped out of 10, got %d", dropped)
	}
}

func TestArchiver_ShouldSample_NonMatchingType(t *testing.T) {
	a := &Archiver{
		cfg: ArchiveConfig{
			SampleRules: []SampleRule{{EventType: "scenario.completed", SampleRate: 100}},
		},
		sampleCounters: make(map[string]int64),
	}

	data := []byte(`{"type":"scenario.upload.completed"}`)
	for i := 0; i < 20; i++ {
		if a.shouldSample(data) {
			t.Fatal("non-matching event type should not be sampled")
		}
	}
}

func TestArchiver_ShouldSample_RateOne_KeepsAll(t *testing.T) {
	a := &Archiver{
		cfg: ArchiveConfig{
			SampleRules: []SampleRule{{EventType: "scenario.completed", SampleRate: 1}},
		},
		sampleCounters: make(map[string]int64),
	}

	data := []byte(`{"type":"scenario.completed"}`)
	for i := 0; i < 20; i++ {
		if a.shouldSample(data) {
			t.Fatal("sample_rate 1 should keep all events")
		}
	}
}

func TestArchiver_ShouldSample_InvalidJSON(t *testing.T) {
	a := &Archiver{
		cfg: ArchiveConfig{
			SampleRules: []SampleRule{{SampleRate: 100}},
		},
		sampleCounters: make(map[string]int64),
	}
	if a.shouldSample([]byte(`not json`)) {
		t.Error("invalid JSON should not be sampled (keep it)")
	}
}

// ─── Writing ────────────────────────────────────────────────────────────────

func TestArchiver_WriteCompressed(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchiver(ArchiveConfig{Dir: dir, Compress: true}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	a.Write(recordEvent, []byte(`{"type":"scenario.completed","scenarioId":"scn-1"}`))
	a.Write(recordAudit, []byte(`{"action":"scenario.create","details":"AES:abc"}`))
	a.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "*.ndjson.gz"))
	if len(files) != 1 {
		t.Fatalf("expected 1 archive file, got %v", files)
	}

	recs := readArchive(t, files[0], true)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Type != "event" || recs[1].Type != "audit" {
		t.Errorf("record types = %q, %q", recs[0].Type, recs[1].Type)
	}

	status := a.Status()
	if status["events_archived"].(int64) != 1 || status["audit_archived"].(int64) != 1 {
		t.Errorf("unexpected status: %v", status)
	}
}

func TestArchiver_RotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchiver(ArchiveConfig{Dir: dir, RotateBytes: 10}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		a.Write(recordEvent, []byte(`{"type":"scenario.completed"}`))
	}
	a.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "*.ndjson"))
	if len(files) != 3 {
		t.Errorf("expected 3 rotated files, got %d", len(files))
	}
	if got := a.Status()["files_rotated"].(int64); got != 3 {
		t.Errorf("files_rotated = %d, want 3", got)
	}
}

func TestArchiver_SampledEventsNotWritten(t *testing.T) {
	dir := t.TempDir()
	cfg := ArchiveConfig{Dir: dir, SampleRules: []SampleRule{{SampleRate: 2}}}
	a, err := NewArchiver(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		a.Write(recordEvent, []byte(`{"type":"scenario.completed"}`))
	}
	a.Close()

	status := a.Status()
	if status["events_archived"].(int64) != 2 {
		t.Errorf("events_archived = %v, want 2", status["events_archived"])
	}
	if status["events_sampled"].(int64) != 2 {
		t.Errorf("events_sampled = %v, want 2", status["events_sampled"])
	}
}

func TestArchiver_StartRequiresBus(t *testing.T) {
	a, err := NewArchiver(ArchiveConfig{Dir: t.TempDir()}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(t.Context()); err == nil {
		t.Error("expected error without a bus")
	}
}

func readArchive(t *testing.T, path string, compressed bool) []archiveRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var sc *bufio.Scanner
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			t.Fatal(err)
		}
		defer gz.Close()
		sc = bufio.NewScanner(gz)
	} else {
		sc = bufio.NewScanner(f)
	}

	var out []archiveRecord
	for sc.Scan() {
		var rec archiveRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad archive line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}
