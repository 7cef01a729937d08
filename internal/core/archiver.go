package core

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ArchiveConfig holds cold archiver settings.
type ArchiveConfig struct {
	Enabled        bool         `yaml:"enabled"`
	Dir            string       `yaml:"dir"`
	RotateBytes    int64        `yaml:"rotate_bytes"`    // rotate file after N bytes (default 100MB)
	RotateInterval string       `yaml:"rotate_interval"` // rotate after duration (default "1h")
	Compress       bool         `yaml:"compress"`        // gzip compress (default true)
	SampleRules    []SampleRule `yaml:"sample_rules"`    // optional sampling for high-volume event types
}

// SampleRule keeps 1 in every N lifecycle events of the given type. N=1 keeps
// all. Audit records are never sampled.
type SampleRule struct {
	EventType  string `yaml:"event_type"`  // e.g. "scenario.completed"; empty matches all
	SampleRate int    `yaml:"sample_rate"` // keep 1 in N
}

// DefaultArchiveConfig returns sane defaults for the cold archiver.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:        false,
		Dir:            "./data/archive",
		RotateBytes:    100 * 1024 * 1024, // 100MB
		RotateInterval: "1h",
		Compress:       true,
	}
}

// Archiver consumes scenario events and audit records from JetStream and
// writes them to NDJSON files for cold retention.
type Archiver struct {
	cfg    ArchiveConfig
	bus    *EventBus
	logger zerolog.Logger
	now    func() time.Time

	mu             sync.Mutex
	currentFile    *os.File
	currentGz      *gzip.Writer
	currentPath    string
	currentBytes   int64
	rotateInterval time.Duration
	fileOpenedAt   time.Time
	fileSeq        int

	eventsArchived int64
	auditArchived  int64
	filesRotated   int64
	bytesWritten   int64
	eventsSampled  int64
	sampleCounters map[string]int64
}

// NewArchiver creates a cold archiver. bus may be nil when records are fed
// through Write directly.
func NewArchiver(cfg ArchiveConfig, bus *EventBus, logger zerolog.Logger) (*Archiver, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive dir %s: %w", cfg.Dir, err)
	}

	interval := time.Hour
	if d, err := time.ParseDuration(cfg.RotateInterval); err == nil && d > 0 {
		interval = d
	}

	if cfg.RotateBytes <= 0 {
		cfg.RotateBytes = 100 * 1024 * 1024
	}

	return &Archiver{
		cfg:            cfg,
		bus:            bus,
		logger:         logger.With().Str("component", "archiver").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
		rotateInterval: interval,
		sampleCounters: make(map[string]int64),
	}, nil
}

// Start subscribes to events and audit records with separate durable consumers
// and runs the rotation ticker until ctx is done.
func (a *Archiver) Start(ctx context.Context) error {
	if a.bus == nil {
		return fmt.Errorf("archiver requires an event bus")
	}

	if err := a.bus.Subscribe(EventsSubject, "scenariomap-archive-events", func(msg *nats.Msg) {
		a.Write(recordEvent, msg.Data)
		_ = msg.Ack()
	}); err != nil {
		return fmt.Errorf("archiver subscribing to events: %w", err)
	}

	if err := a.bus.Subscribe(AuditSubject, "scenariomap-archive-audit", func(msg *nats.Msg) {
		a.Write(recordAudit, msg.Data)
		_ = msg.Ack()
	}); err != nil {
		return fmt.Errorf("archiver subscribing to audit: %w", err)
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.Close()
				return
			case <-ticker.C:
				a.rotateIfStale()
			}
		}
	}()

	a.logger.Info().
		Str("dir", a.cfg.Dir).
		Str("rotate_interval", a.rotateInterval.String()).
		Int64("rotate_bytes", a.cfg.RotateBytes).
		Bool("compress", a.cfg.Compress).
		Msg("cold archiver started")

	return nil
}

const (
	recordEvent = "event"
	recordAudit = "audit"
)

// archiveRecord is the NDJSON envelope written to archive files.
type archiveRecord struct {
	Type      string          `json:"type"` // "event" or "audit"
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// Write appends one record to the current archive file, applying sampling to
// events and rotating on size.
func (a *Archiver) Write(recordType string, data []byte) {
	if recordType == recordEvent && a.shouldSample(data) {
		a.mu.Lock()
		a.eventsSampled++
		a.mu.Unlock()
		return
	}

	rec := archiveRecord{
		Type:      recordType,
		Timestamp: a.now(),
		Data:      json.RawMessage(data),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal archive record")
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentFile == nil {
		if err := a.openFileLocked(); err != nil {
			a.logger.Error().Err(err).Msg("failed to open archive file")
			return
		}
	}

	var n int
	if a.currentGz != nil {
		n, err = a.currentGz.Write(line)
	} else {
		n, err = a.currentFile.Write(line)
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to write archive record")
		return
	}

	a.currentBytes += int64(n)
	a.bytesWritten += int64(n)

	switch recordType {
	case recordEvent:
		a.eventsArchived++
	case recordAudit:
		a.auditArchived++
	}

	if a.currentBytes >= a.cfg.RotateBytes {
		a.rotateFileLocked()
	}
}

func (a *Archiver) openFileLocked() error {
	ts := a.now().Format("20060102T150405Z")
	ext := ".ndjson"
	if a.cfg.Compress {
		ext = ".ndjson.gz"
	}
	a.fileSeq++
	filename := fmt.Sprintf("scenariomap-archive-%s-%04d%s", ts, a.fileSeq, ext)
	path := filepath.Join(a.cfg.Dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	a.currentFile = f
	a.currentPath = path
	a.currentBytes = 0
	a.fileOpenedAt = time.Now()

	if a.cfg.Compress {
		a.currentGz, _ = gzip.NewWriterLevel(f, gzip.BestSpeed)
	}

	a.logger.Debug().Str("file", filename).Msg("opened archive file")
	return nil
}

func (a *Archiver) rotateIfStale() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentFile != nil && time.Since(a.fileOpenedAt) >= a.rotateInterval {
		a.rotateFileLocked()
	}
}

// rotateFileLocked closes the current file; the next write opens a new one.
func (a *Archiver) rotateFileLocked() {
	a.closeFileLocked()
	a.filesRotated++
}

// Close flushes and closes the current archive file.
func (a *Archiver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeFileLocked()
}

func (a *Archiver) closeFileLocked() {
	if a.currentGz != nil {
		if err := a.currentGz.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to flush archive file")
		}
		a.currentGz = nil
	}
	if a.currentFile != nil {
		a.currentFile.Close()
		a.currentFile = nil
	}
}

// shouldSample returns true if this event should be DROPPED based on the
// sampling rules.
func (a *Archiver) shouldSample(data []byte) bool {
	a.mu.Lock()
	rules := a.cfg.SampleRules
	a.mu.Unlock()
	if len(rules) == 0 {
		return false
	}

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return false // can't parse → keep it
	}

	for _, rule := range rules {
		if rule.SampleRate <= 1 {
			continue
		}
		if rule.EventType != "" && rule.EventType != partial.Type {
			continue
		}

		a.mu.Lock()
		a.sampleCounters[rule.EventType]++
		count := a.sampleCounters[rule.EventType]
		a.mu.Unlock()

		return count%int64(rule.SampleRate) != 0
	}

	return false
}

// SetSampleRules replaces the sampling rules.
func (a *Archiver) SetSampleRules(rules []SampleRule) {
	a.mu.Lock()
	a.cfg.SampleRules = rules
	a.mu.Unlock()
}

// Status returns archiver metrics for the API.
func (a *Archiver) Status() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]interface{}{
		"enabled":         a.cfg.Enabled,
		"dir":             a.cfg.Dir,
		"events_archived": a.eventsArchived,
		"audit_archived":  a.auditArchived,
		"events_sampled":  a.eventsSampled,
		"files_rotated":   a.filesRotated,
		"bytes_written":   a.bytesWritten,
		"current_file":    filepath.Base(a.currentPath),
		"current_bytes":   a.currentBytes,
		"compress":        a.cfg.Compress,
	}
}
