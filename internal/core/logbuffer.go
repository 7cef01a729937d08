package core

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a single log line captured by the engine.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Component  string    `json:"component,omitempty"`
	ScenarioID string    `json:"scenario_id,omitempty"`
	Message    string    `json:"message"`
	Raw        string    `json:"raw"`
}

// LogRingBuffer is a fixed-size ring buffer that captures log output.
type LogRingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
	pos     int
	full    bool
}

// NewLogRingBuffer creates a ring buffer that holds up to maxSize entries.
func NewLogRingBuffer(maxSize int) *LogRingBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &LogRingBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Write implements io.Writer so the buffer can be used as a zerolog output.
// zerolog JSON lines are split into their fields; anything else is kept raw.
func (b *LogRingBuffer) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	entry := parseLogLine(line)

	b.mu.Lock()
	b.entries[b.pos] = entry
	b.pos = (b.pos + 1) % b.maxSize
	if b.pos == 0 {
		b.full = true
	}
	b.mu.Unlock()

	return len(p), nil
}

func parseLogLine(line string) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Raw:       line,
		Message:   line,
	}
	var fields struct {
		Time       string `json:"time"`
		Level      string `json:"level"`
		Component  string `json:"component"`
		ScenarioID string `json:"scenario_id"`
		Message    string `json:"message"`
	}
	if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &fields) != nil {
		return entry
	}
	if ts, err := time.Parse(time.RFC3339, fields.Time); err == nil {
		entry.Timestamp = ts.UTC()
	}
	entry.Level = fields.Level
	entry.Component = fields.Component
	entry.ScenarioID = fields.ScenarioID
	entry.Message = fields.Message
	return entry
}

// GetEntries returns the most recent n log entries in chronological order.
func (b *LogRingBuffer) GetEntries(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int
	if b.full {
		total = b.maxSize
	} else {
		total = b.pos
	}

	if n > total {
		n = total
	}
	if n <= 0 {
		return []LogEntry{}
	}

	result := make([]LogEntry, n)
	start := b.pos - n
	if start < 0 {
		start += b.maxSize
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % b.maxSize
		result[i] = b.entries[idx]
	}
	return result
}

// MultiWriter returns an io.Writer that writes to both the log buffer and the given writer.
func (b *LogRingBuffer) MultiWriter(w io.Writer) io.Writer {
	return io.MultiWriter(w, b)
}
