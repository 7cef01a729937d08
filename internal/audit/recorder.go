// Package audit records who created or uploaded scenarios. Recording never
// fails the caller: sink and codec problems are logged and counted.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finscenario/scenariomap/internal/fieldcrypt"
)

// Audited actions.
const (
	ActionCreate      = "scenario.create"
	ActionUpload      = "scenario.upload"
	ActionUploadBatch = "scenario.upload.batch"
)

// Entry is one append-only audit record. Details hold the sealed form while
// stored and the decoded text once listed.
type Entry struct {
	ID            string    `json:"id"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	Resource      string    `json:"resource"`
	Details       string    `json:"details"`
	CreatedAt     time.Time `json:"createdAt"`
	Undecryptable bool      `json:"undecryptable,omitempty"`
}

// Sink persists entries.
type Sink interface {
	AppendAudit(ctx context.Context, e Entry) error
	ListAudit(ctx context.Context, limit int) ([]Entry, error)
}

// Publisher forwards sealed entries to an event stream.
type Publisher interface {
	PublishAudit(e *Entry) error
}

// Recorder seals and appends audit entries.
type Recorder struct {
	sink      Sink
	codec     *fieldcrypt.Codec
	publisher atomic.Pointer[publisherBox]
	logger    zerolog.Logger
	failures  atomic.Int64
	now       func() time.Time
}

type publisherBox struct{ p Publisher }

// NewRecorder returns a recorder writing to sink. A nil codec stores details
// as plaintext.
func NewRecorder(sink Sink, codec *fieldcrypt.Codec, logger zerolog.Logger) *Recorder {
	return &Recorder{
		sink:   sink,
		codec:  codec,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher attaches a publisher. Passing nil detaches it.
func (r *Recorder) SetPublisher(p Publisher) {
	if p == nil {
		r.publisher.Store(nil)
		return
	}
	r.publisher.Store(&publisherBox{p: p})
}

// Failures returns how many entries could not be recorded.
func (r *Recorder) Failures() int64 { return r.failures.Load() }

// Record appends an entry. It never returns an error and never panics.
func (r *Recorder) Record(ctx context.Context, actor, action, resource, details string) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(fmt.Errorf("panic: %v", p), action, resource)
		}
	}()

	if actor == "" {
		actor = "anonymous"
	}
	sealed, err := r.codec.Encode(details)
	if err != nil {
		r.fail(fmt.Errorf("sealing details: %w", err), action, resource)
		return
	}
	entry := Entry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		Details:   sealed,
		CreatedAt: r.now(),
	}
	if r.sink == nil {
		r.fail(errors.New("no audit sink configured"), action, resource)
		return
	}
	if err := r.sink.AppendAudit(ctx, entry); err != nil {
		r.fail(fmt.Errorf("appending entry: %w", err), action, resource)
		return
	}

	if box := r.publisher.Load(); box != nil {
		if err := box.p.PublishAudit(&entry); err != nil {
			r.logger.Debug().Err(err).Str("action", action).Msg("audit publish failed")
		}
	}
}

func (r *Recorder) fail(err error, action, resource string) {
	r.failures.Add(1)
	r.logger.Warn().Err(err).Str("action", action).Str("resource", resource).Msg("audit record failed")
}

// List returns up to limit entries, newest first, with details decoded.
// Entries that cannot be decrypted keep their stored text and are flagged.
func (r *Recorder) List(ctx context.Context, limit int) ([]Entry, error) {
	if r.sink == nil {
		return []Entry{}, nil
	}
	entries, err := r.sink.ListAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	for i := range entries {
		plain, err := r.codec.Decode(entries[i].Details)
		if err != nil {
			entries[i].Undecryptable = true
			continue
		}
		entries[i].Details = plain
	}
	return entries, nil
}
