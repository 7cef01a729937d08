// Package workflow drives a scenario through normalize, persist, match,
// recommend and final persist, recording one step log entry per stage. Only a
// normalization failure aborts; every later problem degrades the result.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/finscenario/scenariomap/internal/audit"
	"github.com/finscenario/scenariomap/internal/fieldcrypt"
	"github.com/finscenario/scenariomap/internal/matcher"
	"github.com/finscenario/scenariomap/internal/recommend"
	"github.com/finscenario/scenariomap/internal/scenario"
	"github.com/finscenario/scenariomap/internal/store"
)

// Recommender produces recommendations; *recommend.Adapter implements it.
type Recommender interface {
	Generate(ctx context.Context, d scenario.Draft, cases []recommend.CaseContext) recommend.Result
}

// Listener receives lifecycle events after a scenario or upload completes.
type Listener func(ev *scenario.Event)

// Options tune processing.
type Options struct {
	TopK            int
	BatchWorkers    int
	MaxBatchRecords int
}

// Deps are the collaborators injected at construction.
type Deps struct {
	Store       store.ScenarioStore
	Audit       *audit.Recorder
	Corpus      *matcher.Corpus
	Recommender Recommender
	Codec       *fieldcrypt.Codec
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Stats are cumulative processing counters.
type Stats struct {
	Processed         int64 `json:"processed"`
	Rejected          int64 `json:"rejected"`
	MatchDegraded     int64 `json:"match_degraded"`
	RecommendDegraded int64 `json:"recommend_degraded"`
	PersistFailures   int64 `json:"persist_failures"`
	Uploads           int64 `json:"uploads"`
}

// Service is the orchestrator called by the transport layer.
type Service struct {
	store  store.ScenarioStore
	audit  *audit.Recorder
	corpus *matcher.Corpus
	rec    Recommender
	codec  *fieldcrypt.Codec
	logger zerolog.Logger
	now    func() time.Time
	opts   Options

	listenersMu sync.RWMutex
	listeners   []Listener

	processed, rejected, matchDegraded, recDegraded, persistFailures, uploads atomic.Int64
}

// NewService wires a Service. A nil Recommender degrades every scenario to
// the historical fallback, and a nil Corpus behaves as an empty corpus.
func NewService(d Deps, opts Options) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Corpus == nil {
		d.Corpus = &matcher.Corpus{}
	}
	if d.Recommender == nil {
		d.Recommender = recommend.NewAdapter(nil, recommend.DefaultConfig(), d.Logger)
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder(nil, d.Codec, d.Logger)
	}
	if opts.TopK <= 0 {
		opts.TopK = matcher.DefaultTopK
	}
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = 1
	}
	return &Service{
		store:  d.Store,
		audit:  d.Audit,
		corpus: d.Corpus,
		rec:    d.Recommender,
		codec:  d.Codec,
		logger: d.Logger.With().Str("component", "workflow").Logger(),
		now:    d.Now,
		opts:   opts,
	}
}

// AddListener registers a lifecycle listener.
func (s *Service) AddListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Processed:         s.processed.Load(),
		Rejected:          s.rejected.Load(),
		MatchDegraded:     s.matchDegraded.Load(),
		RecommendDegraded: s.recDegraded.Load(),
		PersistFailures:   s.persistFailures.Load(),
		Uploads:           s.uploads.Load(),
	}
}

// Corpus returns the corpus holder, for reloads.
func (s *Service) Corpus() *matcher.Corpus { return s.corpus }

// ─── Single record ────────────────────────────────────────────────────────────

// Submit processes one manually entered scenario.
func (s *Service) Submit(ctx context.Context, actor, name, description, riskType string) (*scenario.Scenario, error) {
	return s.Process(ctx, actor, scenario.FromForm(name, description, riskType), Origin{Source: scenario.SourceForm})
}

// Origin describes where a record came from.
type Origin struct {
	Source   scenario.Source
	FileName string
}

// Process normalizes rec and runs the pipeline. The only errors returned are
// a *scenario.ValidationError and a failure to persist the skeleton record.
func (s *Service) Process(ctx context.Context, actor string, rec scenario.RawRecord, o Origin) (*scenario.Scenario, error) {
	d, err := scenario.Normalize(rec)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Info().Err(err).Str("step", scenario.StepNormalize).Str("status", string(scenario.StatusFailed)).
			Str("record", rec.Kind.String()).Msg("scenario rejected")
		return nil, err
	}
	return s.run(ctx, actor, d, o)
}

// pipeline carries one scenario through its stages.
type pipeline struct {
	svc *Service
	sc  *scenario.Scenario
	log zerolog.Logger
}

func (p *pipeline) step(name string, status scenario.StepStatus, detail string) {
	ts := p.svc.now()
	if n := len(p.sc.StepLog); n > 0 && !ts.After(p.sc.StepLog[n-1].Timestamp) {
		ts = p.sc.StepLog[n-1].Timestamp.Add(time.Nanosecond)
	}
	p.sc.StepLog = append(p.sc.StepLog, scenario.StepEntry{Step: name, Status: status, Timestamp: ts, Detail: detail})

	ev := p.log.Info()
	if status != scenario.StatusOK {
		ev = p.log.Warn()
	}
	ev.Str("step", name).Str("status", string(status)).Str("detail", detail).Msg("workflow step")
}

func (s *Service) run(ctx context.Context, actor string, d scenario.Draft, o Origin) (*scenario.Scenario, error) {
	if o.Source == "" {
		o.Source = scenario.SourceForm
	}
	sc := &scenario.Scenario{
		ID:              scenario.NewID(),
		Name:            d.Name,
		Description:     d.Description,
		RiskType:        d.RiskType,
		Source:          o.Source,
		FileName:        o.FileName,
		CreatedAt:       s.now(),
		State:           scenario.StateReceived,
		StepLog:         []scenario.StepEntry{},
		MatchedCases:    []scenario.Match{},
		Recommendations: []string{},
	}
	p := &pipeline{svc: s, sc: sc, log: s.logger.With().Str("scenario_id", sc.ID).Logger()}

	p.step(scenario.StepNormalize, scenario.StatusOK, "")

	// Skeleton first so the record is queryable before slow stages run.
	sc.State = scenario.StatePersisted
	p.step(scenario.StepPersistSkeleton, scenario.StatusOK, "")
	if err := s.write(ctx, sc, true); err != nil {
		s.persistFailures.Add(1)
		p.log.Error().Err(err).Str("step", scenario.StepPersistSkeleton).Msg("skeleton persist failed")
		return nil, fmt.Errorf("persisting scenario: %w", err)
	}

	snap := s.corpus.Snapshot()
	s.matchStage(p, d, snap)
	s.recommendStage(ctx, p, d, snap)

	p.step(scenario.StepPersist, scenario.StatusOK, "")
	sc.State = scenario.StateDone
	if err := s.write(ctx, sc, false); err != nil {
		s.persistFailures.Add(1)
		// The entry was never stored, so it is corrected in place.
		last := &sc.StepLog[len(sc.StepLog)-1]
		last.Status = scenario.StatusFailed
		last.Detail = err.Error()
		sc.State = scenario.StateRecommended
		p.log.Error().Err(err).Str("step", scenario.StepPersist).Msg("final persist failed")
	}

	s.processed.Add(1)
	action := audit.ActionCreate
	if o.Source == scenario.SourceUpload {
		action = audit.ActionUpload
	}
	s.audit.Record(ctx, actor, action, sc.ID, fmt.Sprintf("name=%s riskType=%s file=%s", sc.Name, sc.RiskType, sc.FileName))

	ev := scenario.NewEvent(scenario.EventCompleted, sc.ID, actor, fmt.Sprintf("scenario %q processed", sc.Name))
	ev.Details["state"] = string(sc.State)
	ev.Details["matches"] = fmt.Sprint(len(sc.MatchedCases))
	ev.Details["recommendation_source"] = string(sc.RecommendationSource)
	if sc.ConfidenceScore != nil {
		ev.Details["confidence"] = matcher.Percent(*sc.ConfidenceScore)
	}
	s.emit(ev)

	return sc, nil
}

func (s *Service) matchStage(p *pipeline, d scenario.Draft, snap *matcher.Snapshot) {
	sc := p.sc
	if snap.Len() == 0 {
		s.matchDegraded.Add(1)
		p.step(scenario.StepMatch, scenario.StatusDegraded, "matching unavailable: corpus empty")
		sc.State = scenario.StateMatched
		return
	}

	matches, err := safeMatch(d, snap, s.opts.TopK)
	if err != nil {
		s.matchDegraded.Add(1)
		p.step(scenario.StepMatch, scenario.StatusDegraded, "matching unavailable: "+err.Error())
		sc.State = scenario.StateMatched
		return
	}

	sc.MatchedCases = matches
	sc.ConfidenceScore = matcher.Confidence(matches)
	detail := fmt.Sprintf("%d similar cases", len(matches))
	if len(matches) == 0 {
		detail = "no similar cases"
	}
	p.step(scenario.StepMatch, scenario.StatusOK, detail)
	sc.State = scenario.StateMatched
}

func safeMatch(d scenario.Draft, snap *matcher.Snapshot, topK int) (out []scenario.Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matcher panic: %v", r)
		}
	}()
	return matcher.Match(d, snap, topK), nil
}

func (s *Service) recommendStage(ctx context.Context, p *pipeline, d scenario.Draft, snap *matcher.Snapshot) {
	sc := p.sc
	cases := make([]recommend.CaseContext, 0, len(sc.MatchedCases))
	for _, m := range sc.MatchedCases {
		if c, ok := snap.Case(m.CaseID); ok {
			cases = append(cases, recommend.CaseContext{Case: c, Percentage: m.Percentage})
		}
	}

	res := s.safeRecommend(ctx, d, cases)
	sc.Recommendations = res.Recommendations
	if sc.Recommendations == nil {
		sc.Recommendations = []string{}
	}
	sc.RecommendationSource = res.Source
	if res.Degraded() {
		s.recDegraded.Add(1)
		detail := "recommendation unavailable: " + res.Reason
		if res.Source == scenario.FromHistoricalFallback {
			detail += "; using historical case recommendations"
		}
		p.step(scenario.StepRecommend, scenario.StatusDegraded, detail)
	} else {
		p.step(scenario.StepRecommend, scenario.StatusOK, fmt.Sprintf("%d recommendations", len(res.Recommendations)))
	}
	sc.State = scenario.StateRecommended
}

func (s *Service) safeRecommend(ctx context.Context, d scenario.Draft, cases []recommend.CaseContext) (res recommend.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = recommend.Result{
				Outcome:         recommend.OutcomeDegraded,
				Recommendations: []string{},
				Source:          scenario.FromNone,
				Reason:          fmt.Sprintf("recommender panic: %v", r),
			}
		}
	}()
	return s.rec.Generate(ctx, d, cases)
}

// write stores a copy of sc with the description sealed.
func (s *Service) write(ctx context.Context, sc *scenario.Scenario, create bool) error {
	if s.store == nil {
		return errors.New("no scenario store configured")
	}
	sealed := sc.Clone()
	desc, err := s.codec.Encode(sc.Description)
	if err != nil {
		return fmt.Errorf("sealing description: %w", err)
	}
	sealed.Description = desc
	if create {
		return s.store.Create(ctx, sealed)
	}
	return s.store.Update(ctx, sealed)
}

func (s *Service) emit(ev *scenario.Event) {
	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Interface("panic", r).Str("event", ev.Type).Msg("listener panicked")
				}
			}()
			l(ev)
		}()
	}
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// GetScenario returns a stored scenario with its description decrypted. It
// returns store.ErrNotFound or a *fieldcrypt.DecryptionError.
func (s *Service) GetScenario(ctx context.Context, id string) (*scenario.Scenario, error) {
	if s.store == nil {
		return nil, errors.New("no scenario store configured")
	}
	sc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	plain, err := s.codec.Decode(sc.Description)
	if err != nil {
		return nil, fmt.Errorf("scenario %s description: %w", id, err)
	}
	sc.Description = plain
	return sc, nil
}

// HistoricalCases returns the current reference corpus.
func (s *Service) HistoricalCases() []scenario.HistoricalCase {
	return s.corpus.Snapshot().Cases()
}

// RecentScenarios lists the newest scenarios; limit is clamped to 1..100.
func (s *Service) RecentScenarios(ctx context.Context, limit int) ([]scenario.Summary, error) {
	if s.store == nil {
		return []scenario.Summary{}, nil
	}
	return s.store.Recent(ctx, store.ClampRecent(limit))
}

// AuditLog returns recent audit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, limit int) ([]audit.Entry, error) {
	return s.audit.List(ctx, limit)
}
