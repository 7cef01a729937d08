// Package recommend wraps the external text-generation collaborator that
// proposes mitigation steps for a scenario. The adapter never fails: every
// problem becomes a degraded Result with a reason and, when possible, the
// matched cases' own recommendations.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/finscenario/scenariomap/internal/scenario"
)

// Generator produces raw recommendation text for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Outcome is the adapter verdict.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
)

// Degradation reasons.
const (
	ReasonUnconfigured = "generator not configured"
	ReasonBreakerOpen  = "circuit breaker open"
	ReasonTimeout      = "generator timed out"
	ReasonMalformed    = "malformed generator response"
)

// Result is the outcome of one recommendation request.
type Result struct {
	Outcome         Outcome
	Recommendations []string
	Source          scenario.RecommendationSource
	Reason          string
	Attempts        int
}

// Degraded reports whether the generator could not be used.
func (r Result) Degraded() bool { return r.Outcome == OutcomeDegraded }

// Config controls timeouts, retries and fallback.
type Config struct {
	Timeout            time.Duration
	Retries            int
	RetryBackoff       time.Duration
	MaxRecommendations int
	FallbackToCases    bool
	BreakerFailures    uint32
	BreakerOpen        time.Duration
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:            15 * time.Second,
		Retries:            0,
		RetryBackoff:       250 * time.Millisecond,
		MaxRecommendations: 6,
		FallbackToCases:    true,
		BreakerFailures:    5,
		BreakerOpen:        30 * time.Second,
	}
}

// Adapter calls a Generator with a timeout behind a circuit breaker.
type Adapter struct {
	gen    Generator
	cfg    Config
	cb     *gobreaker.CircuitBreaker
	logger zerolog.Logger
}

// NewAdapter builds an adapter. gen may be nil, in which case every call
// degrades to the fallback.
func NewAdapter(gen Generator, cfg Config, logger zerolog.Logger) *Adapter {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRecommendations <= 0 {
		cfg.MaxRecommendations = def.MaxRecommendations
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = def.BreakerOpen
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	a := &Adapter{
		gen:    gen,
		cfg:    cfg,
		logger: logger.With().Str("component", "recommend").Logger(),
	}
	name := "generator"
	if gen != nil {
		name = gen.Name()
	}
	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("recommendation breaker state changed")
		},
	})
	return a
}

// Configured reports whether a generator is wired.
func (a *Adapter) Configured() bool { return a.gen != nil }

// GeneratorName returns the wired generator name, or "none".
func (a *Adapter) GeneratorName() string {
	if a.gen == nil {
		return "none"
	}
	return a.gen.Name()
}

// BreakerState returns the breaker state as a string.
func (a *Adapter) BreakerState() string { return a.cb.State().String() }

// Generate asks the generator for recommendations. It always returns a
// Result; failures are reported as OutcomeDegraded.
func (a *Adapter) Generate(ctx context.Context, d scenario.Draft, cases []CaseContext) Result {
	if a.gen == nil {
		return a.degrade(cases, ReasonUnconfigured, 0)
	}

	prompt := BuildPrompt(d, cases)
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	attempts := 0
	out, err := a.cb.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
			if attempt > 0 {
				select {
				case <-callCtx.Done():
					return nil, callCtx.Err()
				case <-time.After(time.Duration(attempt) * a.cfg.RetryBackoff):
				}
			}
			attempts++
			text, err := a.call(callCtx, prompt)
			if err == nil {
				return text, nil
			}
			lastErr = err
			if callCtx.Err() != nil {
				return nil, lastErr
			}
		}
		return nil, lastErr
	})

	if err != nil {
		reason := fmt.Sprintf("generator error: %v", err)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = ReasonBreakerOpen
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			reason = ReasonTimeout
		}
		a.logger.Warn().Err(err).Str("generator", a.gen.Name()).Int("attempts", attempts).
			Msg("recommendation generation failed")
		return a.degrade(cases, reason, attempts)
	}

	recs := ParseRecommendations(out.(string), a.cfg.MaxRecommendations)
	if len(recs) == 0 {
		a.logger.Warn().Str("generator", a.gen.Name()).Msg("generator returned no usable lines")
		return a.degrade(cases, ReasonMalformed, attempts)
	}

	a.logger.Debug().Int("count", len(recs)).Int("attempts", attempts).Msg("recommendations generated")
	return Result{
		Outcome:         OutcomeOK,
		Recommendations: recs,
		Source:          scenario.FromGenerator,
		Attempts:        attempts,
	}
}

type genResult struct {
	text string
	err  error
}

// call bounds one generator call by ctx even when the generator ignores it.
// An abandoned call finishes in the background; its result is dropped.
func (a *Adapter) call(ctx context.Context, p Prompt) (string, error) {
	done := make(chan genResult, 1)
	go func() {
		text, err := a.gen.Generate(ctx, p)
		done <- genResult{text: text, err: err}
	}()
	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *Adapter) degrade(cases []CaseContext, reason string, attempts int) Result {
	res := Result{
		Outcome:         OutcomeDegraded,
		Recommendations: []string{},
		Source:          scenario.FromNone,
		Reason:          reason,
		Attempts:        attempts,
	}
	if a.cfg.FallbackToCases {
		if recs := fallbackFromCases(cases, a.cfg.MaxRecommendations); len(recs) > 0 {
			res.Recommendations = recs
			res.Source = scenario.FromHistoricalFallback
		}
	}
	return res
}
