package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/finscenario/scenariomap/internal/scenario"
)

// ---------------------------------------------------------------------------
// webhook_retry.go — completion notifications with exponential backoff,
// a dead letter buffer, and a circuit breaker per target URL.
//
//   - Async delivery queue with configurable concurrency
//   - Exponential backoff: 1s → 2s → 4s → 8s → 16s (max 5 retries)
//   - Dead letter buffer for permanently failed deliveries (queryable via API)
//   - gobreaker per URL: after N consecutive failures the URL is paused
// ---------------------------------------------------------------------------

// WebhookDelivery represents a single webhook delivery attempt.
type WebhookDelivery struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Payload   *scenario.Event   `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	Status    string            `json:"status"` // "pending", "delivered", "dead_letter"
}

// DeadLetterEntry is a failed delivery preserved for inspection.
type DeadLetterEntry struct {
	Delivery  WebhookDelivery `json:"delivery"`
	FailedAt  time.Time       `json:"failed_at"`
	LastError string          `json:"last_error"`
}

// WebhookRetryConfig controls retry behavior.
type WebhookRetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	Workers        int           `yaml:"workers" json:"workers"`
	CircuitBreaker int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitPause   time.Duration `yaml:"circuit_pause" json:"circuit_pause"`
}

// DefaultWebhookRetryConfig returns sane defaults.
func DefaultWebhookRetryConfig() WebhookRetryConfig {
	return WebhookRetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		QueueSize:      1000,
		Workers:        4,
		CircuitBreaker: 5,
		CircuitPause:   60 * time.Second,
	}
}

// errPermanent marks a response that must not be retried (4xx other than 429).
type errPermanent struct{ status int }

func (e *errPermanent) Error() string { return fmt.Sprintf("client error: HTTP %d", e.status) }

// WebhookDispatcher manages reliable webhook delivery.
type WebhookDispatcher struct {
	logger     zerolog.Logger
	cfg        WebhookRetryConfig
	queue      chan *WebhookDelivery
	deadLetter []*DeadLetterEntry
	dlMu       sync.RWMutex
	maxDL      int

	urlMu sync.RWMutex
	urls  []string
	tmpl  NotificationTemplate

	cbMu     sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	delivered int64
	statsMu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhookDispatcher creates a dispatcher with background workers.
func NewWebhookDispatcher(logger zerolog.Logger, cfg WebhookRetryConfig, urls []string) *WebhookDispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CircuitBreaker <= 0 {
		cfg.CircuitBreaker = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &WebhookDispatcher{
		logger:     logger.With().Str("component", "webhook_dispatcher").Logger(),
		cfg:        cfg,
		queue:      make(chan *WebhookDelivery, cfg.QueueSize),
		deadLetter: make([]*DeadLetterEntry, 0, 100),
		maxDL:      500,
		urls:       append([]string(nil), urls...),
		tmpl:       &GenericTemplate{},
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.Info().Int("workers", cfg.Workers).Int("queue_size", cfg.QueueSize).Int("urls", len(urls)).
		Msg("webhook dispatcher started")
	return d
}

// SetURLs replaces the notification targets.
func (d *WebhookDispatcher) SetURLs(urls []string) {
	d.urlMu.Lock()
	d.urls = append([]string(nil), urls...)
	d.urlMu.Unlock()
}

// URLs returns the current notification targets.
func (d *WebhookDispatcher) URLs() []string {
	d.urlMu.RLock()
	defer d.urlMu.RUnlock()
	return append([]string(nil), d.urls...)
}

// SetTemplate selects the payload format. nil restores the generic format.
func (d *WebhookDispatcher) SetTemplate(t NotificationTemplate) {
	if t == nil {
		t = &GenericTemplate{}
	}
	d.urlMu.Lock()
	d.tmpl = t
	d.urlMu.Unlock()
}

// Template returns the current payload format.
func (d *WebhookDispatcher) Template() NotificationTemplate {
	d.urlMu.RLock()
	defer d.urlMu.RUnlock()
	return d.tmpl
}

// Notify enqueues the event for every configured URL.
func (d *WebhookDispatcher) Notify(event *scenario.Event) {
	for _, url := range d.URLs() {
		d.Enqueue(url, event, nil)
	}
}

// Enqueue adds a webhook delivery to the async queue.
// Returns immediately. Delivery happens in background with retries.
func (d *WebhookDispatcher) Enqueue(url string, payload *scenario.Event, headers map[string]string) string {
	delivery := &WebhookDelivery{
		ID:        uuid.New().String(),
		URL:       url,
		Payload:   payload,
		Headers:   headers,
		CreatedAt: time.Now().UTC(),
		Status:    "pending",
	}

	select {
	case d.queue <- delivery:
		d.logger.Debug().Str("id", delivery.ID).Str("url", url).Msg("webhook enqueued")
	default:
		d.logger.Warn().Str("url", url).Msg("webhook queue full, delivery dropped")
		d.addDeadLetter(delivery, "queue full")
	}
	return delivery.ID
}

// GetDeadLetters returns failed deliveries for inspection.
func (d *WebhookDispatcher) GetDeadLetters(limit int) []*DeadLetterEntry {
	d.dlMu.RLock()
	defer d.dlMu.RUnlock()

	if limit <= 0 || limit > len(d.deadLetter) {
		limit = len(d.deadLetter)
	}
	start := len(d.deadLetter) - limit
	result := make([]*DeadLetterEntry, 0, limit)
	result = append(result, d.deadLetter[start:]...)
	return result
}

// RetryDeadLetter re-enqueues a dead letter entry by delivery ID.
func (d *WebhookDispatcher) RetryDeadLetter(id string) bool {
	d.dlMu.Lock()
	defer d.dlMu.Unlock()

	for i, dl := range d.deadLetter {
		if dl.Delivery.ID != id {
			continue
		}
		delivery := dl.Delivery
		delivery.Attempts = 0
		delivery.Status = "pending"
		delivery.LastError = ""
		select {
		case d.queue <- &delivery:
			d.deadLetter = append(d.deadLetter[:i], d.deadLetter[i+1:]...)
			return true
		default:
			return false
		}
	}
	return false
}

// Stats returns dispatcher statistics.
func (d *WebhookDispatcher) Stats() map[string]interface{} {
	d.dlMu.RLock()
	dlCount := len(d.deadLetter)
	d.dlMu.RUnlock()

	d.cbMu.Lock()
	openCircuits := 0
	for _, cb := range d.breakers {
		if cb.State() == gobreaker.StateOpen {
			openCircuits++
		}
	}
	d.cbMu.Unlock()

	d.statsMu.Lock()
	delivered := d.delivered
	d.statsMu.Unlock()

	return map[string]interface{}{
		"urls":           len(d.URLs()),
		"template":       d.Template().Name(),
		"queue_depth":    len(d.queue),
		"queue_capacity": d.cfg.QueueSize,
		"delivered":      delivered,
		"dead_letters":   dlCount,
		"open_circuits":  openCircuits,
		"workers":        d.cfg.Workers,
		"max_retries":    d.cfg.MaxRetries,
	}
}

// Stop shuts down the dispatcher. Queued deliveries not yet picked up are dropped.
func (d *WebhookDispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.dlMu.RLock()
	dl := len(d.deadLetter)
	d.dlMu.RUnlock()
	d.logger.Info().Int("dead_letters", dl).Msg("webhook dispatcher stopped")
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	client := &http.Client{Timeout: 15 * time.Second}

	for {
		select {
		case <-d.ctx.Done():
			return
		case delivery := <-d.queue:
			d.deliver(client, delivery)
		}
	}
}

func (d *WebhookDispatcher) breaker(url string) *gobreaker.CircuitBreaker {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	if cb, ok := d.breakers[url]; ok {
		return cb
	}
	threshold := uint32(d.cfg.CircuitBreaker)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Timeout:     d.cfg.CircuitPause,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var perm *errPermanent
			return err == nil || errors.As(err, &perm)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn().Str("url", name).Str("from", from.String()).Str("to", to.String()).
				Msg("webhook circuit breaker state changed")
		},
	})
	d.breakers[url] = cb
	return cb
}

func (d *WebhookDispatcher) deliver(client *http.Client, delivery *WebhookDelivery) {
	data, err := json.Marshal(d.Template().Format(delivery.Payload))
	if err != nil {
		delivery.LastError = fmt.Sprintf("marshal error: %v", err)
		d.addDeadLetter(delivery, delivery.LastError)
		return
	}
	cb := d.breaker(delivery.URL)

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		delivery.Attempts = attempt + 1

		_, err := cb.Execute(func() (interface{}, error) {
			return nil, d.post(client, delivery, data)
		})
		if err == nil {
			delivery.Status = "delivered"
			d.statsMu.Lock()
			d.delivered++
			d.statsMu.Unlock()
			d.logger.Debug().
				Str("id", delivery.ID).
				Str("url", delivery.URL).
				Int("attempts", delivery.Attempts).
				Msg("webhook delivered")
			return
		}

		delivery.LastError = err.Error()
		var perm *errPermanent
		switch {
		case errors.As(err, &perm):
			d.addDeadLetter(delivery, delivery.LastError)
			return
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			d.addDeadLetter(delivery, "circuit breaker open for URL")
			return
		}
		if d.ctx.Err() != nil {
			break
		}
		if attempt < d.cfg.MaxRetries {
			d.backoff(attempt)
		}
	}

	d.addDeadLetter(delivery, delivery.LastError)
}

func (d *WebhookDispatcher) post(client *http.Client, delivery *WebhookDelivery, data []byte) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, delivery.URL, bytes.NewReader(data))
	if err != nil {
		return &errPermanent{status: 0}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "scenariomap-webhook-dispatcher/1.0")
	req.Header.Set("X-Scenariomap-Delivery-ID", delivery.ID)
	req.Header.Set("X-Scenariomap-Attempt", fmt.Sprintf("%d", delivery.Attempts))
	for k, v := range delivery.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return &errPermanent{status: resp.StatusCode}
	default:
		return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
}

func (d *WebhookDispatcher) backoff(attempt int) {
	delay := time.Duration(float64(d.cfg.InitialBackoff) * math.Pow(2, float64(attempt)))
	if d.cfg.MaxBackoff > 0 && delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	select {
	case <-time.After(delay):
	case <-d.ctx.Done():
	}
}

func (d *WebhookDispatcher) addDeadLetter(delivery *WebhookDelivery, reason string) {
	delivery.Status = "dead_letter"
	d.dlMu.Lock()
	if len(d.deadLetter) >= d.maxDL {
		d.deadLetter = d.deadLetter[d.maxDL/10:]
	}
	d.deadLetter = append(d.deadLetter, &DeadLetterEntry{
		Delivery:  *delivery,
		FailedAt:  time.Now().UTC(),
		LastError: reason,
	})
	d.dlMu.Unlock()
	d.logger.Warn().
		Str("id", delivery.ID).
		Str("url", delivery.URL).
		Int("attempts", delivery.Attempts).
		Str("error", reason).
		Msg("webhook moved to dead letter")
}
