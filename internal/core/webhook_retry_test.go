package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/finscenario/scenariomap/internal/scenario"
)

func fastRetryConfig() WebhookRetryConfig {
	return WebhookRetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		QueueSize:      10,
		Workers:        1,
		CircuitBreaker: 100,
		CircuitPause:   time.Second,
	}
}

func testEvent() *scenario.Event {
	return scenario.NewEvent(scenario.EventCompleted, "scn-123", "alice", "scenario processed")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWebhookDispatcher_SuccessfulDelivery(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), nil)
	defer d.Stop()

	id := d.Enqueue(server.URL, testEvent(), nil)
	if id == "" {
		t.Fatal("expected non-empty delivery ID")
	}

	waitFor(t, 2*time.Second, func() bool { return d.Stats()["delivered"].(int64) == 1 })
	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}
	if n := d.Stats()["dead_letters"].(int); n != 0 {
		t.Errorf("expected 0 dead letters, got %d", n)
	}
}

func TestWebhookDispatcher_NotifyFansOutToAllURLs(t *testing.T) {
	var received atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	a := httptest.NewServer(handler)
	defer a.Close()
	b := httptest.NewServer(handler)
	defer b.Close()

	d := NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), []string{a.URL, b.URL})
	defer d.Stop()

	d.Notify(testEvent())
	waitFor(t, 2*time.Second, func() bool { return received.Load() == 2 })

	d.SetURLs(nil)
	d.Notify(testEvent())
	time.Sleep(50 * time.Millisecond)
	if received.Load() != 2 {
		t.Errorf("no deliveries expected after clearing URLs, got %d total", received.Load())
	}
}

func TestWebhookDispatcher_RetryOn5xx(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), nil)
	defer d.Stop()

	d.Enqueue(server.URL, testEvent(), nil)
	waitFor(t, 3*time.Second, func() bool { return d.Stats()["delivered"].(int64) == 1 })

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestWebhookDispatcher_DeadLetterOn4xx(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), nil)
	defer d.Stop()

	d.Enqueue(server.URL, testEvent(), nil)
	waitFor(t, 2*time.Second, func() bool { return len(d.GetDeadLetters(10)) == 1 })

	if attempts.Load() != 1 {
		t.Errorf("4xx should not be retried, got %d attempts", attempts.Load())
	}
	if dl := d.GetDeadLetters(10)[0]; dl.LastError != "client error: HTTP 400" {
		t.Errorf("LastError = %q", dl.LastError)
	}
}

func TestWebhookDispatcher_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := fastRetryConfig()
	cfg.CircuitBreaker = 2
	cfg.CircuitPause = time.Minute
	d := NewWebhookDispatcher(zerolog.Nop(), cfg, nil)
	defer d.Stop()

	d.Enqueue(server.URL, testEvent(), nil)
	waitFor(t, 2*time.Second, func() bool { return len(d.GetDeadLetters(10)) == 1 })

	if attempts.Load() != 2 {
		t.Errorf("expected breaker to stop after 2 attempts, got %d", attempts.Load())
	}
	if d.GetDeadLetters(1)[0].LastError != "circuit breaker open for URL" {
		t.Errorf("LastError = %q", d.GetDeadLetters(1)[0].LastError)
	}
	if d.Stats()["open_circuits"].(int) != 1 {
		t.Errorf("open_circuits = %v, want 1", d.Stats()["open_circuits"])
	}
}

func TestWebhookDispatcher_RetryDeadLetter(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), nil)
	defer d.Stop()

	d.Enqueue(server.URL, testEvent(), nil)
	waitFor(t, 2*time.Second, func() bool { return len(d.GetDeadLetters(10)) == 1 })

	dls := d.GetDeadLetters(10)
	if !d.RetryDeadLetter(dls[0].Delivery.ID) {
		t.Fatal("RetryDeadLetter returned false")
	}

	waitFor(t, 2*time.Second, func() bool { return d.Stats()["delivered"].(int64) == 1 })
	if n := len(d.GetDeadLetters(10)); n != 0 {
		t.Errorf("expected 0 dead letters after retry, got %d", n)
	}
	if d.RetryDeadLetter("unknown-id") {
		t.Error("unknown delivery id should not be retried")
	}
}

func TestWebhookDispatcher_HeadersAndPayload(t *testing.T) {
	type captured struct {
		custom   string
		delivery string
		event    scenario.Event
	}
	ch := make(chan captured, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c captured
		c.custom = r.Header.Get("X-Custom")
		c.delivery = r.Header.Get("X-Scenariomap-Delivery-ID")
		_ = json.NewDecoder(r.Body).Decode(&c.event)
		ch <- c
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(zerolog.Nop(), fastRetryConfig(), nil)
	defer d.Stop()

	ev := testEvent()
	id := d.Enqueue(server.URL, ev, map[string]string{"X-Custom": "test-value"})

	select {
	case got := <-ch:
		if got.custom != "test-value" {
			t.Errorf("custom header = %q, want test-value", got.custom)
		}
		if got.delivery != id {
			t.Errorf("delivery header = %q, want %q", got.delivery, id)
		}
		if got.event.ScenarioID != "scn-123" || got.event.Type != scenario.EventCompleted {
			t.Errorf("payload mismatch: %+v", got.event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
}
