package core

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/finscenario/scenariomap/internal/audit"
	"github.com/finscenario/scenariomap/internal/fieldcrypt"
	"github.com/finscenario/scenariomap/internal/matcher"
	"github.com/finscenario/scenariomap/internal/recommend"
	"github.com/finscenario/scenariomap/internal/scenario"
	"github.com/finscenario/scenariomap/internal/store"
	"github.com/finscenario/scenariomap/internal/workflow"
)

// Version is the scenariomap release.
var Version = "0.4.0"

// Engine wires the scenario workflow to storage, the recommendation
// generator, the event bus, the archive and webhook notifications.
type Engine struct {
	Config     *Config
	ConfigPath string
	Logger     zerolog.Logger
	LogBuffer  *LogRingBuffer

	Codec    *fieldcrypt.Codec
	Corpus   *matcher.Corpus
	Store    store.Store
	Adapter  *recommend.Adapter
	Audit    *audit.Recorder
	Service  *workflow.Service
	Bus      *EventBus
	Archiver *Archiver
	Webhooks *WebhookDispatcher

	cfgMu     sync.RWMutex
	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewEngine creates a new engine. Nothing is opened or dialed until Start.
func NewEngine(cfg *Config) (*Engine, error) {
	buf := NewLogRingBuffer(1000)

	var out = buf.MultiWriter(os.Stdout)
	if cfg.Logging.Format != "json" {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}, buf)
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	applyLogLevel(cfg.LogLevel())

	codec, err := fieldcrypt.FromBase64(cfg.Crypto.Key)
	if err != nil {
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}

	corpus, err := loadCorpus(cfg.Corpus.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		Config:    cfg,
		Logger:    logger.With().Str("component", "engine").Logger(),
		LogBuffer: buf,
		Codec:     codec,
		Corpus:    corpus,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func loadCorpus(path string) (*matcher.Corpus, error) {
	cases, err := matcher.LoadCases(path)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	source := path
	if source == "" {
		source = matcher.EmbeddedSource
	}
	return matcher.NewCorpus(cases, source), nil
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// newGenerator returns a nil interface when no provider or key is configured.
func newGenerator(ctx context.Context, cfg RecommendConfig) (recommend.Generator, error) {
	if cfg.Provider == "" || cfg.Provider == "none" || cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "groq":
		return recommend.NewGroqGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "gemini":
		return recommend.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown recommendation provider %q", cfg.Provider)
	}
}

// Start opens storage, builds the workflow service and, when enabled, the
// event bus, archive and webhook dispatcher.
func (e *Engine) Start() error {
	e.Logger.Info().Str("version", Version).Msg("starting scenariomap engine")
	cfg := e.Config

	st, err := store.Open(e.ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}
	e.Store = st

	if !e.Codec.Enabled() {
		e.Logger.Warn().Msg("DATA_ENCRYPTION_KEY not set, sensitive fields are stored as plaintext")
	}

	gen, err := newGenerator(e.ctx, cfg.Recommend)
	if err != nil {
		return fmt.Errorf("creating recommendation generator: %w", err)
	}
	if gen == nil {
		e.Logger.Warn().Str("provider", cfg.Recommend.Provider).Msg("recommendation generator not configured, using historical fallback")
	}
	e.Adapter = recommend.NewAdapter(gen, cfg.AdapterConfig(), e.Logger)

	e.Audit = audit.NewRecorder(st, e.Codec, e.Logger)
	e.Service = workflow.NewService(workflow.Deps{
		Store:       st,
		Audit:       e.Audit,
		Corpus:      e.Corpus,
		Recommender: e.Adapter,
		Codec:       e.Codec,
		Logger:      e.Logger,
	}, workflow.Options{
		TopK:            cfg.Corpus.TopK,
		BatchWorkers:    cfg.Workflow.BatchWorkers,
		MaxBatchRecords: cfg.Workflow.MaxBatchRecords,
	})

	if cfg.Bus.Enabled {
		bus, err := NewEventBus(&cfg.Bus, e.Logger)
		if err != nil {
			return fmt.Errorf("starting event bus: %w", err)
		}
		e.Bus = bus
		e.Audit.SetPublisher(bus)
		e.Service.AddListener(func(ev *scenario.Event) {
			if err := e.Bus.PublishEvent(ev); err != nil {
				e.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to publish event to bus")
			}
		})

		if cfg.Archive.Enabled {
			arch, err := NewArchiver(cfg.Archive, bus, e.Logger)
			if err != nil {
				return fmt.Errorf("creating archiver: %w", err)
			}
			if err := arch.Start(e.ctx); err != nil {
				return fmt.Errorf("starting archiver: %w", err)
			}
			e.Archiver = arch
		}
	} else if cfg.Archive.Enabled {
		e.Logger.Warn().Msg("archive enabled but event bus disabled, archive not started")
	}

	retry := DefaultWebhookRetryConfig()
	if cfg.Webhooks.Workers > 0 {
		retry.Workers = cfg.Webhooks.Workers
	}
	if cfg.Webhooks.MaxRetries > 0 {
		retry.MaxRetries = cfg.Webhooks.MaxRetries
	}
	e.Webhooks = NewWebhookDispatcher(e.Logger, retry, cfg.Webhooks.URLs)
	e.Webhooks.SetTemplate(GetNotificationTemplate(cfg.Webhooks.Template, cfg.Webhooks.RoutingKey))
	e.Service.AddListener(func(ev *scenario.Event) {
		if ev.Type == scenario.EventCompleted {
			e.Webhooks.Notify(ev)
		}
	})

	e.startTime = time.Now()
	snap := e.Corpus.Snapshot()
	e.Logger.Info().
		Str("storage", st.Driver()).
		Int("corpus_cases", snap.Len()).
		Str("corpus_source", snap.Source()).
		Str("generator", e.Adapter.GeneratorName()).
		Bool("encryption", e.Codec.Enabled()).
		Bool("bus", e.Bus != nil).
		Msg("scenariomap engine started")

	return nil
}

// Shutdown gracefully stops the engine.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down scenariomap engine")
	e.cancel()

	if e.Webhooks != nil {
		e.Webhooks.Stop()
	}
	if e.Archiver != nil {
		e.Archiver.Close()
	}
	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing store")
		}
	}

	e.Logger.Info().Msg("scenariomap engine stopped")
	return nil
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Uptime returns the time since Start, or zero before Start.
func (e *Engine) Uptime() time.Duration {
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// ServerSettings returns a copy of the server section, safe against reloads.
func (e *Engine) ServerSettings() ServerConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	s := e.Config.Server
	s.APIKeys = append([]string(nil), s.APIKeys...)
	s.CORSOrigins = append([]string(nil), s.CORSOrigins...)
	return s
}

// AuthEnabled reports whether API keys are configured.
func (e *Engine) AuthEnabled() bool {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.Config.AuthEnabled()
}

// ValidateAPIKey checks key against the current API keys.
func (e *Engine) ValidateAPIKey(key string) bool {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.Config.ValidateAPIKey(key)
}

// Reload re-reads the config file, or only the corpus when the engine was
// started without one.
func (e *Engine) Reload() ([]string, error) {
	if e.ConfigPath == "" {
		change, err := e.ReloadCorpus()
		if err != nil {
			return nil, err
		}
		return []string{change}, nil
	}
	return ReloadConfig(e, e.ConfigPath, e.Logger)
}

// ReloadCorpus re-reads the configured corpus and swaps it in atomically.
// In-flight scenarios keep the snapshot they started with.
func (e *Engine) ReloadCorpus() (string, error) {
	e.cfgMu.RLock()
	path := e.Config.Corpus.Path
	e.cfgMu.RUnlock()

	snap, err := e.Corpus.Reload(path)
	if err != nil {
		return "", fmt.Errorf("reloading corpus: %w", err)
	}
	return fmt.Sprintf("corpus → %s (%d cases)", snap.Source(), snap.Len()), nil
}

// Status summarizes the engine for the API and CLI.
func (e *Engine) Status(ctx context.Context) map[string]interface{} {
	snap := e.Corpus.Snapshot()
	status := map[string]interface{}{
		"version":        Version,
		"status":         "running",
		"uptime_seconds": int64(e.Uptime().Seconds()),
		"encryption":     e.Codec.Enabled(),
		"corpus": map[string]interface{}{
			"cases":     snap.Len(),
			"source":    snap.Source(),
			"loaded_at": snap.LoadedAt(),
		},
		"bus_connected": e.Bus != nil && e.Bus.IsConnected(),
		"timestamp":     time.Now().UTC(),
	}
	if e.Store != nil {
		storage := map[string]interface{}{"driver": e.Store.Driver(), "healthy": true}
		if err := e.Store.Ping(ctx); err != nil {
			storage["healthy"] = false
			storage["error"] = err.Error()
		}
		status["storage"] = storage
	}
	if e.Adapter != nil {
		status["generator"] = map[string]interface{}{
			"name":       e.Adapter.GeneratorName(),
			"configured": e.Adapter.Configured(),
			"breaker":    e.Adapter.BreakerState(),
		}
	}
	if e.Service != nil {
		status["workflow"] = e.Service.Stats()
	}
	if e.Audit != nil {
		status["audit_failures"] = e.Audit.Failures()
	}
	if e.Bus != nil {
		status["bus"] = e.Bus.GetMetrics()
	}
	if e.Archiver != nil {
		status["archive"] = e.Archiver.Status()
	}
	if e.Webhooks != nil {
		status["webhooks"] = e.Webhooks.Stats()
	}
	return status
}
