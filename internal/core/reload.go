package core

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

// ReloadConfig reloads the configuration from disk and applies changes that
// can be hot-reloaded without restarting the engine. Returns a list of what
// changed.
//
// Hot-reloadable settings:
//   - logging level
//   - webhook URLs and payload template
//   - API keys and CORS origins
//   - archive sampling rules
//   - corpus file (re-read and swapped atomically)
//
// NOT hot-reloadable (require restart):
//   - storage driver and DSN
//   - bus config (NATS URL, port, data dir)
//   - server host/port
//   - encryption key
func ReloadConfig(engine *Engine, configPath string, logger zerolog.Logger) ([]string, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no config path set, cannot reload")
	}

	newCfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var changes []string

	engine.cfgMu.Lock()
	cur := engine.Config

	if newCfg.LogLevel() != cur.LogLevel() {
		cur.Logging.Level = newCfg.Logging.Level
		applyLogLevel(cur.LogLevel())
		changes = append(changes, "logging.level → "+newCfg.LogLevel())
	}

	if !slices.Equal(newCfg.Webhooks.URLs, cur.Webhooks.URLs) {
		cur.Webhooks.URLs = newCfg.Webhooks.URLs
		if engine.Webhooks != nil {
			engine.Webhooks.SetURLs(newCfg.Webhooks.URLs)
		}
		changes = append(changes, fmt.Sprintf("webhooks.urls → %d URLs", len(newCfg.Webhooks.URLs)))
	}

	if newCfg.Webhooks.Template != cur.Webhooks.Template || newCfg.Webhooks.RoutingKey != cur.Webhooks.RoutingKey {
		cur.Webhooks.Template = newCfg.Webhooks.Template
		cur.Webhooks.RoutingKey = newCfg.Webhooks.RoutingKey
		if engine.Webhooks != nil {
			engine.Webhooks.SetTemplate(GetNotificationTemplate(newCfg.Webhooks.Template, newCfg.Webhooks.RoutingKey))
		}
		changes = append(changes, "webhooks.template → "+newCfg.Webhooks.Template)
	}

	if !slices.Equal(newCfg.Server.APIKeys, cur.Server.APIKeys) {
		cur.Server.APIKeys = newCfg.Server.APIKeys
		changes = append(changes, fmt.Sprintf("server.api_keys → %d keys", len(newCfg.Server.APIKeys)))
	}

	if !slices.Equal(newCfg.Server.CORSOrigins, cur.Server.CORSOrigins) {
		cur.Server.CORSOrigins = newCfg.Server.CORSOrigins
		changes = append(changes, fmt.Sprintf("server.cors_origins → %d origins", len(newCfg.Server.CORSOrigins)))
	}

	cur.Archive.SampleRules = newCfg.Archive.SampleRules
	if engine.Archiver != nil {
		engine.Archiver.SetSampleRules(newCfg.Archive.SampleRules)
	}

	cur.Corpus.Path = newCfg.Corpus.Path
	engine.cfgMu.Unlock()

	change, err := engine.ReloadCorpus()
	if err != nil {
		// Other settings are already applied; the previous corpus stays live.
		logger.Error().Err(err).Strs("changes", changes).Msg("configuration reloaded, corpus kept")
		return changes, err
	}
	changes = append(changes, change)

	logger.Info().Strs("changes", changes).Msg("configuration reloaded")
	return changes, nil
}
