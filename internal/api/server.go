package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/finscenario/scenariomap/internal/core"
	"github.com/finscenario/scenariomap/internal/fieldcrypt"
	"github.com/finscenario/scenariomap/internal/scenario"
	"github.com/finscenario/scenariomap/internal/store"
)

const (
	maxJSONBody  = 1 << 20
	maxActorLen  = 128
	defaultActor = "anonymous"
)

// Server is the scenariomap REST API server.
type Server struct {
	engine  *core.Engine
	server  *http.Server
	handler http.Handler
	logger  zerolog.Logger
}

// NewServer creates a new API server. The engine must be started.
func NewServer(engine *core.Engine) *Server {
	s := &Server{
		engine: engine,
		logger: engine.Logger.With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/scenarios", s.handleScenarios)
	mux.HandleFunc("/api/v1/scenarios/upload", s.handleUpload)
	mux.HandleFunc("/api/v1/scenarios/", s.handleScenarioByID)
	mux.HandleFunc("/api/v1/cases", s.handleCases)
	mux.HandleFunc("/api/v1/audit", s.handleAudit)
	mux.HandleFunc("/api/v1/reload", s.handleReload)
	mux.HandleFunc("/api/v1/logs", s.handleLogs)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)

	settings := engine.ServerSettings()

	// Build middleware chain: CORS -> logging -> rate limit -> auth -> handler
	s.handler = corsMiddleware(
		loggingMiddleware(
			rateLimitMiddleware(
				authMiddleware(mux, engine, s.logger),
				settings.RateLimit,
			),
			s.logger,
		),
		engine,
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if s.engine.AuthEnabled() {
		s.logger.Info().Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled, set server.api_keys or SCENARIOMAP_API_KEY")
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RiskType    string `json:"riskType"`
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		summaries, err := s.engine.Service.RecentScenarios(r.Context(), queryLimit(r, store.DefaultRecentLimit))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"scenarios": summaries,
			"total":     len(summaries),
		})

	case http.MethodPost:
		var req createRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		sc, err := s.engine.Service.Submit(r.Context(), actorFrom(r), req.Name, req.Description, req.RiskType)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sc)

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleScenarioByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/scenarios/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	sc, err := s.engine.Service.GetScenario(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	limit := s.engine.ServerSettings().MaxUploadBytes
	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form with a file field"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return
	}
	defer file.Close()

	if header.Size > limit {
		s.writeError(w, r, &http.MaxBytesError{Limit: limit})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("reading upload: %w", err))
		return
	}
	if int64(len(data)) > limit {
		s.writeError(w, r, &http.MaxBytesError{Limit: limit})
		return
	}

	res, err := s.engine.Service.Upload(r.Context(), actorFrom(r), header.Filename, data, partContentType(header.Header.Get("Content-Type")))
	if err != nil {
		if res != nil && res.Interrupted {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":  "upload interrupted",
				"result": res,
			})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snap := s.engine.Corpus.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases":     snap.Cases(),
		"total":     snap.Len(),
		"source":    snap.Source(),
		"loaded_at": snap.LoadedAt(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.engine.Service.AuditLog(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	changes, err := s.engine.Reload()
	if err != nil {
		s.logger.Error().Err(err).Msg("reload failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   err.Error(),
			"changes": changes,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"changes": changes,
	})
}

// handleLogs returns recent log entries captured in the engine's ring buffer.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries := []core.LogEntry{}
	if s.engine.LogBuffer != nil {
		entries = s.engine.LogBuffer.GetEntries(queryLimit(r, 100))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		tooLarge    *http.MaxBytesError
		validation  *scenario.ValidationError
		unsupported *scenario.UnsupportedFileTypeError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, scenario.ErrMalformedUpload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &unsupported):
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": unsupported.Error()})
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, fieldcrypt.ErrDecryption):
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("stored value could not be decrypted")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "decryption failed"})
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func queryLimit(r *http.Request, def int) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return def
}

// partContentType treats the generic binary type as undeclared so the file
// extension decides. curl and most HTTP libraries send it for .csv files.
func partContentType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == "application/octet-stream" {
		return ""
	}
	return ct
}

// actorFrom reads the caller identity from X-Actor. Identity management is
// external; the header is trusted as given.
func actorFrom(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		return defaultActor
	}
	if len(actor) > maxActorLen {
		actor = actor[:maxActorLen]
	}
	return actor
}
