// Package rest is OttoEngine's REST façade (§6.2): it talks to the engine
// core only through its thread-safe façade methods, never touching the
// state store or rule set directly.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ottoengine/ottoengine/internal/enginelog"
	"github.com/ottoengine/ottoengine/internal/ottoerr"
	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/scheduler"
	"github.com/ottoengine/ottoengine/internal/state"
	"gopkg.in/yaml.v3"
)

// Engine is the subset of the engine core's façade the REST surface
// depends on.
type Engine interface {
	Entities() ([]state.EntityState, error)
	Services() ([]state.ServiceRegistration, error)
	ListRules() ([]domain.Descriptor, error)
	GetRule(id string) (domain.AutomationRule, bool, error)
	SaveRule(rule domain.AutomationRule) error
	DeleteRule(id string) (bool, error)
	Reload() error
	EngineLog() ([]enginelog.Record, error)
	CheckTimeSpec(spec scheduler.TimeSpec) (time.Time, error)
}

// Server is OttoEngine's REST façade over net/http.ServeMux.
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	logger   *slog.Logger
	engine   Engine
	shutdown func(context.Context)
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns sensible listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8099",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the REST façade. shutdown is invoked (in its own
// goroutine) when GET /shutdown is requested, after the response is sent.
func NewServer(cfg ServerConfig, eng Engine, logger *slog.Logger, shutdown func(context.Context)) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if shutdown == nil {
		shutdown = func(context.Context) {}
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, logger: logger, engine: eng, shutdown: shutdown}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /rest/ping", s.handlePing)
	s.mux.HandleFunc("GET /rest/reload", s.handleReload)
	s.mux.HandleFunc("GET /rest/rules", s.handleListRules)
	s.mux.HandleFunc("GET /rest/rule/{id}", s.handleGetRule)
	s.mux.HandleFunc("PUT /rest/rule", s.handleSaveRule)
	s.mux.HandleFunc("PUT /rest/rule/{id}", s.handleSaveRule)
	s.mux.HandleFunc("DELETE /rest/rule/{id}", s.handleDeleteRule)
	s.mux.HandleFunc("GET /rest/entities", s.handleEntities)
	s.mux.HandleFunc("GET /rest/services", s.handleServices)
	s.mux.HandleFunc("GET /rest/logs", s.handleLogs)
	s.mux.HandleFunc("PUT /rest/clock/check", s.handleCheckClock)
	s.mux.HandleFunc("GET /shutdown", s.handleShutdown)
}

// Start serves until the listener is closed or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting REST façade", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down REST façade")
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reload(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.engine.ListRules()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rule, ok, err := s.engine.GetRule(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("rule %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rule.ToDescriptor())
}

// handleSaveRule decodes the request body as a rule definition and
// persists it. The body is parsed with yaml.v3, which accepts both YAML
// and JSON syntax, reusing AutomationRule's existing UnmarshalYAML
// instead of a parallel JSON codec. The descriptor's own id wins over any
// id supplied in the path.
func (s *Server) handleSaveRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AutomationRule
	dec := yaml.NewDecoder(r.Body)
	if err := dec.Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid rule body: %v", err))
		return
	}
	if rule.ID == "" {
		rule.ID = r.PathValue("id")
	}
	if rule.ID == "" {
		writeError(w, http.StatusBadRequest, "rule id is required")
		return
	}

	if err := s.engine.SaveRule(rule); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed, err := s.engine.DeleteRule(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, fmt.Sprintf("rule %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.engine.Entities()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.engine.Services()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.EngineLog()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCheckClock(w http.ResponseWriter, r *http.Request) {
	var spec scheduler.TimeSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid TimeSpec: %v", err))
		return
	}

	next, err := s.engine.CheckTimeSpec(spec)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next_time": next.Format(time.RFC3339)})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	go s.shutdown(context.Background())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// writeEngineError maps an ottoerr taxonomy error to its REST status code.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case ottoerr.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case ottoerr.IsInvalidSpec(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case ottoerr.IsRuleLoadError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
