// Package admin serves Hoshi's operator HTTP API: health, runtime status and
// the runtime settings table.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/version"
	"github.com/bdobrica/Hoshi/internal/hoshi/settings"
)

const maxBodyBytes = 64 << 10

// Stats is the live state reported by /status.
type Stats struct {
	ActiveBuckets int      `json:"active_buckets"`
	FlowUsers     int      `json:"flow_users"`
	Transports    []string `json:"transports"`
	SearchEnabled bool     `json:"search_enabled"`
}

// StatsFunc samples Stats on each /status request.
type StatsFunc func() Stats

// Server exposes /health, /status and /api/settings. When token is set every
// route except /health requires "Authorization: Bearer <token>".
type Server struct {
	addr      string
	token     string
	settings  settings.Store
	stats     StatsFunc
	startedAt time.Time
	mux       *http.ServeMux
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	Stats
}

type settingsResponse struct {
	Settings map[string]string `json:"settings"`
	Keys     []string          `json:"keys"`
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds the server. st and stats may be nil.
func New(addr, token string, st settings.Store, stats StatsFunc) *Server {
	s := &Server{
		addr:      addr,
		token:     token,
		settings:  st,
		stats:     stats,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /status", s.authorized(s.handleStatus))
	s.mux.Handle("GET /api/settings", s.authorized(s.handleListSettings))
	s.mux.Handle("PUT /api/settings/{key}", s.authorized(s.handlePutSetting))
	s.mux.Handle("DELETE /api/settings/{key}", s.authorized(s.handleDeleteSetting))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if s.token == "" {
		slog.Warn("admin API has no token; settings are writable by anyone who can reach it", "addr", ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("admin server shutdown error", "err", err)
	}
	return nil
}

func (s *Server) authorized(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				slog.Warn("security: admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
	}
	if s.stats != nil {
		resp.Stats = s.stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "settings store not configured"})
		return
	}
	all, err := s.settings.List(r.Context())
	if err != nil {
		slog.Error("admin: list settings", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Settings: all, Keys: settings.Keys()})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "settings store not configured"})
		return
	}
	key := r.PathValue("key")

	var req settingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || len(req.Value) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"value": ...}`})
		return
	}
	value := rawToString(req.Value)

	if err := s.settings.Set(r.Context(), key, value); err != nil {
		s.writeSettingError(w, key, err)
		return
	}
	slog.Info("admin: setting updated", "key", key)
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "settings store not configured"})
		return
	}
	key := r.PathValue("key")
	if !slices.Contains(settings.Keys(), key) {
		s.writeSettingError(w, key, settings.ErrUnknownKey)
		return
	}
	if err := s.settings.Delete(r.Context(), key); err != nil {
		s.writeSettingError(w, key, err)
		return
	}
	slog.Info("admin: setting deleted", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeSettingError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, settings.ErrUnknownKey):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown setting %q", key)})
	case errors.Is(err, settings.ErrInvalidValue):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		slog.Error("admin: settings write", "key", key, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// rawToString unquotes JSON strings and keeps other JSON values verbatim.
func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("admin: failed to encode JSON response", "err", err)
	}
}
