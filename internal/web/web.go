// Package web serves the status API of watch mode.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"caltimer/internal/config"
	"caltimer/internal/cycle"
	appLog "caltimer/internal/log"
	"caltimer/internal/timing"
)

const previewTTL = 30 * time.Second

// Previewer plans the window following now without executing it.
type Previewer interface {
	Plan(ctx context.Context, now time.Time) (*cycle.Plan, error)
}

// Server provides /health, /api/switches and /api/preview.
type Server struct {
	cfg     *config.Config
	preview Previewer
	now     func() time.Time
	loc     *time.Location
	router  chi.Router

	previewMu    sync.Mutex
	previewCache *previewCache
}

type previewCache struct {
	plan      *cycle.Plan
	updatedAt time.Time
}

func NewServer(cfg *config.Config, preview Previewer) *Server {
	loc, err := cfg.TimeLocation()
	if err != nil {
		loc = time.Local
	}
	s := &Server{
		cfg:     cfg,
		preview: preview,
		now:     time.Now,
		loc:     loc,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(s.basicAuth)
		}
		r.Get("/api/switches", s.handleSwitches)
		r.Get("/api/preview", s.handlePreview)
	})
	s.router = r
}

// basicAuthEnabled reports whether both a username and a password are set.
func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username, password := s.cfg.BasicAuth.Username, s.cfg.BasicAuth.Password
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="caltimer", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type switchDTO struct {
	Name string `json:"name"`
	config.SwitchConfig
	Error string `json:"error,omitempty"`
}

func (s *Server) handleSwitches(w http.ResponseWriter, _ *http.Request) {
	out := make([]switchDTO, 0, len(s.cfg.Switches))
	for _, name := range s.cfg.SwitchNames() {
		sw := s.cfg.Switches[name]
		dto := switchDTO{Name: name, SwitchConfig: sw}
		if err := sw.Validate(); err != nil {
			dto.Error = err.Error()
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePreview returns the plan for the next window. A plan is cached for
// previewTTL so that polling the endpoint does not hit the calendar server
// on every request, and only while it still covers the next window.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	next := timing.NextWindow(now.In(s.loc), s.cfg.Interval())

	s.previewMu.Lock()
	defer s.previewMu.Unlock()
	if c := s.previewCache; c != nil && now.Sub(c.updatedAt) < previewTTL && c.plan.Window.Start.Equal(next.Start) {
		writeJSON(w, http.StatusOK, c.plan)
		return
	}

	plan, err := s.preview.Plan(r.Context(), now)
	if err != nil {
		appLog.Ctx(r.Context()).Error("preview failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.previewCache = &previewCache{plan: plan, updatedAt: now}
	writeJSON(w, http.StatusOK, plan)
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg *config.Config, preview Previewer) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, preview).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
