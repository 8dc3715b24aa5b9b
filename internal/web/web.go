package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"urconnect/internal/config"
	appLog "urconnect/internal/log"
	"urconnect/internal/model"
	"urconnect/internal/portal"
)

// Server exposes the most recent timetable over HTTP. It never talks to the
// portal itself; the refresh job publishes results with Update/Fail.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	mu       sync.RWMutex
	snapshot *portal.Timetable
	lastErr  error
	failedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Update publishes a fresh timetable and clears the last error.
func (s *Server) Update(tt *portal.Timetable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = tt
	s.lastErr = nil
}

// Fail records a failed refresh. The previous timetable stays available.
func (s *Server) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	s.failedAt = time.Now()
}

func (s *Server) current() (*portal.Timetable, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.failedAt, s.lastErr
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="urconnect", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/timetable", s.handleTimetable)
	s.mux.HandleFunc("/timetable.ics", s.handleICS)
	s.mux.HandleFunc("/timetable.txt", s.handleText)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// timetableResponse is the JSON response shape for /api/timetable.
type timetableResponse struct {
	Entries   []entryDTO `json:"entries"`
	Skipped   int        `json:"skipped"`
	Source    string     `json:"source"`
	FromCache bool       `json:"from_cache"`
	FetchedAt time.Time  `json:"fetched_at"`
	LastError string     `json:"last_error,omitempty"`
	FailedAt  *time.Time `json:"failed_at,omitempty"`
}

// entryDTO is a JSON-friendly view of a timetable entry.
type entryDTO struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	AllDay      bool      `json:"all_day"`
	Recurrence  string    `json:"recurrence,omitempty"`
}

func toDTO(e model.TimetableEntry) entryDTO {
	dto := entryDTO{
		Title:       e.Title,
		Start:       e.Start,
		End:         e.End,
		Location:    e.Location,
		Description: e.Description,
		AllDay:      e.AllDay,
	}
	if e.Recurrence != nil {
		dto.Recurrence = e.Recurrence.String()
	}
	return dto
}

func (s *Server) handleTimetable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tt, failedAt, lastErr := s.current()
	if tt == nil {
		msg := "timetable not fetched yet"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}

	resp := timetableResponse{
		Entries:   make([]entryDTO, 0, len(tt.Entries)),
		Skipped:   tt.Skipped,
		Source:    tt.Source,
		FromCache: tt.FromCache,
		FetchedAt: tt.FetchedAt,
	}
	for _, e := range tt.Entries {
		resp.Entries = append(resp.Entries, toDTO(e))
	}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
		resp.FailedAt = &failedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	tt, _, _ := s.current()
	if tt == nil {
		writeError(w, http.StatusServiceUnavailable, "timetable not fetched yet")
		return
	}
	body, err := portal.ExportICS(tt.Entries, tt.FetchedAt)
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export timetable")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="timetable.ics"`)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleText(w http.ResponseWriter, _ *http.Request) {
	tt, _, _ := s.current()
	if tt == nil {
		writeError(w, http.StatusServiceUnavailable, "timetable not fetched yet")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(portal.FormatEntries(tt.Entries) + "\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
