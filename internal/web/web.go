package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"campuscal/internal/aggregate"
	"campuscal/internal/config"
	"campuscal/internal/ics"
	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const (
	maxRequestIDLen = 128
	calendarName    = "Campus schedule"
	shutdownTimeout = 5 * time.Second
)

// Source is what the server reads from; *aggregate.Aggregator satisfies it.
type Source interface {
	Events(ctx context.Context) (aggregate.EventsResult, error)
	Schedule(ctx context.Context) (aggregate.ScheduleResult, error)
}

// Server provides the HTTP API over the aggregated events and schedule.
type Server struct {
	cfg *config.Config
	src Source
	mux *http.ServeMux

	// Last successful results, served with stale=true when a reload fails.
	lastEvents   lastGood[aggregate.EventsResult]
	lastSchedule lastGood[aggregate.ScheduleResult]

	limiter *rate.Limiter
}

// lastGood holds the most recent successful value of a resource.
type lastGood[T any] struct {
	mu  sync.RWMutex
	v   T
	set bool
}

func (l *lastGood[T]) store(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v, l.set = v, true
}

func (l *lastGood[T]) load() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.v, l.set
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, src Source) *Server {
	s := &Server{
		cfg: cfg,
		src: src,
		mux: http.NewServeMux(),
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}
	s.registerRoutes()
	return s
}

// Handler returns the mux wrapped in request id, rate limit and (if
// configured) basic auth middleware, outermost first.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	if s.limiter != nil {
		h = s.rateLimitMiddleware(h)
	}
	return requestIDMiddleware(h)
}

// StartServer serves the API on cfg.Listen until ctx is done, then shuts
// down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, src Source) error {
	s := NewServer(cfg, src)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("GET /api/schedule.ics", s.handleScheduleICS)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
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
			w.Header().Set("WWW-Authenticate", `Basic realm="campuscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies one token bucket to every request except
// /health.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// requestIDMiddleware reuses a sane incoming X-Request-ID or mints one, echoes
// it on the response and logs the finished request under it.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		appLog.Debug("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events    []model.PublicEvent `json:"events"`
	Degraded  bool                `json:"degraded"`
	Stale     bool                `json:"stale"`
	FetchedAt time.Time           `json:"fetchedAt"`
}

// scheduleResponse is the JSON response shape for /api/schedule.
type scheduleResponse struct {
	Items     []model.ScheduleItem `json:"items"`
	Degraded  bool                 `json:"degraded"`
	Stale     bool                 `json:"stale"`
	FetchedAt time.Time            `json:"fetchedAt"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	res, stale, ok := s.events(r)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:    res.Events,
		Degraded:  res.Degraded || stale,
		Stale:     stale,
		FetchedAt: res.FetchedAt,
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	res, stale, ok := s.schedule(r)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "schedule unavailable")
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Items:     res.Items,
		Degraded:  res.Degraded || stale,
		Stale:     stale,
		FetchedAt: res.FetchedAt,
	})
}

// handleScheduleICS renders the schedule as an iCalendar document.
func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	res, stale, ok := s.schedule(r)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "schedule unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("X-Stale", strconv.FormatBool(stale))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export(calendarName, res.Items, res.FetchedAt)))
}

// events loads the listing, falling back to the last good one on failure.
// ok is false only when there is nothing to serve.
func (s *Server) events(r *http.Request) (res aggregate.EventsResult, stale, ok bool) {
	res, err := s.src.Events(r.Context())
	if err == nil {
		s.lastEvents.store(res)
		return res, false, true
	}
	res, ok = s.lastEvents.load()
	appLog.Error("api events: load failed", err, "request_id", requestID(r.Context()), "serving_stale", ok)
	return res, ok, ok
}

func (s *Server) schedule(r *http.Request) (res aggregate.ScheduleResult, stale, ok bool) {
	res, err := s.src.Schedule(r.Context())
	if err == nil {
		s.lastSchedule.store(res)
		return res, false, true
	}
	res, ok = s.lastSchedule.load()
	appLog.Error("api schedule: load failed", err, "request_id", requestID(r.Context()), "serving_stale", ok)
	return res, ok, ok
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
