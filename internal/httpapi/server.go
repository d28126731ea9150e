// Package httpapi is the local HTTP surface: single-site and full-run
// triggers, the sign-in history, metrics and a health probe.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"signbot/internal/signin"
	"signbot/internal/task/scheduler"
	logx "signbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8087"

type SignIn interface {
	RunNow(ctx context.Context, req signin.Requester) (signin.RunOutcome, error)
	SignInByDomain(ctx context.Context, url string) string
	History(ctx context.Context) (signin.DisplayRecord, bool, error)
	Schedules() scheduler.Snapshot
}

type Config struct {
	Addr  string
	Token string
	Pprof bool
}

type Server struct {
	cfg     Config
	svc     SignIn
	metrics http.Handler
	log     logx.Logger
}

// New builds the server. metrics may be nil, which leaves /metrics unrouted.
func New(cfg Config, svc SignIn, metrics http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, svc: svc, metrics: metrics, log: log.With(logx.String("comp", "httpapi"))}
}

type reply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reply{Success: true, Message: "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/signin", func(r chi.Router) {
		r.Use(s.auth)
		r.With(middleware.Timeout(3*time.Minute)).Get("/domain", s.handleDomain)
		r.Post("/run", s.handleRun)
		r.Get("/history", s.handleHistory)
		r.Get("/schedules", s.handleSchedules)
	})
	if s.cfg.Pprof {
		r.Route("/debug", func(r chi.Router) {
			r.Use(s.auth)
			r.Mount("/", middleware.Profiler())
		})
	}
	return r
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, reply{Message: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeJSON(w, http.StatusBadRequest, reply{Message: "url is required"})
		return
	}
	writeJSON(w, http.StatusOK, reply{Success: true, Message: s.svc.SignInByDomain(r.Context(), url)})
}

// handleRun blocks until the batch finishes. The run outlives a dropped client.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.RunNow(context.WithoutCancel(r.Context()), nil)
	switch {
	case errors.Is(err, signin.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, reply{Message: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, reply{Message: err.Error()})
	case out.Skipped != signin.SkipNone:
		writeJSON(w, http.StatusOK, reply{Success: true, Message: string(out.Skipped)})
	default:
		writeJSON(w, http.StatusOK, reply{Success: true, Message: signin.SummaryText(out)})
	}
}

type historyReply struct {
	Day     string               `json:"day"`
	Entries []signin.StatusEntry `json:"entries"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.svc.History(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, reply{Message: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, historyReply{Entries: []signin.StatusEntry{}})
		return
	}
	writeJSON(w, http.StatusOK, historyReply{Day: rec.Day, Entries: rec.Entries})
}

type scheduleItem struct {
	Name string     `json:"name"`
	Spec string     `json:"spec"`
	Next *time.Time `json:"next,omitempty"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	snap := s.svc.Schedules()
	items := make([]scheduleItem, 0, len(snap.Schedules))
	for _, it := range snap.Schedules {
		item := scheduleItem{Name: it.Name, Spec: it.Spec}
		if !it.Next.IsZero() {
			next := it.Next
			item.Next = &next
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timezone":  snap.Timezone,
		"running":   snap.Running,
		"schedules": items,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
