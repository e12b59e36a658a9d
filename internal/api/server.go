package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"outagebot/internal/ingest"
	"outagebot/internal/schedule"
	"outagebot/internal/storage"
	logx "outagebot/pkg/logx"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Cycles exposes the last ingestion cycle.
type Cycles interface {
	Last() (ingest.Report, bool)
}

// Timer exposes the scheduler state.
type Timer interface {
	Next() time.Time
	Running() bool
}

type Config struct {
	Addr           string
	AllowedOrigins []string
}

type Server struct {
	cfg    Config
	store  storage.Schedules
	cycles Cycles
	timer  Timer
	log    logx.Logger

	srv *http.Server
}

func New(cfg Config, store storage.Schedules, cycles Cycles, timer Timer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, store: store, cycles: cycles, timer: timer, log: log.With(logx.String("comp", "api"))}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := corslib.New(corslib.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/schedules/{date}/{queue}", s.getSchedule)
		r.Get("/history", s.getHistory)
		r.Get("/cycle", s.getCycle)
	})
	return r
}

// ListenAndServe blocks until Shutdown; a clean shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("status api listening", logx.String("addr", ln.Addr().String()))
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
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
			logx.String("rid", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	queue := chi.URLParam(r, "queue")
	if !schedule.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	e, ok, err := s.store.Entry(r.Context(), date, queue)
	if err != nil {
		s.log.Warn("schedule read failed", logx.String("date", date), logx.String("queue", queue), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "schedule not available")
		return
	}
	if e.Windows == nil {
		e.Windows = schedule.Windows{}
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	recs, err := s.store.RecentHistory(r.Context(), limit)
	if err != nil {
		s.log.Warn("history read failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if recs == nil {
		recs = []schedule.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Server) getCycle(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"last": nil, "running": false, "next": nil}
	if s.cycles != nil {
		if rep, ok := s.cycles.Last(); ok {
			out["last"] = rep
		}
	}
	if s.timer != nil {
		out["running"] = s.timer.Running()
		if next := s.timer.Next(); !next.IsZero() {
			out["next"] = next.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
