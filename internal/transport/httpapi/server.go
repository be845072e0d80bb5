// Package httpapi exposes the dispatcher and the secret vault over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"squire/internal/dispatch"
	"squire/internal/secrets"
	logx "squire/pkg/logx"
)

type Config struct {
	Addr       string
	Token      string
	RatePerSec int
	// Pprof mounts net/http/pprof under /debug behind the token. Read once by New.
	Pprof bool
}

// Handler is the dispatcher side of the API.
type Handler interface {
	Handle(ctx context.Context, req dispatch.Request) dispatch.Reply
}

// Redeemer hands out a stored secret exactly once.
type Redeemer interface {
	Take(id string) (secrets.Secret, error)
}

type Server struct {
	log   logx.Logger
	disp  Handler
	vault Redeemer

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	router chi.Router
	srv    *http.Server
}

func New(cfg Config, disp Handler, vault Redeemer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{log: log, disp: disp, vault: vault}
	s.Apply(cfg)
	s.router = s.routes()
	return s
}

// Apply swaps the token and rate limit. The listen address is fixed at Start.
func (s *Server) Apply(cfg Config) {
	rps := max(1, cfg.RatePerSec)
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps*2)
	s.mu.Unlock()
}

func (s *Server) config() (Config, *rate.Limiter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.limiter
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.authenticate)
		r.Post("/offline-communicator", s.offlineCommunicator)
		r.Get("/secure-send", s.secureSend)
		if s.cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	cfg, _ := s.config()
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8090"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warn("http api forced to shutdown", logx.Err(err))
		}
		<-errCh
		s.log.Info("http api stopped")
		return nil
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.String("remote", r.RemoteAddr),
			logx.String("request_id", middleware.GetReqID(r.Context())),
			logx.Duration("dur", time.Since(start)),
		}
		if ww.Status() >= 500 {
			s.log.Warn("http request failed", fields...)
			return
		}
		s.log.Debug("http request", fields...)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, lim := s.config()
		if lim != nil && !lim.Allow() {
			writeDetail(w, http.StatusTooManyRequests, "Too many requests.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate requires "Authorization: Bearer <token>" when a token is set.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg, _ := s.config()
		if cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(cfg.Token)) != 1 {
			writeDetail(w, http.StatusUnauthorized, "Request not authorized.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
