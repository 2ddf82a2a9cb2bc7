// Package admin serves the HTTP admin API: job inspection and control,
// Prometheus metrics and optional profiling.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "greensched/internal/runtime/supervisor"
	logx "greensched/pkg/logx"
)

var errBadLimit = errors.New("limit must be a non-negative integer")

const defaultAddr = "127.0.0.1:8089"

// Config controls the admin server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - Binding to a non-loopback address requires Token.
type Config struct {
	Enabled bool
	Addr    string
	Token   string
	Pprof   bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return defaultAddr
}

// Server runs Router under a supervised restart loop and can be
// reconfigured during hot-reload.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	deps Deps

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	deps.Log = deps.Log.With(logx.String("comp", "admin"))
	return &Server{cfg: cfg, deps: deps, log: deps.Log}
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, starting, stopping or restarting the server as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent and a no-op when disabled.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// The admin API is optional; a failure never stops the scheduler.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("admin.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the server down gracefully within ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	_ = sup.Wait(ctx)
	s.log.Info("admin server stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := cfg.addr()
	if strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		s.log.Error("admin server refused to start: non-loopback addr requires a token", logx.String("addr", addr))
		return errors.New("admin: insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           Router(cfg, s.deps),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.srv == srv {
			s.ln, s.srv = nil, nil
		}
		s.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("admin server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
