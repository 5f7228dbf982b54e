package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/movpey/movpey/internal/config"
	"github.com/movpey/movpey/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server wraps the gateway with HTTP server functionality. The gateway
// can be replaced at runtime by Reload.
type Server struct {
	gateway    atomic.Pointer[Gateway]
	httpServer *http.Server
	config     *config.Config
	version    string
	startTime  time.Time
}

// NewServer creates a new edge server.
func NewServer(cfg *config.Config, version string) (*Server, error) {
	gw, err := New(cfg, version)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		version: version,
	}
	s.gateway.Store(gw)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      http.HandlerFunc(s.serveHTTP),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s, nil
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.gateway.Load().Handler().ServeHTTP(w, r)
}

// Gateway returns the gateway currently serving requests.
func (s *Server) Gateway() *Gateway {
	return s.gateway.Load()
}

// Reload builds a gateway from cfg and swaps it in. The previous gateway
// is closed once in-flight requests had time to finish. Listener settings
// only take effect on restart.
func (s *Server) Reload(cfg *config.Config) error {
	gw, err := New(cfg, s.version)
	if err != nil {
		logging.Error("Reload failed, keeping current configuration", zap.Error(err))
		return err
	}
	if cfg.Server != s.config.Server {
		logging.Warn("Server settings changed; restart to apply them")
	}

	old := s.gateway.Swap(gw)
	logging.Info("Edge pipeline swapped",
		zap.Bool("geo_enabled", cfg.Geo.Enabled),
		zap.Strings("allow_countries", cfg.Geo.AllowCountries),
	)

	grace := s.config.Server.WriteTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	time.AfterFunc(grace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := old.Close(ctx); err != nil {
			logging.Warn("Closing replaced gateway failed", zap.Error(err))
		}
	})
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Server.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.startTime = time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Starting edge server", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down gracefully...")
		return s.Shutdown(s.config.Server.ShutdownTimeout)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Error("HTTP server shutdown error", zap.Error(err))
		firstErr = err
	}
	if err := s.gateway.Load().Close(ctx); err != nil {
		logging.Error("Gateway close error", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	logging.Info("Server shutdown complete", zap.Duration("uptime", time.Since(s.startTime)))
	return firstErr
}
