// Package app assembles the relay from its parts.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kabletop-relay/internal/config"
	"github.com/DoyleJ11/kabletop-relay/internal/httpapi"
	"github.com/DoyleJ11/kabletop-relay/internal/lobby"
	"github.com/DoyleJ11/kabletop-relay/internal/logging"
	"github.com/DoyleJ11/kabletop-relay/internal/metrics"
	"github.com/DoyleJ11/kabletop-relay/internal/relay"
	"github.com/DoyleJ11/kabletop-relay/internal/ws"
)

// Module needs a config.Config supplied by the caller.
var Module = fx.Module("relay",
	fx.Provide(
		newLogger,
		newRegistry,
		newMetrics,
		newTransport,
		newLobby,
		newService,
		newServer,
	),
	fx.Invoke(func(*Server) {}),
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogDev)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics { return metrics.New(reg) }

func newTransport(cfg config.Config, log *zap.Logger) *ws.Server {
	return ws.NewServer(log.Named("ws"), ws.ServerOptions{
		Options: ws.Options{
			CallTimeout:  cfg.CallTimeout,
			PingInterval: cfg.PingInterval,
			ReadLimit:    cfg.ReadLimit,
		},
		MaxSessions: cfg.MaxSessions,
	})
}

func newLobby(log *zap.Logger, m *metrics.Metrics) *lobby.Lobby {
	return lobby.NewLobby(context.Background(), log.Named("lobby"), m)
}

func newService(log *zap.Logger, lb *lobby.Lobby, t *ws.Server, m *metrics.Metrics) *relay.Service {
	return relay.New(log.Named("relay"), lb, t, m)
}

// Server is the running relay: the HTTP listener plus everything behind it.
type Server struct {
	cfg       config.Config
	log       *zap.Logger
	transport *ws.Server
	svc       *relay.Service
	lobby     *lobby.Lobby
	http      *http.Server

	mu   sync.Mutex
	addr net.Addr
}

func newServer(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, t *ws.Server, lb *lobby.Lobby, svc *relay.Service, reg *prometheus.Registry) *Server {
	svc.Register(t)
	t.OnSessionChange(svc.OnSessionChange)

	s := &Server{
		cfg:       cfg,
		log:       log,
		transport: t,
		svc:       svc,
		lobby:     lb,
		http: &http.Server{
			Handler:           httpapi.SetupRoutes(t, lb, t, reg),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	lc.Append(fx.Hook{OnStart: s.Start, OnStop: s.Stop})
	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()

	s.log.Info("relay server started",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("max_sessions", s.cfg.MaxSessions),
		zap.Strings("methods", s.transport.Methods()))
	return nil
}

// Stop drains in order: no new sessions, close live ones, finish the
// partner notifications they trigger, then stop the lobby.
func (s *Server) Stop(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	err = multierr.Append(err, s.transport.Close())
	s.svc.Wait()
	s.lobby.Stop()
	s.log.Info("relay server stopped")
	_ = s.log.Sync()
	return err
}

// Addr is the bound listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
