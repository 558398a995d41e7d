// Package server wires the gRPC surface onto the server core: session
// routing, slot-gated SQL execution and the XA registry.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/internal/server/perf"
	"github.com/openjproxy/ojp/internal/server/session"
	"github.com/openjproxy/ojp/internal/server/slots"
	"github.com/openjproxy/ojp/internal/server/xa"
	"github.com/openjproxy/ojp/internal/wire"
	"github.com/openjproxy/ojp/pkg/pool"
)

const (
	defaultFetchSize    = 100
	defaultLobChunkSize = 64 * 1024
)

type Config struct {
	Host string
	Port int
	TLS  *tls.Config

	Sessions session.Config

	SlotsEnabled   bool
	TotalSlots     int
	SlowPercentage int
	SlotIdleTimeout time.Duration
	SlowWait       time.Duration
	FastWait       time.Duration
	PerfInterval   time.Duration

	XAEnabled bool
	// XADSN is the backing database the XA pool opens sessions against.
	XADSN         string
	XAPoolMax     int
	XAPoolMaxWait time.Duration
	XAStore       ports.PreparedStore
	XADefaultTimeout time.Duration
}

// Server is one proxy node. It implements wire.ProxyServer.
type Server struct {
	cfg      Config
	key      string // host:port echoed as target_server
	driver   ports.BackendDriver
	sessions *session.Manager
	perf     *perf.Monitor
	gate     *perf.Gate
	xa       *xa.Registry

	mu   sync.Mutex
	grpc *grpc.Server
	lis  net.Listener

	logger *logger.StyledLogger
}

// backendFactory adapts the driver to the bounded pool.
type backendFactory struct {
	driver ports.BackendDriver
	dsn    string
}

func (f *backendFactory) Create(ctx context.Context) (ports.BackendSession, error) {
	return f.driver.Open(ctx, f.dsn)
}

func (f *backendFactory) Destroy(s ports.BackendSession) {
	_ = s.Close()
}

func New(cfg Config, driver ports.BackendDriver, log *logger.StyledLogger) (*Server, error) {
	monitor := perf.NewMonitor(cfg.PerfInterval)
	scheduler := slots.NewScheduler(slots.Config{
		Enabled:        cfg.SlotsEnabled,
		TotalSlots:     cfg.TotalSlots,
		SlowPercentage: cfg.SlowPercentage,
		IdleTimeout:    cfg.SlotIdleTimeout,
	})
	gate := perf.NewGate(monitor, scheduler, perf.GateConfig{
		Enabled:  cfg.SlotsEnabled,
		SlowWait: cfg.SlowWait,
		FastWait: cfg.FastWait,
	})

	s := &Server{
		cfg:      cfg,
		key:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		driver:   driver,
		sessions: session.NewManager(cfg.Sessions, log),
		perf:     monitor,
		gate:     gate,
		logger:   log,
	}

	if cfg.XAEnabled {
		if cfg.XAStore == nil {
			return nil, fmt.Errorf("server: xa enabled without a prepared store")
		}
		backendPool := pool.NewBounded[ports.BackendSession](
			&backendFactory{driver: driver, dsn: cfg.XADSN},
			cfg.XAPoolMax,
			cfg.XAPoolMaxWait,
		)
		s.xa = xa.NewRegistry(xa.RegistryConfig{
			Store:          cfg.XAStore,
			Pool:           backendPool,
			DefaultTimeout: cfg.XADefaultTimeout,
		}, log)
	}

	return s, nil
}

// XARegistry exposes the registry for tests and recovery tooling.
func (s *Server) XARegistry() *xa.Registry { return s.xa }

// Sessions exposes the session manager for tests.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Start listens and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lis, err := net.Listen("tcp", s.key)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.key, err)
	}

	var opts []grpc.ServerOption
	if s.cfg.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.cfg.TLS)))
	}

	srv := grpc.NewServer(opts...)
	wire.RegisterProxyServer(srv, s)

	s.grpc = srv
	s.lis = lis
	s.sessions.StartCleanup(ctx)

	go func() {
		if err := srv.Serve(lis); err != nil {
			s.logger.Error("gRPC server stopped", "error", err)
		}
	}()

	s.logger.InfoWithEndpoint("Proxy server listening on", s.key,
		"xa", s.cfg.XAEnabled,
		"slots", s.cfg.SlotsEnabled)
	return nil
}

// Stop drains the server and tears sessions down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpc != nil {
		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpc.Stop()
		}
		s.grpc = nil
	}

	s.sessions.StopCleanup()
	for _, sess := range s.sessions.GetAllSessions() {
		_ = s.sessions.TerminateSession(sess.ID)
	}
	if s.xa != nil {
		s.xa.Close()
	}
	return nil
}
