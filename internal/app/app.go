// Package app assembles one proxy node from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openjproxy/ojp/internal/adapter/backend"
	"github.com/openjproxy/ojp/internal/config"
	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/internal/server"
	"github.com/openjproxy/ojp/internal/server/session"
	"github.com/openjproxy/ojp/internal/server/xa"
)

// Application is one running proxy node.
type Application struct {
	config  *config.Config
	server  *server.Server
	store   ports.PreparedStore
	logger  *logger.StyledLogger
}

// New builds the node: backend driver, prepared store, server core.
func New(cfg *config.Config, backends *backend.Registry, log *logger.StyledLogger) (*Application, error) {
	driver, err := backends.Get(cfg.Server.Backend.Driver)
	if err != nil {
		return nil, err
	}

	var store ports.PreparedStore
	if cfg.XA.Enabled {
		store, err = buildPreparedStore(cfg.XA.PreparedStore)
		if err != nil {
			return nil, err
		}
	}

	srv, err := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,

		Sessions: session.Config{
			CleanupEnabled:  cfg.Sessions.CleanupEnabled,
			SessionTimeout:  time.Duration(cfg.Sessions.TimeoutMinutes) * time.Minute,
			CleanupInterval: time.Duration(cfg.Sessions.IntervalMinutes) * time.Minute,
		},

		SlotsEnabled:    cfg.Slots.Segregation.Enabled,
		TotalSlots:      cfg.Slots.Pool.Maximum,
		SlowPercentage:  cfg.Slots.Segregation.SlowPercentage,
		SlotIdleTimeout: cfg.Slots.Segregation.IdleTimeout,
		SlowWait:        cfg.Slots.Segregation.SlowTimeout,
		FastWait:        cfg.Slots.Segregation.FastTimeout,
		PerfInterval:    cfg.Slots.Segregation.UpdateGlobalAvgInterval,

		XAEnabled:        cfg.XA.Enabled,
		XADSN:            cfg.Server.Backend.DSN,
		XAPoolMax:        cfg.XA.Pool.MaxTotal,
		XAPoolMaxWait:    cfg.XA.Pool.MaxWait,
		XAStore:          store,
		XADefaultTimeout: cfg.XA.DefaultTimeout,
	}, driver, log)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	return &Application{
		config: cfg,
		server: srv,
		store:  store,
		logger: log,
	}, nil
}

func buildPreparedStore(cfg config.PreparedStoreConfig) (ports.PreparedStore, error) {
	switch cfg.Type {
	case "", "file":
		return xa.NewFileStore(xa.FileStoreOptions{
			Path:     cfg.Path,
			Fsync:    cfg.Fsync,
			Checksum: cfg.Checksum,
		})
	case "memory":
		return xa.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("app: unsupported prepared store type %q", cfg.Type)
	}
}

// Start brings the gRPC listener up.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("Starting proxy server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"backend", a.config.Server.Backend.Driver,
		"xa", a.config.XA.Enabled)
	return a.server.Start(ctx)
}

// Stop drains the server and closes the prepared store.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	err := a.server.Stop(shutdownCtx)
	if a.store != nil {
		if closeErr := a.store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
