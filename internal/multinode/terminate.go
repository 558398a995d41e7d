package multinode

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/wire"
)

// TerminateSession tears a logical session down. A bound session terminates
// on its endpoint only; an unbound session with a known connection hash
// fans out to every endpoint that ever accepted connect() for it, so no
// server leaks resources. Tracker state is cleaned up on every path.
func (m *Manager) TerminateSession(ctx context.Context, req *wire.SessionTerminationRequest) (*wire.Ack, error) {
	sessionID := req.Session.SessionUUID
	connHash := req.Session.ConnHash

	defer func() {
		if sessionID != "" {
			m.tracker.Unbind(sessionID)
		}
		if connHash != "" {
			m.tracker.ForgetConnection(connHash)
		}
	}()

	req.Session.ClusterHealth = domain.FormatClusterHealth(m.registry.GetAll())

	if sessionID != "" {
		if bound := m.tracker.Lookup(sessionID); bound != nil {
			return m.terminateOn(ctx, bound, req)
		}
	}

	if connHash != "" {
		endpoints := m.tracker.ConnectedEndpoints(connHash)
		if len(endpoints) == 0 {
			return &wire.Ack{Session: req.Session}, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, endpoint := range endpoints {
			g.Go(func() error {
				_, err := m.terminateOn(gctx, endpoint, req)
				// A dead endpoint has nothing left to clean up.
				if err != nil && domain.KindOf(err) == domain.KindConnectionError {
					return nil
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &wire.Ack{Session: req.Session}, nil
	}

	return &wire.Ack{Session: req.Session}, nil
}

func (m *Manager) terminateOn(ctx context.Context, endpoint *domain.Endpoint, req *wire.SessionTerminationRequest) (*wire.Ack, error) {
	if !endpoint.Healthy() {
		return nil, domain.NewErrorf(domain.KindConnectionError,
			"endpoint %s is unhealthy", endpoint.Key())
	}
	entry, err := m.channels.GetOrCreate(endpoint)
	if err != nil {
		return nil, err
	}
	ack, err := entry.Client.TerminateSession(ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	return ack, nil
}
