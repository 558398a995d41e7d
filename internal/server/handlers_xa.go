package server

import (
	"context"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/wire"
)

func toXid(w wire.WireXid) domain.Xid {
	return domain.Xid{
		FormatID:        w.FormatID,
		GlobalTxnID:     w.GlobalTxnID,
		BranchQualifier: w.BranchQualifier,
	}
}

func toWireXid(x domain.Xid) wire.WireXid {
	return wire.WireXid{
		FormatID:        x.FormatID,
		GlobalTxnID:     x.GlobalTxnID,
		BranchQualifier: x.BranchQualifier,
	}
}

// xaGuard rejects XA traffic when the registry is disabled and bumps the
// owning session's activity when one is named.
func (s *Server) xaGuard(info *wire.SessionInfo) error {
	if s.xa == nil {
		return domain.NewError(domain.KindRMError, "xa is not enabled on this server")
	}
	if info.SessionUUID != "" {
		s.sessions.UpdateActivity(info.SessionUUID)
	}
	return nil
}

func (s *Server) XAStart(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	if err := s.xa.Start(ctx, toXid(req.Xid), req.Flags); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session)}, nil
}

func (s *Server) XAEnd(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	if err := s.xa.End(ctx, toXid(req.Xid), req.Flags); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session)}, nil
}

func (s *Server) XAPrepare(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	rc, err := s.xa.Prepare(ctx, toXid(req.Xid))
	if err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session), ReturnCode: rc}, nil
}

func (s *Server) XACommit(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	if err := s.xa.Commit(ctx, toXid(req.Xid), req.OnePhase); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session)}, nil
}

func (s *Server) XARollback(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	if err := s.xa.Rollback(ctx, toXid(req.Xid)); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session)}, nil
}

func (s *Server) XARecover(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	xids, err := s.xa.Recover(ctx, req.Flags)
	if err != nil {
		return nil, s.fail(err)
	}
	out := make([]wire.WireXid, 0, len(xids))
	for _, xid := range xids {
		out = append(out, toWireXid(xid))
	}
	return &wire.XAResponse{Session: s.echo(req.Session), Xids: out}, nil
}

func (s *Server) XAForget(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	if err := s.xa.Forget(ctx, toXid(req.Xid)); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session)}, nil
}

func (s *Server) XASetTransactionTimeout(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	if err := s.xa.SetTransactionTimeout(req.TimeoutSeconds); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session), TimeoutSeconds: req.TimeoutSeconds}, nil
}

func (s *Server) XAGetTransactionTimeout(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{
		Session:        s.echo(req.Session),
		TimeoutSeconds: s.xa.GetTransactionTimeout(),
	}, nil
}

// XAIsSameRM: every session on one proxy node fronting one datasource is
// the same resource manager.
func (s *Server) XAIsSameRM(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	if err := s.xaGuard(&req.Session); err != nil {
		return nil, s.fail(err)
	}
	return &wire.XAResponse{Session: s.echo(req.Session), SameRM: true}, nil
}
