package multinode

import (
	"context"
	"errors"
	"io"

	"github.com/openjproxy/ojp/internal/adapter/channel"
	"github.com/openjproxy/ojp/internal/wire"
)

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

type wireSession = wire.SessionInfo

// Probe credentials are deliberately minimal; the server recognises the
// probe marker and skips backend allocation where it can.
func probeConnectionDetails() *wire.ConnectionDetails {
	return &wire.ConnectionDetails{
		URL:        "probe",
		Properties: map[string]string{"ojp.probe": "true"},
	}
}

func terminationRequest(info *wire.SessionInfo) *wire.SessionTerminationRequest {
	return &wire.SessionTerminationRequest{Session: *info}
}

func decodeWireError(err error) error {
	return wire.FromStatusError(err)
}

// Connect establishes a logical session on a selected endpoint and binds
// the resulting session for stickiness.
func (m *Manager) Connect(ctx context.Context, req *wire.ConnectionDetails) (*wire.SessionInfo, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	resp, err := entry.Client.Connect(ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	m.bindFreshSession(entry, &req.Session, resp)
	return resp, nil
}

func (m *Manager) ExecuteUpdate(ctx context.Context, req *wire.StatementRequest) (*wire.UpdateResult, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	resp, err := entry.Client.ExecuteUpdate(ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	m.bindFreshSession(entry, &req.Session, &resp.Session)
	return resp, nil
}

// ExecuteQuery opens a server stream of row blocks. Stream errors observed
// during Recv are classified like unary failures.
func (m *Manager) ExecuteQuery(ctx context.Context, req *wire.StatementRequest) (wire.RowStream, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	stream, err := entry.Client.ExecuteQuery(ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	return &managedRowStream{inner: stream, manager: m, entry: entry}, nil
}

func (m *Manager) FetchNextRows(ctx context.Context, req *wire.FetchRequest) (*wire.RowBlock, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	resp, err := entry.Client.FetchNextRows(ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	return resp, nil
}

func (m *Manager) CreateLob(ctx context.Context, req *wire.LobRequest) (*wire.LobRef, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	resp, err := entry.Client.CreateLob(ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	return resp, nil
}

func (m *Manager) ReadLob(ctx context.Context, req *wire.LobReadRequest) (wire.LobStream, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	stream, err := entry.Client.ReadLob(ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	return &managedLobStream{inner: stream, manager: m, entry: entry}, nil
}

func (m *Manager) StartTransaction(ctx context.Context, req *wire.TransactionRequest) (*wire.Ack, error) {
	return m.transactionCall(ctx, req, wire.ProxyClient.StartTransaction)
}

func (m *Manager) CommitTransaction(ctx context.Context, req *wire.TransactionRequest) (*wire.Ack, error) {
	return m.transactionCall(ctx, req, wire.ProxyClient.CommitTransaction)
}

func (m *Manager) RollbackTransaction(ctx context.Context, req *wire.TransactionRequest) (*wire.Ack, error) {
	return m.transactionCall(ctx, req, wire.ProxyClient.RollbackTransaction)
}

func (m *Manager) transactionCall(
	ctx context.Context,
	req *wire.TransactionRequest,
	call func(wire.ProxyClient, context.Context, *wire.TransactionRequest) (*wire.Ack, error),
) (*wire.Ack, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	resp, err := call(entry.Client, ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	return resp, nil
}

func (m *Manager) XAStart(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XAStart)
}

func (m *Manager) XAEnd(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XAEnd)
}

func (m *Manager) XAPrepare(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XAPrepare)
}

func (m *Manager) XACommit(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XACommit)
}

func (m *Manager) XARollback(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XARollback)
}

func (m *Manager) XARecover(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XARecover)
}

func (m *Manager) XAForget(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XAForget)
}

func (m *Manager) XASetTransactionTimeout(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XASetTransactionTimeout)
}

func (m *Manager) XAGetTransactionTimeout(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XAGetTransactionTimeout)
}

func (m *Manager) XAIsSameRM(ctx context.Context, req *wire.XARequest) (*wire.XAResponse, error) {
	return m.xaCall(ctx, req, wire.ProxyClient.XAIsSameRM)
}

func (m *Manager) xaCall(
	ctx context.Context,
	req *wire.XARequest,
	call func(wire.ProxyClient, context.Context, *wire.XARequest) (*wire.XAResponse, error),
) (*wire.XAResponse, error) {
	entry, err := m.route(ctx, &req.Session)
	if err != nil {
		return nil, err
	}
	resp, err := call(entry.Client, ctx, req)
	if err != nil {
		return nil, m.afterError(entry, err)
	}
	m.bindFreshSession(entry, &req.Session, &resp.Session)
	return resp, nil
}

type managedRowStream struct {
	inner   wire.RowStream
	manager *Manager
	entry   *channel.Entry
}

func (s *managedRowStream) Recv() (*wire.RowBlock, error) {
	block, err := s.inner.Recv()
	if err != nil && !isEOF(err) {
		return nil, s.manager.afterError(s.entry, err)
	}
	return block, err
}

func (s *managedRowStream) Close() error {
	return s.inner.Close()
}

type managedLobStream struct {
	inner   wire.LobStream
	manager *Manager
	entry   *channel.Entry
}

func (s *managedLobStream) Recv() (*wire.LobChunk, error) {
	chunk, err := s.inner.Recv()
	if err != nil && !isEOF(err) {
		return nil, s.manager.afterError(s.entry, err)
	}
	return chunk, err
}

func (s *managedLobStream) Close() error {
	return s.inner.Close()
}
