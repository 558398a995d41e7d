package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ProxyClient is the client stub surface over one channel. The multinode
// façade holds one stub per endpoint and swaps it when the channel is
// recycled after a failure.
type ProxyClient interface {
	Connect(ctx context.Context, req *ConnectionDetails) (*SessionInfo, error)
	ExecuteUpdate(ctx context.Context, req *StatementRequest) (*UpdateResult, error)
	ExecuteQuery(ctx context.Context, req *StatementRequest) (RowStream, error)
	FetchNextRows(ctx context.Context, req *FetchRequest) (*RowBlock, error)
	CreateLob(ctx context.Context, req *LobRequest) (*LobRef, error)
	ReadLob(ctx context.Context, req *LobReadRequest) (LobStream, error)
	StartTransaction(ctx context.Context, req *TransactionRequest) (*Ack, error)
	CommitTransaction(ctx context.Context, req *TransactionRequest) (*Ack, error)
	RollbackTransaction(ctx context.Context, req *TransactionRequest) (*Ack, error)
	XAStart(ctx context.Context, req *XARequest) (*XAResponse, error)
	XAEnd(ctx context.Context, req *XARequest) (*XAResponse, error)
	XAPrepare(ctx context.Context, req *XARequest) (*XAResponse, error)
	XACommit(ctx context.Context, req *XARequest) (*XAResponse, error)
	XARollback(ctx context.Context, req *XARequest) (*XAResponse, error)
	XARecover(ctx context.Context, req *XARequest) (*XAResponse, error)
	XAForget(ctx context.Context, req *XARequest) (*XAResponse, error)
	XASetTransactionTimeout(ctx context.Context, req *XARequest) (*XAResponse, error)
	XAGetTransactionTimeout(ctx context.Context, req *XARequest) (*XAResponse, error)
	XAIsSameRM(ctx context.Context, req *XARequest) (*XAResponse, error)
	TerminateSession(ctx context.Context, req *SessionTerminationRequest) (*Ack, error)
}

// RowStream is the client side of the ExecuteQuery stream.
type RowStream interface {
	Recv() (*RowBlock, error)
	Close() error
}

// LobStream is the client side of the ReadLob stream.
type LobStream interface {
	Recv() (*LobChunk, error)
	Close() error
}

type proxyClient struct {
	cc grpc.ClientConnInterface
}

// NewProxyClient wraps a channel with the stub.
func NewProxyClient(cc grpc.ClientConnInterface) ProxyClient {
	return &proxyClient{cc: cc}
}

func invoke[Req any, Resp any](c *proxyClient, ctx context.Context, method string, req *Req) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, method, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *proxyClient) Connect(ctx context.Context, req *ConnectionDetails) (*SessionInfo, error) {
	return invoke[ConnectionDetails, SessionInfo](c, ctx, MethodConnect, req)
}

func (c *proxyClient) ExecuteUpdate(ctx context.Context, req *StatementRequest) (*UpdateResult, error) {
	return invoke[StatementRequest, UpdateResult](c, ctx, MethodExecuteUpdate, req)
}

func (c *proxyClient) ExecuteQuery(ctx context.Context, req *StatementRequest) (RowStream, error) {
	stream, err := c.cc.NewStream(ctx, &ProxyServiceDesc.Streams[0], MethodExecuteQuery, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &rowStream{stream}, nil
}

func (c *proxyClient) FetchNextRows(ctx context.Context, req *FetchRequest) (*RowBlock, error) {
	return invoke[FetchRequest, RowBlock](c, ctx, MethodFetchNextRows, req)
}

func (c *proxyClient) CreateLob(ctx context.Context, req *LobRequest) (*LobRef, error) {
	return invoke[LobRequest, LobRef](c, ctx, MethodCreateLob, req)
}

func (c *proxyClient) ReadLob(ctx context.Context, req *LobReadRequest) (LobStream, error) {
	stream, err := c.cc.NewStream(ctx, &ProxyServiceDesc.Streams[1], MethodReadLob, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &lobStream{stream}, nil
}

func (c *proxyClient) StartTransaction(ctx context.Context, req *TransactionRequest) (*Ack, error) {
	return invoke[TransactionRequest, Ack](c, ctx, MethodStartTransaction, req)
}

func (c *proxyClient) CommitTransaction(ctx context.Context, req *TransactionRequest) (*Ack, error) {
	return invoke[TransactionRequest, Ack](c, ctx, MethodCommitTransaction, req)
}

func (c *proxyClient) RollbackTransaction(ctx context.Context, req *TransactionRequest) (*Ack, error) {
	return invoke[TransactionRequest, Ack](c, ctx, MethodRollbackTransaction, req)
}

func (c *proxyClient) XAStart(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXAStart, req)
}

func (c *proxyClient) XAEnd(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXAEnd, req)
}

func (c *proxyClient) XAPrepare(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXAPrepare, req)
}

func (c *proxyClient) XACommit(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXACommit, req)
}

func (c *proxyClient) XARollback(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXARollback, req)
}

func (c *proxyClient) XARecover(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXARecover, req)
}

func (c *proxyClient) XAForget(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXAForget, req)
}

func (c *proxyClient) XASetTransactionTimeout(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXASetTxTimeout, req)
}

func (c *proxyClient) XAGetTransactionTimeout(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXAGetTxTimeout, req)
}

func (c *proxyClient) XAIsSameRM(ctx context.Context, req *XARequest) (*XAResponse, error) {
	return invoke[XARequest, XAResponse](c, ctx, MethodXAIsSameRM, req)
}

func (c *proxyClient) TerminateSession(ctx context.Context, req *SessionTerminationRequest) (*Ack, error) {
	return invoke[SessionTerminationRequest, Ack](c, ctx, MethodTerminateSession, req)
}

type rowStream struct {
	grpc.ClientStream
}

func (s *rowStream) Recv() (*RowBlock, error) {
	b := new(RowBlock)
	if err := s.ClientStream.RecvMsg(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *rowStream) Close() error {
	return s.ClientStream.CloseSend()
}

type lobStream struct {
	grpc.ClientStream
}

func (s *lobStream) Recv() (*LobChunk, error) {
	c := new(LobChunk)
	if err := s.ClientStream.RecvMsg(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *lobStream) Close() error {
	return s.ClientStream.CloseSend()
}
