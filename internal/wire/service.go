package wire

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "ojp.v1.ProxyService"

// Full method names as seen on the wire.
const (
	MethodConnect             = "/" + ServiceName + "/Connect"
	MethodExecuteUpdate       = "/" + ServiceName + "/ExecuteUpdate"
	MethodExecuteQuery        = "/" + ServiceName + "/ExecuteQuery"
	MethodFetchNextRows       = "/" + ServiceName + "/FetchNextRows"
	MethodCreateLob           = "/" + ServiceName + "/CreateLob"
	MethodReadLob             = "/" + ServiceName + "/ReadLob"
	MethodStartTransaction    = "/" + ServiceName + "/StartTransaction"
	MethodCommitTransaction   = "/" + ServiceName + "/CommitTransaction"
	MethodRollbackTransaction = "/" + ServiceName + "/RollbackTransaction"
	MethodXAStart             = "/" + ServiceName + "/XAStart"
	MethodXAEnd               = "/" + ServiceName + "/XAEnd"
	MethodXAPrepare           = "/" + ServiceName + "/XAPrepare"
	MethodXACommit            = "/" + ServiceName + "/XACommit"
	MethodXARollback          = "/" + ServiceName + "/XARollback"
	MethodXARecover           = "/" + ServiceName + "/XARecover"
	MethodXAForget            = "/" + ServiceName + "/XAForget"
	MethodXASetTxTimeout      = "/" + ServiceName + "/XASetTransactionTimeout"
	MethodXAGetTxTimeout      = "/" + ServiceName + "/XAGetTransactionTimeout"
	MethodXAIsSameRM          = "/" + ServiceName + "/XAIsSameRM"
	MethodTerminateSession    = "/" + ServiceName + "/TerminateSession"
)

// ProxyServer is the handler surface the server core implements. The service
// descriptor below is maintained by hand; there is no generated code.
type ProxyServer interface {
	Connect(ctx context.Context, req *ConnectionDetails) (*SessionInfo, error)
	ExecuteUpdate(ctx context.Context, req *StatementRequest) (*UpdateResult, error)
	ExecuteQuery(req *StatementRequest, stream RowBlockSender) error
	FetchNextRows(ctx context.Context, req *FetchRequest) (*RowBlock, error)
	CreateLob(ctx context.Context, req *LobRequest) (*LobRef, error)
	ReadLob(req *LobReadRequest, stream LobChunkSender) error
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

// RowBlockSender is the server side of the ExecuteQuery stream.
type RowBlockSender interface {
	Send(*RowBlock) error
	Context() context.Context
}

// LobChunkSender is the server side of the ReadLob stream.
type LobChunkSender interface {
	Send(*LobChunk) error
	Context() context.Context
}

type rowBlockSender struct {
	grpc.ServerStream
}

func (s *rowBlockSender) Send(b *RowBlock) error { return s.ServerStream.SendMsg(b) }

type lobChunkSender struct {
	grpc.ServerStream
}

func (s *lobChunkSender) Send(c *LobChunk) error { return s.ServerStream.SendMsg(c) }

// RegisterProxyServer attaches the service to a gRPC server.
func RegisterProxyServer(s grpc.ServiceRegistrar, srv ProxyServer) {
	s.RegisterService(&ProxyServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(srv ProxyServer, ctx context.Context, req *Req) (*Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ProxyServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ProxyServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func executeQueryStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(StatementRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ProxyServer).ExecuteQuery(in, &rowBlockSender{stream})
}

func readLobStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(LobReadRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ProxyServer).ReadLob(in, &lobChunkSender{stream})
}

// ProxyServiceDesc is the hand-maintained gRPC service descriptor.
var ProxyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProxyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Connect", Handler: unaryHandler(MethodConnect,
			func(srv ProxyServer, ctx context.Context, req *ConnectionDetails) (*SessionInfo, error) {
				return srv.Connect(ctx, req)
			})},
		{MethodName: "ExecuteUpdate", Handler: unaryHandler(MethodExecuteUpdate,
			func(srv ProxyServer, ctx context.Context, req *StatementRequest) (*UpdateResult, error) {
				return srv.ExecuteUpdate(ctx, req)
			})},
		{MethodName: "FetchNextRows", Handler: unaryHandler(MethodFetchNextRows,
			func(srv ProxyServer, ctx context.Context, req *FetchRequest) (*RowBlock, error) {
				return srv.FetchNextRows(ctx, req)
			})},
		{MethodName: "CreateLob", Handler: unaryHandler(MethodCreateLob,
			func(srv ProxyServer, ctx context.Context, req *LobRequest) (*LobRef, error) {
				return srv.CreateLob(ctx, req)
			})},
		{MethodName: "StartTransaction", Handler: unaryHandler(MethodStartTransaction,
			func(srv ProxyServer, ctx context.Context, req *TransactionRequest) (*Ack, error) {
				return srv.StartTransaction(ctx, req)
			})},
		{MethodName: "CommitTransaction", Handler: unaryHandler(MethodCommitTransaction,
			func(srv ProxyServer, ctx context.Context, req *TransactionRequest) (*Ack, error) {
				return srv.CommitTransaction(ctx, req)
			})},
		{MethodName: "RollbackTransaction", Handler: unaryHandler(MethodRollbackTransaction,
			func(srv ProxyServer, ctx context.Context, req *TransactionRequest) (*Ack, error) {
				return srv.RollbackTransaction(ctx, req)
			})},
		{MethodName: "XAStart", Handler: unaryHandler(MethodXAStart,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XAStart(ctx, req)
			})},
		{MethodName: "XAEnd", Handler: unaryHandler(MethodXAEnd,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XAEnd(ctx, req)
			})},
		{MethodName: "XAPrepare", Handler: unaryHandler(MethodXAPrepare,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XAPrepare(ctx, req)
			})},
		{MethodName: "XACommit", Handler: unaryHandler(MethodXACommit,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XACommit(ctx, req)
			})},
		{MethodName: "XARollback", Handler: unaryHandler(MethodXARollback,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XARollback(ctx, req)
			})},
		{MethodName: "XARecover", Handler: unaryHandler(MethodXARecover,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XARecover(ctx, req)
			})},
		{MethodName: "XAForget", Handler: unaryHandler(MethodXAForget,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XAForget(ctx, req)
			})},
		{MethodName: "XASetTransactionTimeout", Handler: unaryHandler(MethodXASetTxTimeout,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XASetTransactionTimeout(ctx, req)
			})},
		{MethodName: "XAGetTransactionTimeout", Handler: unaryHandler(MethodXAGetTxTimeout,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XAGetTransactionTimeout(ctx, req)
			})},
		{MethodName: "XAIsSameRM", Handler: unaryHandler(MethodXAIsSameRM,
			func(srv ProxyServer, ctx context.Context, req *XARequest) (*XAResponse, error) {
				return srv.XAIsSameRM(ctx, req)
			})},
		{MethodName: "TerminateSession", Handler: unaryHandler(MethodTerminateSession,
			func(srv ProxyServer, ctx context.Context, req *SessionTerminationRequest) (*Ack, error) {
				return srv.TerminateSession(ctx, req)
			})},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ExecuteQuery",
			Handler:       executeQueryStreamHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "ReadLob",
			Handler:       readLobStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ojp/v1/proxy_service",
}
