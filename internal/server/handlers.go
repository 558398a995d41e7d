package server

import (
	"context"
	"errors"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/server/perf"
	"github.com/openjproxy/ojp/internal/server/session"
	"github.com/openjproxy/ojp/internal/wire"
)

// echo stamps this node as the handling server on a response session.
func (s *Server) echo(info wire.SessionInfo) wire.SessionInfo {
	info.TargetServer = s.key
	return info
}

func (s *Server) fail(err error) error {
	return wire.ToStatusError(err)
}

// resolve routes a request to its session and bumps activity.
func (s *Server) resolve(info *wire.SessionInfo) (*session.Session, error) {
	sess, err := s.sessions.GetSession(info.SessionUUID)
	if err != nil {
		return nil, err
	}
	s.sessions.UpdateActivity(sess.ID)
	return sess, nil
}

func isProbe(req *wire.ConnectionDetails) bool {
	return req.URL == "probe" || req.Properties["ojp.probe"] == "true"
}

// Connect establishes or rejoins a logical session. Health probes create a
// session without a backend connection so a probe never burns a pool slot.
func (s *Server) Connect(ctx context.Context, req *wire.ConnectionDetails) (*wire.SessionInfo, error) {
	if req.Session.SessionUUID != "" {
		// Rejoin: the session must still be live on this node.
		sess, err := s.resolve(&req.Session)
		if err != nil {
			return nil, s.fail(err)
		}
		info := s.echo(req.Session)
		info.SessionUUID = sess.ID
		return &info, nil
	}

	clientUUID := req.Session.ClientUUID
	if clientUUID == "" {
		clientUUID = uuid.NewString()
	}
	connHash := req.Session.ConnHash
	if connHash == "" {
		connHash = connectionHash(req, clientUUID)
	}
	s.sessions.RegisterClientUUID(connHash, clientUUID)

	var backend ports.BackendSession
	if !isProbe(req) {
		var err error
		backend, err = s.driver.Open(ctx, req.URL)
		if err != nil {
			return nil, s.fail(domain.WrapError(domain.KindSQLError, "backend open failed", err))
		}
	}

	sess := s.sessions.CreateSession(clientUUID, connHash, req.Session.IsXA, backend)

	info := s.echo(wire.SessionInfo{
		SessionUUID: sess.ID,
		ConnHash:    connHash,
		ClientUUID:  clientUUID,
		IsXA:        req.Session.IsXA,
	})
	return &info, nil
}

func connectionHash(req *wire.ConnectionDetails, clientUUID string) string {
	h := xxhash.New()
	_, _ = h.WriteString(req.URL)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(req.User)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(clientUUID)
	return uuid.NewMD5(uuid.NameSpaceOID, h.Sum(nil)).String()
}

func parameterValues(params []wire.Parameter) []any {
	if len(params) == 0 {
		return nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = p.Value
	}
	return out
}

func (s *Server) ExecuteUpdate(ctx context.Context, req *wire.StatementRequest) (*wire.UpdateResult, error) {
	sess, err := s.resolve(&req.Session)
	if err != nil {
		return nil, s.fail(err)
	}

	hash := perf.HashQuery(req.SQL)
	var affected int64
	err = s.gate.Execute(hash, func() error {
		var execErr error
		affected, execErr = sess.Backend().ExecuteUpdate(ctx, req.SQL, parameterValues(req.Parameters))
		return execErr
	})
	if err != nil {
		return nil, s.fail(asSQLError(err))
	}

	return &wire.UpdateResult{
		Session:      s.echo(req.Session),
		RowsAffected: affected,
	}, nil
}

// ExecuteQuery streams the result set in row blocks. The slot is held for
// the backend execution only; streaming rows back is plain IO and does not
// occupy an execution slot.
func (s *Server) ExecuteQuery(req *wire.StatementRequest, stream wire.RowBlockSender) error {
	sess, err := s.resolve(&req.Session)
	if err != nil {
		return s.fail(err)
	}

	hash := perf.HashQuery(req.SQL)
	var cursor ports.RowCursor
	err = s.gate.Execute(hash, func() error {
		var queryErr error
		cursor, queryErr = sess.Backend().ExecuteQuery(stream.Context(), req.SQL, parameterValues(req.Parameters))
		return queryErr
	})
	if err != nil {
		return s.fail(asSQLError(err))
	}

	fetchSize := req.FetchSize
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}

	resultSetUUID := uuid.NewString()
	columns := cursor.Columns()
	sent := 0

	for {
		rows, more, err := cursor.Next(fetchSize)
		if err != nil {
			_ = cursor.Close()
			return s.fail(asSQLError(err))
		}
		sent += len(rows)

		// MaxRows caps the stream; the cursor parks in the session for
		// FetchNextRows to continue.
		truncated := req.MaxRows > 0 && sent >= req.MaxRows && more

		block := &wire.RowBlock{
			Session:       s.echo(req.Session),
			ResultSetUUID: resultSetUUID,
			Columns:       columns,
			Rows:          rows,
			Last:          !more && !truncated,
		}
		if err := stream.Send(block); err != nil {
			_ = cursor.Close()
			return err
		}

		if truncated {
			sess.AddCursor(resultSetUUID, cursor)
			return nil
		}
		if !more {
			_ = cursor.Close()
			return nil
		}
	}
}

func (s *Server) FetchNextRows(ctx context.Context, req *wire.FetchRequest) (*wire.RowBlock, error) {
	sess, err := s.resolve(&req.Session)
	if err != nil {
		return nil, s.fail(err)
	}

	cursor, ok := sess.Cursor(req.ResultSetUUID)
	if !ok {
		return nil, s.fail(domain.NewErrorf(domain.KindSQLError,
			"unknown result set %s", req.ResultSetUUID))
	}

	maxRows := req.MaxRows
	if maxRows <= 0 {
		maxRows = defaultFetchSize
	}

	rows, more, err := cursor.Next(maxRows)
	if err != nil {
		sess.CloseCursor(req.ResultSetUUID)
		return nil, s.fail(asSQLError(err))
	}
	if !more {
		sess.CloseCursor(req.ResultSetUUID)
	}

	return &wire.RowBlock{
		Session:       s.echo(req.Session),
		ResultSetUUID: req.ResultSetUUID,
		Columns:       cursor.Columns(),
		Rows:          rows,
		Last:          !more,
	}, nil
}

func (s *Server) CreateLob(ctx context.Context, req *wire.LobRequest) (*wire.LobRef, error) {
	sess, err := s.resolve(&req.Session)
	if err != nil {
		return nil, s.fail(err)
	}

	var lob *session.Lob
	if req.LobUUID != "" {
		existing, ok := sess.Lob(req.LobUUID)
		if !ok {
			return nil, s.fail(domain.NewErrorf(domain.KindSQLError, "unknown lob %s", req.LobUUID))
		}
		lob = existing
	} else {
		lob = &session.Lob{UUID: uuid.NewString(), Kind: req.Kind}
		sess.AddLob(lob)
	}

	length := lob.WriteAt(req.Offset, req.Data)
	return &wire.LobRef{
		Session: s.echo(req.Session),
		LobUUID: lob.UUID,
		Length:  length,
	}, nil
}

func (s *Server) ReadLob(req *wire.LobReadRequest, stream wire.LobChunkSender) error {
	sess, err := s.resolve(&req.Session)
	if err != nil {
		return s.fail(err)
	}

	lob, ok := sess.Lob(req.LobUUID)
	if !ok {
		return s.fail(domain.NewErrorf(domain.KindSQLError, "unknown lob %s", req.LobUUID))
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultLobChunkSize
	}

	offset := req.Offset
	remaining := req.Length
	for {
		max := chunkSize
		if remaining > 0 && int64(max) > remaining {
			max = int(remaining)
		}
		data, last := lob.ReadAt(offset, max)
		if remaining > 0 {
			remaining -= int64(len(data))
			if remaining <= 0 {
				last = true
			}
		}

		chunk := &wire.LobChunk{
			Session: s.echo(req.Session),
			Offset:  offset,
			Data:    data,
			Last:    last,
		}
		if err := stream.Send(chunk); err != nil {
			return err
		}
		if last {
			return nil
		}
		offset += int64(len(data))
	}
}

func (s *Server) StartTransaction(ctx context.Context, req *wire.TransactionRequest) (*wire.Ack, error) {
	return s.transaction(ctx, req, ports.BackendSession.Begin)
}

func (s *Server) CommitTransaction(ctx context.Context, req *wire.TransactionRequest) (*wire.Ack, error) {
	return s.transaction(ctx, req, ports.BackendSession.Commit)
}

func (s *Server) RollbackTransaction(ctx context.Context, req *wire.TransactionRequest) (*wire.Ack, error) {
	return s.transaction(ctx, req, ports.BackendSession.Rollback)
}

func (s *Server) transaction(
	ctx context.Context,
	req *wire.TransactionRequest,
	op func(ports.BackendSession, context.Context) error,
) (*wire.Ack, error) {
	sess, err := s.resolve(&req.Session)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := op(sess.Backend(), ctx); err != nil {
		return nil, s.fail(asSQLError(err))
	}
	return &wire.Ack{Session: s.echo(req.Session)}, nil
}

func (s *Server) TerminateSession(ctx context.Context, req *wire.SessionTerminationRequest) (*wire.Ack, error) {
	if err := s.sessions.TerminateSession(req.Session.SessionUUID); err != nil {
		s.logger.Warn("Session termination released resources with errors",
			"session_id", req.Session.SessionUUID,
			"error", err)
	}
	return &wire.Ack{Session: s.echo(req.Session)}, nil
}

// asSQLError wraps raw backend errors as SQL failures; typed errors pass
// through untouched.
func asSQLError(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return err
	}
	return domain.WrapError(domain.KindSQLError, err.Error(), err)
}
