package wire

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openjproxy/ojp/internal/core/domain"
)

// Typed errors cross the wire as a gRPC status whose message is the JSON
// encoding of domain.Error. Transport-level failures (Unavailable,
// DeadlineExceeded, Cancelled) never carry a payload; those are classified
// by the failure handler on the client side.

func kindToCode(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindSQLError, domain.KindSQLDataError:
		return codes.InvalidArgument
	case domain.KindProtocolError, domain.KindSessionLost:
		return codes.FailedPrecondition
	case domain.KindNotATA:
		return codes.NotFound
	case domain.KindPoolExhausted, domain.KindSlotTimeout:
		return codes.ResourceExhausted
	case domain.KindConnectionError, domain.KindNoHealthyServer:
		return codes.Unavailable
	case domain.KindRMError, domain.KindRMFail:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToStatusError converts a server-side error into a status error carrying
// the typed payload. Non-typed errors travel as Unknown.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		return status.Error(codes.Unknown, err.Error())
	}
	payload, mErr := json.Marshal(de)
	if mErr != nil {
		return status.Error(kindToCode(de.Kind), de.Message)
	}
	return status.Error(kindToCode(de.Kind), string(payload))
}

// FromStatusError recovers the typed error from a status error. Transport
// failures and unrecognised statuses are returned unchanged for the failure
// handler to classify.
func FromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var de domain.Error
	if jErr := json.Unmarshal([]byte(st.Message()), &de); jErr == nil && de.Kind != "" {
		return &de
	}
	return err
}
