// Package failover reacts to endpoint failures and recoveries: it classifies
// errors, evicts state tied to a dead endpoint, and rebalances client
// connections when a node comes back.
package failover

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openjproxy/ojp/internal/core/domain"
)

// IsConnectionClass reports whether an RPC error indicts the transport to
// the endpoint. Database errors, pool exhaustion and session-invalidated
// errors are explicitly not connection-class and must never mark an
// endpoint unhealthy.
func IsConnectionClass(err error) bool {
	if err == nil {
		return false
	}

	// Typed errors decoded from the wire carry their own verdict.
	switch domain.KindOf(err) {
	case domain.KindConnectionError:
		return true
	case "":
		// fall through to transport inspection
	default:
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return true
		case codes.Unknown:
			return strings.Contains(strings.ToLower(st.Message()), "connection")
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "connection")
}
