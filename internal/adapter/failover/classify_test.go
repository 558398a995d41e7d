package failover

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openjproxy/ojp/internal/core/domain"
)

func TestIsConnectionClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "transport closing"), true},
		{"deadline exceeded", status.Error(codes.DeadlineExceeded, "deadline exceeded"), true},
		{"cancelled", status.Error(codes.Canceled, "context cancelled"), true},
		{"unknown with connection hint", status.Error(codes.Unknown, "lost Connection to peer"), true},
		{"unknown without hint", status.Error(codes.Unknown, "boom"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "syntax error"), false},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "pool exhausted"), false},
		{"context deadline", context.DeadlineExceeded, true},
		{"context cancelled", context.Canceled, true},
		{"typed connection error", domain.NewError(domain.KindConnectionError, "gone"), true},
		{"typed sql error", domain.NewError(domain.KindSQLError, "constraint violation"), false},
		{"typed sql data error", domain.NewError(domain.KindSQLDataError, "bad value"), false},
		{"typed session lost", domain.NewError(domain.KindSessionLost, "session invalidated"), false},
		{"typed pool exhausted", domain.NewError(domain.KindPoolExhausted, "no slots"), false},
		{"typed rm fail", domain.NewError(domain.KindRMFail, "backend connectivity lost"), false},
		{"plain error with hint", errors.New("connection reset by peer"), true},
		{"plain error", errors.New("some failure"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionClass(tt.err))
		})
	}
}
