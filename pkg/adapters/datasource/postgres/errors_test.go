package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Kind
	}{
		{"statement timeout", &pgconn.PgError{Code: "57014"}, apperrors.KindTimeout},
		{"connection exception", &pgconn.PgError{Code: "08006"}, apperrors.KindConnectionFailure},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, apperrors.KindConnectionFailure},
		{"too many connections", fmt.Errorf("begin: %w", &pgconn.PgError{Code: "53300"}), apperrors.KindConnectionFailure},
		{"read only transaction", &pgconn.PgError{Code: "25006"}, apperrors.KindDatabaseConstraint},
		{"division by zero", &pgconn.PgError{Code: "22012"}, apperrors.KindDatabaseConstraint},
		{"undefined column", &pgconn.PgError{Code: "42703"}, apperrors.KindDatabaseConstraint},
		{"driver deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), apperrors.KindTimeout},
		{"transport", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), apperrors.KindConnectionFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(context.Background(), tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
			assert.NotContains(t, got.Error(), "10.0.0.1", "summaries never carry driver text")
		})
	}
}

func TestClassifyError_CallerCancellationWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := ClassifyError(ctx, &pgconn.PgError{Code: "57014"})
	assert.Equal(t, apperrors.KindCanceled, got.Kind)
}
