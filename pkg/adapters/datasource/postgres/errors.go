package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

const sqlStateQueryCanceled = "57014"

// connectionStates are SQLSTATEs outside class 08 that mean the session is
// gone or could not be established.
var connectionStates = map[string]bool{
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// isConnectionState reports whether a SQLSTATE means the connection failed.
func isConnectionState(code string) bool {
	return strings.HasPrefix(code, "08") || connectionStates[code]
}

// ClassifyError maps a driver error to a pipeline error kind. Caller
// cancellation wins over whatever the driver reported; a statement timeout
// (57014 without caller cancellation) is a timeout; connection class states
// and transport errors are connection failures; every other server error is
// the database rejecting the statement.
func ClassifyError(ctx context.Context, err error) *apperrors.Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.Wrap(apperrors.KindCanceled, "request canceled", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlStateQueryCanceled:
			return apperrors.Wrap(apperrors.KindTimeout, "the statement exceeded its time limit", err)
		case isConnectionState(pgErr.Code):
			return apperrors.Wrap(apperrors.KindConnectionFailure, "the database connection failed", err)
		}
		return apperrors.Wrap(apperrors.KindDatabaseConstraint, "the database rejected the statement", err)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperrors.Wrap(apperrors.KindTimeout, "the statement exceeded its time limit", err)
	}
	return apperrors.Wrap(apperrors.KindConnectionFailure, "the database connection failed", err)
}
