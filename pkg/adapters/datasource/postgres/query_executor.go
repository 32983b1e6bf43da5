package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

// QueryRunner executes validated statements inside read-only transactions.
type QueryRunner struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewQueryRunner creates a QueryRunner.
func NewQueryRunner(db *sql.DB, logger *zap.Logger) *QueryRunner {
	return &QueryRunner{db: db, logger: logger}
}

// RunReadOnly runs query in a READ ONLY transaction with a local
// statement_timeout and materializes at most rowCap rows. The transaction is
// always rolled back; nothing it does can persist. Errors are classified
// with ClassifyError.
func (r *QueryRunner) RunReadOnly(ctx context.Context, query string, params []any, timeout time.Duration, rowCap int) (*datasource.Rows, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, ClassifyError(ctx, err)
	}
	defer func() { _ = tx.Rollback() }()

	if timeout > 0 {
		// SET does not take bind parameters; the value is an integer we format.
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", max(timeout.Milliseconds(), 1))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, ClassifyError(ctx, err)
		}
	}

	rows, err := tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, ClassifyError(ctx, err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, ClassifyError(ctx, err)
	}
	columns := make([]datasource.ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = datasource.ColumnInfo{
			Name: ct.Name(),
			Type: typeName(ct.DatabaseTypeName()),
		}
	}

	result := &datasource.Rows{Columns: columns, Values: make([][]any, 0)}
	for rows.Next() {
		if rowCap > 0 && len(result.Values) >= rowCap {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "failed to read row values", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(columns[i].Type, v)
		}
		result.Values = append(result.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyError(ctx, err)
	}

	r.logger.Debug("Read-only statement finished",
		zap.Int("rows", len(result.Values)),
		zap.Bool("truncated", result.Truncated))
	return result, nil
}

// typeName normalizes driver type names to the upper-case PostgreSQL names
// (INT4, TEXT, NUMERIC). Unknown types report "UNKNOWN".
func typeName(name string) string {
	if name == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(name)
}

// normalizeValue turns driver byte slices into strings for textual types so
// results serialize as text. BYTEA stays binary.
func normalizeValue(typ string, v any) any {
	b, ok := v.([]byte)
	if !ok || typ == "BYTEA" {
		return v
	}
	return string(b)
}

var _ datasource.ReadOnlyRunner = (*QueryRunner)(nil)
