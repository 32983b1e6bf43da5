package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// Schema filters are passed as one comma-separated parameter so the queries
// need no array binding.
const (
	tablesQuery = `
		SELECT
			n.nspname,
			c.relname,
			COALESCE(obj_description(c.oid, 'pg_class'), ''),
			c.reltuples::bigint,
			c.relrowsecurity
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p', 'v', 'm')
		  AND n.nspname = ANY(string_to_array($1, ','))
		ORDER BY n.nspname, c.relname`

	columnsQuery = `
		SELECT
			n.nspname,
			c.relname,
			a.attname,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			COALESCE(pk.indisprimary, false),
			a.attnum,
			COALESCE(col_description(c.oid, a.attnum), '')
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_index pk ON pk.indrelid = c.oid AND pk.indisprimary AND a.attnum = ANY(pk.indkey)
		WHERE a.attnum > 0
		  AND NOT a.attisdropped
		  AND c.relkind IN ('r', 'p', 'v', 'm')
		  AND n.nspname = ANY(string_to_array($1, ','))
		ORDER BY n.nspname, c.relname, a.attnum`

	foreignKeysQuery = `
		SELECT
			con.conname,
			sn.nspname,
			sc.relname,
			sa.attname,
			tn.nspname,
			tc.relname,
			ta.attname,
			k.ord
		FROM pg_constraint con
		JOIN pg_class sc ON sc.oid = con.conrelid
		JOIN pg_namespace sn ON sn.oid = sc.relnamespace
		JOIN pg_class tc ON tc.oid = con.confrelid
		JOIN pg_namespace tn ON tn.oid = tc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src, dst, ord)
		JOIN pg_attribute sa ON sa.attrelid = con.conrelid AND sa.attnum = k.src
		JOIN pg_attribute ta ON ta.attrelid = con.confrelid AND ta.attnum = k.dst
		WHERE con.contype = 'f'
		  AND sn.nspname = ANY(string_to_array($1, ','))
		ORDER BY con.conname, k.ord`

	policiesQuery = `
		SELECT
			schemaname,
			tablename,
			policyname,
			cmd,
			array_to_string(roles, ','),
			COALESCE(qual, '')
		FROM pg_policies
		WHERE schemaname = ANY(string_to_array($1, ','))
		ORDER BY schemaname, tablename, policyname`
)

// SchemaExtractor reads the PostgreSQL catalog into a SchemaSnapshot.
type SchemaExtractor struct {
	db      *sql.DB
	schemas []string
	logger  *zap.Logger
	now     func() time.Time
}

// NewSchemaExtractor creates an extractor limited to schemas. An empty list
// means "public".
func NewSchemaExtractor(db *sql.DB, schemas []string, logger *zap.Logger) *SchemaExtractor {
	if len(schemas) == 0 {
		schemas = []string{models.DefaultSchemaName}
	}
	return &SchemaExtractor{db: db, schemas: schemas, logger: logger, now: time.Now}
}

// FetchSnapshot reads tables, columns, foreign keys and row-security policies
// in one repeatable-read transaction so they describe the same catalog state.
func (e *SchemaExtractor) FetchSnapshot(ctx context.Context) (*models.SchemaSnapshot, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin catalog transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	filter := strings.Join(e.schemas, ",")

	tables, err := e.discoverTables(ctx, tx, filter)
	if err != nil {
		return nil, err
	}
	columns, err := e.discoverColumns(ctx, tx, filter)
	if err != nil {
		return nil, err
	}
	fks, err := e.discoverForeignKeys(ctx, tx, filter)
	if err != nil {
		return nil, err
	}
	policies, err := e.discoverPolicies(ctx, tx, filter)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit catalog transaction: %w", err)
	}

	snapshot := datasource.AssembleSnapshot(tables, columns, fks, policies, e.now())
	e.logger.Info("Extracted schema snapshot",
		zap.String("version", snapshot.Version),
		zap.Int("tables", len(snapshot.Tables)),
		zap.Int("policies", len(policies)))
	return snapshot, nil
}

func (e *SchemaExtractor) discoverTables(ctx context.Context, tx *sql.Tx, filter string) ([]datasource.TableMetadata, error) {
	rows, err := tx.QueryContext(ctx, tablesQuery, filter)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.Description, &t.RowCount, &t.RowSecurity); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func (e *SchemaExtractor) discoverColumns(ctx context.Context, tx *sql.Tx, filter string) ([]datasource.ColumnMetadata, error) {
	rows, err := tx.QueryContext(ctx, columnsQuery, filter)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		if err := rows.Scan(&c.SchemaName, &c.TableName, &c.ColumnName, &c.DataType, &c.IsNullable,
			&c.IsPrimaryKey, &c.OrdinalPosition, &c.Description); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (e *SchemaExtractor) discoverForeignKeys(ctx context.Context, tx *sql.Tx, filter string) ([]datasource.ForeignKeyMetadata, error) {
	rows, err := tx.QueryContext(ctx, foreignKeysQuery, filter)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn, &fk.Position); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

func (e *SchemaExtractor) discoverPolicies(ctx context.Context, tx *sql.Tx, filter string) ([]datasource.PolicyMetadata, error) {
	rows, err := tx.QueryContext(ctx, policiesQuery, filter)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var policies []datasource.PolicyMetadata
	for rows.Next() {
		var p datasource.PolicyMetadata
		var roles string
		if err := rows.Scan(&p.SchemaName, &p.TableName, &p.PolicyName, &p.Command, &roles, &p.Using); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		if roles != "" {
			p.Roles = strings.Split(roles, ",")
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return policies, nil
}

var _ datasource.SnapshotSource = (*SchemaExtractor)(nil)
