package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Execer is what the mirror helpers need from a connection. pgx.Tx
// satisfies it, so both helpers can share one transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// WithTx runs fn in a single transaction. Any error from fn rolls back
// everything fn wrote.
func WithTx(ctx context.Context, pool Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: commit tx")
	}
	return nil
}

// UpsertConfig describes the table a lamp export mirrors into.
type UpsertConfig struct {
	Table        string   // optionally schema-qualified, e.g. "public.street_lamps"
	Columns      []string // COPY order of every row
	ConflictKeys []string // the table's unique key, e.g. osm_id
	UpdateCols   []string // refreshed on conflict; nil means every non-key column
}

func (cfg UpsertConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateColumns() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	key := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		key[k] = true
	}
	var out []string
	for _, c := range cfg.Columns {
		if !key[c] {
			out = append(out, c)
		}
	}
	return out
}

// stagingTable names the per-transaction table rows are copied into.
func (cfg UpsertConfig) stagingTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")
}

func (cfg UpsertConfig) mergeSQL() string {
	cols := quoteAndJoin(cfg.Columns)
	sets := make([]string, 0, len(cfg.Columns))
	for _, col := range cfg.updateColumns() {
		q := pgx.Identifier{col}.Sanitize()
		sets = append(sets, q+" = EXCLUDED."+q)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		SanitizeTable(cfg.Table), cols, cols,
		pgx.Identifier{cfg.stagingTable()}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(sets, ", "),
	)
}

// UpsertRows writes exported lamp rows into cfg.Table inside tx. Rows are
// COPYed into a staging table dropped at commit, then merged so a lamp
// already in the table has its position, tags and provenance refreshed in
// place. It returns the number of rows inserted or updated.
func UpsertRows(ctx context.Context, tx Execer, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	staging := pgx.Identifier{cfg.stagingTable()}
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		staging.Sanitize(), SanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, staging, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// DeleteExcept removes every row whose key column is not in keep, which
// drops lamps that left the catalog. An empty keep set empties the table.
func DeleteExcept(ctx context.Context, tx Execer, table, keyCol string, keep []int64) (int64, error) {
	if keep == nil {
		keep = []int64{}
	}
	deleteSQL := fmt.Sprintf(
		"DELETE FROM %s WHERE NOT (%s = ANY($1))",
		SanitizeTable(table), pgx.Identifier{keyCol}.Sanitize(),
	)
	tag, err := tx.Exec(ctx, deleteSQL, keep)
	if err != nil {
		return 0, eris.Wrapf(err, "db: delete stale rows from %s", table)
	}
	return tag.RowsAffected(), nil
}

// SanitizeTable quotes a table name, splitting an optional schema prefix.
func SanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
