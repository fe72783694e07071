package ingest

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/fathomdata/tidemark/errors"
)

// ConflictPolicy decides what a bulk insert does when (asset_id, ts) already
// has a row.
type ConflictPolicy string

const (
	// ConflictDoNothing keeps the existing row and skips the incoming one.
	ConflictDoNothing ConflictPolicy = "do_nothing"
	// ConflictUpsert overwrites the existing row's data columns.
	ConflictUpsert ConflictPolicy = "upsert"
)

// DefaultBatchSize bounds rows per INSERT when config does not say otherwise.
const DefaultBatchSize = 200

// ParseConflictPolicy validates a policy string from config or CLI flags.
// Empty means do_nothing.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case "", ConflictDoNothing:
		return ConflictDoNothing, nil
	case ConflictUpsert:
		return ConflictUpsert, nil
	}
	return "", errors.NewValidationError("unknown conflict policy %q (want do_nothing or upsert)", s)
}

// LoadResult reports what a Load call actually wrote.
type LoadResult struct {
	// Attempted is the number of rows handed to Load.
	Attempted int
	// Loaded counts rows the database reports as changed: inserts, plus
	// updates under the upsert policy. Duplicates skipped by do_nothing
	// are attempted but not loaded.
	Loaded int
}

// Loader bulk-writes mapped rows in bounded batches, one multi-row INSERT
// per batch. Batches commit independently: rows committed by earlier
// batches survive a later batch failure, and the error carries the count
// already committed.
type Loader struct {
	db        *sql.DB
	batchSize int
}

// NewLoader creates a loader. batchSize <= 0 selects DefaultBatchSize.
func NewLoader(db *sql.DB, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{db: db, batchSize: batchSize}
}

// Load writes rows into spec's table for the asset. Returns the counts even
// on failure, alongside a persistence error naming how many rows were
// already committed.
func (l *Loader) Load(ctx context.Context, spec TableSpec, assetID int64, rows []Row, policy ConflictPolicy) (LoadResult, error) {
	result := LoadResult{Attempted: len(rows)}
	if len(rows) == 0 {
		return result, nil
	}

	query := l.buildQuery(spec, policy)

	for offset := 0; offset < len(rows); offset += l.batchSize {
		end := offset + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[offset:end]

		loaded, err := l.loadBatch(ctx, query, spec, assetID, batch)
		result.Loaded += loaded
		if err != nil {
			return result, errors.Mark(
				errors.Wrapf(err, "bulk insert into %s failed with %d of %d rows committed",
					spec.Table, result.Loaded, result.Attempted),
				errors.ErrPersistence)
		}
	}

	return result, nil
}

// loadBatch runs one multi-row INSERT inside its own transaction.
func (l *Loader) loadBatch(ctx context.Context, baseQuery string, spec TableSpec, assetID int64, batch []Row) (int, error) {
	nCols := 2 + len(spec.Columns)
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", nCols), ", ") + ")"

	placeholders := make([]string, len(batch))
	args := make([]interface{}, 0, len(batch)*nCols)
	for i, row := range batch {
		placeholders[i] = placeholder
		args = append(args, assetID, row.Ts.Format(time.RFC3339))
		args = append(args, row.Args...)
	}

	query := strings.Replace(baseQuery, "%VALUES%", strings.Join(placeholders, ", "), 1)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin batch transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	changed, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit batch")
	}

	return int(changed), nil
}

// buildQuery assembles the INSERT skeleton with a %VALUES% slot for the
// per-batch placeholder list.
func (l *Loader) buildQuery(spec TableSpec, policy ConflictPolicy) string {
	cols := append([]string{"asset_id", "ts"}, spec.Columns...)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(spec.Table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES %VALUES%")

	switch policy {
	case ConflictUpsert:
		sets := make([]string, len(spec.Columns))
		for i, col := range spec.Columns {
			sets[i] = col + " = excluded." + col
		}
		b.WriteString(" ON CONFLICT(asset_id, ts) DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	default:
		b.WriteString(" ON CONFLICT(asset_id, ts) DO NOTHING")
	}

	return b.String()
}
