package ingest

import (
	"context"
	"database/sql"
	"time"

	"github.com/fathomdata/tidemark/errors"
)

// Tracker records which day ranges each asset has already ingested and
// answers gap queries against them. Coverage is independent of row counts:
// a range that yielded zero observations (market holiday, weekend) is still
// covered and never re-fetched.
type Tracker struct {
	db *sql.DB
}

// NewTracker creates a coverage tracker backed by the asset_coverage table
func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Covered returns the stored coverage ranges intersecting r, ascending.
func (t *Tracker) Covered(ctx context.Context, assetID int64, r Range) ([]Range, error) {
	if r.IsEmpty() {
		return nil, nil
	}

	// RFC 3339 text at fixed width compares lexicographically in time order
	rows, err := t.db.QueryContext(ctx, `
		SELECT start_day, end_day
		FROM asset_coverage
		WHERE asset_id = ? AND start_day < ? AND end_day > ?
		ORDER BY start_day ASC`,
		assetID, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to query coverage for asset %d", assetID), errors.ErrPersistence)
	}
	defer rows.Close()

	var covered []Range
	for rows.Next() {
		var startStr, endStr string
		if err := rows.Scan(&startStr, &endStr); err != nil {
			return nil, errors.Wrap(err, "failed to scan coverage row")
		}

		cr, err := parseRange(startStr, endStr)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt coverage row for asset %d", assetID)
		}
		covered = append(covered, cr)
	}

	return covered, rows.Err()
}

// Gaps returns the sub-ranges of r not yet covered for the asset. The result
// is disjoint and ascending, and its union with the stored coverage
// restricted to r reconstructs r exactly.
func (t *Tracker) Gaps(ctx context.Context, assetID int64, r Range) ([]Range, error) {
	covered, err := t.Covered(ctx, assetID, r)
	if err != nil {
		return nil, err
	}
	return subtract(r, covered), nil
}

// MarkCovered merges r into the asset's stored coverage. Stored ranges that
// overlap or touch r are collapsed into one row inside a single transaction,
// so coverage stays disjoint and minimal no matter the write order.
func (t *Tracker) MarkCovered(ctx context.Context, assetID int64, r Range) error {
	if r.IsEmpty() {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to begin coverage transaction"), errors.ErrPersistence)
	}
	defer tx.Rollback()

	// Touching is <= / >= so adjacent ranges merge too
	rows, err := tx.QueryContext(ctx, `
		SELECT start_day, end_day
		FROM asset_coverage
		WHERE asset_id = ? AND start_day <= ? AND end_day >= ?`,
		assetID, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to query touching coverage for asset %d", assetID), errors.ErrPersistence)
	}

	merged := r
	var absorbed []string
	for rows.Next() {
		var startStr, endStr string
		if err := rows.Scan(&startStr, &endStr); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed to scan coverage row")
		}

		existing, err := parseRange(startStr, endStr)
		if err != nil {
			rows.Close()
			return errors.Wrapf(err, "corrupt coverage row for asset %d", assetID)
		}

		if existing.Start.Before(merged.Start) {
			merged.Start = existing.Start
		}
		if existing.End.After(merged.End) {
			merged.End = existing.End
		}
		absorbed = append(absorbed, startStr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errors.Wrap(err, "failed to iterate coverage rows")
	}
	rows.Close()

	for _, startDay := range absorbed {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM asset_coverage WHERE asset_id = ? AND start_day = ?`,
			assetID, startDay); err != nil {
			return errors.Mark(errors.Wrapf(err, "failed to drop absorbed coverage row for asset %d", assetID), errors.ErrPersistence)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO asset_coverage (asset_id, start_day, end_day)
		VALUES (?, ?, ?)`,
		assetID, merged.Start.Format(time.RFC3339), merged.End.Format(time.RFC3339)); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to insert coverage row for asset %d", assetID), errors.ErrPersistence)
	}

	if err := tx.Commit(); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to commit coverage transaction"), errors.ErrPersistence)
	}

	return nil
}

// AllCovered returns every stored coverage range for the asset, ascending.
func (t *Tracker) AllCovered(ctx context.Context, assetID int64) ([]Range, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT start_day, end_day
		FROM asset_coverage
		WHERE asset_id = ?
		ORDER BY start_day ASC`,
		assetID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to list coverage for asset %d", assetID), errors.ErrPersistence)
	}
	defer rows.Close()

	var covered []Range
	for rows.Next() {
		var startStr, endStr string
		if err := rows.Scan(&startStr, &endStr); err != nil {
			return nil, errors.Wrap(err, "failed to scan coverage row")
		}
		cr, err := parseRange(startStr, endStr)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt coverage row for asset %d", assetID)
		}
		covered = append(covered, cr)
	}

	return covered, rows.Err()
}

func parseRange(startStr, endStr string) (Range, error) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return Range{}, errors.Wrapf(err, "failed to parse start_day %q", startStr)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return Range{}, errors.Wrapf(err, "failed to parse end_day %q", endStr)
	}
	return Range{Start: start, End: end}, nil
}
