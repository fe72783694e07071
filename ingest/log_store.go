package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fathomdata/tidemark/errors"
)

// LogStatus is the recorded outcome of one ingestion run.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusSkipped LogStatus = "skipped"
)

// Log is the audit record of one Ingest call.
type Log struct {
	ID             string
	AssetID        int64
	Symbol         string
	AssetType      string
	Status         LogStatus
	RequestedStart time.Time
	RequestedEnd   time.Time
	FetchedRanges  []Range
	RecordsLoaded  int
	RecordsDropped int
	Error          string
	DurationMS     int64
	CreatedAt      time.Time
}

// LogStore persists ingestion run records to the ingestion_logs table.
type LogStore struct {
	db *sql.DB
}

// NewLogStore creates a new ingestion log store
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// Append writes one run record. Fills ID and CreatedAt when unset.
func (s *LogStore) Append(ctx context.Context, l *Log) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	ranges, err := json.Marshal(l.FetchedRanges)
	if err != nil {
		return errors.Wrap(err, "failed to marshal fetched ranges")
	}

	var errStr interface{}
	if l.Error != "" {
		errStr = l.Error
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ingestion_logs (
			id, asset_id, symbol, asset_type, status,
			requested_start, requested_end, fetched_ranges,
			records_loaded, records_dropped, error, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID,
		l.AssetID,
		l.Symbol,
		l.AssetType,
		string(l.Status),
		l.RequestedStart.Format(time.RFC3339),
		l.RequestedEnd.Format(time.RFC3339),
		string(ranges),
		l.RecordsLoaded,
		l.RecordsDropped,
		errStr,
		l.DurationMS,
		l.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to append ingestion log"), errors.ErrPersistence)
	}

	return nil
}

// LogFilter narrows a List call. Zero values mean "any".
type LogFilter struct {
	AssetID int64
	Status  LogStatus
	Since   time.Time
	Until   time.Time
	Limit   int
}

// DefaultLogLimit bounds List output when the filter does not.
const DefaultLogLimit = 50

// List returns run records newest-first.
func (s *LogStore) List(ctx context.Context, filter LogFilter) ([]*Log, error) {
	var conditions []string
	var args []interface{}

	if filter.AssetID != 0 {
		conditions = append(conditions, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	query := `
		SELECT id, asset_id, symbol, asset_type, status,
		       requested_start, requested_end, fetched_ranges,
		       records_loaded, records_dropped, error, duration_ms, created_at
		FROM ingestion_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to query ingestion logs"), errors.ErrPersistence)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}

	return logs, rows.Err()
}

func scanLog(rows *sql.Rows) (*Log, error) {
	var l Log
	var status, requestedStart, requestedEnd, rangesJSON, createdAt string
	var errStr sql.NullString

	if err := rows.Scan(
		&l.ID,
		&l.AssetID,
		&l.Symbol,
		&l.AssetType,
		&status,
		&requestedStart,
		&requestedEnd,
		&rangesJSON,
		&l.RecordsLoaded,
		&l.RecordsDropped,
		&errStr,
		&l.DurationMS,
		&createdAt,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan ingestion log row")
	}

	l.Status = LogStatus(status)
	if errStr.Valid {
		l.Error = errStr.String
	}

	var err error
	l.RequestedStart, err = time.Parse(time.RFC3339, requestedStart)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse requested_start for log %s", l.ID)
	}
	l.RequestedEnd, err = time.Parse(time.RFC3339, requestedEnd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse requested_end for log %s", l.ID)
	}
	l.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for log %s", l.ID)
	}

	if err := json.Unmarshal([]byte(rangesJSON), &l.FetchedRanges); err != nil {
		// Non-fatal: an unreadable range list should not hide the record
		l.FetchedRanges = nil
	}

	return &l, nil
}
