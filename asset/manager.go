package asset

import (
	"context"
	"database/sql"
	"time"

	"github.com/fathomdata/tidemark/db"
	"github.com/fathomdata/tidemark/errors"
)

// Manager resolves assets, creating them on first reference.
type Manager struct {
	db *sql.DB
}

// NewManager creates a new asset manager
func NewManager(database *sql.DB) *Manager {
	return &Manager{db: database}
}

// GetOrCreate returns the asset registered for (symbol, assetType), creating
// it if absent. Concurrent callers for the same pair converge on one row:
// the insert leans on the UNIQUE(symbol, asset_type) constraint and a loser
// re-reads the winner's row. No application-level lock is taken, since other
// process instances may be writing the same table.
func (m *Manager) GetOrCreate(ctx context.Context, symbol string, assetType Type) (*Asset, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.NewValidationError("symbol cannot be empty")
	}
	if !IsValidType(assetType) {
		return nil, errors.NewValidationError("unknown asset type %q", assetType)
	}

	// Fast path: most calls resolve an existing asset
	a, err := m.Get(ctx, symbol, assetType)
	if err == nil {
		return a, nil
	}
	if !errors.IsNotFoundError(err) {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO assets (symbol, asset_type, name, created_at)
		VALUES (?, ?, ?, ?)`,
		symbol, string(assetType), "", now.Format(time.RFC3339))
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the creation race; the winner's row is authoritative
			return m.Get(ctx, symbol, assetType)
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to create asset %s/%s", symbol, assetType), errors.ErrPersistence)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read new asset id")
	}

	return &Asset{
		ID:        id,
		Symbol:    symbol,
		Type:      assetType,
		CreatedAt: now,
	}, nil
}

// Get retrieves an asset by (symbol, assetType). Returns a not-found error
// if no such asset is registered.
func (m *Manager) Get(ctx context.Context, symbol string, assetType Type) (*Asset, error) {
	symbol = NormalizeSymbol(symbol)

	var a Asset
	var typeStr, createdAt string
	err := m.db.QueryRowContext(ctx, `
		SELECT id, symbol, asset_type, name, created_at
		FROM assets
		WHERE symbol = ? AND asset_type = ?`,
		symbol, string(assetType)).Scan(&a.ID, &a.Symbol, &typeStr, &a.Name, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("asset %s/%s not registered", symbol, assetType)
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to get asset %s/%s", symbol, assetType), errors.ErrPersistence)
	}

	a.Type = Type(typeStr)
	a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for asset %d", a.ID)
	}

	return &a, nil
}

// GetByID retrieves an asset by its internal id.
func (m *Manager) GetByID(ctx context.Context, id int64) (*Asset, error) {
	var a Asset
	var typeStr, createdAt string
	err := m.db.QueryRowContext(ctx, `
		SELECT id, symbol, asset_type, name, created_at
		FROM assets
		WHERE id = ?`,
		id).Scan(&a.ID, &a.Symbol, &typeStr, &a.Name, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("asset %d not registered", id)
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to get asset %d", id), errors.ErrPersistence)
	}

	a.Type = Type(typeStr)
	a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for asset %d", a.ID)
	}

	return &a, nil
}

// List returns all registered assets ordered by symbol then type.
func (m *Manager) List(ctx context.Context) ([]*Asset, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, symbol, asset_type, name, created_at
		FROM assets
		ORDER BY symbol ASC, asset_type ASC`)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to list assets"), errors.ErrPersistence)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		var typeStr, createdAt string
		if err := rows.Scan(&a.ID, &a.Symbol, &typeStr, &a.Name, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan asset row")
		}

		a.Type = Type(typeStr)
		a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for asset %d", a.ID)
		}

		assets = append(assets, &a)
	}

	return assets, rows.Err()
}

// SetName updates an asset's display name.
func (m *Manager) SetName(ctx context.Context, id int64, name string) error {
	res, err := m.db.ExecContext(ctx, `UPDATE assets SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to rename asset %d", id), errors.ErrPersistence)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("asset %d not registered", id)
	}

	return nil
}
