package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fathomdata/tidemark/db"
	"github.com/fathomdata/tidemark/errors"
)

// TemplateStore handles persistence of job templates.
type TemplateStore struct {
	db *sql.DB
}

// NewTemplateStore creates a new template store
func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// CreateTemplate persists a new template. Template names are unique.
func (s *TemplateStore) CreateTemplate(ctx context.Context, tmpl *Template) error {
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now().UTC()
	}

	params, err := json.Marshal(tmpl.Params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal template params")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_templates (
			id, name, description, trigger_kind, trigger_expr, params, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ID,
		tmpl.Name,
		tmpl.Description,
		tmpl.TriggerKind,
		tmpl.TriggerExpr,
		string(params),
		tmpl.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.NewValidationError("template name %q already exists", tmpl.Name)
		}
		return errors.Mark(errors.Wrap(err, "failed to create template"), errors.ErrPersistence)
	}

	return nil
}

// GetTemplate retrieves a template by ID.
func (s *TemplateStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, trigger_kind, trigger_expr, params, created_at
		FROM job_templates
		WHERE id = ?`,
		id)

	tmpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("template not found: %s", id)
		}
		return nil, err
	}
	return tmpl, nil
}

// GetTemplateByName retrieves a template by its unique name.
func (s *TemplateStore) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, trigger_kind, trigger_expr, params, created_at
		FROM job_templates
		WHERE name = ?`,
		name)

	tmpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("template not found: %s", name)
		}
		return nil, err
	}
	return tmpl, nil
}

// ListTemplates returns all templates ordered by name.
func (s *TemplateStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, trigger_kind, trigger_expr, params, created_at
		FROM job_templates
		ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to list templates"), errors.ErrPersistence)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}

	return templates, rows.Err()
}

// DeleteTemplate removes a template. Jobs created from it keep their copied
// trigger and params.
func (s *TemplateStore) DeleteTemplate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM job_templates WHERE id = ?`, id)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to delete template"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("template not found: %s", id)
	}

	return nil
}

func scanTemplate(row rowScanner) (*Template, error) {
	var tmpl Template
	var params, createdAt string

	err := row.Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.Description,
		&tmpl.TriggerKind,
		&tmpl.TriggerExpr,
		&params,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan template")
	}

	if err := json.Unmarshal([]byte(params), &tmpl.Params); err != nil {
		return nil, errors.Wrapf(err, "corrupt params for template %s", tmpl.ID)
	}

	tmpl.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for template %s", tmpl.ID)
	}

	return &tmpl, nil
}
