package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Organization is a tenant. All camera and event rows hang off one.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type OrganizationModel struct {
	DB DBTX
}

func (m OrganizationModel) Create(ctx context.Context, o *Organization) error {
	query := `
		INSERT INTO organizations (name, is_active)
		VALUES ($1, $2)
		RETURNING id, created_at`

	return m.DB.QueryRowContext(ctx, query, o.Name, o.IsActive).Scan(&o.ID, &o.CreatedAt)
}

func (m OrganizationModel) GetByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM organizations
		WHERE id = $1`

	var o Organization
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.Name, &o.IsActive, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (m OrganizationModel) List(ctx context.Context) ([]*Organization, error) {
	query := `SELECT id, name, is_active, created_at FROM organizations ORDER BY created_at`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.IsActive, &o.CreatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, &o)
	}
	return orgs, rows.Err()
}
