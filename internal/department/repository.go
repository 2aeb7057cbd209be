package department

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// Repository provides access to the department hierarchy.
type Repository interface {
	Snapshot(ctx context.Context) (*Tree, error)
	Get(ctx context.Context, id int64) (*Department, error)
	Reparent(ctx context.Context, id int64, parentID *int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Snapshot loads the full hierarchy into an arena-indexed Tree. The tree is
// expected to be small; walks recompute from a fresh snapshot per call.
func (r *PGRepository) Snapshot(ctx context.Context) (*Tree, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, parent_id, is_active, require_explicit_membership, created_at, updated_at FROM departments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var departments []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.ParentID, &d.IsActive, &d.RequireExplicitMembership, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewTree(departments), nil
}

// Get fetches one department by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Department, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, parent_id, is_active, require_explicit_membership, created_at, updated_at FROM departments WHERE id = $1`, id)
	var d Department
	if err := row.Scan(&d.ID, &d.Name, &d.ParentID, &d.IsActive, &d.RequireExplicitMembership, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Reparent moves a department under a new parent, rejecting cycles against
// the current snapshot before writing.
func (r *PGRepository) Reparent(ctx context.Context, id int64, parentID *int64) error {
	tree, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := tree.ValidateParent(id, parentID); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE departments SET parent_id = $2, updated_at = NOW() WHERE id = $1`, id, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
