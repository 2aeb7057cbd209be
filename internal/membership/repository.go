package membership

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-lms/atlas-lms/internal/rights"
)

// Repository defines persistence for department memberships.
type Repository interface {
	ListActiveForSubject(ctx context.Context, subjectID int64) ([]Membership, error)
	PrimaryDepartment(ctx context.Context, subjectID int64, userType rights.UserType) (*Membership, error)
	Deactivate(ctx context.Context, membershipID int64) error
	SaveLastSelected(ctx context.Context, subjectID, departmentID int64) error
}

// PGRepository implements Repository using PostgreSQL. Primary uniqueness
// per (subject, user_type) is backed by a partial unique index on
// department_memberships.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const membershipColumns = `id, subject_id, user_type, department_id, roles, is_primary, is_active, joined_at`

// ListActiveForSubject returns the subject's active memberships across the
// staff and learner sources. Global-admin grants live in a separate store
// and are never part of this listing.
func (r *PGRepository) ListActiveForSubject(ctx context.Context, subjectID int64) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+membershipColumns+` FROM department_memberships WHERE subject_id = $1 AND is_active ORDER BY joined_at, id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.SubjectID, &m.UserType, &m.DepartmentID, &m.Roles, &m.IsPrimary, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// PrimaryDepartment returns the single active primary membership for the
// user type, or nil when none exists.
func (r *PGRepository) PrimaryDepartment(ctx context.Context, subjectID int64, userType rights.UserType) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+membershipColumns+` FROM department_memberships WHERE subject_id = $1 AND user_type = $2 AND is_primary AND is_active`, subjectID, userType)
	var m Membership
	if err := row.Scan(&m.ID, &m.SubjectID, &m.UserType, &m.DepartmentID, &m.Roles, &m.IsPrimary, &m.IsActive, &m.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Deactivate marks a membership inactive. Offboarding path; rows are kept.
func (r *PGRepository) Deactivate(ctx context.Context, membershipID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE department_memberships SET is_active = FALSE WHERE id = $1`, membershipID)
	return err
}

// SaveLastSelected persists the subject's active department context.
func (r *PGRepository) SaveLastSelected(ctx context.Context, subjectID, departmentID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE subjects SET last_selected_department = $2, updated_at = NOW() WHERE id = $1`, subjectID, departmentID)
	return err
}

var _ Repository = (*PGRepository)(nil)
