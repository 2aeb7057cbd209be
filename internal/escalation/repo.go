package escalation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// AdminRepository defines persistence for global-admin records.
type AdminRepository interface {
	Get(ctx context.Context, subjectID int64) (*GlobalAdminRecord, error)
}

// PGAdminRepository implements AdminRepository using PostgreSQL.
type PGAdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository constructs a PostgreSQL repository.
func NewAdminRepository(pool *pgxpool.Pool) *PGAdminRepository {
	return &PGAdminRepository{pool: pool}
}

// Get fetches the active global-admin record for a subject.
func (r *PGAdminRepository) Get(ctx context.Context, subjectID int64) (*GlobalAdminRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT subject_id, roles, escalation_password_hash, is_active, created_at, updated_at FROM global_admins WHERE subject_id = $1 AND is_active`, subjectID)
	var rec GlobalAdminRecord
	if err := row.Scan(&rec.SubjectID, &rec.Roles, &rec.EscalationPasswordHash, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

var _ AdminRepository = (*PGAdminRepository)(nil)
