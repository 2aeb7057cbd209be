package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Subject, error)
	FindByID(ctx context.Context, subjectID int64) (*Subject, error)
	UpdatePasswordHash(ctx context.Context, subjectID int64, hash string) error
	CreateSessionRecord(ctx context.Context, id string, subjectID int64, expiresAt time.Time, ip, ua string) error
	DeleteSessionRecord(ctx context.Context, id string) error
	DeleteExpiredSessionRecords(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a subject by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Subject, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, email, name, password_hash, is_active, last_selected_department, created_at, updated_at FROM subjects WHERE email = $1`, email)
	var s Subject
	if err := row.Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.IsActive, &s.LastSelectedDepartment, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindByID fetches a subject by id.
func (r *PGRepository) FindByID(ctx context.Context, subjectID int64) (*Subject, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, email, name, password_hash, is_active, last_selected_department, created_at, updated_at FROM subjects WHERE id = $1`, subjectID)
	var s Subject
	if err := row.Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.IsActive, &s.LastSelectedDepartment, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// UpdatePasswordHash replaces the subject's login password hash.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, subjectID int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE subjects SET password_hash = $2, updated_at = NOW() WHERE id = $1`, subjectID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// CreateSessionRecord persists login session metadata for auditing.
func (r *PGRepository) CreateSessionRecord(ctx context.Context, id string, subjectID int64, expiresAt time.Time, ip, ua string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO login_sessions (id, subject_id, created_at, expires_at, ip, ua) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, subjectID,
		pgtype.Timestamptz{Time: now, Valid: true},
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""},
	)
	return err
}

// DeleteSessionRecord removes one session record.
func (r *PGRepository) DeleteSessionRecord(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM login_sessions WHERE id = $1`, id)
	return err
}

// DeleteExpiredSessionRecords removes session audit rows past expiry. Used
// by the worker sweep; live-session correctness never depends on it.
func (r *PGRepository) DeleteExpiredSessionRecords(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
