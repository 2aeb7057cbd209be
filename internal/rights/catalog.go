package rights

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// CatalogRepository defines persistence for the role and access-right catalog.
type CatalogRepository interface {
	ListAccessRights(ctx context.Context, domain string) ([]AccessRight, error)
	AllRightNames(ctx context.Context) ([]string, error)
	GetRoleByName(ctx context.Context, name string) (*RoleDefinition, error)
	ListRoles(ctx context.Context, userType string) ([]RoleDefinition, error)
	UpdateRolePatterns(ctx context.Context, name string, patterns []string) (*RoleDefinition, error)
}

// PGRepository implements CatalogRepository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListAccessRights returns catalog entries, optionally filtered by domain.
func (r *PGRepository) ListAccessRights(ctx context.Context, domain string) ([]AccessRight, error) {
	query := `SELECT name, description FROM access_rights ORDER BY name`
	args := []any{}
	if domain = strings.TrimSpace(domain); domain != "" {
		query = `SELECT name, description FROM access_rights WHERE name LIKE $1 ORDER BY name`
		args = append(args, domain+":%")
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rights []AccessRight
	for rows.Next() {
		var right AccessRight
		if err := rows.Scan(&right.Name, &right.Description); err != nil {
			return nil, err
		}
		rights = append(rights, right)
	}
	return rights, rows.Err()
}

// AllRightNames returns every canonical right name in the catalog.
func (r *PGRepository) AllRightNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM access_rights ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetRoleByName fetches one role definition.
func (r *PGRepository) GetRoleByName(ctx context.Context, name string) (*RoleDefinition, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, user_type, patterns, is_active, created_at, updated_at FROM roles WHERE name = $1`, name)
	var role RoleDefinition
	if err := row.Scan(&role.ID, &role.Name, &role.UserType, &role.Patterns, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// ListRoles returns roles ordered by name, optionally filtered by user type.
func (r *PGRepository) ListRoles(ctx context.Context, userType string) ([]RoleDefinition, error) {
	query := `SELECT id, name, user_type, patterns, is_active, created_at, updated_at FROM roles ORDER BY name`
	args := []any{}
	if userType = strings.TrimSpace(userType); userType != "" {
		query = `SELECT id, name, user_type, patterns, is_active, created_at, updated_at FROM roles WHERE user_type = $1 ORDER BY name`
		args = append(args, userType)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []RoleDefinition
	for rows.Next() {
		var role RoleDefinition
		if err := rows.Scan(&role.ID, &role.Name, &role.UserType, &role.Patterns, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRolePatterns replaces the pattern list of an existing role.
func (r *PGRepository) UpdateRolePatterns(ctx context.Context, name string, patterns []string) (*RoleDefinition, error) {
	row := r.pool.QueryRow(ctx, `UPDATE roles SET patterns = $2, updated_at = NOW() WHERE name = $1 RETURNING id, name, user_type, patterns, is_active, created_at, updated_at`, name, patterns)
	var role RoleDefinition
	if err := row.Scan(&role.ID, &role.Name, &role.UserType, &role.Patterns, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

var _ CatalogRepository = (*PGRepository)(nil)
