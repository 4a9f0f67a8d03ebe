package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the postgres SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

// Store handles RBAC data persistence. It is the MembershipReader and
// RoleReader behind the cache, and the repository used by staff management.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const membershipColumns = `id, tenant_id, user_id, status, primary_role_id, additional_role_ids, metadata, created_at, updated_at`

// FindMembership returns the membership for (tenantID, userID) or nil
func (s *Store) FindMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE tenant_id = $1 AND user_id = $2
	`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, tenantID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func scanMembership(row rowScanner) (*Membership, error) {
	var m Membership
	var status string
	var metadata []byte
	var additional pq.StringArray

	err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.UserID,
		&status,
		&m.PrimaryRoleID,
		&additional,
		&metadata,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = MembershipStatus(status)
	if !m.Status.Valid() {
		return nil, fmt.Errorf("membership %s has invalid status %q", m.ID, status)
	}
	if len(additional) > 0 {
		m.AdditionalRoleIDs = []string(additional)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal membership metadata: %w", err)
		}
	}
	return &m, nil
}

// CreateMembership inserts a membership. ErrMembershipExists is returned when
// (tenant, user) already has one.
func (s *Store) CreateMembership(ctx context.Context, m *Membership) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO memberships (id, tenant_id, user_id, status, primary_role_id, additional_role_ids, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	now := s.now()
	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		m.TenantID,
		m.UserID,
		string(m.Status),
		m.PrimaryRoleID,
		pq.Array(nonNilStrings(m.AdditionalRoleIDs)),
		metadata,
		now,
		now,
	)
	if isUniqueViolation(err) {
		return ErrMembershipExists
	}
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// UpdateMembership persists status, roles and metadata
func (s *Store) UpdateMembership(ctx context.Context, m *Membership) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE memberships
		SET status = $1, primary_role_id = $2, additional_role_ids = $3, metadata = $4, updated_at = $5
		WHERE id = $6
	`
	m.UpdatedAt = s.now()
	result, err := s.db.ExecContext(ctx, query,
		string(m.Status),
		m.PrimaryRoleID,
		pq.Array(nonNilStrings(m.AdditionalRoleIDs)),
		metadata,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// FindUser returns a user by ID
func (s *Store) FindUser(ctx context.Context, userID string) (*User, error) {
	query := `SELECT id, email, name, legacy_role FROM users WHERE id = $1`

	var u User
	var legacy sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Email, &u.Name, &legacy)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.LegacyRole = legacy.String
	return &u, nil
}

const roleColumns = `id, tenant_id, key, name, description, is_system, is_editable, created_at, updated_at`

// FindRole returns the role with its permissions, or nil when it does not exist
func (s *Store) FindRole(ctx context.Context, roleID string) (*Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE id = $1
	`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := s.loadRolePermissions(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// FindRoleByKey returns the tenant's role with key, falling back to the shared
// system role of the same key
func (s *Store) FindRoleByKey(ctx context.Context, tenantID, key string) (*Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE key = $1 AND (tenant_id = $2 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
		LIMIT 1
	`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, key, tenantID))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := s.loadRolePermissions(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns the shared system roles and the tenant's own roles, with permissions
func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE tenant_id = $1 OR tenant_id IS NULL
		ORDER BY is_system DESC, key
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	rows.Close()

	for _, role := range roles {
		if err := s.loadRolePermissions(ctx, role); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var tenantID, description sql.NullString

	err := row.Scan(
		&role.ID,
		&tenantID,
		&role.Key,
		&role.Name,
		&description,
		&role.IsSystem,
		&role.IsEditable,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tenantID.Valid {
		id := tenantID.String
		role.TenantID = &id
	}
	role.Description = description.String
	return &role, nil
}

func (s *Store) loadRolePermissions(ctx context.Context, role *Role) error {
	query := `
		SELECT p.resource, p.action, p.description, rp.scope
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.resource, p.action
	`
	rows, err := s.db.QueryContext(ctx, query, role.ID)
	if err != nil {
		return fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	role.Permissions = []RolePermission{}
	for rows.Next() {
		var rp RolePermission
		var description, scope sql.NullString
		if err := rows.Scan(&rp.Permission.Resource, &rp.Permission.Action, &description, &scope); err != nil {
			return fmt.Errorf("failed to scan role permission: %w", err)
		}
		rp.Permission.Description = description.String
		rp.Scope = ParseScope(scope.String)
		role.Permissions = append(role.Permissions, rp)
	}
	return rows.Err()
}

// CreateRole inserts a role and its permissions in one transaction
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO roles (id, tenant_id, key, name, description, is_system, is_editable, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err := tx.ExecContext(ctx, query,
			role.ID,
			role.TenantID,
			role.Key,
			role.Name,
			role.Description,
			role.IsSystem,
			role.IsEditable,
			now,
			now,
		)
		if isUniqueViolation(err) {
			return ErrRoleExists
		}
		if err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}

		if err := replaceRolePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
			return err
		}
		role.CreatedAt = now
		role.UpdatedAt = now
		return nil
	})
}

// UpdateRole updates a role's name and description
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4
	`
	role.UpdatedAt = s.now()
	result, err := s.db.ExecContext(ctx, query, role.Name, role.Description, role.UpdatedAt, role.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// SetRolePermissions replaces the role's permission set
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, perms []RolePermission) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := replaceRolePermissions(ctx, tx, roleID, perms); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE roles SET updated_at = $1 WHERE id = $2`, s.now(), roleID)
		if err != nil {
			return fmt.Errorf("failed to touch role: %w", err)
		}
		return nil
	})
}

func replaceRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, perms []RolePermission) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	query := `
		INSERT INTO role_permissions (role_id, permission_id, scope)
		SELECT $1, p.id, $4
		FROM permissions p
		WHERE p.resource = $2 AND p.action = $3
	`
	for _, rp := range perms {
		var scope interface{}
		if rp.Scope != ScopeUnset {
			scope = rp.Scope.String()
		}
		result, err := tx.ExecContext(ctx, query, roleID, rp.Permission.Resource, rp.Permission.Action, scope)
		if err != nil {
			return fmt.Errorf("failed to grant %s: %w", rp.Permission.Key(), err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, rp.Permission.Key())
		}
	}
	return nil
}

// DeleteRole removes a role unless a membership still references it
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	query := `
		DELETE FROM roles
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM memberships
			WHERE primary_role_id = $1 OR $1 = ANY(additional_role_ids)
		  )
	`
	result, err := s.db.ExecContext(ctx, query, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if exists {
		return ErrRoleInUse
	}
	return ErrRoleNotFound
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
