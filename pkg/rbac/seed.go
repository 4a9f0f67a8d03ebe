package rbac

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed default_seed.yaml
var defaultSeedYAML []byte

// systemRoleNamespace derives stable IDs for shared system roles so that
// reseeding never orphans memberships
var systemRoleNamespace = uuid.MustParse("8f7d3c52-1d7e-4c55-9b8e-3a3f0f6d2b10")

// Seed is the bootstrap catalog of permissions and shared system roles
type Seed struct {
	Permissions []Permission `yaml:"permissions"`
	Roles       []SeedRole   `yaml:"roles"`
}

// SeedRole describes one system role
type SeedRole struct {
	Key         string      `yaml:"key"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Permissions []SeedGrant `yaml:"permissions"`
}

// SeedGrant grants a permission key at a scope. A missing scope is unrestricted.
type SeedGrant struct {
	Key   string `yaml:"key"`
	Scope Scope  `yaml:"scope"`
}

// SystemRoleID returns the stable ID of the system role with key
func SystemRoleID(key string) string {
	return uuid.NewSHA1(systemRoleNamespace, []byte("system-role:"+key)).String()
}

// DefaultSeed returns the built-in catalog
func DefaultSeed() *Seed {
	seed, err := ParseSeed(defaultSeedYAML)
	if err != nil {
		panic(fmt.Sprintf("rbac: invalid built-in seed: %v", err))
	}
	return seed
}

// LoadSeedFile reads and validates a YAML seed file
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed document
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks that every grant names a declared permission and that role
// keys are unique
func (s *Seed) Validate() error {
	catalog := NewCatalog()
	for _, p := range s.Permissions {
		if err := catalog.Register(p); err != nil {
			return fmt.Errorf("invalid seed permission: %w", err)
		}
	}

	keys := make(map[string]struct{}, len(s.Roles))
	for _, r := range s.Roles {
		if r.Key == "" || r.Name == "" {
			return fmt.Errorf("seed role requires key and name")
		}
		if _, dup := keys[r.Key]; dup {
			return fmt.Errorf("duplicate seed role %q", r.Key)
		}
		keys[r.Key] = struct{}{}

		for _, g := range r.Permissions {
			if _, ok := catalog.LookupKey(g.Key); !ok {
				return fmt.Errorf("%w: role %s grants %q", ErrUnknownPermission, r.Key, g.Key)
			}
		}
	}
	return nil
}

// Catalog returns the seed's permission definitions as a catalog
func (s *Seed) Catalog() *Catalog {
	return NewCatalog(s.Permissions...)
}

// SystemRoles expands the seed roles into shared, non-editable roles
func (s *Seed) SystemRoles() []Role {
	catalog := s.Catalog()
	roles := make([]Role, 0, len(s.Roles))
	for _, sr := range s.Roles {
		role := Role{
			ID:          SystemRoleID(sr.Key),
			Key:         sr.Key,
			Name:        sr.Name,
			Description: sr.Description,
			IsSystem:    true,
			IsEditable:  false,
			Permissions: make([]RolePermission, 0, len(sr.Permissions)),
		}
		for _, g := range sr.Permissions {
			perm, _ := catalog.LookupKey(g.Key)
			role.Permissions = append(role.Permissions, RolePermission{Permission: perm, Scope: g.Scope})
		}
		roles = append(roles, role)
	}
	return roles
}

// ApplySeed upserts the seed's permissions and system roles. It is idempotent.
func (s *Store) ApplySeed(ctx context.Context, seed *Seed) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		permQuery := `
			INSERT INTO permissions (resource, action, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (resource, action) DO UPDATE SET description = EXCLUDED.description
		`
		for _, p := range seed.Permissions {
			if _, err := tx.ExecContext(ctx, permQuery, p.Resource, p.Action, p.Description); err != nil {
				return fmt.Errorf("failed to seed permission %s: %w", p.Key(), err)
			}
		}

		roleQuery := `
			INSERT INTO roles (id, tenant_id, key, name, description, is_system, is_editable, created_at, updated_at)
			VALUES ($1, NULL, $2, $3, $4, TRUE, FALSE, $5, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = EXCLUDED.updated_at
		`
		for _, role := range seed.SystemRoles() {
			if _, err := tx.ExecContext(ctx, roleQuery, role.ID, role.Key, role.Name, role.Description, now); err != nil {
				return fmt.Errorf("failed to seed role %s: %w", role.Key, err)
			}
			if err := replaceRolePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
				return fmt.Errorf("failed to seed role %s: %w", role.Key, err)
			}
		}
		return nil
	})
}
