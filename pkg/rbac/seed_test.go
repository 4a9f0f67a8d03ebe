package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSeed(t *testing.T) {
	seed := DefaultSeed()

	require.NoError(t, seed.Validate())
	assert.Equal(t, 23, seed.Catalog().Len())

	roles := seed.SystemRoles()
	require.Len(t, roles, 4)

	byKey := make(map[string]Role)
	for _, r := range roles {
		assert.True(t, r.IsSystem)
		assert.False(t, r.IsEditable)
		assert.Nil(t, r.TenantID)
		assert.Equal(t, SystemRoleID(r.Key), r.ID)
		byKey[r.Key] = r
	}

	owner := byKey["owner"]
	for _, rp := range owner.Permissions {
		assert.Equal(t, ScopeUnset, rp.Scope, rp.Permission.Key())
	}

	employee := byKey["employee"]
	require.NotEmpty(t, employee.Permissions)
	assert.Equal(t, "staff.read", employee.Permissions[0].Permission.Key())
	assert.Equal(t, ScopeSelf, employee.Permissions[0].Scope)
	assert.Equal(t, "View staff directory and profiles", employee.Permissions[0].Permission.Description)
}

func TestSystemRoleIDIsStable(t *testing.T) {
	assert.Equal(t, SystemRoleID("manager"), SystemRoleID("manager"))
	assert.NotEqual(t, SystemRoleID("manager"), SystemRoleID("employee"))
	assert.Len(t, SystemRoleID("owner"), 36)
}

func TestParseSeed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "permissions: [",
			wantErr: "failed to parse seed",
		},
		{
			name: "unknown scope",
			yaml: `
permissions:
  - {resource: goal, action: read}
roles:
  - key: viewer
    name: Viewer
    permissions:
      - {key: goal.read, scope: DIVISION}
`,
			wantErr: "invalid scope",
		},
		{
			name: "grant of undeclared permission",
			yaml: `
permissions:
  - {resource: goal, action: read}
roles:
  - key: viewer
    name: Viewer
    permissions:
      - {key: goal.delete}
`,
			wantErr: "unknown permission",
		},
		{
			name: "duplicate role",
			yaml: `
permissions:
  - {resource: goal, action: read}
roles:
  - {key: viewer, name: Viewer}
  - {key: viewer, name: Viewer Again}
`,
			wantErr: "duplicate seed role",
		},
		{
			name: "role without name",
			yaml: `
roles:
  - {key: viewer}
`,
			wantErr: "requires key and name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
permissions:
  - {resource: goal, action: read, description: View goals}
roles:
  - key: viewer
    name: Viewer
    permissions:
      - {key: goal.read, scope: TEAM}
`), 0o600))

	seed, err := LoadSeedFile(path)

	require.NoError(t, err)
	roles := seed.SystemRoles()
	require.Len(t, roles, 1)
	assert.Equal(t, ScopeTeam, roles[0].Permissions[0].Scope)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStore_ApplySeed(t *testing.T) {
	store, mock := setupMockStore(t)
	seed, err := ParseSeed([]byte(`
permissions:
  - {resource: goal, action: read, description: View goals}
  - {resource: goal, action: update, description: Update goals}
roles:
  - key: viewer
    name: Viewer
    permissions:
      - {key: goal.read, scope: TEAM}
      - {key: goal.update}
`))
	require.NoError(t, err)
	viewerID := SystemRoleID("viewer")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO permissions").WithArgs("goal", "read", "View goals").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO permissions").WithArgs("goal", "update", "Update goals").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO roles").WithArgs(viewerID, "viewer", "Viewer", "", storeNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM role_permissions").WithArgs(viewerID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO role_permissions").WithArgs(viewerID, "goal", "read", "TEAM").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO role_permissions").WithArgs(viewerID, "goal", "update", nil).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.ApplySeed(context.Background(), seed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplySeedRollsBackOnFailure(t *testing.T) {
	store, mock := setupMockStore(t)
	seed, err := ParseSeed([]byte(`
permissions:
  - {resource: goal, action: read}
`))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO permissions").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = store.ApplySeed(context.Background(), seed)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to seed permission goal.read")
	assert.NoError(t, mock.ExpectationsWereMet())
}
