package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionKey(t *testing.T) {
	assert.Equal(t, "goal.read", PermissionKey(ResourceGoal, ActionRead))
	assert.Equal(t, "staff.invite", Permission{Resource: ResourceStaff, Action: ActionInvite}.Key())
}

func TestParsePermissionKey(t *testing.T) {
	p, err := ParsePermissionKey("review.update")
	require.NoError(t, err)
	assert.Equal(t, Permission{Resource: "review", Action: "update"}, p)

	// actions may contain dots; the resource never does
	p, err = ParsePermissionKey("report.export.csv")
	require.NoError(t, err)
	assert.Equal(t, "report", p.Resource)
	assert.Equal(t, "export.csv", p.Action)

	for _, bad := range []string{"", "goal", ".read", "goal."} {
		_, err := ParsePermissionKey(bad)
		assert.ErrorIs(t, err, ErrUnknownPermission, bad)
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(
		Permission{Resource: "goal", Action: "read"},
		Permission{Resource: "competency", Action: "manage"},
	)

	require.NoError(t, c.Register(Permission{Resource: "ai", Action: "generate", Description: "Generate text"}))
	assert.Error(t, c.Register(Permission{Resource: "", Action: "read"}))
	assert.Error(t, c.Register(Permission{Resource: "goal.sub", Action: "read"}))

	p, ok := c.Lookup("ai", "generate")
	require.True(t, ok)
	assert.Equal(t, "Generate text", p.Description)

	_, ok = c.LookupKey("goal.delete")
	assert.False(t, ok)

	assert.Equal(t, 3, c.Len())
	keys := make([]string, 0, 3)
	for _, p := range c.All() {
		keys = append(keys, p.Key())
	}
	assert.Equal(t, []string{"ai.generate", "competency.manage", "goal.read"}, keys)
}
