package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicRoles(t *testing.T) {
	ctx := New("alice")
	require.False(t, ctx.HasRole("alice", "coop1", RoleWriter))

	ctx.GrantRole("coop1", RoleWriter, "alice")
	require.True(t, ctx.HasRole("alice", "coop1", RoleWriter))
	require.False(t, ctx.HasRole("alice", "coop2", RoleWriter))

	ctx.RevokeRole("coop1", RoleWriter, "alice")
	require.False(t, ctx.HasRole("alice", "coop1", RoleWriter))
}

func TestGlobalAdminSupersedes(t *testing.T) {
	ctx := New("root")
	ctx.GrantRole(GlobalNamespace, RoleAdmin, "root")

	require.True(t, ctx.HasRole("root", "any-namespace", RoleWriter))
	require.True(t, ctx.HasRole("root", "governance", RoleAdmin))
}

func TestMembership(t *testing.T) {
	ctx := New("bob")
	require.False(t, ctx.IsMember("bob", "coop1"))

	ctx.AddMembership("bob", "coop1", map[string]string{"seat": "3"})
	require.True(t, ctx.IsMember("bob", "coop1"))
	require.False(t, ctx.IsMember("bob", "coop2"))
}

func TestDelegationsBasic(t *testing.T) {
	ctx := New("alice")
	require.NoError(t, ctx.Delegate("alice", "bob", "vote", nil))
	require.True(t, ctx.IsDelegate("alice", "bob"))
	require.False(t, ctx.IsDelegate("bob", "alice"))

	ctx.RemoveDelegation("alice", "bob")
	require.False(t, ctx.IsDelegate("alice", "bob"))
}

func TestDelegationRejectsSelf(t *testing.T) {
	ctx := New("alice")
	err := ctx.Delegate("alice", "alice", "vote", nil)
	require.ErrorIs(t, err, ErrSelfDelegation)
}

func TestDelegationRejectsCycle(t *testing.T) {
	ctx := New("alice")
	require.NoError(t, ctx.Delegate("alice", "bob", "vote", nil))
	require.NoError(t, ctx.Delegate("bob", "carol", "vote", nil))

	err := ctx.Delegate("carol", "alice", "vote", nil)
	require.ErrorIs(t, err, ErrDelegationCycle)
	require.False(t, ctx.IsDelegate("carol", "alice"))
}
