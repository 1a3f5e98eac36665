package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"covm/auth"
)

func writerCtx(did, namespace string) *auth.Context {
	ac := auth.New(did)
	ac.GrantRole(namespace, auth.RoleWriter, did)
	ac.GrantRole(namespace, auth.RoleReader, did)
	ac.GrantRole(namespace, auth.RoleAdmin, did)
	return ac
}

func TestSetGetRoundTrip(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")

	info, err := e.Set(ac, "coop", "k", []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.Version)

	got, err := e.Get(ac, "coop", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	info2, err := e.Set(ac, "coop", "k", []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), info2.Version)

	versions, err := e.ListVersions(ac, "coop", "k")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	latest, latestInfo, err := e.GetVersioned(ac, "coop", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), latest)

	atLatest, info3, err := e.GetVersion(ac, "coop", "k", versions[len(versions)-1].Version)
	require.NoError(t, err)
	require.Equal(t, latest, atLatest)
	require.Equal(t, latestInfo.Version, info3.Version)
}

func TestPermissionDenied(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := auth.New("mallory")

	_, err := e.Set(ac, "coop", "k", []byte("v"))
	require.Error(t, err)
	var storageErr *Error
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, KindPermissionDenied, storageErr.Kind)
}

func TestDeletePurgesHistory(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")

	_, err := e.Set(ac, "coop", "k", []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, e.Delete(ac, "coop", "k"))

	ok, err := e.Contains(ac, "coop", "k")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = e.Get(ac, "coop", "k")
	require.Error(t, err)
	var storageErr *Error
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, KindNotFound, storageErr.Kind)
}

func TestQuotaBoundary(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")
	ac.GrantRole(auth.GlobalNamespace, auth.RoleAdmin, "alice") // CreateAccount requires global admin
	require.NoError(t, e.CreateAccount(ac, "alice", 4))

	_, err := e.Set(ac, "coop", "k", []byte("abcd"))
	require.NoError(t, err)

	_, err = e.Set(ac, "coop", "k2", []byte("x"))
	require.Error(t, err)
	var storageErr *Error
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, KindQuotaExceeded, storageErr.Kind)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")

	require.NoError(t, e.BeginTransaction(ac))
	_, err := e.Set(ac, "coop", "x", []byte("1"))
	require.NoError(t, err)

	ok, err := e.Contains(ac, "coop", "x")
	require.NoError(t, err)
	require.True(t, ok, "reads inside a transaction see its own writes")

	require.NoError(t, e.RollbackTransaction(ac))

	ok, err = e.Contains(ac, "coop", "x")
	require.NoError(t, err)
	require.False(t, ok, "rolled-back writes are not visible")

	require.NoError(t, e.BeginTransaction(ac))
	_, err = e.Set(ac, "coop", "y", []byte("1"))
	require.NoError(t, err)
	require.NoError(t, e.CommitTransaction(ac))

	ok, err = e.Contains(ac, "coop", "y")
	require.NoError(t, err)
	require.True(t, ok, "committed writes are visible")
}

func TestSecondBeginTransactionFails(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")
	require.NoError(t, e.BeginTransaction(ac))
	err := e.BeginTransaction(ac)
	require.Error(t, err)
	var storageErr *Error
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, KindTransactionError, storageErr.Kind)
}

func TestVersionConflict(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")

	_, err := e.SetJSON(ac, "coop", "k", map[string]int{"n": 1})
	require.NoError(t, err)

	_, err = e.SetJSON(ac, "coop", "k", map[string]int{"n": 2})
	require.NoError(t, err)

	expected := uint64(1)
	_, err = e.SetJSONVersioned(ac, "coop", "k", map[string]int{"n": 3}, &expected)
	require.Error(t, err)
	var storageErr *Error
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, KindVersionConflict, storageErr.Kind)
	require.Equal(t, uint64(2), storageErr.CurrentVersion)

	current := uint64(2)
	info, err := e.SetJSONVersioned(ac, "coop", "k", map[string]int{"n": 4}, &current)
	require.NoError(t, err)
	require.Equal(t, uint64(3), info.Version)
}

func TestListKeysPrefix(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")
	_, err := e.Set(ac, "coop", "proposals/1", []byte("a"))
	require.NoError(t, err)
	_, err = e.Set(ac, "coop", "proposals/2", []byte("b"))
	require.NoError(t, err)
	_, err = e.Set(ac, "coop", "members/x", []byte("c"))
	require.NoError(t, err)

	keys, err := e.ListKeys(ac, "coop", "proposals/")
	require.NoError(t, err)
	require.Equal(t, []string{"proposals/1", "proposals/2"}, keys)
}

func TestGovernancePrefixRequiresMemberForRead(t *testing.T) {
	e := NewEngine(NewMemBackend())
	admin := writerCtx("alice", "coop")
	_, err := e.Set(admin, "coop", "governance/policy", []byte("v"))
	require.NoError(t, err)

	outsider := auth.New("bob")
	outsider.GrantRole("coop", auth.RoleReader, "bob")
	_, err = e.Get(outsider, "coop", "governance/policy")
	require.Error(t, err)

	outsider.AddMembership("bob", "coop", nil)
	// membership alone does not grant a role; member role must be granted.
	outsider.GrantRole("coop", auth.RoleMember, "bob")
	_, err = e.Get(outsider, "coop", "governance/policy")
	require.NoError(t, err)
}

func TestCreateAccountIdempotentVsConflict(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")
	ac.GrantRole(auth.GlobalNamespace, auth.RoleAdmin, "alice") // CreateAccount requires global admin

	require.NoError(t, e.CreateAccount(ac, "alice", 100))
	require.NoError(t, e.CreateAccount(ac, "alice", 100))

	err := e.CreateAccount(ac, "alice", 200)
	require.Error(t, err)
	var storageErr *Error
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, KindConflictError, storageErr.Kind)
}

func TestVersionTimestampsNonDecreasing(t *testing.T) {
	e := NewEngine(NewMemBackend())
	ac := writerCtx("alice", "coop")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.SetNowFunc(func() time.Time { return base })

	_, err := e.Set(ac, "coop", "k", []byte("1"))
	require.NoError(t, err)
	base = base.Add(time.Second)
	_, err = e.Set(ac, "coop", "k", []byte("2"))
	require.NoError(t, err)

	versions, err := e.ListVersions(ac, "coop", "k")
	require.NoError(t, err)
	require.True(t, versions[0].Timestamp.Before(versions[1].Timestamp) || versions[0].Timestamp.Equal(versions[1].Timestamp))
}
