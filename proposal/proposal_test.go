package proposal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"covm/auth"
	"covm/storage"
	"covm/vm"
)

func governanceCtx(did string) *auth.Context {
	ac := auth.New(did)
	ac.GrantRole("governance", auth.RoleWriter, did)
	ac.GrantRole("governance", auth.RoleReader, did)
	ac.GrantRole("governance", auth.RoleAdmin, did)
	ac.GrantRole("governance", auth.RoleMember, did)
	return ac
}

func newDriver(t *testing.T) (*Driver, *Lifecycle) {
	t.Helper()
	engine := storage.NewEngine(storage.NewMemBackend())
	ac := governanceCtx("alice")
	vmInstance := vm.New(engine, ac, "governance")
	d := &Driver{Auth: ac, Storage: engine, VM: vmInstance}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New("prop-1", "alice", "Raise dues", 3, 2, nil, nil, now)
	return d, l
}

func castVote(t *testing.T, d *Driver, proposalID, voter string, choice VoteChoice, now time.Time) {
	t.Helper()
	v := Vote{Voter: voter, Choice: choice, Timestamp: now}
	_, err := d.Storage.SetJSON(d.Auth, governanceNamespace, "proposals/"+proposalID+"/votes/"+voter, v)
	require.NoError(t, err)
}

func TestLifecycleStateMachine(t *testing.T) {
	_, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	require.Equal(t, StateDraft, l.State)
	require.Len(t, l.History, 1)

	l.OpenForFeedback(now)
	require.Equal(t, StateOpenForFeedback, l.State)
	require.Len(t, l.History, 2)

	l.StartVoting(now, 3*24*time.Hour)
	require.Equal(t, StateVoting, l.State)
	require.NotNil(t, l.ExpiresAt)
	require.Len(t, l.History, 3)
}

func TestInvalidTransitionsAreSilentNoOps(t *testing.T) {
	_, l := newDriver(t)
	now := time.Now()

	// Can't start voting from Draft.
	l.StartVoting(now, time.Hour)
	require.Equal(t, StateDraft, l.State)
	require.Len(t, l.History, 1)
	require.Nil(t, l.ExpiresAt)

	l.OpenForFeedback(now)
	l.StartVoting(now, time.Hour)
	require.Equal(t, StateVoting, l.State)

	// Can't re-enter OpenForFeedback from Voting.
	stateBefore := l.State
	historyLenBefore := len(l.History)
	l.OpenForFeedback(now)
	require.Equal(t, stateBefore, l.State)
	require.Len(t, l.History, historyLenBefore)
}

func TestTransitionToExecutedPassesAndRunsLogic(t *testing.T) {
	d, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	l.OpenForFeedback(now)
	l.StartVoting(now, 24*time.Hour)

	castVote(t, d, l.ID, "alice", VoteYes, now)
	castVote(t, d, l.ID, "bob", VoteYes, now)
	castVote(t, d, l.ID, "carol", VoteNo, now)

	_, err := d.Storage.Set(d.Auth, governanceNamespace, logicKey(l.ID), []byte("push 1\nstorep counter\n"))
	require.NoError(t, err)

	executed, err := d.TransitionToExecuted(l, now)
	require.NoError(t, err)
	require.True(t, executed)
	require.Equal(t, StateExecuted, l.State)
	require.NotNil(t, l.ExecutionStatus)
	require.True(t, l.ExecutionStatus.Success)

	got, err := d.Storage.Get(d.Auth, "governance", "counter")
	require.NoError(t, err)
	require.Equal(t, "1", string(got))
}

func TestTransitionToExecutedFailsQuorum(t *testing.T) {
	d, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	l.OpenForFeedback(now)
	l.StartVoting(now, 24*time.Hour)

	castVote(t, d, l.ID, "alice", VoteYes, now)

	executed, err := d.TransitionToExecuted(l, now)
	require.NoError(t, err)
	require.False(t, executed)
	require.Equal(t, StateVoting, l.State)
}

func TestTransitionToExecutedRollsBackOnLogicFailure(t *testing.T) {
	d, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	l.OpenForFeedback(now)
	l.StartVoting(now, 24*time.Hour)

	castVote(t, d, l.ID, "alice", VoteYes, now)
	castVote(t, d, l.ID, "bob", VoteYes, now)
	castVote(t, d, l.ID, "carol", VoteNo, now)

	// storep with an empty stack fails, forcing a rollback.
	_, err := d.Storage.Set(d.Auth, governanceNamespace, logicKey(l.ID), []byte("storep x\n"))
	require.NoError(t, err)

	executed, err := d.TransitionToExecuted(l, now)
	require.NoError(t, err)
	require.True(t, executed)
	require.Equal(t, StateExecuted, l.State)
	require.False(t, l.ExecutionStatus.Success)

	exists, err := d.Storage.Contains(d.Auth, "governance", "x")
	require.NoError(t, err)
	require.False(t, exists, "failed fork execution must not leave partial writes")
}

func TestTransitionToExecutedEmptyLogicIsSuccess(t *testing.T) {
	d, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	l.OpenForFeedback(now)
	l.StartVoting(now, 24*time.Hour)

	castVote(t, d, l.ID, "alice", VoteYes, now)
	castVote(t, d, l.ID, "bob", VoteYes, now)
	castVote(t, d, l.ID, "carol", VoteNo, now)

	executed, err := d.TransitionToExecuted(l, now)
	require.NoError(t, err)
	require.True(t, executed)
	require.True(t, l.ExecutionStatus.Success)
}

func TestTransitionToRejected(t *testing.T) {
	d, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	l.OpenForFeedback(now)
	l.StartVoting(now, 24*time.Hour)

	castVote(t, d, l.ID, "alice", VoteNo, now)
	castVote(t, d, l.ID, "bob", VoteNo, now)
	castVote(t, d, l.ID, "carol", VoteYes, now)

	rejected, err := d.TransitionToRejected(l, now)
	require.NoError(t, err)
	require.True(t, rejected)
	require.Equal(t, StateRejected, l.State)
}

func TestTransitionToExpired(t *testing.T) {
	d, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	l.OpenForFeedback(now)
	l.StartVoting(now, time.Hour)

	later := now.Add(2 * time.Hour)
	expired, err := d.TransitionToExpired(l, later)
	require.NoError(t, err)
	require.True(t, expired)
	require.Equal(t, StateExpired, l.State)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	d, l := newDriver(t)
	require.NoError(t, l.Save(d.Auth, d.Storage))

	loaded, err := Load(d.Auth, d.Storage, l.ID)
	require.NoError(t, err)
	require.Equal(t, l.ID, loaded.ID)
	require.Equal(t, l.CreatorDID, loaded.CreatorDID)
	require.Equal(t, l.State, loaded.State)
}
