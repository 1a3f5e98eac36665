package proposal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCastVoteOverwritesPriorBallot(t *testing.T) {
	d, l := newDriver(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, CastVote(d.Auth, d.Storage, l.ID, "alice", VoteNo, "", now))
	require.NoError(t, CastVote(d.Auth, d.Storage, l.ID, "alice", VoteYes, "", now))

	tally, err := TallyVotes(d.Auth, d.Storage, nil, l.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tally.Yes)
	require.Equal(t, uint64(0), tally.No)

	got, err := LoadVote(d.Auth, d.Storage, l.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, VoteYes, got.Choice)
}

func TestAttachmentRoundTrip(t *testing.T) {
	d, l := newDriver(t)

	require.NoError(t, SaveAttachment(d.Auth, d.Storage, l.ID, "budget.csv", []byte("a,b,c")))
	require.NoError(t, SaveAttachment(d.Auth, d.Storage, l.ID, NewAttachmentName(), []byte("generated-name")))

	names, err := ListAttachments(d.Auth, d.Storage, l.ID)
	require.NoError(t, err)
	require.Len(t, names, 2)
	require.Contains(t, names, "budget.csv")

	data, err := LoadAttachment(d.Auth, d.Storage, l.ID, "budget.csv")
	require.NoError(t, err)
	require.Equal(t, "a,b,c", string(data))
}
