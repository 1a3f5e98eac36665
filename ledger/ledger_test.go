package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAssignsDeterministicID(t *testing.T) {
	l := New()
	id1, err := l.Append(nil, 100, ProposalCreated("p1", "Raise the roof"))
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	node, ok := l.FindByID(id1)
	require.True(t, ok)
	require.Equal(t, "p1", node.Data.ProposalID)

	recomputed, err := node.ComputeID()
	require.NoError(t, err)
	require.Equal(t, id1, recomputed)
}

func TestTraceFollowsParents(t *testing.T) {
	l := New()
	root, err := l.Append(nil, 1, ProposalCreated("p1", "Roof"))
	require.NoError(t, err)
	mid, err := l.Append([]string{root}, 2, VoteCast("p1", "alice", 0.0))
	require.NoError(t, err)
	leaf, err := l.Append([]string{mid}, 3, ProposalExecuted("p1", true))
	require.NoError(t, err)

	trace := l.Trace(leaf)
	require.Len(t, trace, 3)
	ids := map[string]bool{}
	for _, n := range trace {
		ids[n.ID] = true
	}
	require.True(t, ids[root])
	require.True(t, ids[mid])
	require.True(t, ids[leaf])
}

func TestTraceHandlesCyclesSafely(t *testing.T) {
	l := New()
	a, err := l.Append(nil, 1, ProposalCreated("p1", "A"))
	require.NoError(t, err)
	b, err := l.Append([]string{a}, 2, VoteCast("p1", "bob", 0.0))
	require.NoError(t, err)

	l.mu.Lock()
	for i := range l.nodes {
		if l.nodes[i].ID == a {
			l.nodes[i].ParentIDs = append(l.nodes[i].ParentIDs, b)
		}
	}
	l.mu.Unlock()

	trace := l.Trace(b)
	require.Len(t, trace, 2)
}

func TestWithPathPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	l, err := WithPath(path)
	require.NoError(t, err)
	id, err := l.Append(nil, 5, TokenMinted("credits", "alice", 10))
	require.NoError(t, err)

	reloaded, err := WithPath(path)
	require.NoError(t, err)
	node, ok := reloaded.FindByID(id)
	require.True(t, ok)
	require.Equal(t, "credits", node.Data.Resource)
}

func TestFindProposalAndVoteNodes(t *testing.T) {
	l := New()
	_, err := l.Append(nil, 1, ProposalCreated("p1", "Title"))
	require.NoError(t, err)
	_, err = l.Append(nil, 2, VoteCast("p1", "alice", 0.0))
	require.NoError(t, err)
	_, err = l.Append(nil, 3, VoteCast("p1", "bob", 1.0))
	require.NoError(t, err)

	propID, ok := l.FindProposalNodeID("p1")
	require.True(t, ok)
	require.NotEmpty(t, propID)

	votes := l.FindVoteNodesFor("p1")
	require.Len(t, votes, 2)
}
