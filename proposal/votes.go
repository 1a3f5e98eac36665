package proposal

import (
	"time"

	"covm/auth"
	"covm/storage"
)

func voteKey(id, voterDID string) string { return votesPrefix(id) + voterDID }

// CastVote records voter's ballot for a proposal at
// `proposals/{id}/votes/{voter_did}`. Re-casting the same voter's vote
// overwrites the prior value in place rather than adding a second ballot,
// since the key is the voter's DID: TallyVotes always sees at most one
// ballot per DID regardless of how many times CastVote is called.
func CastVote(ac *auth.Context, engine *storage.Engine, proposalID, voterDID string, choice VoteChoice, delegatedBy string, now time.Time) error {
	v := Vote{Voter: voterDID, Choice: choice, Timestamp: now, DelegatedBy: delegatedBy}
	if _, err := engine.SetJSON(ac, governanceNamespace, voteKey(proposalID, voterDID), v); err != nil {
		return errStorage("CastVote", err)
	}
	return nil
}

// LoadVote reads back a single voter's recorded ballot, if any.
func LoadVote(ac *auth.Context, engine *storage.Engine, proposalID, voterDID string) (Vote, error) {
	var v Vote
	if _, err := engine.GetJSON(ac, governanceNamespace, voteKey(proposalID, voterDID), &v); err != nil {
		return Vote{}, errStorage("LoadVote", err)
	}
	return v, nil
}
