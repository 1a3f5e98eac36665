package proposal

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"covm/auth"
	"covm/storage"
)

// VoteChoice is a cast ballot's decision.
type VoteChoice string

const (
	VoteYes     VoteChoice = "yes"
	VoteNo      VoteChoice = "no"
	VoteAbstain VoteChoice = "abstain"
)

// Vote is the JSON document stored at `proposals/{id}/votes/{voter_did}`.
type Vote struct {
	Voter        string     `json:"voter"`
	Choice       VoteChoice `json:"vote"`
	Timestamp    time.Time  `json:"timestamp"`
	DelegatedBy  string     `json:"delegated_by,omitempty"`
}

// Tally is the yes/no/abstain vote count for a proposal.
type Tally struct {
	Yes     uint64
	No      uint64
	Abstain uint64
}

// TallyVotes lists every key under `proposals/{id}/votes/`, decodes each as
// a Vote, and counts choices. Invalid vote strings and malformed keys are
// counted as zero and logged rather than failing the tally, matching the
// original driver's best-effort behavior.
func TallyVotes(ac *auth.Context, engine *storage.Engine, logger *slog.Logger, id string) (Tally, error) {
	prefix := votesPrefix(id)
	keys, err := engine.ListKeys(ac, governanceNamespace, prefix)
	if err != nil {
		return Tally{}, errStorage("TallyVotes", err)
	}

	var t Tally
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || strings.Contains(strings.TrimPrefix(key, prefix), "/") {
			logWarn(logger, "proposal: skipping unexpected key in votes directory", "key", key)
			continue
		}
		raw, err := engine.Get(ac, governanceNamespace, key)
		if err != nil {
			logWarn(logger, "proposal: error reading vote key", "key", key, "error", err)
			continue
		}
		var v Vote
		if err := json.Unmarshal(raw, &v); err != nil {
			logWarn(logger, "proposal: malformed vote payload", "key", key, "error", err)
			continue
		}
		switch v.Choice {
		case VoteYes:
			t.Yes++
		case VoteNo:
			t.No++
		case VoteAbstain:
			t.Abstain++
		default:
			logWarn(logger, "proposal: invalid vote choice", "key", key, "choice", v.Choice)
		}
	}
	return t, nil
}

func logWarn(logger *slog.Logger, msg string, args ...interface{}) {
	if logger == nil {
		return
	}
	logger.Warn(msg, args...)
}

// CheckPassed applies the passing rule: yes_votes >= threshold AND
// yes_votes+no_votes >= quorum. Abstentions are counted in neither term.
func (l *Lifecycle) CheckPassed(t Tally) bool {
	if t.Yes+t.No < l.Quorum {
		return false
	}
	return t.Yes >= l.Threshold
}
