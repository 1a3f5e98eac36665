package proposal

import (
	"fmt"
	"time"

	"covm/auth"
	"covm/storage"
)

// State is one position in the proposal state machine.
type State int

const (
	StateDraft State = iota
	StateOpenForFeedback
	StateVoting
	StateExecuted
	StateRejected
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateDraft:
		return "Draft"
	case StateOpenForFeedback:
		return "OpenForFeedback"
	case StateVoting:
		return "Voting"
	case StateExecuted:
		return "Executed"
	case StateRejected:
		return "Rejected"
	case StateExpired:
		return "Expired"
	default:
		return "Unspecified"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *State) UnmarshalJSON(b []byte) error {
	str := string(b)
	if len(str) >= 2 && str[0] == '"' {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "Draft":
		*s = StateDraft
	case "OpenForFeedback":
		*s = StateOpenForFeedback
	case "Voting":
		*s = StateVoting
	case "Executed":
		*s = StateExecuted
	case "Rejected":
		*s = StateRejected
	case "Expired":
		*s = StateExpired
	default:
		return fmt.Errorf("proposal: unknown state %q", str)
	}
	return nil
}

// ExecutionStatus records the outcome of a proposal's logic execution.
type ExecutionStatus struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// HistoryEntry is one recorded state transition.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
}

// Lifecycle is the persisted proposal record, matching the storage schema's
// `proposals/{id}/lifecycle` document.
type Lifecycle struct {
	ID                   string        `json:"id"`
	CreatorDID           string        `json:"creator"`
	CreatedAt            time.Time     `json:"created_at"`
	State                State         `json:"state"`
	Title                string        `json:"title"`
	Quorum               uint64        `json:"quorum"`
	Threshold            uint64        `json:"threshold"`
	ExpiresAt            *time.Time    `json:"expires_at,omitempty"`
	DiscussionDuration   *time.Duration `json:"discussion_duration,omitempty"`
	RequiredParticipants *uint64       `json:"required_participants,omitempty"`
	CurrentVersion       uint64        `json:"current_version"`
	History              []HistoryEntry `json:"history"`
	ExecutionStatus      *ExecutionStatus `json:"execution_status,omitempty"`
}

const governanceNamespace = "governance"

func lifecycleKey(id string) string     { return fmt.Sprintf("proposals/%s/lifecycle", id) }
func metadataKey(id string) string      { return fmt.Sprintf("proposals/%s", id) }
func descriptionKey(id string) string   { return fmt.Sprintf("proposals/%s/description", id) }
func logicKey(id string) string         { return fmt.Sprintf("proposals/%s/logic", id) }
func votesPrefix(id string) string      { return fmt.Sprintf("proposals/%s/votes/", id) }

// New creates a Draft-state Lifecycle. now is the caller-supplied clock
// reading so callers remain in control of time (this package performs no
// wall-clock reads of its own).
func New(id, creatorDID, title string, quorum, threshold uint64, discussionDuration *time.Duration, requiredParticipants *uint64, now time.Time) *Lifecycle {
	return &Lifecycle{
		ID:                   id,
		CreatorDID:           creatorDID,
		CreatedAt:            now,
		State:                StateDraft,
		Title:                title,
		Quorum:               quorum,
		Threshold:            threshold,
		DiscussionDuration:   discussionDuration,
		RequiredParticipants: requiredParticipants,
		CurrentVersion:       1,
		History:              []HistoryEntry{{Timestamp: now, State: StateDraft}},
	}
}

// Save persists the lifecycle record to `proposals/{id}/lifecycle`.
func (l *Lifecycle) Save(ac *auth.Context, engine *storage.Engine) error {
	if _, err := engine.SetJSON(ac, governanceNamespace, lifecycleKey(l.ID), l); err != nil {
		return errStorage("Save", err)
	}
	return nil
}

// Load reads a lifecycle record previously written by Save.
func Load(ac *auth.Context, engine *storage.Engine, id string) (*Lifecycle, error) {
	var l Lifecycle
	if _, err := engine.GetJSON(ac, governanceNamespace, lifecycleKey(id), &l); err != nil {
		return nil, errStorage("Load", err)
	}
	return &l, nil
}

func (l *Lifecycle) appendHistory(now time.Time) {
	l.History = append(l.History, HistoryEntry{Timestamp: now, State: l.State})
}

// OpenForFeedback transitions Draft -> OpenForFeedback. Any other starting
// state is a silent no-op: no state change, no history entry, matching the
// original driver's Draft-only guard.
func (l *Lifecycle) OpenForFeedback(now time.Time) {
	if l.State != StateDraft {
		return
	}
	l.State = StateOpenForFeedback
	l.appendHistory(now)
}

// StartVoting transitions OpenForFeedback -> Voting and sets expires_at to
// now+votingDuration. A silent no-op outside OpenForFeedback.
func (l *Lifecycle) StartVoting(now time.Time, votingDuration time.Duration) {
	if l.State != StateOpenForFeedback {
		return
	}
	l.State = StateVoting
	expiry := now.Add(votingDuration)
	l.ExpiresAt = &expiry
	l.appendHistory(now)
}

// UpdateVersion bumps the content version without moving state, recording a
// history entry at the (unchanged) current state.
func (l *Lifecycle) UpdateVersion(now time.Time) {
	l.CurrentVersion++
	l.appendHistory(now)
}

// IsExpired reports whether the voting window has elapsed.
func (l *Lifecycle) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}
