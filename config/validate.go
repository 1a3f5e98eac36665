package config

import (
	"fmt"
	"time"
)

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "leveldb":
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "leveldb" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage: DataDir required for leveldb backend")
	}
	if c.Proposal.Threshold > c.Proposal.Quorum {
		return fmt.Errorf("proposal: threshold > quorum")
	}
	if c.Proposal.DiscussionDuration != "" {
		if _, err := time.ParseDuration(c.Proposal.DiscussionDuration); err != nil {
			return fmt.Errorf("proposal: invalid DiscussionDuration: %w", err)
		}
	}
	if c.Proposal.VotingDuration != "" {
		if _, err := time.ParseDuration(c.Proposal.VotingDuration); err != nil {
			return fmt.Errorf("proposal: invalid VotingDuration: %w", err)
		}
	}
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger: Path required when enabled")
	}
	return nil
}
