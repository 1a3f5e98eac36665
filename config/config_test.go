package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covm.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "governance", cfg.Namespace)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, uint64(3), cfg.Proposal.Quorum)
	require.Equal(t, uint64(2), cfg.Proposal.Threshold)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "default config file should be written to disk")

	var reloaded Config
	_, err = toml.DecodeFile(path, &reloaded)
	require.NoError(t, err)
	require.Equal(t, *cfg, reloaded)
}

func TestLoadParsesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covm.toml")

	contents := `Namespace = "acme"

[Storage]
Backend = "leveldb"
DataDir = "/var/lib/covm"
DefaultNamespaceQuotaBytes = 1048576

[Proposal]
Quorum = 10
Threshold = 6
DiscussionDuration = "48h"
VotingDuration = "24h"

[Ledger]
Enabled = true
Path = "/var/lib/covm/ledger.jsonl"

[Metrics]
Enabled = false
ListenAddress = ""
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.Namespace)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Equal(t, uint64(10), cfg.Proposal.Quorum)
	require.Equal(t, uint64(6), cfg.Proposal.Threshold)
	require.Equal(t, 48*time.Hour, cfg.DiscussionDurationValue())
	require.Equal(t, 24*time.Hour, cfg.VotingDurationValue())
	require.False(t, cfg.Metrics.Enabled)
}

func TestDurationValueFallbacks(t *testing.T) {
	cfg := Config{}
	require.Equal(t, time.Duration(0), cfg.DiscussionDurationValue())
	require.Equal(t, 72*time.Hour, cfg.VotingDurationValue())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Config{Storage: StorageConfig{Backend: "postgres"}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsLevelDBWithoutDataDir(t *testing.T) {
	cfg := Config{Storage: StorageConfig{Backend: "leveldb"}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsThresholdAboveQuorum(t *testing.T) {
	cfg := Config{
		Storage:  StorageConfig{Backend: "memory"},
		Proposal: ProposalDefaults{Quorum: 2, Threshold: 5},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsMalformedDurations(t *testing.T) {
	base := Config{
		Storage:  StorageConfig{Backend: "memory"},
		Proposal: ProposalDefaults{Quorum: 5, Threshold: 2},
	}

	withBadDiscussion := base
	withBadDiscussion.Proposal.DiscussionDuration = "not-a-duration"
	require.Error(t, withBadDiscussion.Validate())

	withBadVoting := base
	withBadVoting.Proposal.VotingDuration = "not-a-duration"
	require.Error(t, withBadVoting.Validate())
}

func TestValidateRejectsLedgerEnabledWithoutPath(t *testing.T) {
	cfg := Config{
		Storage:  StorageConfig{Backend: "memory"},
		Proposal: ProposalDefaults{Quorum: 5, Threshold: 2},
		Ledger:   LedgerConfig{Enabled: true, Path: ""},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := createDefault(filepath.Join(dir, "covm.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}
