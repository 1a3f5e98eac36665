package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// StorageConfig controls which Backend the storage engine opens and the
// byte quota cmd/covmd gives the default namespace it creates.
type StorageConfig struct {
	Backend                    string `toml:"Backend"`
	DataDir                    string `toml:"DataDir"`
	DefaultNamespaceQuotaBytes uint64 `toml:"DefaultNamespaceQuotaBytes"`
}

// ProposalDefaults holds default proposal policy values. They are loaded and
// validated here; no package in this module applies them to proposals.
type ProposalDefaults struct {
	Quorum             uint64 `toml:"Quorum"`
	Threshold          uint64 `toml:"Threshold"`
	DiscussionDuration string `toml:"DiscussionDuration"`
	VotingDuration     string `toml:"VotingDuration"`
}

// LedgerConfig controls whether proposal transitions are recorded to an
// append-only DAG ledger and where it persists.
type LedgerConfig struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}

// MetricsConfig controls whether Prometheus counters are registered.
// ListenAddress is read from the file; cmd/covmd starts no listener on it.
type MetricsConfig struct {
	Enabled      bool   `toml:"Enabled"`
	ListenAddress string `toml:"ListenAddress"`
}

type Config struct {
	Namespace string           `toml:"Namespace"`
	Storage   StorageConfig    `toml:"Storage"`
	Proposal  ProposalDefaults `toml:"Proposal"`
	Ledger    LedgerConfig     `toml:"Ledger"`
	Metrics   MetricsConfig    `toml:"Metrics"`
}

// DiscussionDurationValue parses Proposal.DiscussionDuration, falling back
// to zero (no mandatory deliberation window) if unset or unparsable.
func (c Config) DiscussionDurationValue() time.Duration {
	d, err := time.ParseDuration(c.Proposal.DiscussionDuration)
	if err != nil {
		return 0
	}
	return d
}

// VotingDurationValue parses Proposal.VotingDuration, falling back to 72h
// if unset or unparsable.
func (c Config) VotingDurationValue() time.Duration {
	d, err := time.ParseDuration(c.Proposal.VotingDuration)
	if err != nil {
		return 72 * time.Hour
	}
	return d
}

// Load loads the configuration from the given path, creating a default
// configuration file there if none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Namespace: "governance",
		Storage: StorageConfig{
			Backend:                    "memory",
			DataDir:                    "./covm-data",
			DefaultNamespaceQuotaBytes: 16 << 20,
		},
		Proposal: ProposalDefaults{
			Quorum:             3,
			Threshold:          2,
			DiscussionDuration: "168h",
			VotingDuration:     "72h",
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "./covm-data/ledger.jsonl",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
		},
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
