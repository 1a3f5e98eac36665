// Command covmd wires together the storage engine, auth context, VM, and
// optional DAG ledger for a single-process cooperative-governance runtime.
// Argument parsing, identity/template file I/O, and the HTTP/JSON API
// surface are external collaborators (spec.md §1) and are deliberately not
// implemented here: this is the minimal wiring entrypoint the core needs,
// not a CLI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"covm/auth"
	"covm/config"
	"covm/ledger"
	"covm/observability/logging"
	"covm/observability/metrics"
	"covm/storage"
	"covm/vm"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := os.Getenv("COVM_ENV")
	logger := logging.Setup("covmd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	backend, err := openBackend(cfg)
	if err != nil {
		logger.Error("failed to open storage backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	engine := storage.NewEngine(backend)

	systemAuth := auth.New("system")
	systemAuth.GrantRole(auth.GlobalNamespace, auth.RoleAdmin, "system")

	if err := engine.CreateNamespace(systemAuth, cfg.Namespace, cfg.Storage.DefaultNamespaceQuotaBytes, "", nil); err != nil {
		if !storage.IsConflict(err) {
			logger.Error("failed to create default namespace", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dagLedger, err := openLedger(cfg)
	if err != nil {
		logger.Error("failed to open DAG ledger", slog.Any("error", err))
		os.Exit(1)
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New(prometheus.DefaultRegisterer)
	}

	machine := vm.New(engine, systemAuth, cfg.Namespace, vm.WithLedger(dagLedger))

	logger.Info("covmd ready",
		slog.String("namespace", cfg.Namespace),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.Bool("ledger_enabled", cfg.Ledger.Enabled),
		slog.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)
	_ = machine
	_ = reg

	fmt.Fprintln(os.Stdout, "covmd: runtime initialized; attach a proposal driver or embed this process to serve requests")
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return storage.NewMemBackend(), nil
	case "leveldb":
		return storage.NewLevelDBBackend(cfg.Storage.DataDir)
	default:
		return nil, fmt.Errorf("covmd: unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil
	}
	if cfg.Ledger.Path == "" {
		return ledger.New(), nil
	}
	return ledger.WithPath(cfg.Ledger.Path)
}
