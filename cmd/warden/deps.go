package main

import (
	"fmt"

	"github.com/odvcencio/warden/pkg/config"
	"github.com/odvcencio/warden/pkg/guard"
	"github.com/odvcencio/warden/pkg/identity"
	"github.com/odvcencio/warden/pkg/logging"
	"github.com/odvcencio/warden/pkg/paths"
	"github.com/odvcencio/warden/pkg/permission"
	"github.com/odvcencio/warden/pkg/runlog"
	"github.com/odvcencio/warden/pkg/secretstore"
	"github.com/odvcencio/warden/pkg/storage"
	"github.com/odvcencio/warden/pkg/toolrunner"
	"github.com/odvcencio/warden/pkg/tools"
)

// deps bundles every collaborator the CLI's subcommands need, wired once
// per invocation.
type deps struct {
	cfg     *config.Config
	store   *storage.Store
	secrets *secretstore.Store
	log     *logging.Logger
	broker  *permission.Broker
	ident   *identity.Accessor
	watcher *identity.Watcher
	guard   *guard.Guard
	runlog  *runlog.Writer
	runner  *toolrunner.Runner
}

func initDependencies() (*deps, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = paths.BaseDir()
	}

	store, err := storage.New(paths.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	secrets, err := secretstore.Open(store, paths.SecretKeyPath())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open secret store: %w", err)
	}

	log, err := logging.NewLogger(paths.LogsDir(), "warden")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open logger: %w", err)
	}

	broker := permission.New(store)
	ident := identity.New(store)

	watcher, err := identity.WatchPolicyFiles(ident, log, paths.BaseDir())
	if err != nil {
		log.Warn(logging.CategoryConfig, "cli.policy_watch_failed", "could not watch policy directory", map[string]any{"error": err.Error()})
	}

	g := guard.New(broker, ident, log)
	rl := runlog.New(store, cfg)

	workerArgv, err := resolveWorkerArgv()
	if err != nil {
		log.Warn(logging.CategoryConfig, "cli.worker_unresolved", "warden-worker binary not found; tool execution will fail", map[string]any{"error": err.Error()})
	}

	runner := toolrunner.New(toolrunner.Config{
		Guard:      g,
		Broker:     broker,
		Ident:      ident,
		Plugins:    tools.NewPluginRegistry(),
		RunLog:     rl,
		Settings:   cfg,
		Log:        log,
		WorkerArgv: workerArgv,
		DataDir:    cfg.DataDir,
	})

	return &deps{
		cfg:     cfg,
		store:   store,
		secrets: secrets,
		log:     log,
		broker:  broker,
		ident:   ident,
		watcher: watcher,
		guard:   g,
		runlog:  rl,
		runner:  runner,
	}, nil
}

func (d *deps) Close() {
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}
