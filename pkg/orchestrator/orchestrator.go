// Package orchestrator wires the engine together: configuration, state
// database, blob store, transfer client, session manager, event bus and
// hooks. It is the composition root consumed by the CLI and by embedders.
package orchestrator

import (
	"context"

	"github.com/glorpus-work/modelstore/internal/logger"
	"github.com/glorpus-work/modelstore/pkg/config"
	"github.com/glorpus-work/modelstore/pkg/download"
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/events"
	"github.com/glorpus-work/modelstore/pkg/hardware"
	"github.com/glorpus-work/modelstore/pkg/hook"
	"github.com/glorpus-work/modelstore/pkg/model"
	"github.com/glorpus-work/modelstore/pkg/session"
	"github.com/glorpus-work/modelstore/pkg/store"
	"github.com/glorpus-work/modelstore/pkg/store/database"
	"github.com/glorpus-work/modelstore/pkg/verify"
)

// Engine is the assembled model acquisition engine.
type Engine struct {
	Config   *config.Config
	DB       *database.Database
	Store    store.Manager
	Sessions session.Manager
	Bus      events.Bus
	Hooks    hook.Executor
}

// New assembles an engine from configuration. A nil quota checker allows
// every download.
func New(cfg *config.Config, quota session.QuotaChecker) (*Engine, error) {
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open state database")
	}

	hw, err := hardware.NewDetector().Detect(context.Background())
	if err != nil {
		logger.Warn("hardware detection failed", logger.Fields{"error": err.Error()})
	}

	st, err := store.NewManager(db, store.Options{
		BlobsDir:            cfg.GetBlobsDir(),
		PartialDir:          cfg.GetPartialDir(),
		FreeThresholdBytes:  cfg.Settings.FreeSpaceThresholdBytes,
		NeverUsedGraceDays:  cfg.Settings.NeverUsedGraceDays,
		HardwareBudgetBytes: hw.UsableBytes(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to initialize storage")
	}

	bus := events.NewInMemoryBus(256)
	hooks := hook.NewExecutor(cfg.Settings.HooksDir)
	client := download.NewHTTPClient(cfg.Settings.HTTPTimeout, cfg.Settings.UserAgent)

	sessions := session.NewManager(db, st, verify.NewVerifier(), client, bus, hooks, quota, session.Options{
		PartialDir: cfg.GetPartialDir(),
		Transfer: download.Options{
			ChunkSize:      cfg.Settings.ChunkSizeBytes,
			Workers:        cfg.Settings.ChunkWorkers,
			Retries:        cfg.Settings.ChunkRetries,
			RetryBaseDelay: cfg.Settings.RetryBaseDelay,
		},
		MaxConcurrent:           cfg.Settings.MaxConcurrentDownloads,
		ProgressEventsPerSecond: cfg.Settings.ProgressEventsPerSecond,
	})

	return &Engine{
		Config:   cfg,
		DB:       db,
		Store:    st,
		Sessions: sessions,
		Bus:      bus,
		Hooks:    hooks,
	}, nil
}

// Start recovers persisted sessions and launches the admission dispatcher.
// It returns immediately; the dispatcher runs until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Sessions.Recover(ctx); err != nil {
		return pkgerrors.Wrap(err, "session recovery failed")
	}
	go e.Sessions.Run(ctx)
	return nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	e.Bus.Close()
	return e.DB.Close()
}

// Pull submits a download request.
func (e *Engine) Pull(ctx context.Context, req *model.DownloadRequest) (*model.DownloadSession, error) {
	return e.Sessions.Submit(ctx, req)
}

// RemoveModel runs the pre-remove hook and deletes the manifest. The blob is
// reclaimed when it was the last reference. A pre-remove hook failure aborts
// the removal.
func (e *Engine) RemoveModel(ctx context.Context, name string) error {
	manifest, err := e.Store.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := e.Hooks.ExecuteHook(hook.PreRemove, &hook.Context{
		ModelName:    manifest.Name,
		ModelVersion: manifest.Version,
		Operation:    "remove",
		BlobPath:     manifest.BlobPath,
		Format:       manifest.Format,
		SizeBytes:    manifest.SizeBytes,
	}); err != nil {
		return err
	}
	return e.Store.Remove(ctx, name)
}
