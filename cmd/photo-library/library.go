package main

import (
	"context"
	"fmt"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/fileaccess"
	"github.com/prismon/photo-library/pkg/home"
	"github.com/prismon/photo-library/pkg/library"
	"github.com/prismon/photo-library/pkg/store"
	"github.com/prismon/photo-library/pkg/tasks"
	"github.com/prismon/photo-library/pkg/workers"
	"github.com/sirupsen/logrus"
)

// libraryRuntime is an engine restored from the home directory's database
type libraryRuntime struct {
	home   *home.Manager
	cfg    *home.Config
	files  *fileaccess.OS
	engine *library.Engine
	store  *store.Store
}

// openLibrary initializes the home directory if needed, opens the database
// and restores the saved library into a new engine. Tasks left running by a
// previous process go back to pending.
func openLibrary(ctx context.Context, mgr *home.Manager, cfg *home.Config) (*libraryRuntime, error) {
	if err := mgr.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize home directory: %w", err)
	}

	dbPath := mgr.ResolveDatabasePath(cfg)
	storeCfg := store.DefaultConfig()
	if d := cfg.Database.BusyTimeout(); d > 0 {
		storeCfg.BusyTimeout = d
	}
	st, err := store.Open(dbPath, storeCfg)
	if err != nil {
		return nil, err
	}

	files := fileaccess.NewOS()
	opts := library.DefaultOptions(files)
	opts.Settings = settingsFromConfig(cfg.Library)
	if d := cfg.Tasks.RetryBaseDelay(); d > 0 {
		opts.RetryPolicy.BaseDelay = d
	}
	if d := cfg.Tasks.PollInterval(); d > 0 {
		opts.PollInterval = d
	}
	engine := library.New(opts)

	rt := &libraryRuntime{home: mgr, cfg: cfg, files: files, engine: engine, store: st}

	snap, found, err := st.Load(ctx)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to load library: %w", err)
	}
	if found {
		if err := engine.Restore(ctx, snap); err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to restore library: %w", err)
		}
		recovered, err := engine.RecoverInterrupted(ctx)
		if err != nil {
			rt.close()
			return nil, err
		}
		if recovered > 0 {
			log.WithField("tasks", recovered).Info("Recovered interrupted tasks")
		}
	}

	// Face tasks would wait forever without a worker to run them
	if engine.Settings().FacesEnabled && !rt.dispatcher().Supports(models.TaskFaces) {
		log.Warn("No face detection worker available, disabling face detection")
		if err := engine.SetFacesEnabled(ctx, false); err != nil {
			rt.close()
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"database": dbPath,
		"assets":   len(engine.Snapshot().Assets),
		"restored": found,
	}).Debug("Library opened")
	return rt, nil
}

func settingsFromConfig(c home.LibraryConfig) library.Settings {
	settings := library.DefaultSettings()
	settings.LocalOnlyMode = c.LocalOnlyMode
	settings.FacesEnabled = c.Faces
	if c.AIProvider == "" {
		return settings
	}
	p, err := models.ParseAIProvider(c.AIProvider)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"aiProvider": c.AIProvider,
			"default":    settings.AIProvider,
		}).Warn("Unknown AI provider in config, using default")
		return settings
	}
	settings.AIProvider = p
	return settings
}

// dispatcher runs the local workers with the configured concurrency.
// AI kinds have no local worker and stay pending until a provider is attached.
func (rt *libraryRuntime) dispatcher() *tasks.Dispatcher {
	cfg := tasks.DefaultDispatcherConfig()
	if rt.cfg.Tasks.Workers > 0 {
		cfg.Workers = rt.cfg.Tasks.Workers
	}
	for kind, d := range rt.cfg.Tasks.Timeouts() {
		cfg.Timeouts[kind] = d
	}

	thumbs := workers.DefaultThumbnailConfig(rt.home.ThumbnailsPath())
	thumbs.MaxWidth = rt.cfg.Thumbnails.MaxWidth
	thumbs.MaxHeight = rt.cfg.Thumbnails.MaxHeight
	thumbs.Quality = rt.cfg.Thumbnails.Quality

	return tasks.NewDispatcher(rt.engine, cfg, workers.Standard(rt.files, thumbs)...)
}

func (rt *libraryRuntime) save(ctx context.Context) error {
	if err := rt.store.Save(ctx, rt.engine.Snapshot()); err != nil {
		return fmt.Errorf("failed to save library: %w", err)
	}
	return nil
}

func (rt *libraryRuntime) close() {
	rt.engine.Close()
	if err := rt.store.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}
