package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/recur/internal/cascade"
	"github.com/roach88/recur/internal/config"
	"github.com/roach88/recur/internal/engine"
	"github.com/roach88/recur/internal/store"
)

// session is an open database with a running engine.
type session struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	done   chan error
}

// engineOptions derives engine options from cfg.
func engineOptions(cfg *config.Config) ([]engine.EngineOption, error) {
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	return []engine.EngineOption{
		engine.WithCalendar(cal),
		engine.WithGrace(cfg.Grace()),
		engine.WithSnooze(cfg.Snooze()),
		engine.WithCascade(cascade.New(cfg.CascadeCompletion)),
	}, nil
}

// openStore opens the configured database, creating its directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	if dir := filepath.Dir(cfg.Database); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	slog.Debug("opening database", "path", cfg.Database)
	return store.Open(cfg.Database)
}

// startEngine runs eng on ctx and waits until it is ready.
func startEngine(ctx context.Context, eng *engine.Engine) (chan error, error) {
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	select {
	case <-eng.Lifecycle().Ready():
		return done, nil
	case err := <-done:
		return nil, fmt.Errorf("engine exited before ready: %w", err)
	}
}

// openSession loads config, opens the store and starts an engine.
// extra options are applied after the configured ones.
func openSession(ctx context.Context, opts *RootOptions, extra ...engine.EngineOption) (*session, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	engOpts, err := engineOptions(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	eng := engine.New(st, append(engOpts, extra...)...)
	done, err := startEngine(ctx, eng)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitFailure, "engine error", err)
	}
	return &session{cfg: cfg, store: st, engine: eng, done: done}, nil
}

// Close stops the engine and closes the database.
func (s *session) Close() {
	s.engine.Stop()
	if err := <-s.done; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine stopped with error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
