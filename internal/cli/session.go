package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GrigorianNick/multiverse-simulator/internal/api"
	"github.com/GrigorianNick/multiverse-simulator/internal/config"
	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/manager"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/seed"
	"github.com/GrigorianNick/multiverse-simulator/internal/store"
)

// environment is the loaded configuration and the logger built from it.
type environment struct {
	loader *config.Loader
	cfg    config.Config
	level  *slog.LevelVar
	logger *slog.Logger
}

// loadEnvironment reads configuration and builds the process logger.
// Logs go to stderr so they never mix with command output.
func loadEnvironment(cmd *cobra.Command, opts *RootOptions) (*environment, error) {
	loader, err := config.NewLoader(opts.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	cfg, err := loader.Config()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	level := new(slog.LevelVar)
	logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr(), level)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	return &environment{loader: loader, cfg: cfg, level: level, logger: logger}, nil
}

// session is an opened store with a manager owning the multiverse in it.
type session struct {
	backend store.Backend
	manager *manager.Manager
	client  *manager.Client
	logger  *slog.Logger
	running bool
}

// openSession opens the configured store and multiverse. The manager is
// not running yet.
func openSession(ctx context.Context, env *environment) (s *session, err error) {
	backend, err := store.Open(env.cfg.StoreOptions(env.logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, backend.Close())
		}
	}()

	gen := handle.UUIDv4Generator{}
	nodes, err := store.OpenObjects[multiverse.Node](backend, store.TableNodes, gen)
	if err != nil {
		return nil, err
	}
	universes, err := store.OpenObjects[physics.Universe](backend, store.TableUniverses, gen)
	if err != nil {
		return nil, err
	}

	mvOpts := []multiverse.Option{
		multiverse.WithStepper(env.cfg.Physics.Stepper()),
		multiverse.WithGenerator(gen),
		multiverse.WithMaxDuration(env.cfg.Limits.MaxDuration),
		multiverse.WithLogger(env.logger),
	}
	if env.cfg.Seed.File != "" {
		sc, err := seed.Load(env.cfg.Seed.File)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load seed", err)
		}
		patches, err := sc.Patches()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load seed", err)
		}
		mvOpts = append(mvOpts, multiverse.WithSeed(patches))
	}

	mv, err := multiverse.Open(ctx, nodes, universes, mvOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open multiverse: %w", err)
	}

	m := manager.New(mv, manager.WithLogger(env.logger))
	env.logger.Debug("session opened",
		"backend", env.cfg.Store.Backend,
		"path", env.cfg.Store.Path,
		"root", mv.Root().String(),
	)
	return &session{backend: backend, manager: m, client: m.Client(), logger: env.logger}, nil
}

// run executes the manager loop. It returns once the manager is stopped.
func (s *session) run(ctx context.Context) error {
	return s.manager.Run(ctx)
}

// start runs the manager in the background until Close.
func (s *session) start(ctx context.Context) {
	s.running = true
	go func() { _ = s.run(context.WithoutCancel(ctx)) }()
}

// Close stops the manager, waits for it if it was started, and closes the
// store.
func (s *session) Close() error {
	s.manager.Stop()
	if s.running {
		<-s.manager.Done()
	}
	return s.backend.Close()
}

// withClient runs fn against a running manager for the configured store.
// Failures are reported through the formatter.
func withClient(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, f *OutputFormatter, c *manager.Client) error) (err error) {
	f := newFormatter(cmd, opts)

	env, err := loadEnvironment(cmd, opts)
	if err != nil {
		return f.Fail("configuration", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx, env)
	if err != nil {
		return f.Fail("open", err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			env.logger.Error("error closing store", "error", closeErr)
			if err == nil {
				err = WrapExitError(ExitFailure, "failed to close store", closeErr)
			}
		}
	}()
	s.start(ctx)

	return fn(ctx, f, s.client)
}

// parseHandleArg parses a node handle given on the command line.
func parseHandleArg(f *OutputFormatter, arg string) (handle.Handle, error) {
	h, err := handle.Parse(arg)
	if err == nil && h.IsZero() {
		err = fmt.Errorf("zero handle")
	}
	if err != nil {
		return handle.Nil, f.report(api.CodeInvalidHandle, ExitCommandError, fmt.Sprintf("invalid handle %q", arg), err, nil)
	}
	return h, nil
}
