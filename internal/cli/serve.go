package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GrigorianNick/multiverse-simulator/internal/api"
	"github.com/GrigorianNick/multiverse-simulator/internal/schema"
	"github.com/GrigorianNick/multiverse-simulator/internal/telemetry"
)

// shutdownTimeout bounds how long in-flight requests may run after a stop
// signal.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// OnListen, if set, is called with the bound address once the listener
	// is open. Used by tests that listen on port 0.
	OnListen func(net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	return newServeCommand(opts)
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the multiverse over HTTP",
		Long: `Open the configured store and serve the node API.

Endpoints:
  GET  /v1/nodes                      list node handles
  GET  /v1/nodes/:id                  node links and patches
  GET  /v1/nodes/:id/universe         resolved state
  GET  /v1/nodes/:id/timeline         states from the root down to the node
  GET  /v1/nodes/:id/children         successor and branch children
  POST /v1/nodes/:id/advance          {"duration": N}
  POST /v1/nodes/:id/branch           {"duration": N, "patches": [...]}
  POST /v1/nodes/:id/patches          {"patches": [...]}
  GET  /v1/schema/patch               OpenAPI document for request bodies
  GET  /health
  GET  /metrics

The server stops on SIGINT or SIGTERM after in-flight requests finish.

Examples:
  multiverse serve
  multiverse serve --addr :9090 --config ./multiverse.toml
  MULTIVERSE_STORE_BACKEND=badger MULTIVERSE_STORE_PATH=./data multiverse serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) (err error) {
	env, err := loadEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	logger := env.logger
	if opts.Addr != "" {
		env.cfg.Server.Addr = opts.Addr
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    env.cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		TraceExporter:  env.cfg.Telemetry.TraceExporter,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start tracing", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if tErr := shutdownTracing(flushCtx); tErr != nil {
			logger.Error("error flushing traces", "error", tErr)
		}
	}()

	env.loader.WatchLevel(env.level, logger)

	s, err := openSession(ctx, env)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open multiverse", err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	sch, err := schema.New()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load patch schema", err)
	}

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandlers(s.client, sch, Version), logger, env.cfg.Telemetry.ServiceName)

	ln, err := net.Listen("tcp", env.cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", env.cfg.Server.Addr), err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.running = true
	g, gctx := errgroup.WithContext(ctx)

	// The manager outlives the listener so in-flight requests are answered;
	// it is stopped only after Shutdown returns.
	g.Go(func() error {
		return s.run(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "addr", ln.Addr().String())
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.manager.Stop()
		return err
	})

	logger.Info("server listening",
		"addr", ln.Addr().String(),
		"backend", env.cfg.Store.Backend,
		"root", s.client.Root().String(),
		"config", env.loader.File(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", ln.Addr())
	if opts.OnListen != nil {
		opts.OnListen(ln.Addr())
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
