package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/idem/internal/server"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	BasePath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background sweeper",
		Long: `Start the HTTP API over the configured store.

The API lists, inspects and forgets records, derives keys and reports
counters. When sweep.interval is positive, expired records are deleted in
the background. SIGINT or SIGTERM shuts down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("listen", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.BasePath, "base-path", "/v1", "API base path")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := server.New(server.Config{Engine: a.Engine, BasePath: opts.BasePath, Logger: a.Logger})
	if err != nil {
		return WrapExitError(ExitCommandError, "build handler", err)
	}
	ln, err := net.Listen("tcp", a.Config.Server.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "listen", err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("serving idem API", "addr", ln.Addr().String(), "base_path", opts.BasePath)
		if opts.serveReady != nil {
			opts.serveReady <- ln.Addr().String()
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if interval := a.Config.Sweep.Interval; interval > 0 {
		g.Go(func() error {
			if err := a.Engine.RunSweeper(gctx, interval); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "serve", err)
	}
	return nil
}
