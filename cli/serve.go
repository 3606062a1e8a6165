package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Oudwins/somedaex/internals/backendproc"
	"github.com/Oudwins/somedaex/internals/cliutil"
	"github.com/Oudwins/somedaex/internals/devserver"
	"github.com/Oudwins/somedaex/internals/pipeline"
	"github.com/Oudwins/somedaex/internals/timeouts"
	"github.com/Oudwins/somedaex/internals/version"
	"github.com/Oudwins/somedaex/tui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	z "github.com/Oudwins/zog"
)

type devserverArgs struct {
	Port      int    `zog:"port"`
	DBPath    string `zog:"db_path"`
	StepDelay string `zog:"step_delay"`
}

var devserverArgsSchema = z.Struct(z.Shape{
	"Port":   z.Int().GT(0).LT(65536),
	"DBPath": z.String().Required().Trim(),
	"StepDelay": z.String().Trim().TestFunc(func(val *string, ctx z.Ctx) bool {
		_, err := time.ParseDuration(*val)
		return err == nil
	}, z.Message("must be a duration such as 500ms or 2s")),
})

// launchBackend starts the configured backend and returns the URL it serves
// on along with a channel that receives its error if it dies early. Any
// unexpected exit also cancels the session through cancel.
func (a *app) launchBackend(ctx context.Context, cancel context.CancelFunc) (*backendproc.Registry, string, <-chan error, error) {
	exited := make(chan error, 1)
	registry := backendproc.NewRegistry(
		backendproc.WithLogger(a.logger),
		backendproc.WithExitCallback(func(p *backendproc.Process, err error) {
			select {
			case exited <- err:
			default:
			}
			cancel()
		}),
	)
	url := cliutil.BackendURLForPort(a.config.Backend.Port)
	if _, err := cliutil.EnsureBackendRunning(ctx, a.client(url), registry, a.config.Backend); err != nil {
		registry.StopAll()
		return nil, "", nil, err
	}
	return registry, url, exited, nil
}

func (a *app) tuiCommand() *cobra.Command {
	var launch bool
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Edit the pipeline interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			url := a.config.Backend.URL
			var exited <-chan error
			if launch {
				registry, launchedURL, exitCh, err := a.launchBackend(ctx, cancel)
				if err != nil {
					return err
				}
				defer registry.StopAll()
				url, exited = launchedURL, exitCh
			}

			p := pipeline.New(a.registry, a.client(url), pipeline.WithLogger(a.logger))
			defer p.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return p.Run(gctx)
			})
			g.Go(func() error {
				defer cancel()
				return tui.Run(gctx, p)
			})
			err := g.Wait()

			select {
			case exitErr := <-exited:
				return exitErr
			default:
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&launch, "launch", false, "start the configured backend if it is not running")
	return cmd
}

func (a *app) backendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Start the configured backend and keep it running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			registry, url, exited, err := a.launchBackend(ctx, cancel)
			if err != nil {
				return err
			}
			defer registry.StopAll()
			fmt.Fprintf(cmd.OutOrStdout(), "backend: %s\n", url)

			<-ctx.Done()
			select {
			case exitErr := <-exited:
				return exitErr
			default:
				return nil
			}
		},
	}
}

func (a *app) devserverCommand() *cobra.Command {
	parsed := devserverArgs{}
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the built-in development backend",
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			defaults := a.config.Devserver
			if !cmd.Flags().Changed("port") {
				parsed.Port = defaults.Port
			}
			if !cmd.Flags().Changed("db") {
				parsed.DBPath = defaults.DBPath
			}
			if !cmd.Flags().Changed("step-delay") {
				parsed.StepDelay = defaults.StepDelay
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if issues := devserverArgsSchema.Validate(&parsed); len(issues) > 0 {
				return fmt.Errorf("%w: invalid arguments:\n%s", ErrUsage, z.Issues.Prettify(issues))
			}
			settings := a.config.Devserver
			settings.StepDelay = parsed.StepDelay

			srv, err := devserver.New(cmd.Context(), devserver.Config{
				DBPath:    parsed.DBPath,
				StepDelay: settings.Delay(),
				Registry:  a.registry,
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}
			listener, err := net.Listen("tcp", fmt.Sprintf(":%d", parsed.Port))
			if err != nil {
				_ = srv.Shutdown(context.Background())
				return err
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return srv.Serve(listener)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
				defer cancel()
				err := srv.Shutdown(shutdownCtx)
				if errors.Is(err, context.DeadlineExceeded) {
					a.logger.Warn("Development backend did not stop in time")
					return nil
				}
				return err
			})
			return g.Wait()
		},
	}
	cmd.Flags().IntVar(&parsed.Port, "port", 0, "port to listen on")
	cmd.Flags().StringVar(&parsed.DBPath, "db", "", "sqlite database path, :memory: for none")
	cmd.Flags().StringVar(&parsed.StepDelay, "step-delay", "", "simulated time per processing step")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version())
			return nil
		},
	}
}
