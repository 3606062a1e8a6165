package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Oudwins/somedaex/internals/conf"
	"github.com/Oudwins/somedaex/internals/logger"
	"github.com/Oudwins/somedaex/internals/tasks"
	"github.com/Oudwins/somedaex/internals/tasky"
	"github.com/Oudwins/somedaex/sdk"
	"github.com/spf13/cobra"

	z "github.com/Oudwins/zog"
)

var ErrUsage = errors.New("usage")

type app struct {
	configPath string
	backendURL string
	logLevel   string

	config   *conf.Config
	logger   *slog.Logger
	logFile  *os.File
	registry *tasks.Registry
}

type globalArgs struct {
	LogLevel string `zog:"log_level"`
}

var globalArgsSchema = z.Struct(z.Shape{
	"LogLevel": z.String().Optional().Trim().OneOf([]string{"", "debug", "info", "warn", "error"}),
})

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := NewRootCommand()
	defer a.close()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		if errors.Is(err, ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func NewRootCommand() (*cobra.Command, *app) {
	a := &app{registry: tasks.DefaultRegistry()}
	root := &cobra.Command{
		Use:           "somedaex",
		Short:         "Build and watch data-cleaning pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default <data dir>/somedaex.json)")
	flags.StringVar(&a.backendURL, "backend-url", "", "backend base URL")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		a.typesCommand(),
		a.tasksCommand(),
		a.addCommand(),
		a.rmCommand(),
		a.setCommand(),
		a.watchCommand(),
		a.tuiCommand(),
		a.backendCommand(),
		a.devserverCommand(),
		versionCommand(),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	payload := globalArgs{LogLevel: a.logLevel}
	if issues := globalArgsSchema.Validate(&payload); len(issues) > 0 {
		return fmt.Errorf("%w: invalid arguments:\n%s", ErrUsage, z.Issues.Prettify(issues))
	}

	var cfg *conf.Config
	if a.configPath != "" {
		loaded, err := conf.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = conf.GetConfig()
	}
	if a.backendURL != "" {
		cfg.Backend.URL = a.backendURL
	}
	if payload.LogLevel != "" {
		cfg.Log.Level = payload.LogLevel
	}

	log, logFile, err := logger.Init(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	a.config = cfg
	a.logger = log
	a.logFile = logFile
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func (a *app) client(baseURL string) *sdk.Client {
	return sdk.NewClient(
		sdk.WithBaseURL(baseURL),
		sdk.WithLogger(a.logger),
		sdk.WithReconnect(tasky.BackoffConfig{
			Base: a.config.Stream.Base(),
			Max:  a.config.Stream.Max(),
		}, a.config.Stream.ReconnectAttempts),
	)
}

type idArgs struct {
	ID int `zog:"id"`
}

var idArgsSchema = z.Struct(z.Shape{
	"ID": z.Int().GTE(0),
})

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: task id must be a number, got %q", ErrUsage, raw)
	}
	payload := idArgs{ID: id}
	if issues := idArgsSchema.Validate(&payload); len(issues) > 0 {
		return 0, fmt.Errorf("%w: invalid arguments:\n%s", ErrUsage, z.Issues.Prettify(issues))
	}
	return payload.ID, nil
}
