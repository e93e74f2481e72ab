// Command elabmate talks to an eLabFTW server and mirrors Labmate
// acquisitions into it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/elabmate/pkg/config"
	"github.com/ajitpratap0/elabmate/pkg/elab"
	"github.com/ajitpratap0/elabmate/pkg/elabapi"
	"github.com/ajitpratap0/elabmate/pkg/logger"
	"github.com/ajitpratap0/elabmate/pkg/metrics"
	"github.com/ajitpratap0/elabmate/pkg/observability"
)

var version = "0.1.0"

// app holds the global flags and what they produce.
type app struct {
	configPath string
	logLevel   string
	trace      bool

	log      *zap.Logger
	shutdown observability.ShutdownFunc
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	elabapi.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run executes the command line args.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.shutdown != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := a.shutdown(flushCtx); serr != nil && err == nil {
			err = serr
		}
	}
	if a.log != nil {
		_ = logger.Sync()
	}
	return err
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "elabmate",
		Short: "elabmate - eLabFTW companion for Labmate acquisitions",
		Long: `elabmate manages eLabFTW experiments from the command line and mirrors
Labmate acquisitions into them.

The server is configured in a KEY=VALUE file (elab_server.conf by default):

  API_HOST_URL=https://elab.example.org/api/v2
  API_KEY=3-0123456789abcdef
  VERIFY_SSL=true
  UNIQUE_EXPERIMENTS_TITLES=false

Every key may be overridden by an ELAB_<KEY> environment variable.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultFileName, "Path to the eLabFTW server configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "Export OpenTelemetry spans to stderr")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "elabmate v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(
		a.configCommand(),
		a.experimentCommand(),
		a.lookupCommand("categories", "List the experiment categories of the team", listCategories),
		a.lookupCommand("statuses", "List the experiment statuses of the team", listStatuses),
		a.lookupCommand("templates", "List the experiment templates", listTemplates),
		a.watchCommand(),
	)
	return root
}

// setup initialises logging and, with --trace, tracing.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := logger.Init(logger.Config{Level: a.logLevel, Encoding: "console"}); err != nil {
		return err
	}
	a.log = logger.Get().With(zap.String("component", "elabmate-cli"))

	if a.trace {
		cfg := observability.DefaultTracingConfig(version)
		cfg.Writer = cmd.ErrOrStderr()
		shutdown, err := observability.InitTracing(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		a.shutdown = shutdown
	}
	return nil
}

// loadConfig reads --config.
func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.configPath)
}

// client opens a session on the configured server.
func (a *app) client(log *zap.Logger, collector *metrics.Collector) (*elab.Client, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return elab.New(cfg, elab.WithLogger(log), elab.WithMetrics(collector))
}

// withClient runs fn with a session closed afterwards.
func (a *app) withClient(fn func(ctx context.Context, c *elab.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logger.ContextWithCommand(cmd.Context(), cmd.CommandPath())
		c, err := a.client(logger.FromContext(ctx, a.log), nil)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(ctx, c, args)
	}
}
