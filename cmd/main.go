package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/lostfits/internal/config"
	"github.com/okian/lostfits/pkg/logger"
)

// cli carries what every command needs once the root has run.
type cli struct {
	cfg *config.Config
	log logger.Logger
}

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "lostfits",
		Short: "Ship loss and fitting statistics from the public killmail feed",
		Long: `lostfits ingests destroyed-ship killmails from the zKillboard feed,
normalizes each fitting into a signature, keeps daily aggregates and serves
popularity and location statistics over HTTP.

Without a subcommand it runs the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Poll the feed and serve the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.serve(cmd.Context())
			},
		},
		c.reseedTypesCmd(),
		c.seedUniverseCmd(),
		c.rebuildCmd(),
		feedsimCmd(),
	)
	return root
}

// setup initializes logging and loads configuration
// (defaults -> optional file -> env).
func (c *cli) setup(ctx context.Context) error {
	if err := logger.Init(); err != nil {
		// Logger isn't available yet.
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return err
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return err
	}
	if cfg.LogFormat != logger.FormatText {
		if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
			return err
		}
	}

	log := logger.Get()
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	c.cfg, c.log = cfg, log
	return nil
}
