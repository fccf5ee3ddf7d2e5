package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/lostfits/internal/feedsim"
)

func feedsimCmd() *cobra.Command {
	cfg := feedsim.Config{}
	cmd := &cobra.Command{
		Use:   "feedsim",
		Short: "Serve a simulated killmail feed and ESI catalog",
		Long: `Serve a RedisQ-compatible feed and the ESI universe endpoints the
resolver uses, filled with generated killmails. Point feed_url at
http://<addr>/listen.php and esi_base at http://<addr>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return feedsim.Run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", ":8090", "listen address")
	cmd.Flags().DurationVar(&cfg.Interval, "interval", 2*time.Second, "time between generated kills, 0 disables")
	cmd.Flags().IntVar(&cfg.Backlog, "backlog", 200, "kills queued before serving starts")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 1, "generator seed")
	return cmd
}
