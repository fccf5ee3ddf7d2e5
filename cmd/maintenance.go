package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	service "github.com/okian/lostfits/internal/app"
	"github.com/okian/lostfits/pkg/logger"
)

// withService opens a service without polling, runs fn and prints its
// result as JSON.
func (c *cli) withService(ctx context.Context, out io.Writer, op string, fn func(context.Context, *service.Service) (any, error)) error {
	svc := service.New(c.cfg, service.WithLogger(c.log))
	if err := svc.Open(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := svc.Stop(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn(ctx, "service shutdown failed", logger.String("op", op), logger.Error(err))
		}
	}()

	result, err := fn(ctx, svc)
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *cli) reseedTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reseed-types",
		Short: "Resolve every referenced item type that is not stored yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), cmd.OutOrStdout(), "reseed-types",
				func(ctx context.Context, svc *service.Service) (any, error) {
					return svc.ReseedTypes(ctx)
				})
		},
	}
}

func (c *cli) seedUniverseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-universe",
		Short: "Store every region, constellation and system from ESI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), cmd.OutOrStdout(), "seed-universe",
				func(ctx context.Context, svc *service.Service) (any, error) {
					return svc.SeedUniverse(ctx)
				})
		},
	}
}

func (c *cli) rebuildCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "rebuild-aggregates",
		Short: "Recompute daily aggregates from stored killmails",
		Long: `Recompute the fit and location aggregates of every day in [from, to]
from the stored killmails. Both bounds default to today (UTC).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), cmd.OutOrStdout(), "rebuild-aggregates",
				func(ctx context.Context, svc *service.Service) (any, error) {
					return svc.RebuildAggregates(ctx, from, to)
				})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	return cmd
}
