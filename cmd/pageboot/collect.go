package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/dusk-indust/pageboot/internal/analytics"
	"github.com/dusk-indust/pageboot/internal/logging"
	"github.com/spf13/cobra"
)

func newCollectCmd(root *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Serve the analytics collector",
		Long: `Serve the analytics collector: POST /events, GET /events,
GET /events/stream, /healthz and /metrics. Stops gracefully on SIGINT or
SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			return runCollect(ctx, analytics.NewCollector(nil, logger), addr, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8089", "HTTP listen address")
	return cmd
}

// runCollect serves until ctx is done, then shuts down within 5 seconds.
func runCollect(ctx context.Context, c *analytics.Collector, addr string, w io.Writer) error {
	bound, err := c.Start(ctx, addr)
	if err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	fmt.Fprintf(w, "collector listening on %s\n", bound)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
