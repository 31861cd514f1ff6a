package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/expiry"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired addresses once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			logger, err := rt.Logger()
			if err != nil {
				return err
			}

			b, err := openBacking(cmd.Context(), rt.cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(); err != nil {
					logger.Warn("closing storage", zap.Error(err))
				}
			}()

			sweeper := expiry.New(b.store, b.blobs, b.bridge, rt.cfg.Expiry.BatchSize, logger)
			n, err := sweeper.Sweep(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "removed %d expired addresses\n", n)
			return nil
		},
	}
}
