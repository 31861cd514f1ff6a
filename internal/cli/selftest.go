package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/selftest"
)

func newSelfTestCommand() *cobra.Command {
	var (
		from    string
		domain  string
		tier    string
		mode    string
		timeout time.Duration
		keep    bool
	)
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Send a tagged email through the outbound relay and wait for it to arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			logger, err := rt.Logger()
			if err != nil {
				return err
			}

			cfg := rt.cfg.SelfTest
			if from == "" {
				from = cfg.From
			}
			if timeout == 0 {
				timeout = time.Duration(cfg.TimeoutSec) * time.Second
			}

			runner := selftest.New(selftest.FromClient(rt.Client()), selftest.NewSender(cfg, logger), logger)
			report, err := runner.Run(cmd.Context(), selftest.Options{
				From:    from,
				Domain:  domain,
				Tier:    model.Tier(tier),
				Mode:    model.EncryptionMode(mode),
				Timeout: timeout,
				Keep:    keep,
			})
			if err != nil {
				return err
			}

			if rt.jsonOutput {
				return writeJSON(rt.Writer(), report)
			}
			w := rt.Writer()
			_, _ = fmt.Fprintf(w, "delivered to %s (%s)\n", report.Email, report.Mode)
			_, _ = fmt.Fprintf(w, "  message:  %s\n", report.MessageID)
			_, _ = fmt.Fprintf(w, "  latency:  %s\n", report.Latency.Round(time.Millisecond))
			_, _ = fmt.Fprintf(w, "  verified: %t\n", report.Verified)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Sender address (default: selftest.from)")
	cmd.Flags().StringVar(&domain, "domain", "", "Mail domain to test")
	cmd.Flags().StringVar(&tier, "tier", "", "Tier of the test address")
	cmd.Flags().StringVar(&mode, "mode", "", "Encryption mode of the test address")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for delivery (default: selftest.timeout_sec)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the test address afterwards")
	return cmd
}
