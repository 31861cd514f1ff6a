package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/app"
	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/model"
)

func newAddressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "address",
		Aliases: []string{"addr"},
		Short:   "Manage the current temporary address",
	}

	cmd.AddCommand(
		newAddressNewCommand(),
		newAddressShowCommand(),
		newAddressExtendCommand(),
		newAddressDeleteCommand(),
	)

	return cmd
}

func newAddressNewCommand() *cobra.Command {
	var (
		domain    string
		localPart string
		tier      string
		mode      string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an address and make it current",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			req := api.CreateAddressRequest{
				Domain:     domain,
				LocalPart:  localPart,
				Tier:       model.Tier(tier),
				Mode:       model.EncryptionMode(mode),
				TTLSeconds: int64(ttl / time.Second),
			}

			// Sealed keys are generated here so the secret never leaves
			// this machine.
			var kp *codec.Keypair
			if req.Mode == model.ModeSealed {
				if kp, err = codec.GenerateKeypair(); err != nil {
					return err
				}
				req.PublicKey = kp.PublicKeyB64()
			}

			resp, err := rt.Client().CreateAddress(cmd.Context(), req)
			if err != nil {
				return err
			}

			s := app.Session{Address: resp.Address, Token: resp.Token}
			switch {
			case kp != nil:
				s.SecretKey = kp.SecretKey
			case resp.SecretKey != "":
				if s.SecretKey, err = codec.FromBase64URL(resp.SecretKey); err != nil {
					return err
				}
			}
			if err := rt.saveSession(s); err != nil {
				return err
			}

			return rt.printAddress(s.Address)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Mail domain (default: first accepted domain)")
	cmd.Flags().StringVar(&localPart, "local", "", "Custom local part (paid tiers)")
	cmd.Flags().StringVar(&tier, "tier", string(model.TierFree), "Tier: free, premium, business")
	cmd.Flags().StringVar(&mode, "mode", string(model.ModeManaged), "Encryption mode: managed or sealed")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Lifetime (default: tier default)")
	return cmd
}

func newAddressShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.loadSession(cmd.Context(), rt.Client())
			if err != nil {
				return err
			}
			return rt.printAddress(s.Address)
		},
	}
}

func newAddressExtendCommand() *cobra.Command {
	var by time.Duration
	cmd := &cobra.Command{
		Use:   "extend",
		Short: "Extend the lifetime of the current address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if by <= 0 {
				return fmt.Errorf("--by must be positive")
			}
			c := rt.Client()
			s, err := rt.loadSession(cmd.Context(), c)
			if err != nil {
				return err
			}
			resp, err := c.WithAddressToken(s.Token).ExtendAddress(cmd.Context(), s.Address.ID, by)
			if err != nil {
				return err
			}
			s.Address = resp.Address
			s.Token = resp.Token
			if err := rt.saveSession(*s); err != nil {
				return err
			}
			return rt.printAddress(s.Address)
		},
	}
	cmd.Flags().DurationVar(&by, "by", time.Hour, "Duration to add")
	return cmd
}

func newAddressDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the current address and its inbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			email, id := rt.cfg.Client.Address, rt.cfg.Client.AddressID
			if email == "" || id == "" {
				return errNoAddress
			}

			token, err := rt.secrets.Get(credential.AddressTokenKey(email))
			switch {
			case err == nil:
				err = rt.Client().WithAddressToken(token).DeleteAddress(cmd.Context(), id)
				// Already swept or deleted elsewhere.
				if err != nil && !errors.Is(err, client.ErrNotFound) && !errors.Is(err, client.ErrUnauthorized) {
					return err
				}
			case !errors.Is(err, credential.ErrNotFound):
				return err
			}

			if err := rt.clearSession(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "deleted %s\n", email)
			return nil
		},
	}
}

func (rt *runtimeState) printAddress(a api.AddressView) error {
	if rt.jsonOutput {
		return writeJSON(rt.Writer(), a)
	}
	writeAddress(rt.Writer(), a, time.Now())
	return nil
}

func writeAddress(w io.Writer, a api.AddressView, now time.Time) {
	_, _ = fmt.Fprintf(w, "%s\n", a.Email)
	_, _ = fmt.Fprintf(w, "  id:       %s\n", a.ID)
	_, _ = fmt.Fprintf(w, "  tier:     %s\n", a.Tier)
	_, _ = fmt.Fprintf(w, "  mode:     %s\n", a.Mode)
	_, _ = fmt.Fprintf(w, "  expires:  %s (%s)\n", a.ExpiresAt.Local().Format(time.RFC1123), remaining(a.ExpiresAt.Sub(now)))
	_, _ = fmt.Fprintf(w, "  messages: %d\n", a.MessageCount)
}
