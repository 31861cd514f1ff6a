package cli

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/model"
)

const (
	defaultMasterKeyRef = "server:master-key"
	defaultJWTSecretRef = "server:jwt-secret"
	jwtSecretBytes      = 32
)

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage server keys",
	}
	cmd.AddCommand(newKeysInitCommand())
	return cmd
}

func newKeysInitCommand() *cobra.Command {
	var rotate bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the signing key, master key and token secret",
		Long: "Create the server signing key file and store a managed-mode master key " +
			"and a token signing secret in the keyring. Existing keys are kept unless --rotate " +
			"is given; rotating the master key makes existing managed inboxes unreadable.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			w := rt.Writer()
			cfg := rt.cfg

			signer, created, err := codec.LoadOrCreateSigner(cfg.Crypto.SigningKeyFile)
			if err != nil {
				return err
			}
			if created {
				_, _ = fmt.Fprintf(w, "created signing key %s\n", cfg.Crypto.SigningKeyFile)
			} else {
				_, _ = fmt.Fprintf(w, "using signing key %s\n", cfg.Crypto.SigningKeyFile)
			}
			_, _ = fmt.Fprintf(w, "server public key: %s\n", signer.PublicKeyB64())

			changed := false
			if cfg.Crypto.MasterKey == "" {
				if cfg.Crypto.MasterKeyRef == "" {
					cfg.Crypto.MasterKeyRef = defaultMasterKeyRef
					changed = true
				}
				made, err := rt.ensureSecret(cfg.Crypto.MasterKeyRef, rotate, codec.NewMasterKey)
				if err != nil {
					return err
				}
				report(w, "master key", cfg.Crypto.MasterKeyRef, made)
			}

			if cfg.Auth.JWTSecret == "" {
				if cfg.Auth.JWTSecretRef == "" {
					cfg.Auth.JWTSecretRef = defaultJWTSecretRef
					changed = true
				}
				made, err := rt.ensureSecret(cfg.Auth.JWTSecretRef, rotate, randomSecret)
				if err != nil {
					return err
				}
				report(w, "token secret", cfg.Auth.JWTSecretRef, made)
			}

			if changed {
				if err := model.SaveConfig(rt.configPath, cfg); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "updated %s\n", rt.configPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rotate, "rotate", false, "Replace existing keyring secrets")
	return cmd
}

// ensureSecret stores a fresh base64url secret under ref unless one
// already exists. It reports whether a new secret was written.
func (rt *runtimeState) ensureSecret(ref string, rotate bool, gen func() ([]byte, error)) (bool, error) {
	if !rotate {
		_, err := rt.secrets.Get(ref)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, credential.ErrNotFound) {
			return false, err
		}
	}
	b, err := gen()
	if err != nil {
		return false, err
	}
	if err := rt.secrets.Set(ref, codec.ToBase64URL(b)); err != nil {
		return false, err
	}
	return true, nil
}

func randomSecret() ([]byte, error) {
	b := make([]byte, jwtSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	return b, nil
}

func report(w io.Writer, what, ref string, made bool) {
	if made {
		_, _ = fmt.Fprintf(w, "stored %s in keyring entry %q\n", what, ref)
		return
	}
	_, _ = fmt.Fprintf(w, "kept existing %s in keyring entry %q\n", what, ref)
}
