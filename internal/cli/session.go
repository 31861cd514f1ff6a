package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/tempmail/internal/app"
	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/model"
)

// errNoAddress is returned by commands that need a current address.
var errNoAddress = errors.New("no current address; run `tempmail address new` first")

// SecretStore holds address tokens, sealed secret keys and server
// secrets.
type SecretStore = credential.Store

// resolveSecret returns literal when set, otherwise the value stored
// under ref.
func (rt *runtimeState) resolveSecret(literal, ref string) (string, error) {
	return credential.Resolve(rt.secrets, literal, ref)
}

// saveSession stores the token and secret key in the secret store and
// records the address as current in the config file.
func (rt *runtimeState) saveSession(s app.Session) error {
	email := s.Address.Email
	if err := rt.secrets.Set(credential.AddressTokenKey(email), s.Token); err != nil {
		return err
	}
	if len(s.SecretKey) > 0 {
		if err := rt.secrets.Set(credential.AddressSecretKey(email), codec.ToBase64URL(s.SecretKey)); err != nil {
			return err
		}
	}

	rt.cfg.Client.Address = email
	rt.cfg.Client.AddressID = s.Address.ID
	if err := model.SaveConfig(rt.configPath, rt.cfg); err != nil {
		return err
	}
	return nil
}

// loadSession rebuilds the current address session. The address view is
// refreshed from the server.
func (rt *runtimeState) loadSession(ctx context.Context, c *client.Client) (*app.Session, error) {
	email, id := rt.cfg.Client.Address, rt.cfg.Client.AddressID
	if email == "" || id == "" {
		return nil, errNoAddress
	}

	token, err := rt.secrets.Get(credential.AddressTokenKey(email))
	if err != nil {
		return nil, fmt.Errorf("loading token for %s: %w", email, err)
	}

	s := &app.Session{Token: token}
	if enc, err := rt.secrets.Get(credential.AddressSecretKey(email)); err == nil {
		if s.SecretKey, err = codec.FromBase64URL(enc); err != nil {
			return nil, fmt.Errorf("decoding secret key for %s: %w", email, err)
		}
	} else if !errors.Is(err, credential.ErrNotFound) {
		return nil, err
	}

	view, err := c.WithAddressToken(token).GetAddress(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Address = *view
	return s, nil
}

// clearSession forgets the current address locally. Missing secrets are
// not an error.
func (rt *runtimeState) clearSession() error {
	email := rt.cfg.Client.Address
	if email != "" {
		for _, key := range []string{credential.AddressTokenKey(email), credential.AddressSecretKey(email)} {
			if err := rt.secrets.Delete(key); err != nil && !errors.Is(err, credential.ErrNotFound) {
				return err
			}
		}
	}
	rt.cfg.Client.Address = ""
	rt.cfg.Client.AddressID = ""
	return model.SaveConfig(rt.configPath, rt.cfg)
}
