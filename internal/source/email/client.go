// Package email pulls raw messages from a catch-all IMAP mailbox.
package email

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/source"
)

// maxBatch caps one fetch regardless of configuration.
const maxBatch = 50

// Config holds the IMAP connection settings of a Source.
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	TLS       bool
	Plaintext bool
	Mailbox   string
	BatchSize int
	// DeleteAfterFetch expunges messages once they are acked.
	DeleteAfterFetch bool
}

// ConfigFrom maps the application config; password is resolved by the caller.
func ConfigFrom(c model.IMAPConfig, password string) Config {
	return Config{
		Host:             c.Host,
		Port:             c.Port,
		Username:         c.Username,
		Password:         password,
		TLS:              c.TLS,
		Plaintext:        c.Plaintext,
		Mailbox:          c.Mailbox,
		BatchSize:        c.BatchSize,
		DeleteAfterFetch: c.DeleteAfter,
	}
}

// Source is a pull source over go-imap v2. It opens one connection per
// operation.
type Source struct {
	cfg Config
}

var _ source.Source = (*Source)(nil)

// NewSource creates a Source. Empty mailbox means INBOX.
func NewSource(cfg Config) *Source {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxBatch {
		cfg.BatchSize = maxBatch
	}
	return &Source{cfg: cfg}
}

// Type returns the source type identifier for IMAP.
func (s *Source) Type() source.SourceType {
	return source.SourceTypeIMAP
}

// Name identifies the account in stored cursors.
func (s *Source) Name() string {
	return "imap:" + s.cfg.Username + "@" + s.cfg.Host
}

// Mailbox returns the polled mailbox.
func (s *Source) Mailbox() string {
	return s.cfg.Mailbox
}

// Close is a no-op; connections do not outlive an operation.
func (s *Source) Close() error {
	return nil
}

// connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (s *Source) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := s.cfg.Host + ":" + s.cfg.Port

	var client *imapclient.Client
	var err error

	switch {
	case s.cfg.Plaintext:
		client, err = imapclient.DialInsecure(addr, nil)
	case s.cfg.TLS:
		client, err = imapclient.DialTLS(addr, nil)
	default:
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	// Unblock pending commands when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				s.cfg.Username, err,
			),
		}
	}

	return client, nil
}

// ValidateConnection logs in and selects the mailbox.
func (s *Source) ValidateConnection(ctx context.Context) (string, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Logout().Wait() }()

	sel, err := client.Select(s.cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return "", fmt.Errorf("selecting %s: %w", s.cfg.Mailbox, err)
	}
	return fmt.Sprintf("connected to %s as %s, %s has %d messages",
		s.cfg.Host, s.cfg.Username, s.cfg.Mailbox, sel.NumMessages), nil
}

// Fetch returns up to BatchSize messages with a UID above the cursor. A
// changed UIDVALIDITY restarts from the beginning of the mailbox.
func (s *Source) Fetch(ctx context.Context, cursor model.SourceState) (*source.FetchResult, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	sel, err := client.Select(s.cfg.Mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", s.cfg.Mailbox, err)
	}

	cursor = resetOnValidityChange(cursor, sel.UIDValidity)
	cursor.Source = s.Name()
	cursor.Mailbox = s.cfg.Mailbox

	criteria := &imap.SearchCriteria{
		UID:     []imap.UIDSet{{imap.UIDRange{Start: imap.UID(cursor.LastUID + 1), Stop: 0}}},
		NotFlag: []imap.Flag{imap.FlagDeleted},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids, hasMore := planBatch(searchData.AllUIDs(), cursor.LastUID, s.cfg.BatchSize)
	result := &source.FetchResult{Cursor: cursor, HasMore: hasMore}
	if len(uids) == 0 {
		return result, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("collecting message data: %w", err)
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		received := buf.InternalDate
		if received.IsZero() {
			received = time.Now()
		}
		result.Messages = append(result.Messages, source.RawMessage{
			Source:     source.SourceTypeIMAP,
			Ref:        strconv.FormatUint(uint64(buf.UID), 10),
			Data:       raw,
			ReceivedAt: received.UTC(),
		})
		if uint32(buf.UID) > result.Cursor.LastUID {
			result.Cursor.LastUID = uint32(buf.UID)
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	return result, nil
}

// Ack marks messages seen, and deletes them when configured to.
func (s *Source) Ack(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	uids, err := parseUIDs(refs)
	if err != nil {
		return err
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(s.cfg.Mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", s.cfg.Mailbox, err)
	}

	flags := []imap.Flag{imap.FlagSeen}
	if s.cfg.DeleteAfterFetch {
		flags = append(flags, imap.FlagDeleted)
	}

	uidSet := imap.UIDSetNum(uids...)
	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging messages: %w", err)
	}

	if s.cfg.DeleteAfterFetch {
		if err := client.Expunge().Close(); err != nil {
			return fmt.Errorf("expunging messages: %w", err)
		}
	}
	return nil
}

// resetOnValidityChange drops the cursor position when the mailbox was
// recreated, since old UIDs no longer mean anything.
func resetOnValidityChange(cursor model.SourceState, uidValidity uint32) model.SourceState {
	if cursor.UIDValidity != uidValidity {
		cursor.UIDValidity = uidValidity
		cursor.LastUID = 0
	}
	return cursor
}

// planBatch keeps UIDs above lastUID in ascending order, cut to batch.
// "n:*" always matches the highest UID even when it is below n, so the
// filter is required.
func planBatch(found []imap.UID, lastUID uint32, batch int) (uids []imap.UID, hasMore bool) {
	for _, uid := range found {
		if uint32(uid) > lastUID {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if batch > 0 && len(uids) > batch {
		return uids[:batch], true
	}
	return uids, false
}

func parseUIDs(refs []string) ([]imap.UID, error) {
	uids := make([]imap.UID, 0, len(refs))
	for _, ref := range refs {
		uid, err := strconv.ParseUint(ref, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid email UID %q: %w", ref, err)
		}
		uids = append(uids, imap.UID(uid))
	}
	return uids, nil
}
