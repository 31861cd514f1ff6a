package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/model"
)

func newInboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Read the inbox of the current address",
	}

	cmd.AddCommand(
		newInboxListCommand(),
		newInboxReadCommand(),
		newInboxDeleteCommand(),
	)

	return cmd
}

func newInboxListCommand() *cobra.Command {
	var (
		limit  int
		offset int
		unread bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List messages, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c := rt.Client()
			s, err := rt.loadSession(cmd.Context(), c)
			if err != nil {
				return err
			}
			msgs, err := c.WithAddressToken(s.Token).ListMessages(cmd.Context(), s.Address.ID, client.ListOptions{
				Limit:      limit,
				Offset:     offset,
				UnreadOnly: unread,
			})
			if err != nil {
				return err
			}
			if rt.jsonOutput {
				return writeJSON(rt.Writer(), msgs)
			}
			writeMessages(rt.Writer(), msgs, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many messages")
	cmd.Flags().BoolVar(&unread, "unread", false, "Only unread messages")
	return cmd
}

func writeMessages(w io.Writer, msgs []model.Message, now time.Time) {
	if len(msgs) == 0 {
		_, _ = fmt.Fprintln(w, "inbox is empty")
		return
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("ID", "", "FROM", "SUBJECT", "AGE")
	for _, m := range msgs {
		marker := " "
		if !m.Read {
			marker = "*"
		}
		subject := m.Subject
		if m.HasAttachments {
			subject += " [+]"
		}
		t.Row(m.ID, marker, m.Sender, subject, age(m.ReceivedAt, now))
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

func newInboxReadCommand() *cobra.Command {
	var (
		raw        bool
		keepUnread bool
	)
	cmd := &cobra.Command{
		Use:   "read <message-id>",
		Short: "Print one message, decrypting sealed content locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c := rt.Client()
			s, err := rt.loadSession(ctx, c)
			if err != nil {
				return err
			}
			scoped := c.WithAddressToken(s.Token)

			if raw {
				data, err := scoped.RawMessage(ctx, s.Address.ID, args[0])
				if err != nil {
					return err
				}
				_, err = rt.Writer().Write(data)
				return err
			}

			view, err := scoped.GetMessage(ctx, s.Address.ID, args[0])
			if err != nil {
				return err
			}
			var serverKey []byte
			if view.Content == nil {
				if serverKey, err = c.ServerKey(ctx); err != nil {
					return err
				}
			}
			content, err := client.OpenSealed(view, s.SecretKey, serverKey)
			if err != nil {
				return err
			}

			if !view.Message.Read && !keepUnread {
				if err := scoped.MarkRead(ctx, s.Address.ID, view.Message.ID, true); err != nil {
					return err
				}
			}

			if rt.jsonOutput {
				return writeJSON(rt.Writer(), content)
			}
			writeContent(rt.Writer(), content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the raw message (sealed envelope for sealed addresses)")
	cmd.Flags().BoolVar(&keepUnread, "keep-unread", false, "Do not mark the message as read")
	return cmd
}

func writeContent(w io.Writer, c *model.Content) {
	_, _ = fmt.Fprintf(w, "From:    %s\n", c.From)
	_, _ = fmt.Fprintf(w, "To:      %s\n", strings.Join(c.To, ", "))
	if len(c.Cc) > 0 {
		_, _ = fmt.Fprintf(w, "Cc:      %s\n", strings.Join(c.Cc, ", "))
	}
	_, _ = fmt.Fprintf(w, "Date:    %s\n", c.Date.Local().Format(time.RFC1123))
	_, _ = fmt.Fprintf(w, "Subject: %s\n", c.Subject)
	if len(c.Codes) > 0 {
		_, _ = fmt.Fprintf(w, "Code:    %s\n", strings.Join(c.Codes, ", "))
	}
	_, _ = fmt.Fprintln(w)

	switch {
	case c.Text != "":
		_, _ = fmt.Fprintln(w, strings.TrimRight(c.Text, "\n"))
	case c.HTML != "":
		_, _ = fmt.Fprintln(w, "(HTML only message; use --json to see the HTML part)")
	}

	if len(c.Attachments) > 0 {
		_, _ = fmt.Fprintln(w, "\nAttachments:")
		for _, a := range c.Attachments {
			_, _ = fmt.Fprintf(w, "  %s (%s, %s)\n", a.Filename, a.ContentType, humanize.IBytes(uint64(a.Size)))
		}
	}
	if len(c.Links) > 0 {
		_, _ = fmt.Fprintln(w, "\nLinks:")
		for _, l := range c.Links {
			_, _ = fmt.Fprintf(w, "  %s\n", l)
		}
	}
}

func newInboxDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c := rt.Client()
			s, err := rt.loadSession(cmd.Context(), c)
			if err != nil {
				return err
			}
			if err := c.WithAddressToken(s.Token).DeleteMessage(cmd.Context(), s.Address.ID, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "deleted %s\n", args[0])
			return nil
		},
	}
}
