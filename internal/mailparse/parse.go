// Package mailparse turns raw RFC 5322 messages into structured content.
package mailparse

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	nettextproto "net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/tempmail/internal/model"
)

// Parsed is the result of parsing one raw message.
type Parsed struct {
	MessageID   string
	From        string
	FromAddress string
	To          []string
	Cc          []string
	DeliveredTo []string
	OriginalTo  []string
	Subject     string
	Date        time.Time
	Text        string
	HTML        string
	Headers     map[string]string
	Attachments []model.Attachment
	Links       []string
	Codes       []string
	Size        int64

	// Fallback is set when the MIME structure could not be parsed and
	// Text holds the raw input.
	Fallback bool
}

// Parse never fails on malformed input; it degrades to a text body. An
// error is only returned for empty input.
func Parse(raw []byte) (*Parsed, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	p := &Parsed{Size: int64(len(raw)), Headers: map[string]string{}}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		p.fallback(raw)
		return p, nil
	}
	defer mr.Close()

	p.readHeader(mr.Header)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			// Keep whatever was read before the broken part.
			break
		}
		p.readPart(part)
	}

	if p.Text == "" && p.HTML != "" {
		p.Text = stripHTML(p.HTML)
	}
	p.Links = ExtractLinks(p.Text, p.HTML)
	p.Codes = ExtractCodes(p.Subject, p.Text)
	return p, nil
}

func (p *Parsed) readHeader(h mail.Header) {
	p.MessageID, _ = h.MessageID()
	p.Subject, _ = h.Subject()
	p.Date, _ = h.Date()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.FromAddress = strings.ToLower(from[0].Address)
		p.From = formatAddress(from[0])
	} else {
		p.From = h.Get("From")
	}

	p.To = addressList(h, "To")
	p.Cc = addressList(h, "Cc")
	p.DeliveredTo = rawList(h.Header.Header, "Delivered-To")
	p.OriginalTo = rawList(h.Header.Header, "X-Original-To")

	fields := h.Fields()
	for fields.Next() {
		key := nettextproto.CanonicalMIMEHeaderKey(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		if prev, ok := p.Headers[key]; ok {
			value = prev + ", " + value
		}
		p.Headers[key] = value
	}
}

func (p *Parsed) readPart(part *mail.Part) {
	switch h := part.Header.(type) {
	case *mail.InlineHeader:
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if p.Text == "" {
				p.Text = string(body)
			}
		case strings.HasPrefix(contentType, "text/html"):
			if p.HTML == "" {
				p.HTML = string(body)
			}
		default:
			// Inline images and similar parts referenced by Content-ID.
			p.Attachments = append(p.Attachments, newAttachment(
				"", contentType, h.Get("Content-Id"), "inline", body))
		}

	case *mail.AttachmentHeader:
		filename, _ := h.Filename()
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return
		}
		// Non-text parts without a disposition arrive here too; those
		// referenced by Content-ID are inline.
		disposition := "attachment"
		if disp, _, _ := h.ContentDisposition(); disp != "attachment" && h.Get("Content-Id") != "" {
			disposition = "inline"
		}
		p.Attachments = append(p.Attachments, newAttachment(
			filename, contentType, h.Get("Content-Id"), disposition, body))
	}
}

// fallback treats the input as a plain-text message, salvaging the
// header block if one can be read.
func (p *Parsed) fallback(raw []byte) {
	p.Fallback = true
	p.Text = string(raw)

	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return
	}
	h := mail.Header{Header: message.Header{Header: th}}
	p.readHeader(h)
	if body, err := io.ReadAll(br); err == nil && len(body) > 0 {
		p.Text = string(body)
	}
	p.Links = ExtractLinks(p.Text, "")
	p.Codes = ExtractCodes(p.Subject, p.Text)
}

// HasAttachments reports whether any attachment was found.
func (p *Parsed) HasAttachments() bool {
	return len(p.Attachments) > 0
}

// Content converts the parse result into the sealed message content.
func (p *Parsed) Content(messageID string, receivedAt time.Time) model.Content {
	return model.Content{
		MessageID:   messageID,
		From:        p.From,
		To:          p.To,
		Cc:          p.Cc,
		Subject:     p.Subject,
		Date:        p.Date,
		ReceivedAt:  receivedAt,
		Text:        p.Text,
		HTML:        p.HTML,
		Headers:     p.Headers,
		Attachments: p.Attachments,
		Links:       p.Links,
		Codes:       p.Codes,
	}
}

func newAttachment(filename, contentType, contentID, disposition string, body []byte) model.Attachment {
	sum := sha256.Sum256(body)
	return model.Attachment{
		Filename:           filename,
		ContentType:        contentType,
		Size:               int64(len(body)),
		ContentID:          strings.Trim(contentID, "<>"),
		ContentDisposition: disposition,
		Content:            body,
		Checksum:           hex.EncodeToString(sum[:]),
	}
}

func addressList(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return rawList(h.Header.Header, key)
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

// rawList splits every value of key on commas without address parsing.
func rawList(h textproto.Header, key string) []string {
	var out []string
	for _, v := range h.Values(key) {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}
