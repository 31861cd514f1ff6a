package mailparse

import (
	"github.com/nhle/tempmail/internal/address"
)

// Recipients returns every candidate recipient of the message as a
// normalized local@domain: envelope recipients first, then To, Cc,
// Delivered-To and X-Original-To. Unparsable entries are skipped.
func (p *Parsed) Recipients(envelope ...string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(list []string) {
		for _, raw := range list {
			local, domain, err := address.Normalize(raw)
			if err != nil {
				continue
			}
			email := local + "@" + domain
			if seen[email] {
				continue
			}
			seen[email] = true
			out = append(out, email)
		}
	}

	add(envelope)
	add(p.To)
	add(p.Cc)
	add(p.DeliveredTo)
	add(p.OriginalTo)
	return out
}
