// Package address generates and validates temporary email addresses.
package address

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/nhle/tempmail/internal/model"
)

var (
	ErrInvalidLocalPart  = errors.New("invalid local part")
	ErrReservedLocalPart = errors.New("reserved local part")
	ErrDomainNotAccepted = errors.New("domain not accepted")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrCustomNotAllowed  = errors.New("custom local part requires a paid tier")
	ErrExhausted         = errors.New("could not generate a free address")
)

// Style selects how local parts are generated.
type Style string

const (
	StyleRandom Style = "random"
	StyleWords  Style = "words"
)

const (
	minLocalLen    = 3
	maxLocalLen    = 64
	randomLen      = 10
	maxGenAttempts = 8
)

const (
	letters      = "abcdefghijklmnopqrstuvwxyz"
	alphanumeric = letters + "0123456789"
)

var localPartPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

var reserved = map[string]bool{
	"postmaster":    true,
	"abuse":         true,
	"admin":         true,
	"administrator": true,
	"root":          true,
	"hostmaster":    true,
	"webmaster":     true,
	"noreply":       true,
	"no-reply":      true,
	"mailer-daemon": true,
	"security":      true,
}

var adjectives = []string{
	"amber", "brave", "calm", "dusty", "eager", "fuzzy", "gentle", "hollow",
	"icy", "jolly", "keen", "lucky", "misty", "noble", "olive", "proud",
	"quiet", "rapid", "sunny", "tidy", "urban", "vivid", "witty", "young",
}

var nouns = []string{
	"otter", "falcon", "maple", "harbor", "comet", "lantern", "pebble",
	"willow", "badger", "canyon", "meadow", "orbit", "quartz", "raven",
	"summit", "tundra", "violet", "walrus", "zephyr", "birch", "coral",
}

// Generator produces local parts for one set of accepted domains.
type Generator struct {
	domains []string
	style   Style
}

// NewGenerator returns a generator for the given domains. Domains are
// lowercased; the first one is the default.
func NewGenerator(domains []string, style Style) *Generator {
	ds := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			ds = append(ds, d)
		}
	}
	if style == "" {
		style = StyleRandom
	}
	return &Generator{domains: ds, style: style}
}

// Domains returns the accepted domains.
func (g *Generator) Domains() []string {
	out := make([]string, len(g.domains))
	copy(out, g.domains)
	return out
}

// DefaultDomain returns the first accepted domain.
func (g *Generator) DefaultDomain() string {
	if len(g.domains) == 0 {
		return ""
	}
	return g.domains[0]
}

// Accepts reports whether domain is one of the accepted domains.
func (g *Generator) Accepts(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, d := range g.domains {
		if d == domain {
			return true
		}
	}
	return false
}

// ValidateDomain returns ErrDomainNotAccepted for unknown domains.
func (g *Generator) ValidateDomain(domain string) error {
	if !g.Accepts(domain) {
		return fmt.Errorf("%w: %q", ErrDomainNotAccepted, domain)
	}
	return nil
}

// Request describes an address to provision.
type Request struct {
	// Domain defaults to the generator's default domain.
	Domain string
	// LocalPart is optional; only paid tiers may set it.
	LocalPart string
	Tier      model.Tier
}

// Generate picks a local part and domain for req. exists reports
// whether an email is already taken; generated names are retried on
// collision, custom names are not.
func (g *Generator) Generate(req Request, exists func(email string) (bool, error)) (local, domain string, err error) {
	domain = strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		domain = g.DefaultDomain()
	}
	if err := g.ValidateDomain(domain); err != nil {
		return "", "", err
	}

	if req.LocalPart != "" {
		if !req.Tier.AllowsCustomLocalPart() {
			return "", "", ErrCustomNotAllowed
		}
		local = strings.ToLower(strings.TrimSpace(req.LocalPart))
		if err := ValidateLocalPart(local); err != nil {
			return "", "", err
		}
		taken, err := exists(local + "@" + domain)
		if err != nil {
			return "", "", err
		}
		if taken {
			return "", "", fmt.Errorf("%w: %s@%s is taken", ErrExhausted, local, domain)
		}
		return local, domain, nil
	}

	for i := 0; i < maxGenAttempts; i++ {
		local = g.newLocalPart()
		taken, err := exists(local + "@" + domain)
		if err != nil {
			return "", "", err
		}
		if !taken {
			return local, domain, nil
		}
	}
	return "", "", ErrExhausted
}

func (g *Generator) newLocalPart() string {
	if g.style == StyleWords {
		return pick(adjectives) + "." + pick(nouns) + randomString("0123456789", 2+randInt(3))
	}
	return randomString(letters, 1) + randomString(alphanumeric, randomLen-1)
}

// ValidateLocalPart checks length, charset, edges and the reserved list.
func ValidateLocalPart(local string) error {
	if len(local) < minLocalLen || len(local) > maxLocalLen {
		return fmt.Errorf("%w: length must be %d-%d", ErrInvalidLocalPart, minLocalLen, maxLocalLen)
	}
	if !localPartPattern.MatchString(local) {
		return fmt.Errorf("%w: %q", ErrInvalidLocalPart, local)
	}
	if strings.Contains(local, "..") {
		return fmt.Errorf("%w: consecutive dots", ErrInvalidLocalPart)
	}
	if reserved[local] {
		return fmt.Errorf("%w: %q", ErrReservedLocalPart, local)
	}
	return nil
}

// Normalize reduces a recipient as it appears in headers or RCPT TO to
// a lowercase local part and domain. Display names, angle brackets and
// +tag sub-addressing are removed.
func Normalize(raw string) (local, domain string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrInvalidAddress
	}

	addr := raw
	if parsed, perr := mail.ParseAddress(raw); perr == nil {
		addr = parsed.Address
	} else {
		addr = strings.Trim(addr, "<>")
	}

	local, domain, ok := model.SplitEmail(addr)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	if plus := strings.IndexByte(local, '+'); plus > 0 {
		local = local[:plus]
	}
	return local, domain, nil
}

// ExpiryFor clamps a requested lifetime to the tier policy. Zero or
// negative requests use the tier default.
func ExpiryFor(p model.TierPolicy, requested time.Duration, now time.Time) time.Time {
	ttl := requested
	if ttl <= 0 {
		ttl = p.TTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return now.Add(ttl)
}

// Extend returns a new expiry that adds by to current, never exceeding
// createdAt + MaxTTL.
func Extend(p model.TierPolicy, createdAt, current time.Time, by time.Duration, now time.Time) time.Time {
	base := current
	if base.Before(now) {
		base = now
	}
	next := base.Add(by)
	if p.MaxTTL > 0 {
		limit := createdAt.Add(p.MaxTTL)
		if next.After(limit) {
			next = limit
		}
	}
	return next
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return int(v.Int64())
}

func pick(words []string) string {
	return words[randInt(len(words))]
}

func randomString(charset string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[randInt(len(charset))]
	}
	return string(b)
}
