package model

import (
	"strings"
	"time"
)

// Tier identifies the service level an address was provisioned under.
type Tier string

const (
	TierFree     Tier = "free"
	TierPremium  Tier = "premium"
	TierBusiness Tier = "business"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierBusiness:
		return true
	}
	return false
}

// AllowsCustomLocalPart reports whether addresses on this tier may pick
// their own local part instead of a generated one.
func (t Tier) AllowsCustomLocalPart() bool {
	return t == TierPremium || t == TierBusiness
}

// EncryptionMode selects who holds the key that opens an inbox.
type EncryptionMode string

const (
	// ModeManaged keeps the address keypair on the server, wrapped under
	// the master key. The API decrypts messages on read.
	ModeManaged EncryptionMode = "managed"

	// ModeSealed keeps only the public key on the server. Messages can
	// be opened solely by the holder of the secret key.
	ModeSealed EncryptionMode = "sealed"
)

// Valid reports whether m is a known encryption mode.
func (m EncryptionMode) Valid() bool {
	return m == ModeManaged || m == ModeSealed
}

// Address is a generated, time-boxed mailbox.
type Address struct {
	// ID is the internal UUID of the address.
	ID string `json:"id" db:"id"`

	// LocalPart is the part before the @, always lowercase.
	LocalPart string `json:"local_part" db:"local_part"`

	// Domain is one of the configured accepted domains, lowercase.
	Domain string `json:"domain" db:"domain"`

	// Tier controls TTL, inbox capacity and message size limits.
	Tier Tier `json:"tier" db:"tier"`

	// Mode selects managed or sealed encryption.
	Mode EncryptionMode `json:"mode" db:"mode"`

	// PublicKey is the ML-KEM-768 public key messages are sealed to.
	PublicKey []byte `json:"-" db:"public_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// MessageCount is filled in by list queries; it is not a column.
	MessageCount int `json:"message_count" db:"message_count"`
}

// Email returns the full address in local@domain form.
func (a Address) Email() string {
	return a.LocalPart + "@" + a.Domain
}

// Expired reports whether the address no longer accepts mail at now.
func (a Address) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// TTLRemaining returns the time left before expiry, never negative.
func (a Address) TTLRemaining(now time.Time) time.Duration {
	d := a.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// SplitEmail splits an address into lowercase local part and domain.
// It returns ok=false when the input has no single @ separator.
func SplitEmail(email string) (local, domain string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	if strings.Contains(email[:at], "@") {
		return "", "", false
	}
	return email[:at], email[at+1:], true
}

// TierPolicy holds the limits applied to addresses of one tier.
type TierPolicy struct {
	// TTL is the default lifetime when none is requested.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// MaxTTL caps requested and extended lifetimes.
	MaxTTL time.Duration `mapstructure:"max_ttl" yaml:"max_ttl"`

	// InboxCapacity is the maximum number of stored messages; the oldest
	// are evicted once it is reached. Zero means unlimited.
	InboxCapacity int `mapstructure:"inbox_capacity" yaml:"inbox_capacity"`

	// MaxMessageBytes rejects larger messages for this tier.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
}
