package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Get when a paste does not exist or the id is malformed.
	ErrNotFound = errors.New("paste not found")
	// ErrNotAvailable is returned by ConsumeView when no view could be consumed:
	// the paste is missing, expired, or has reached its view limit.
	ErrNotAvailable = errors.New("paste not available")
)

// Paste represents a stored paste entry.
type Paste struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	MaxViews       int       `json:"max_views"`
	ViewCount      int       `json:"view_count"`
	PassphraseHash string    `json:"passphrase_hash,omitempty"`
}

// HasExpiration reports whether the paste has an expiry set.
func (p Paste) HasExpiration() bool {
	return !p.ExpiresAt.IsZero()
}

// HasViewLimit reports whether the paste has a maximum view count.
func (p Paste) HasViewLimit() bool {
	return p.MaxViews > 0
}

// Accessible reports whether a view may be consumed at now.
func (p Paste) Accessible(now time.Time) bool {
	if p.HasExpiration() && !p.ExpiresAt.After(now) {
		return false
	}
	if p.HasViewLimit() && p.ViewCount >= p.MaxViews {
		return false
	}
	return true
}

// RemainingViews returns the views left and whether the paste is view-limited.
func (p Paste) RemainingViews() (int, bool) {
	if !p.HasViewLimit() {
		return 0, false
	}
	left := p.MaxViews - p.ViewCount
	if left < 0 {
		left = 0
	}
	return left, true
}

// NewPaste describes a paste to be created. Zero TTL and zero MaxViews mean unrestricted.
type NewPaste struct {
	Content        string
	TTL            time.Duration
	MaxViews       int
	PassphraseHash string
	CreatedAt      time.Time
}

// Build returns the record persisted for n under id. Timestamps are stored in
// UTC with millisecond precision so every engine compares them identically.
func (n NewPaste) Build(id string) *Paste {
	created := n.CreatedAt.UTC().Truncate(time.Millisecond)
	p := &Paste{
		ID:             id,
		Content:        n.Content,
		CreatedAt:      created,
		PassphraseHash: n.PassphraseHash,
	}
	if n.TTL > 0 {
		p.ExpiresAt = created.Add(n.TTL)
	}
	if n.MaxViews > 0 {
		p.MaxViews = n.MaxViews
	}
	return p
}

// ConsumeResult is what a successful ConsumeView hands back to callers.
type ConsumeResult struct {
	Content        string
	RemainingViews *int
	ExpiresAt      *time.Time
}

// ResultOf shapes the post-update record of a consumed view.
func ResultOf(p *Paste) ConsumeResult {
	res := ConsumeResult{Content: p.Content}
	if left, ok := p.RemainingViews(); ok {
		res.RemainingViews = &left
	}
	if p.HasExpiration() {
		exp := p.ExpiresAt.UTC()
		res.ExpiresAt = &exp
	}
	return res
}

// Store defines the storage backend contract.
//
// ConsumeView must evaluate accessibility and increment the view count as a
// single atomic step in the backing engine. Get is a plain lookup and is
// never authoritative for access decisions.
type Store interface {
	Create(ctx context.Context, p NewPaste) (*Paste, error)
	Get(ctx context.Context, id string) (*Paste, error)
	ConsumeView(ctx context.Context, id string, now time.Time) (*Paste, error)
	Ping(ctx context.Context) error
	Close() error
}

// MillisOrNull returns t as unix milliseconds, or nil for the zero time.
func MillisOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
