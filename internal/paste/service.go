// Package paste implements creating and reading pastes on top of a
// storage.Store.
package paste

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"limitpaste/internal/metrics"
	"limitpaste/internal/security"
	"limitpaste/internal/storage"
)

const (
	defaultMaxBytes = 1 << 20
	maxTTLSeconds   = math.MaxInt64 / int64(time.Second)
)

// Config wires a Service.
type Config struct {
	Store storage.Store
	// Clock defaults to time.Now.
	Clock func() time.Time
	// MaxBytes bounds the content size. Defaults to 1 MiB.
	MaxBytes int
	// BaseURL prefixes share URLs. When empty, URLs are relative ("/p/{id}").
	BaseURL string
}

// SubmitRequest is a paste submission. Nil limits mean unrestricted.
type SubmitRequest struct {
	Content    string
	TTLSeconds *int
	MaxViews   *int
	Passphrase string
}

// Submitted identifies a stored paste.
type Submitted struct {
	ID  string
	URL string
}

// View is the content served by a successful read, with the state after it.
type View struct {
	Content        string
	RemainingViews *int
	ExpiresAt      *time.Time
}

// Service validates submissions and serves views.
type Service struct {
	store    storage.Store
	clock    func() time.Time
	maxBytes int
	baseURL  string
}

// NewService constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Service{
		store:    cfg.Store,
		clock:    cfg.Clock,
		maxBytes: cfg.MaxBytes,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

// MaxBytes reports the content size limit.
func (s *Service) MaxBytes() int { return s.maxBytes }

// SubmitPaste validates req and stores it.
func (s *Service) SubmitPaste(ctx context.Context, req SubmitRequest) (*Submitted, error) {
	n, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if req.Passphrase != "" {
		if n.PassphraseHash, err = security.HashPassphrase(req.Passphrase); err != nil {
			return nil, errors.Wrap(err, "hash passphrase")
		}
	}
	n.CreatedAt = s.Now(ctx)

	p, err := s.store.Create(ctx, n)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("create").Inc()
		return nil, err
	}
	metrics.PastesCreated.Inc()
	return &Submitted{ID: p.ID, URL: s.URL(p.ID)}, nil
}

func (s *Service) validate(req SubmitRequest) (storage.NewPaste, error) {
	var n storage.NewPaste
	if strings.TrimSpace(req.Content) == "" {
		return n, invalid("content", "content is required and must be a non-empty string")
	}
	if len(req.Content) > s.maxBytes {
		return n, invalid("content", fmt.Sprintf("content must be at most %s", humanize.IBytes(uint64(s.maxBytes))))
	}
	n.Content = req.Content

	if req.TTLSeconds != nil {
		ttl := *req.TTLSeconds
		if ttl < 1 {
			return n, invalid("ttl_seconds", "ttl_seconds must be an integer >= 1")
		}
		if int64(ttl) > maxTTLSeconds {
			return n, invalid("ttl_seconds", "ttl_seconds is too large")
		}
		n.TTL = time.Duration(ttl) * time.Second
	}
	if req.MaxViews != nil {
		if *req.MaxViews < 1 {
			return n, invalid("max_views", "max_views must be an integer >= 1")
		}
		n.MaxViews = *req.MaxViews
	}
	return n, nil
}

// ViewPaste consumes one view of id. The Get lookup only short-circuits
// obvious misses and gates the passphrase; ConsumeView decides.
func (s *Service) ViewPaste(ctx context.Context, id, passphrase string) (*View, error) {
	now := s.Now(ctx)

	p, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		metrics.PasteViews.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return nil, ErrNotFound
	case err != nil:
		metrics.StoreErrors.WithLabelValues("get").Inc()
		metrics.PasteViews.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	if !p.Accessible(now) {
		metrics.PasteViews.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return nil, ErrNotFound
	}

	if p.PassphraseHash != "" {
		ok, err := security.VerifyPassphrase(p.PassphraseHash, passphrase)
		if err != nil {
			metrics.PasteViews.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, errors.Wrapf(err, "verify passphrase for %s", id)
		}
		if !ok {
			metrics.PasteViews.WithLabelValues(metrics.OutcomePassphraseRequired).Inc()
			return nil, ErrPassphraseRequired
		}
	}

	consumed, err := s.store.ConsumeView(ctx, id, now)
	switch {
	case errors.Is(err, storage.ErrNotAvailable):
		metrics.PasteViews.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return nil, ErrNotFound
	case err != nil:
		metrics.StoreErrors.WithLabelValues("consume").Inc()
		metrics.PasteViews.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	metrics.PasteViews.WithLabelValues(metrics.OutcomeServed).Inc()

	res := storage.ResultOf(consumed)
	return &View{
		Content:        res.Content,
		RemainingViews: res.RemainingViews,
		ExpiresAt:      res.ExpiresAt,
	}, nil
}

// URL returns the share URL of id.
func (s *Service) URL(id string) string {
	return s.baseURL + "/p/" + id
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
