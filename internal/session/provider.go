// Package session resolves the anonymous per-visitor session token that binds
// a cart on the remote cart service to a browser.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"storefront-cart/internal/logging"
)

const (
	// CookieName is the cookie carrying the session token.
	CookieName = "session_id"
	// CookiePath scopes the cookie to the whole site.
	CookiePath = "/"
	// TTL is the lifetime of a freshly issued token.
	TTL = 7 * 24 * time.Hour
)

// Storage is where the token lives on the visitor's side: a cookie, an
// in-memory slot, or any other per-client container.
type Storage interface {
	// Read returns the stored token, or "" when there is none.
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, token string, ttl time.Duration) error
}

// Resolver is what the cart store consumes.
type Resolver interface {
	ResolveSessionID(ctx context.Context) string
}

// Provider resolves existing tokens or issues new ones.
type Provider struct {
	ledger   Ledger
	logger   *logrus.Entry
	now      func() time.Time
	newToken func() (string, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithLedger records issued and seen tokens in l.
func WithLedger(l Ledger) Option {
	return func(p *Provider) { p.ledger = l }
}

// WithLogger sets the provider's logger.
func WithLogger(l *logrus.Entry) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(p *Provider) { p.newToken = gen }
}

// NewProvider builds a Provider. Without a ledger nothing is recorded server-side.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		logger:   logging.Discard(),
		now:      time.Now,
		newToken: randomToken,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve returns the token held by st, or issues, stores and returns a new
// one. It never fails: storage and ledger errors are logged and a usable
// token is still returned.
func (p *Provider) Resolve(ctx context.Context, st Storage) string {
	existing, err := st.Read(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("read session token")
	}
	if token := strings.TrimSpace(existing); token != "" {
		if p.ledger != nil {
			if err := p.ledger.Touch(ctx, token, p.now()); err != nil {
				p.logger.WithError(err).Warn("touch session token")
			}
		}
		return existing
	}

	token, err := p.newToken()
	if err != nil || strings.TrimSpace(token) == "" {
		p.logger.WithError(err).Warn("token generator failed, using fallback")
		token = fallbackToken(p.now())
	}
	if err := st.Write(ctx, token, TTL); err != nil {
		p.logger.WithError(err).Warn("write session token")
	}
	if p.ledger != nil {
		if err := p.ledger.Record(ctx, token, p.now().Add(TTL)); err != nil {
			p.logger.WithError(err).Warn("record session token")
		}
	}
	p.logger.WithField("session", token).Debug("issued session token")
	return token
}

// For binds the provider to a storage, producing a Resolver.
func (p *Provider) For(st Storage) Resolver {
	return boundResolver{p: p, st: st}
}

type boundResolver struct {
	p  *Provider
	st Storage
}

func (b boundResolver) ResolveSessionID(ctx context.Context) string {
	return b.p.Resolve(ctx, b.st)
}

// Static is a Resolver that always returns the same token.
type Static string

func (s Static) ResolveSessionID(context.Context) string { return string(s) }

func randomToken() (token string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generate token: %v", r)
		}
	}()
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var fallbackSeq atomic.Uint64

// fallbackToken is unique enough for UX, not for security.
func fallbackToken(now time.Time) string {
	return fmt.Sprintf("sess-%d-%d", now.UnixNano(), fallbackSeq.Add(1))
}
