package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const ginTokenKey = "session.token"

// CookieStorage keeps the token in the visitor's session cookie.
type CookieStorage struct {
	c      *gin.Context
	secure bool
}

// NewCookieStorage binds a storage to the current request.
func NewCookieStorage(c *gin.Context, secure bool) *CookieStorage {
	return &CookieStorage{c: c, secure: secure}
}

func (s *CookieStorage) Read(_ context.Context) (string, error) {
	// A token written earlier in this request wins over the inbound cookie.
	if v, ok := s.c.Get(ginTokenKey); ok {
		if token, ok := v.(string); ok {
			return token, nil
		}
	}
	token, err := s.c.Cookie(CookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return "", nil
	}
	return token, err
}

func (s *CookieStorage) Write(_ context.Context, token string, ttl time.Duration) error {
	s.c.SetSameSite(http.SameSiteLaxMode)
	s.c.SetCookie(CookieName, token, int(ttl.Seconds()), CookiePath, "", s.secure, true)
	s.c.Set(ginTokenKey, token)
	return nil
}

// MemoryStorage is a single in-process token slot with expiry.
type MemoryStorage struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	writes    int
	now       func() time.Time
}

// NewMemoryStorage returns an empty slot. now may be nil.
func NewMemoryStorage(now func() time.Time) *MemoryStorage {
	if now == nil {
		now = time.Now
	}
	return &MemoryStorage{now: now}
}

func (s *MemoryStorage) Read(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.now().Before(s.expiresAt) {
		return "", nil
	}
	return s.token, nil
}

func (s *MemoryStorage) Write(_ context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = s.now().Add(ttl)
	s.writes++
	return nil
}

// ExpiresAt reports when the stored token expires.
func (s *MemoryStorage) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Writes counts Write calls.
func (s *MemoryStorage) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
