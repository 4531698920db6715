package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type failingStorage struct {
	readErr  error
	writeErr error
	written  string
}

func (s *failingStorage) Read(context.Context) (string, error) { return "", s.readErr }

func (s *failingStorage) Write(_ context.Context, token string, _ time.Duration) error {
	s.written = token
	return s.writeErr
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolveIssuesTokenOnceAndReusesIt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewMemoryStorage(fixedClock(now))
	ledger := NewMemoryLedger(fixedClock(now))
	p := NewProvider(WithLedger(ledger), WithClock(fixedClock(now)))

	first := p.Resolve(context.Background(), st)
	second := p.Resolve(context.Background(), st)

	if first == "" || first != second {
		t.Fatalf("expected stable token, got %q then %q", first, second)
	}
	if st.Writes() != 1 {
		t.Fatalf("expected exactly one write, got %d", st.Writes())
	}
	if got := st.ExpiresAt(); !got.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected 7 day expiry, got %v", got)
	}
	entry, ok := ledger.Get(first)
	if !ok || !entry.ExpiresAt.Equal(now.Add(TTL)) {
		t.Fatalf("expected ledger entry, got %+v %v", entry, ok)
	}
}

func TestResolveReturnsExistingTokenUnchanged(t *testing.T) {
	st := NewMemoryStorage(nil)
	if err := st.Write(context.Background(), "existing-token", TTL); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := NewProvider(WithTokenGenerator(func() (string, error) {
		t.Fatalf("generator must not be called")
		return "", nil
	}))
	if got := p.Resolve(context.Background(), st); got != "existing-token" {
		t.Fatalf("expected existing token, got %q", got)
	}
}

func TestResolveFallsBackWhenGeneratorFails(t *testing.T) {
	st := &failingStorage{}
	p := NewProvider(WithTokenGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	got := p.Resolve(context.Background(), st)
	if !strings.HasPrefix(got, "sess-") {
		t.Fatalf("expected fallback token, got %q", got)
	}
	if st.written != got {
		t.Fatalf("expected fallback token persisted, got %q", st.written)
	}
	if other := p.Resolve(context.Background(), &failingStorage{}); other == got {
		t.Fatalf("fallback tokens must differ")
	}
}

func TestResolveSurvivesStorageErrors(t *testing.T) {
	st := &failingStorage{readErr: errors.New("read"), writeErr: errors.New("write")}
	p := NewProvider(WithTokenGenerator(func() (string, error) { return "tok", nil }))
	if got := p.Resolve(context.Background(), st); got != "tok" {
		t.Fatalf("expected token despite storage errors, got %q", got)
	}
}

func TestResolveTouchesLedgerForExistingTokens(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := issued.Add(time.Hour)
	ledger := NewMemoryLedger(fixedClock(issued))
	st := NewMemoryStorage(fixedClock(issued))
	_ = st.Write(context.Background(), "tok", TTL)

	p := NewProvider(WithLedger(ledger), WithClock(fixedClock(later)))
	p.Resolve(context.Background(), st)

	entry, ok := ledger.Get("tok")
	if !ok {
		t.Fatalf("expected unknown token to be recorded on touch")
	}
	if !entry.LastSeenAt.Equal(later) {
		t.Fatalf("unexpected last seen %v", entry.LastSeenAt)
	}
	if !entry.ExpiresAt.Equal(later.Add(TTL)) {
		t.Fatalf("unexpected expiry %v", entry.ExpiresAt)
	}
}

func TestMemoryLedgerPurge(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewMemoryLedger(fixedClock(now))
	ctx := context.Background()
	_ = ledger.Record(ctx, "old", now.Add(-time.Minute))
	_ = ledger.Record(ctx, "fresh", now.Add(time.Hour))

	n, err := ledger.Purge(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged, got %d %v", n, err)
	}
	if _, ok := ledger.Get("old"); ok {
		t.Fatalf("expected old token purged")
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected one entry left, got %d", ledger.Len())
	}
}

func TestCookieStorageSetsSevenDayCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewProvider(WithTokenGenerator(func() (string, error) { return "fresh-token", nil }))

	router := gin.New()
	router.GET("/cart", func(c *gin.Context) {
		st := NewCookieStorage(c, false)
		first := p.Resolve(c.Request.Context(), st)
		second := p.Resolve(c.Request.Context(), st)
		c.String(http.StatusOK, first+"|"+second)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rec.Body.String() != "fresh-token|fresh-token" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected exactly one cookie, got %d", len(cookies))
	}
	ck := cookies[0]
	if ck.Name != CookieName || ck.Value != "fresh-token" || ck.Path != "/" || ck.MaxAge != 7*24*60*60 || !ck.HttpOnly {
		t.Fatalf("unexpected cookie %+v", ck)
	}
}

func TestCookieStorageReadsInboundCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewProvider()

	router := gin.New()
	router.GET("/cart", func(c *gin.Context) {
		c.String(http.StatusOK, p.For(NewCookieStorage(c, false)).ResolveSessionID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "abc"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Body.String() != "abc" {
		t.Fatalf("expected inbound token, got %q", rec.Body.String())
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookie rewrite")
	}
}
