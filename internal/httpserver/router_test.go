package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"storefront-cart/internal/cartstore"
	"storefront-cart/internal/gateway"
	"storefront-cart/internal/metrics"
	"storefront-cart/internal/registry"
	"storefront-cart/internal/session"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testAPI struct {
	router *gin.Engine
	svc    *gateway.Memory
	reg    *prometheus.Registry
	cookie *http.Cookie
}

type stateBody struct {
	Status string `json:"status"`
	Cart   struct {
		ID    string `json:"id"`
		Items []struct {
			ID        string `json:"id"`
			ProductID string `json:"productId"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
		ItemCount      int    `json:"itemCount"`
		TotalAmount    string `json:"totalAmount"`
		AppliedCoupons []struct {
			ID   string `json:"id"`
			Code string `json:"code"`
		} `json:"appliedCoupons"`
	} `json:"cart"`
	Summary struct {
		ItemCount int               `json:"itemCount"`
		Items     []json.RawMessage `json:"items"`
	} `json:"summary"`
	Error  string `json:"error"`
	IsOpen bool   `json:"isOpen"`
}

type errorBody struct {
	Error string     `json:"error"`
	State *stateBody `json:"state"`
}

func logDiscard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestAPI(t *testing.T, ledger Pinger) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := gateway.NewMemory()
	reg := prometheus.NewRegistry()
	cartMetrics := metrics.NewCartMetrics(reg)
	stores := registry.New(func(id string) *cartstore.Store {
		return cartstore.New(svc, cartstore.WithSessionResolver(session.Static(id)), cartstore.WithMetrics(cartMetrics))
	}, time.Hour, registry.WithMetrics(cartMetrics))
	t.Cleanup(stores.Close)

	var seq atomic.Int64
	provider := session.NewProvider(session.WithTokenGenerator(func() (string, error) {
		return fmt.Sprintf("tok-%d", seq.Add(1)), nil
	}))

	router, err := buildRouter(logDiscard(), Deps{
		Stores:      stores,
		Sessions:    provider,
		Ledger:      ledger,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
		Gatherer:    reg,
		CORSOrigins: []string{"http://shop.example"},
	})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return &testAPI{router: router, svc: svc, reg: reg}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.cookie != nil {
		req.AddCookie(a.cookie)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == session.CookieName {
			a.cookie = ck
		}
	}
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) stateBody {
	t.Helper()
	var st stateBody
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v (%s)", err, rec.Body.String())
	}
	return st
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	if rec := api.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := newTestAPI(t, stubPinger{err: errors.New("connection refused")})
	if rec := down.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	missing := newTestAPI(t, nil)
	if rec := missing.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without ledger, got %d", rec.Code)
	}
}

func TestGetCartIssuesSessionCookieOnce(t *testing.T) {
	api := newTestAPI(t, stubPinger{})

	rec := api.do(t, http.MethodGet, "/cart", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if api.cookie == nil || api.cookie.Value != "tok-1" || api.cookie.MaxAge != int(session.TTL.Seconds()) {
		t.Fatalf("unexpected session cookie %+v", api.cookie)
	}
	st := decodeState(t, rec)
	if st.Status != "ready" || st.Cart.ItemCount != 0 || st.Cart.Items == nil {
		t.Fatalf("unexpected state %+v", st)
	}

	rec = api.do(t, http.MethodGet, "/cart", "")
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no new cookie on second request")
	}
	if api.svc.Calls(gateway.OpFetchCart) != 1 {
		t.Fatalf("expected a single initial fetch, got %d", api.svc.Calls(gateway.OpFetchCart))
	}
}

func TestAddLookupDecrementFlow(t *testing.T) {
	api := newTestAPI(t, stubPinger{})

	rec := api.do(t, http.MethodPost, "/cart/items", `{"productId":"p-airpods-pro","quantity":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	st := decodeState(t, rec)
	if st.Cart.ItemCount != 2 || len(st.Cart.Items) != 1 {
		t.Fatalf("unexpected cart after add %+v", st.Cart)
	}
	lineID := st.Cart.Items[0].ID

	rec = api.do(t, http.MethodGet, "/cart/lookup?productId=p-airpods-pro", "")
	var lookup lookupResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &lookup)
	if !lookup.InCart || lookup.Quantity != 2 || lookup.LineID.String() != lineID {
		t.Fatalf("unexpected lookup %+v", lookup)
	}

	rec = api.do(t, http.MethodPost, "/cart/items/"+lineID+"/decrement", "")
	if st := decodeState(t, rec); rec.Code != http.StatusOK || st.Cart.ItemCount != 1 {
		t.Fatalf("decrement: unexpected %d %+v", rec.Code, st.Cart)
	}
	rec = api.do(t, http.MethodPost, "/cart/items/"+lineID+"/decrement", "")
	if st := decodeState(t, rec); rec.Code != http.StatusOK || st.Cart.ItemCount != 0 || len(st.Cart.Items) != 0 {
		t.Fatalf("decrement at one should remove the line, got %d %+v", rec.Code, st.Cart)
	}
	if api.svc.Calls(gateway.OpRemoveItem) != 1 {
		t.Fatalf("expected the last decrement to remove, got %d removes", api.svc.Calls(gateway.OpRemoveItem))
	}

	rec = api.do(t, http.MethodPost, "/cart/items/"+lineID+"/decrement", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing line, got %d", rec.Code)
	}
}

func TestUpdateAndRemoveItem(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	st := decodeState(t, api.do(t, http.MethodPost, "/cart/items", `{"productId":"p-usb-c-charger"}`))
	lineID := st.Cart.Items[0].ID
	if st.Cart.ItemCount != 1 {
		t.Fatalf("expected default quantity 1, got %d", st.Cart.ItemCount)
	}

	rec := api.do(t, http.MethodPatch, "/cart/items/"+lineID, `{"quantity":5}`)
	if st := decodeState(t, rec); rec.Code != http.StatusOK || st.Cart.ItemCount != 5 {
		t.Fatalf("update: unexpected %d %+v", rec.Code, st.Cart)
	}

	rec = api.do(t, http.MethodPatch, "/cart/items/"+lineID, `{"quantity":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.State == nil || body.State.Status != "error" || body.State.Cart.ItemCount != 5 {
		t.Fatalf("expected error state with cart kept, got %+v", body.State)
	}

	rec = api.do(t, http.MethodDelete, "/cart/items/"+lineID, "")
	if st := decodeState(t, rec); rec.Code != http.StatusOK || st.Cart.ItemCount != 0 {
		t.Fatalf("remove: unexpected %d %+v", rec.Code, st.Cart)
	}
}

func TestLogicalFailureIs422(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	rec := api.do(t, http.MethodPost, "/cart/items", `{"productId":"does-not-exist","quantity":1}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error != "product not found" || body.State == nil || body.State.Cart.Items == nil {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestTransportFailureIs502(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	api.do(t, http.MethodGet, "/cart", "")
	api.svc.SetHook(func(_ context.Context, op string) error {
		if op == gateway.OpAddItem {
			return &gateway.TransportError{Op: op, Err: errors.New("connection reset")}
		}
		return nil
	})

	rec := api.do(t, http.MethodPost, "/cart/items", `{"productId":"p-airpods-pro"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "could not reach the cart service" {
		t.Fatalf("unexpected error %q", body.Error)
	}
}

func TestInvalidBodyIs400(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	rec := api.do(t, http.MethodPost, "/cart/items", `{"productId":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCouponsAreNormalized(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	api.do(t, http.MethodPost, "/cart/items", `{"productId":"p-thinkpad-t480"}`)

	rec := api.do(t, http.MethodPost, "/cart/coupons", `{"code":"  save10 "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	st := decodeState(t, rec)
	if len(st.Cart.AppliedCoupons) != 1 || st.Cart.AppliedCoupons[0].Code != "SAVE10" {
		t.Fatalf("unexpected coupons %+v", st.Cart.AppliedCoupons)
	}

	rec = api.do(t, http.MethodPost, "/cart/coupons", `{"code":"nope"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown coupon, got %d", rec.Code)
	}
	if body := decodeError(t, rec); len(body.State.Cart.AppliedCoupons) != 1 {
		t.Fatalf("failed apply must keep existing coupons")
	}

	rec = api.do(t, http.MethodDelete, "/cart/coupons/"+st.Cart.AppliedCoupons[0].ID, "")
	if st := decodeState(t, rec); rec.Code != http.StatusOK || len(st.Cart.AppliedCoupons) != 0 {
		t.Fatalf("remove coupon: unexpected %d %+v", rec.Code, st.Cart.AppliedCoupons)
	}
}

func TestToggleClearAndSummary(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	for _, p := range []string{"p-airpods-pro", "p-thinkpad-t480", "p-usb-c-charger", "p-iphone-13"} {
		if rec := api.do(t, http.MethodPost, "/cart/items", `{"productId":"`+p+`"}`); rec.Code != http.StatusOK {
			t.Fatalf("add %s: %d", p, rec.Code)
		}
	}

	rec := api.do(t, http.MethodGet, "/cart/summary", "")
	var summary struct {
		ItemCount int               `json:"itemCount"`
		Items     []json.RawMessage `json:"items"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &summary)
	if summary.ItemCount != 4 || len(summary.Items) != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if st := decodeState(t, api.do(t, http.MethodPost, "/cart/toggle", "")); !st.IsOpen {
		t.Fatalf("expected cart open after toggle")
	}

	fetches := api.svc.Calls(gateway.OpFetchCart)
	st := decodeState(t, api.do(t, http.MethodDelete, "/cart", ""))
	if st.Cart.ItemCount != 0 || len(st.Cart.Items) != 0 || !st.IsOpen {
		t.Fatalf("unexpected state after clear %+v", st)
	}
	if api.svc.Calls(gateway.OpFetchCart) != fetches {
		t.Fatalf("clear must not resync")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	api.do(t, http.MethodGet, "/cart", "")

	rec := api.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`storefront_http_requests_total{method="GET",route="/cart",status="200"} 1`,
		`storefront_cart_intents_total{intent="refresh",outcome="success"} 1`,
		`storefront_cart_active_stores 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	req := httptest.NewRequest(http.MethodOptions, "/cart/items", nil)
	req.Header.Set("Origin", "http://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "http://shop.example" {
		t.Fatalf("expected origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	api := newTestAPI(t, stubPinger{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected request id echoed")
	}

	rec = api.do(t, http.MethodGet, "/healthz", "")
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestBuildRouterRequiresStores(t *testing.T) {
	if _, err := buildRouter(logDiscard(), Deps{}); err == nil {
		t.Fatalf("expected error without store source")
	}
}
