package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCartMetricsCountsIntents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCartMetrics(reg)

	m.ObserveIntent("add_item", OutcomeSuccess)
	m.ObserveIntent("add_item", OutcomeSuccess)
	m.ObserveIntent("add_item", OutcomeFailure)
	m.ObserveResync(20 * time.Millisecond)
	m.SetActiveStores(3)

	got := counterValue(t, reg, "storefront_cart_intents_total", map[string]string{"intent": "add_item", "outcome": OutcomeSuccess})
	if got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	got = counterValue(t, reg, "storefront_cart_intents_total", map[string]string{"intent": "add_item", "outcome": OutcomeFailure})
	if got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestNilCartMetricsIsNoop(t *testing.T) {
	var m *CartMetrics
	m.ObserveIntent("refresh", OutcomeSuccess)
	m.ObserveResync(time.Second)
	m.SetActiveStores(1)
}

func TestHandlerExposesHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.Observe("/cart", http.MethodGet, http.StatusOK, 5*time.Millisecond)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `storefront_http_requests_total{method="GET",route="/cart",status="200"} 1`) {
		t.Fatalf("expected request counter in scrape, got:\n%s", body)
	}
}
