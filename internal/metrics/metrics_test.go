package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.ObservePublish("orders")
	r.ObservePublish("orders")
	r.ObserveConsume("orders")
	r.ObserveDeadLetter("orders")
	r.ObserveDepth("orders", 3, 1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		`vaultq_published_total{queue="orders"} 2`,
		`vaultq_consumed_total{queue="orders"} 1`,
		`vaultq_dead_lettered_total{queue="orders"} 1`,
		`vaultq_ready_depth{queue="orders"} 3`,
		`vaultq_in_flight_depth{queue="orders"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("response missing %q, got:\n%s", want, body)
		}
	}
}
