package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New()
	m.MessageDispatched("sms", "sent")
	m.MessageDispatched("sms", "sent")
	m.MessageDispatched("mms", "failed")
	m.BalanceChanged(1, -3, "debit")
	m.BalanceChanged(1, 500, "credit")
	m.WebhookProcessed("checkout.session.completed", "applied")
	m.ObserveRequest("GET", "GET /health", 200, 5*time.Millisecond)

	out := scrape(t, m)
	for _, want := range []string{
		`textblast_messages_total{kind="sms",status="sent"} 2`,
		`textblast_messages_total{kind="mms",status="failed"} 1`,
		`textblast_credits_total{reason="debit"} 3`,
		`textblast_credits_total{reason="credit"} 500`,
		`textblast_webhook_events_total{outcome="applied",type="checkout.session.completed"} 1`,
		`textblast_http_request_duration_seconds_count{method="GET",route="GET /health",status="200"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.MessageDispatched("sms", "sent")
	if strings.Contains(scrape(t, b), `textblast_messages_total{kind="sms"`) {
		t.Error("registries should not share series")
	}
}
