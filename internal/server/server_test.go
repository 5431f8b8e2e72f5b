package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/textblast/internal/billing"
	"github.com/dukerupert/textblast/internal/carrier"
	"github.com/dukerupert/textblast/internal/config"
	"github.com/dukerupert/textblast/internal/database"
	"github.com/dukerupert/textblast/internal/store"
)

type fakeCarrier struct {
	mu   sync.Mutex
	sent []carrier.Message
}

func (f *fakeCarrier) Send(_ context.Context, m carrier.Message) (carrier.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return carrier.SendResult{ID: "msg_test", Status: "queued"}, nil
}

func (f *fakeCarrier) ListAvailableNumbers(context.Context, carrier.NumberFilter) ([]carrier.AvailableNumber, error) {
	return []carrier.AvailableNumber{{PhoneNumber: "+15550001111", Features: []string{"sms"}}}, nil
}

func (f *fakeCarrier) PurchaseNumbers(_ context.Context, numbers []string) (carrier.NumberOrder, error) {
	return carrier.NumberOrder{ID: "ord_1", Status: "pending", PhoneNumbers: numbers}, nil
}

func (f *fakeCarrier) ListPurchasedNumbers(context.Context) ([]carrier.OwnedNumber, error) {
	return []carrier.OwnedNumber{}, nil
}

func (f *fakeCarrier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeProcessor struct {
	mu   sync.Mutex
	next billing.Event
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, req billing.SessionRequest) (billing.Session, error) {
	return billing.Session{ID: "cs_test_1", URL: "https://checkout.example.com/cs_test_1"}, nil
}

func (f *fakeProcessor) ParseEvent(_ context.Context, _ []byte, sig string) (billing.Event, error) {
	if sig != "valid" {
		return billing.Event{}, errors.New("signature mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (f *fakeMailer) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes == nil {
		f.codes = make(map[string]string)
	}
	f.codes[to] = code
	return nil
}

func (f *fakeMailer) SendWelcome(context.Context, string, string, string) error { return nil }

func (f *fakeMailer) code(to string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[to]
}

type fakeMedia struct{}

func (fakeMedia) Upload(_ context.Context, name, _ string, _ io.Reader) (string, error) {
	return "https://media.example.com/" + name, nil
}

type testEnv struct {
	srv       *httptest.Server
	db        *sql.DB
	carrier   *fakeCarrier
	processor *fakeProcessor
	mailer    *fakeMailer
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Port:          8080,
		DBPath:        ":memory:",
		BaseURL:       "http://localhost:8080",
		JWTSecret:     "test-secret",
		JWTTTL:        time.Hour,
		AuthRateLimit: rateLimit,
	}
	env := &testEnv{
		db:        db,
		carrier:   &fakeCarrier{},
		processor: &fakeProcessor{},
		mailer:    &fakeMailer{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(db, cfg, logger,
		WithCarrier(env.carrier),
		WithProcessor(env.processor),
		WithMailer(env.mailer),
		WithMediaStore(fakeMedia{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	env.srv = httptest.NewServer(s.Router())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *testEnv) signup(t *testing.T, email string) string {
	t.Helper()
	status, body := e.do(t, "POST", "/auth/signup", "", map[string]string{
		"name": "Test User", "email": email, "password": "secret123",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup status = %d, body = %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("signup returned no token")
	}
	return token
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(t, "GET", "/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, 100)

	for _, path := range []string{"/auth/profile", "/contacts", "/messaging/messages", "/overview/stats", "/feedback/mine"} {
		status, body := env.do(t, "GET", path, "", nil)
		if status != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, status)
		}
		if body["success"] != false {
			t.Errorf("GET %s success = %v, want false", path, body["success"])
		}
	}
}

func TestQueryTokenOnlyForWebSocket(t *testing.T) {
	env := newTestEnv(t, 100)
	token := env.signup(t, "query@example.com")

	status, _ := env.do(t, "GET", "/contacts?token="+token, "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("GET /contacts?token status = %d, want 401", status)
	}
	status, _ = env.do(t, "GET", "/contacts", token, nil)
	if status != http.StatusOK {
		t.Errorf("GET /contacts with header status = %d, want 200", status)
	}
}

func TestPublicPlanRoutes(t *testing.T) {
	env := newTestEnv(t, 100)

	status, _ := env.do(t, "GET", "/plans", "", nil)
	if status != http.StatusOK {
		t.Errorf("GET /plans status = %d, want 200", status)
	}
	status, _ = env.do(t, "GET", "/push/vapid-key", "", nil)
	if status == http.StatusUnauthorized {
		t.Error("GET /push/vapid-key should not require auth")
	}
}

func TestSignupLoginProfile(t *testing.T) {
	env := newTestEnv(t, 100)
	env.signup(t, "Alice@Example.com")

	status, body := env.do(t, "POST", "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("login status = %d, body = %v", status, body)
	}
	token := body["token"].(string)

	status, body = env.do(t, "GET", "/auth/profile", token, nil)
	if status != http.StatusOK {
		t.Fatalf("profile status = %d", status)
	}
	data := body["data"].(map[string]any)
	if data["email"] != "alice@example.com" {
		t.Errorf("email = %v, want alice@example.com", data["email"])
	}
	if data["credits"] != float64(0) {
		t.Errorf("credits = %v, want 0", data["credits"])
	}

	status, _ = env.do(t, "POST", "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", status)
	}
}

func TestMemberCannotReachAdminRoutes(t *testing.T) {
	env := newTestEnv(t, 100)
	token := env.signup(t, "member@example.com")

	status, _ := env.do(t, "GET", "/overview/stats", token, nil)
	if status != http.StatusForbidden {
		t.Errorf("stats status = %d, want 403", status)
	}
	status, _ = env.do(t, "POST", "/plans", token, map[string]any{"name": "X", "credits": 1, "price": "1.00"})
	if status != http.StatusForbidden {
		t.Errorf("create plan status = %d, want 403", status)
	}
}

// Buying a plan through checkout and webhook funds the account, and the
// credits are then spent by sending.
func TestPurchaseThenSend(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	token := env.signup(t, "buyer@example.com")

	plan, err := store.NewPlanStore(env.db).Create(ctx, store.PlanInput{
		Name: "Starter", Credits: 100, Price: decimal.RequireFromString("10.00"),
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	status, body := env.do(t, "POST", "/contacts", token, map[string]any{
		"first_name": "Bob", "phone_number": "+15551230000", "email": "bob@example.com",
	})
	if status != http.StatusCreated {
		t.Fatalf("create contact status = %d, body = %v", status, body)
	}
	contactID := body["data"].(map[string]any)["id"].(float64)

	status, _ = env.do(t, "POST", "/messaging/send", token, map[string]any{"contact_id": contactID, "content": "hi"})
	if status != http.StatusPaymentRequired {
		t.Fatalf("send without credits status = %d, want 402", status)
	}
	if env.carrier.count() != 0 {
		t.Fatal("carrier called without credits")
	}

	status, body = env.do(t, "POST", "/plans/create-checkout-session", "", map[string]any{
		"plan_id": plan.ID, "email": "buyer@example.com",
	})
	if status != http.StatusOK {
		t.Fatalf("checkout status = %d, body = %v", status, body)
	}
	if body["sessionId"] != "cs_test_1" {
		t.Errorf("sessionId = %v, want cs_test_1", body["sessionId"])
	}

	env.processor.next = billing.Event{ID: "evt_1", Type: billing.EventCheckoutCompleted, SessionID: "cs_test_1"}
	webhook := func(sig string) int {
		req, _ := http.NewRequest("POST", env.srv.URL+"/plans/webhook", strings.NewReader(`{}`))
		req.Header.Set("Stripe-Signature", sig)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("webhook: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if got := webhook("forged"); got != http.StatusBadRequest {
		t.Errorf("forged webhook status = %d, want 400", got)
	}
	for i := 0; i < 2; i++ {
		if got := webhook("valid"); got != http.StatusOK {
			t.Fatalf("webhook delivery %d status = %d, want 200", i+1, got)
		}
	}

	_, body = env.do(t, "GET", "/auth/profile", token, nil)
	data := body["data"].(map[string]any)
	if data["credits"] != float64(100) {
		t.Fatalf("credits after purchase = %v, want 100", data["credits"])
	}
	if data["plan"] != "Starter" {
		t.Errorf("plan = %v, want Starter", data["plan"])
	}

	status, body = env.do(t, "POST", "/messaging/send", token, map[string]any{"contact_id": contactID, "content": "hi"})
	if status != http.StatusOK {
		t.Fatalf("send status = %d, body = %v", status, body)
	}
	if body["credits"] != float64(99) {
		t.Errorf("credits after send = %v, want 99", body["credits"])
	}
	if env.carrier.count() != 1 {
		t.Errorf("carrier sends = %d, want 1", env.carrier.count())
	}

	status, body = env.do(t, "GET", "/plans/payments", token, nil)
	if status != http.StatusOK {
		t.Fatalf("payments status = %d", status)
	}
}

func TestOTPRoundTrip(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(t, "POST", "/otp/send", "", map[string]string{"email": "otp@example.com"})
	if status != http.StatusOK {
		t.Fatalf("send status = %d, body = %v", status, body)
	}
	code := env.mailer.code("otp@example.com")
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}

	status, _ = env.do(t, "POST", "/otp/verify", "", map[string]string{"email": "otp@example.com", "code": "000000x"})
	if status != http.StatusBadRequest {
		t.Errorf("wrong code status = %d, want 400", status)
	}
	status, body = env.do(t, "POST", "/otp/verify", "", map[string]string{"email": "otp@example.com", "code": code})
	if status != http.StatusOK {
		t.Errorf("verify status = %d, body = %v", status, body)
	}
}

func TestOTPRateLimited(t *testing.T) {
	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, "POST", "/otp/send", "", map[string]string{"email": "rl@example.com"})
		if status != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, status)
		}
	}
	status, _ := env.do(t, "POST", "/otp/send", "", map[string]string{"email": "rl@example.com"})
	if status != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", status)
	}
}

func TestMetricsExposeRoutes(t *testing.T) {
	env := newTestEnv(t, 100)
	env.do(t, "GET", "/health", "", nil)

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "textblast_http_request_duration_seconds") {
		t.Error("metrics output missing request histogram")
	}
	if !strings.Contains(string(b), `route="GET /health"`) {
		t.Error("metrics output missing GET /health route label")
	}
}
