package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewClient(Config{
		APIKey:             "test-key",
		MessagingProfileID: "profile-1",
		FromNumber:         "+15550000000",
		BaseURL:            server.URL,
	}, WithHTTPClient(server.Client()))
}

func TestSendSMS(t *testing.T) {
	var received sendRequest
	var gotAuth, gotPath string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"data":{"id":"msg-1","to":[{"phone_number":"+15551112222","status":"queued"}]}}`))
	})

	res, err := client.Send(context.Background(), Message{To: "+15551112222", Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ID != "msg-1" || res.Status != "queued" {
		t.Errorf("result = %+v", res)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/messages" {
		t.Errorf("path = %q, want /messages", gotPath)
	}
	if received.From != "+15550000000" {
		t.Errorf("from = %q, want configured sender", received.From)
	}
	if received.Type != "SMS" || len(received.MediaURLs) != 0 {
		t.Errorf("type = %q media = %v, want SMS without media", received.Type, received.MediaURLs)
	}
	if received.MessagingProfileID != "profile-1" {
		t.Errorf("messaging_profile_id = %q", received.MessagingProfileID)
	}
}

func TestSendMMS(t *testing.T) {
	var received sendRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"data":{"id":"msg-2"}}`))
	})

	_, err := client.Send(context.Background(), Message{
		From:      "+15559999999",
		To:        "+15551112222",
		Text:      "look",
		MediaURLs: []string{"https://cdn.test/a.png"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if received.Type != "MMS" {
		t.Errorf("type = %q, want MMS", received.Type)
	}
	if received.From != "+15559999999" {
		t.Errorf("from = %q, want explicit sender", received.From)
	}
	if len(received.MediaURLs) != 1 {
		t.Errorf("media_urls = %v", received.MediaURLs)
	}
}

func TestSendMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"default", Message{To: "+1001", Text: "hi"}, "SMS"},
		{"sms", Message{To: "+1001", Text: "hi", Kind: "sms"}, "SMS"},
		{"mms without media", Message{To: "+1001", Text: "hi", Kind: "mms"}, "MMS"},
		{"media implies mms", Message{To: "+1001", Text: "hi", Kind: "sms", MediaURLs: []string{"https://cdn.test/a.png"}}, "MMS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received sendRequest
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&received)
				w.Write([]byte(`{"data":{"id":"msg-3"}}`))
			})
			if _, err := client.Send(context.Background(), tt.msg); err != nil {
				t.Fatalf("send: %v", err)
			}
			if received.Type != tt.want {
				t.Errorf("type = %q, want %q", received.Type, tt.want)
			}
		})
	}
}

func TestSendAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":"40310","title":"Invalid 'to' address","detail":"The 'to' address is invalid."}]}`))
	})

	_, err := client.Send(context.Background(), Message{To: "bad", Text: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", apiErr.Status)
	}
	if apiErr.Detail != "The 'to' address is invalid." {
		t.Errorf("detail = %q", apiErr.Detail)
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient(Config{})
	if client.Configured() {
		t.Error("expected Configured() = false")
	}
	if _, err := client.Send(context.Background(), Message{To: "+1"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestListAvailableNumbers(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"phone_number":"+13125550000","region_information":[{"region_name":"IL"}],
			"cost_information":{"monthly_cost":"1.00","upfront_cost":"1.00","currency":"USD"},
			"features":[{"name":"sms"},{"name":"mms"}]}]}`))
	})

	numbers, err := client.ListAvailableNumbers(context.Background(), NumberFilter{Locality: "Chicago", Limit: 5})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(numbers) != 1 {
		t.Fatalf("numbers = %d, want 1", len(numbers))
	}
	n := numbers[0]
	if n.PhoneNumber != "+13125550000" || n.Region != "IL" || n.MonthlyCost != "1.00" {
		t.Errorf("number = %+v", n)
	}
	if len(n.Features) != 2 {
		t.Errorf("features = %v", n.Features)
	}
	if gotQuery == "" {
		t.Error("expected filter query string")
	}
}

func TestPurchaseNumbers(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/number_orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"data":{"id":"order-1","status":"pending","phone_numbers":[{"phone_number":"+13125550000"}]}}`))
	})

	order, err := client.PurchaseNumbers(context.Background(), []string{"+13125550000"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if order.ID != "order-1" || len(order.PhoneNumbers) != 1 {
		t.Errorf("order = %+v", order)
	}
	if body["messaging_profile_id"] != "profile-1" {
		t.Errorf("messaging_profile_id = %v", body["messaging_profile_id"])
	}
}

func TestListPurchasedNumbers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"pn-1","phone_number":"+13125550000","status":"active"}]}`))
	})

	numbers, err := client.ListPurchasedNumbers(context.Background())
	if err != nil {
		t.Fatalf("list purchased: %v", err)
	}
	if len(numbers) != 1 || numbers[0].Status != "active" {
		t.Errorf("numbers = %+v", numbers)
	}
}
