// Package carrier is a client for the Telnyx v2 messaging and number APIs.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.telnyx.com/v2"

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("carrier not configured: missing API key")

type Config struct {
	APIKey             string
	MessagingProfileID string
	FromNumber         string
	BaseURL            string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// FromNumber is the default sender number.
func (c *Client) FromNumber() string {
	return c.cfg.FromNumber
}

// APIError is a non-2xx response from Telnyx.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("telnyx API error: status %d", e.Status)
	}
	return e.Detail
}

type errorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telnyx request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb errorBody
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb) == nil && len(eb.Errors) > 0 {
			apiErr.Detail = eb.Errors[0].Detail
			if apiErr.Detail == "" {
				apiErr.Detail = eb.Errors[0].Title
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Message is an outbound SMS or MMS. An empty From uses the configured
// sender number. Kind "mms" or any media sends it as MMS.
type Message struct {
	From      string
	To        string
	Text      string
	Kind      string
	MediaURLs []string
}

func messageType(m Message) string {
	if strings.EqualFold(m.Kind, "mms") || len(m.MediaURLs) > 0 {
		return "MMS"
	}
	return "SMS"
}

type SendResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type sendRequest struct {
	From               string   `json:"from"`
	To                 string   `json:"to"`
	Text               string   `json:"text"`
	Type               string   `json:"type"`
	MessagingProfileID string   `json:"messaging_profile_id,omitempty"`
	MediaURLs          []string `json:"media_urls,omitempty"`
}

// Send submits one message.
func (c *Client) Send(ctx context.Context, m Message) (SendResult, error) {
	from := m.From
	if from == "" {
		from = c.cfg.FromNumber
	}
	req := sendRequest{
		From:               from,
		To:                 m.To,
		Text:               m.Text,
		Type:               messageType(m),
		MessagingProfileID: c.cfg.MessagingProfileID,
		MediaURLs:          m.MediaURLs,
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
			To []struct {
				PhoneNumber string `json:"phone_number"`
				Status      string `json:"status"`
			} `json:"to"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &resp); err != nil {
		return SendResult{}, fmt.Errorf("send message: %w", err)
	}

	result := SendResult{ID: resp.Data.ID}
	if len(resp.Data.To) > 0 {
		result.Status = resp.Data.To[0].Status
	}
	return result, nil
}

type NumberFilter struct {
	CountryCode string
	Locality    string
	AreaCode    string
	Limit       int
}

type AvailableNumber struct {
	PhoneNumber string   `json:"phone_number"`
	Region      string   `json:"region,omitempty"`
	MonthlyCost string   `json:"monthly_cost,omitempty"`
	UpfrontCost string   `json:"upfront_cost,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Features    []string `json:"features"`
}

func (c *Client) ListAvailableNumbers(ctx context.Context, f NumberFilter) ([]AvailableNumber, error) {
	q := url.Values{}
	if f.CountryCode == "" {
		f.CountryCode = "US"
	}
	q.Set("filter[country_code]", f.CountryCode)
	if f.Locality != "" {
		q.Set("filter[locality]", f.Locality)
	}
	if f.AreaCode != "" {
		q.Set("filter[national_destination_code]", f.AreaCode)
	}
	if f.Limit > 0 {
		q.Set("filter[limit]", strconv.Itoa(f.Limit))
	}
	q.Add("filter[features][]", "sms")

	var resp struct {
		Data []struct {
			PhoneNumber       string `json:"phone_number"`
			RegionInformation []struct {
				RegionName string `json:"region_name"`
			} `json:"region_information"`
			CostInformation struct {
				MonthlyCost string `json:"monthly_cost"`
				UpfrontCost string `json:"upfront_cost"`
				Currency    string `json:"currency"`
			} `json:"cost_information"`
			Features []struct {
				Name string `json:"name"`
			} `json:"features"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/available_phone_numbers", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("list available numbers: %w", err)
	}

	numbers := make([]AvailableNumber, 0, len(resp.Data))
	for _, d := range resp.Data {
		n := AvailableNumber{
			PhoneNumber: d.PhoneNumber,
			MonthlyCost: d.CostInformation.MonthlyCost,
			UpfrontCost: d.CostInformation.UpfrontCost,
			Currency:    d.CostInformation.Currency,
			Features:    []string{},
		}
		if len(d.RegionInformation) > 0 {
			n.Region = d.RegionInformation[0].RegionName
		}
		for _, feat := range d.Features {
			n.Features = append(n.Features, feat.Name)
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}

type NumberOrder struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	PhoneNumbers []string `json:"phone_numbers"`
}

// PurchaseNumbers orders the given numbers and attaches them to the
// configured messaging profile.
func (c *Client) PurchaseNumbers(ctx context.Context, numbers []string) (NumberOrder, error) {
	type phone struct {
		PhoneNumber string `json:"phone_number"`
	}
	req := struct {
		PhoneNumbers       []phone `json:"phone_numbers"`
		MessagingProfileID string  `json:"messaging_profile_id,omitempty"`
	}{MessagingProfileID: c.cfg.MessagingProfileID}
	for _, n := range numbers {
		req.PhoneNumbers = append(req.PhoneNumbers, phone{PhoneNumber: n})
	}

	var resp struct {
		Data struct {
			ID           string  `json:"id"`
			Status       string  `json:"status"`
			PhoneNumbers []phone `json:"phone_numbers"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/number_orders", nil, req, &resp); err != nil {
		return NumberOrder{}, fmt.Errorf("purchase numbers: %w", err)
	}

	order := NumberOrder{ID: resp.Data.ID, Status: resp.Data.Status, PhoneNumbers: []string{}}
	for _, p := range resp.Data.PhoneNumbers {
		order.PhoneNumbers = append(order.PhoneNumbers, p.PhoneNumber)
	}
	return order, nil
}

type OwnedNumber struct {
	ID                 string `json:"id"`
	PhoneNumber        string `json:"phone_number"`
	Status             string `json:"status"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
	PurchasedAt        string `json:"purchased_at,omitempty"`
}

func (c *Client) ListPurchasedNumbers(ctx context.Context) ([]OwnedNumber, error) {
	q := url.Values{}
	q.Set("page[size]", "250")

	var resp struct {
		Data []OwnedNumber `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/phone_numbers", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("list purchased numbers: %w", err)
	}
	if resp.Data == nil {
		resp.Data = []OwnedNumber{}
	}
	return resp.Data, nil
}
