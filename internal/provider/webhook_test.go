package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/provider"
)

var msg = domain.Message{
	Title:      "Back in stock: Booster Box",
	Body:       "Booster Box is back in stock at $49.99",
	URL:        "https://www.amazon.com/dp/B0TEST",
	Category:   "tcg",
	ProductKey: "amazon:B0TEST",
}

func TestWebhookProvider_Send(t *testing.T) {
	var got provider.WebhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"msg-123","status":"accepted"}`))
	}))
	defer srv.Close()

	p := provider.NewWebhookProvider(srv.URL, 2*time.Second)
	res, err := p.Send(context.Background(), provider.Recipient{ID: "dest-1", Address: "r/restocks"}, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExternalID != "msg-123" {
		t.Fatalf("expected external id msg-123, got %q", res.ExternalID)
	}
	if got.To != "r/restocks" || got.ProductKey != "amazon:B0TEST" || got.Content != msg.Text() {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestWebhookProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		retryable  bool
		wait       time.Duration
	}{
		{http.StatusInternalServerError, "", true, 0},
		{http.StatusBadGateway, "", true, 0},
		{http.StatusTooManyRequests, "30", true, 30 * time.Second},
		{http.StatusBadRequest, "", false, 0},
		{http.StatusUnprocessableEntity, "", false, 0},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := provider.NewWebhookProvider(srv.URL, time.Second).
				Send(context.Background(), provider.Recipient{ID: "d"}, msg)
			if err == nil {
				t.Fatal("expected error")
			}
			if provider.IsRetryable(err) != tc.retryable {
				t.Fatalf("expected retryable=%v for %d", tc.retryable, tc.status)
			}
			if provider.RetryAfter(err) != tc.wait {
				t.Fatalf("expected retry-after %s, got %s", tc.wait, provider.RetryAfter(err))
			}
		})
	}
}

func TestWebhookProvider_AcceptsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := provider.NewWebhookProvider("", time.Second).
		Send(context.Background(), provider.Recipient{ID: "d", Address: srv.URL}, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExternalID != "" {
		t.Fatalf("expected no external id, got %q", res.ExternalID)
	}
}

func TestWebhookProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := provider.NewWebhookProvider(url, time.Second).Send(context.Background(), provider.Recipient{ID: "d"}, msg)
	if !provider.IsRetryable(err) {
		t.Fatalf("connection failures must be retryable, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("connection reset"), true},
		{"transient", provider.Transient(errors.New("503"), 0), true},
		{"terminal", provider.Terminal(errors.New("400")), false},
		{"content policy", domain.ErrContentPolicy, false},
		{"wrapped payload", provider.Transient(domain.ErrInvalidPayload, 0), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := provider.IsRetryable(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := provider.NewRegistry()
	wh := provider.NewWebhookProvider("http://localhost", time.Second)
	r.Register(domain.ChannelSocial, wh)

	if p, ok := r.Get(domain.ChannelSocial); !ok || p != wh {
		t.Fatal("expected registered provider")
	}
	if _, ok := r.Get(domain.ChannelSMS); ok {
		t.Fatal("expected no sms provider")
	}
}
