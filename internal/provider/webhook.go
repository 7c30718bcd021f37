package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// WebhookRequest is the JSON body posted to a social bridge.
type WebhookRequest struct {
	To         string `json:"to"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	Category   string `json:"category,omitempty"`
	ProductKey string `json:"product_key"`
	Content    string `json:"content"`
}

// WebhookResponse maps the bridge's acknowledgement body.
type WebhookResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// WebhookProvider delivers messages by POSTing JSON to an HTTP bridge that
// fronts a social network. When the recipient address is itself an http(s)
// URL it overrides the configured base URL.
type WebhookProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewWebhookProvider(baseURL string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the message and accepts any 2xx status. A JSON body with
// messageId is optional.
func (p *WebhookProvider) Send(ctx context.Context, to Recipient, msg domain.Message) (SendResult, error) {
	target := p.baseURL
	if strings.HasPrefix(to.Address, "http://") || strings.HasPrefix(to.Address, "https://") {
		target = to.Address
	}
	if target == "" {
		return SendResult{}, Terminal(fmt.Errorf("no webhook url for recipient %q", to.ID))
	}

	body, err := json.Marshal(WebhookRequest{
		To:         to.Address,
		Title:      msg.Title,
		Body:       msg.Body,
		URL:        msg.URL,
		Category:   msg.Category,
		ProductKey: msg.ProductKey,
		Content:    msg.Text(),
	})
	if err != nil {
		return SendResult{}, Terminal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, Terminal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return SendResult{}, Transient(fmt.Errorf("send request: %w", err), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, classifyStatus(resp.StatusCode,
			fmt.Errorf("unexpected webhook status: %d", resp.StatusCode),
			parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var ack WebhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return SendResult{}, nil
	}
	return SendResult{ExternalID: ack.MessageID}, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// compile-time check that WebhookProvider implements Provider
var _ Provider = (*WebhookProvider)(nil)
