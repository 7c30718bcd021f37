package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// telegramSender is the subset of *tele.Bot the provider needs.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// channelName addresses a public channel by its @username.
type channelName string

func (c channelName) Recipient() string { return string(c) }

// TelegramProvider posts messages to a chat or channel through the Bot API.
type TelegramProvider struct {
	bot telegramSender
}

// NewTelegramProvider builds a send-only bot; no poller is started.
func NewTelegramProvider(token string, timeout time.Duration) (*TelegramProvider, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramProvider{bot: b}, nil
}

func newTelegramProviderWith(bot telegramSender) *TelegramProvider {
	return &TelegramProvider{bot: bot}
}

func (p *TelegramProvider) Send(ctx context.Context, to Recipient, msg domain.Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, Transient(err, 0)
	}
	chat, err := telegramRecipient(to.Address)
	if err != nil {
		return SendResult{}, Terminal(err)
	}

	sent, err := p.bot.Send(chat, msg.Text(), &tele.SendOptions{DisableWebPagePreview: false})
	if err != nil {
		return SendResult{}, classifyTelegram(err)
	}
	return SendResult{ExternalID: strconv.Itoa(sent.ID)}, nil
}

func telegramRecipient(address string) (tele.Recipient, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty telegram chat", domain.ErrInvalidPayload)
	}
	if id, err := strconv.ParseInt(address, 10, 64); err == nil {
		return &tele.Chat{ID: id}, nil
	}
	if strings.HasPrefix(address, "@") {
		return channelName(address), nil
	}
	return nil, fmt.Errorf("%w: telegram chat %q", domain.ErrInvalidPayload, address)
}

func classifyTelegram(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return Transient(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) {
		return Transient(err, time.Duration(floodPtr.RetryAfter)*time.Second)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, err, 0)
	}
	return Transient(err, 0)
}

var _ Provider = (*TelegramProvider)(nil)
