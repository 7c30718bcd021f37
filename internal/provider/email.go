package provider

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// EmailProvider sends HTML email over SMTP with PLAIN auth.
type EmailProvider struct {
	cfg      EmailConfig
	sendMail sendMailFunc
	now      func() time.Time
}

func NewEmailProvider(cfg EmailConfig) *EmailProvider {
	return &EmailProvider{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

func (p *EmailProvider) Send(ctx context.Context, to Recipient, msg domain.Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, Transient(err, 0)
	}
	if !strings.Contains(to.Address, "@") {
		return SendResult{}, Terminal(fmt.Errorf("%w: invalid email %q", domain.ErrInvalidPayload, to.Address))
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), p.cfg.Host)
	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	err := p.sendMail(net.JoinHostPort(p.cfg.Host, p.cfg.Port), auth, p.cfg.From,
		[]string{to.Address}, p.compose(to.Address, messageID, msg))
	if err != nil {
		return SendResult{}, classifySMTP(err)
	}
	return SendResult{ExternalID: messageID}, nil
}

func (p *EmailProvider) compose(to, messageID string, msg domain.Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Title))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", p.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h3>%s</h3>", html.EscapeString(msg.Title))
	fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(msg.Body))
	if msg.URL != "" {
		fmt.Fprintf(&b, "<p><a href=\"%s\">View product</a></p>", html.EscapeString(msg.URL))
	}
	b.WriteString("</body></html>\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// classifySMTP treats 4xx replies and transport errors as transient and 5xx
// replies (bad mailbox, rejected content) as terminal.
func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return Terminal(err)
		}
		return Transient(err, 0)
	}
	return Transient(err, 0)
}

var _ Provider = (*EmailProvider)(nil)
