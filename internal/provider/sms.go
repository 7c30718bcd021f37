package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// smsMaxLength keeps a message within a handful of SMS segments.
const smsMaxLength = 480

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSProvider sends text messages through Twilio. Credentials are read by
// the Twilio client from TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN.
type SMSProvider struct {
	api  messageCreator
	from string
}

func NewSMSProvider(from string) *SMSProvider {
	return &SMSProvider{api: twilio.NewRestClient().Api, from: from}
}

func newSMSProviderWith(api messageCreator, from string) *SMSProvider {
	return &SMSProvider{api: api, from: from}
}

func (p *SMSProvider) Send(ctx context.Context, to Recipient, msg domain.Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, Transient(err, 0)
	}
	if strings.TrimSpace(to.Address) == "" {
		return SendResult{}, Terminal(fmt.Errorf("%w: no phone number", domain.ErrInvalidPayload))
	}

	body := msg.Text()
	if len(body) > smsMaxLength {
		body = body[:smsMaxLength-3] + "..."
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to.Address)
	params.SetFrom(p.from)
	params.SetBody(body)

	resp, err := p.api.CreateMessage(params)
	if err != nil {
		var twErr *twclient.TwilioRestError
		if errors.As(err, &twErr) {
			return SendResult{}, classifyStatus(twErr.Status, err, 0)
		}
		return SendResult{}, Transient(err, 0)
	}

	var res SendResult
	if resp != nil && resp.Sid != nil {
		res.ExternalID = *resp.Sid
	}
	return res, nil
}

var _ Provider = (*SMSProvider)(nil)
