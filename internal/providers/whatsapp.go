package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
)

// whatsAppErrorTable maps Twilio WhatsApp channel error codes. Only codes the
// platform documents as throttling are flagged RateLimit - a generic channel
// error retries through the normal attempt counter instead.
var whatsAppErrorTable = map[string]ErrorEntry{
	"63001": {Message: "invalid channel credentials", Retryable: false},
	"63003": {Message: "channel could not find the recipient address", Retryable: false},
	"63005": {Message: "channel policy violation", Retryable: false},
	"63007": {Message: "could not find a channel for the sender address", Retryable: false},
	"63012": {Message: "channel internal error", Retryable: true},
	"63016": {Message: "freeform message outside the allowed window, template required", Retryable: false},
	"63018": {Message: "recipient messaging rate limit hit", Retryable: true, RateLimit: true},
	"63024": {Message: "invalid message recipient", Retryable: false},
	"63038": {Message: "account daily message limit reached", Retryable: true, RateLimit: true},
}

// WhatsAppAdapter sends WhatsApp messages through the Twilio channel API.
// Template sends use the Content API (ContentSid + positional variables);
// freeform sends use a plain body.
type WhatsAppAdapter struct {
	client     *twilio.RestClient
	from       string // Format: "whatsapp:+14155238886"
	classifier *Classifier
}

// NewWhatsAppAdapter creates a WhatsApp adapter
func NewWhatsAppAdapter(accountSID, authToken, from string) (*WhatsAppAdapter, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio WhatsApp credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &WhatsAppAdapter{
		client:     client,
		from:       from,
		classifier: NewClassifier(whatsAppErrorTable),
	}, nil
}

// Supports reports whether this adapter serves the given channel
func (a *WhatsAppAdapter) Supports(channel string) bool {
	return channel == models.ChannelWhatsApp
}

// Classifier exposes the channel's error table
func (a *WhatsAppAdapter) Classifier() *Classifier {
	return a.classifier
}

// Send delivers one WhatsApp message and normalizes the outcome
func (a *WhatsAppAdapter) Send(ctx context.Context, recipient string, content Content) SendResult {
	return sendBounded(ctx, func() SendResult {
		params := &twilioApi.CreateMessageParams{}
		params.SetFrom(a.from)
		params.SetTo("whatsapp:" + recipient)

		if content.ContentSID != "" {
			params.SetContentSid(content.ContentSID)
			if len(content.Variables) > 0 {
				variablesJSON, err := json.Marshal(content.Variables)
				if err != nil {
					return SendResult{
						ErrorCode:    "MARSHAL",
						ErrorMessage: "failed to marshal content variables: " + err.Error(),
						Retryable:    false,
					}
				}
				params.SetContentVariables(string(variablesJSON))
			}
		} else {
			params.SetBody(content.Body)
		}

		resp, err := a.client.Api.CreateMessage(params)
		if err != nil {
			return a.resultFromError(err)
		}

		result := SendResult{Success: true, ResponseData: map[string]string{}}
		if resp.Sid != nil {
			result.ProviderMessageID = *resp.Sid
		}
		if resp.Status != nil {
			result.ResponseData["status"] = *resp.Status
		}
		return result
	})
}

func (a *WhatsAppAdapter) resultFromError(err error) SendResult {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		code := strconv.Itoa(restErr.Code)
		entry := a.classifier.Classify(code)
		return SendResult{
			ErrorCode:    code,
			ErrorMessage: entry.Message,
			Retryable:    entry.Retryable,
			RateLimited:  entry.RateLimit,
			ResponseData: map[string]string{"provider_message": restErr.Message},
		}
	}

	// Transport-level failure with no provider code - retryable by default
	return SendResult{
		ErrorCode:    "UNKNOWN",
		ErrorMessage: err.Error(),
		Retryable:    true,
	}
}
