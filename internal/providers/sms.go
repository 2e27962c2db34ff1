package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
)

// smsErrorTable maps Twilio SMS error codes. 20429 is the platform's
// throttling signal; carrier-side rejections are permanent.
var smsErrorTable = map[string]ErrorEntry{
	"20003": {Message: "authentication failure", Retryable: false},
	"20429": {Message: "too many requests", Retryable: true, RateLimit: true},
	"21211": {Message: "invalid recipient phone number", Retryable: false},
	"21408": {Message: "permission to send to this region not enabled", Retryable: false},
	"21610": {Message: "recipient has opted out", Retryable: false},
	"21614": {Message: "recipient is not a mobile number", Retryable: false},
	"30003": {Message: "recipient handset unreachable", Retryable: true},
	"30005": {Message: "unknown destination handset", Retryable: false},
	"30006": {Message: "landline or unreachable carrier", Retryable: false},
	"30007": {Message: "message filtered by carrier", Retryable: false},
	"30008": {Message: "unknown delivery error", Retryable: true},
}

// SMSAdapter sends SMS through the Twilio messaging API.
type SMSAdapter struct {
	client     *twilio.RestClient
	from       string
	classifier *Classifier
}

// NewSMSAdapter creates an SMS adapter
func NewSMSAdapter(accountSID, authToken, from string) (*SMSAdapter, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio SMS credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &SMSAdapter{
		client:     client,
		from:       from,
		classifier: NewClassifier(smsErrorTable),
	}, nil
}

// Supports reports whether this adapter serves the given channel
func (a *SMSAdapter) Supports(channel string) bool {
	return channel == models.ChannelSMS
}

// Classifier exposes the channel's error table
func (a *SMSAdapter) Classifier() *Classifier {
	return a.classifier
}

// Send delivers one SMS and normalizes the outcome
func (a *SMSAdapter) Send(ctx context.Context, recipient string, content Content) SendResult {
	return sendBounded(ctx, func() SendResult {
		params := &twilioApi.CreateMessageParams{}
		params.SetFrom(a.from)
		params.SetTo(recipient)
		params.SetBody(content.Body)

		resp, err := a.client.Api.CreateMessage(params)
		if err != nil {
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
			return SendResult{
				ErrorCode:    "UNKNOWN",
				ErrorMessage: err.Error(),
				Retryable:    true,
			}
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
