package providers

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
)

// smtpErrorTable maps SMTP reply codes. 452 is the server telling us to slow
// down (too many recipients / insufficient storage); 4xx otherwise retries,
// 5xx is permanent.
var smtpErrorTable = map[string]ErrorEntry{
	"421": {Message: "service not available, closing transmission channel", Retryable: true},
	"450": {Message: "mailbox temporarily unavailable", Retryable: true},
	"451": {Message: "local error in processing", Retryable: true},
	"452": {Message: "insufficient system storage or too many recipients", Retryable: true, RateLimit: true},
	"550": {Message: "mailbox not found", Retryable: false},
	"552": {Message: "storage allocation exceeded", Retryable: false},
	"553": {Message: "mailbox name not allowed", Retryable: false},
	"554": {Message: "transaction failed", Retryable: false},
}

// EmailAdapter sends email over SMTP. The SMTP conversation itself is the
// black box; this adapter only owns message assembly and error normalization.
type EmailAdapter struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	classifier *Classifier
}

// NewEmailAdapter creates an SMTP email adapter
func NewEmailAdapter(host string, port int, username, password, from string) (*EmailAdapter, error) {
	if host == "" || from == "" {
		return nil, fmt.Errorf("missing SMTP configuration")
	}

	return &EmailAdapter{
		host:       host,
		port:       port,
		username:   username,
		password:   password,
		from:       from,
		classifier: NewClassifier(smtpErrorTable),
	}, nil
}

// Supports reports whether this adapter serves the given channel
func (a *EmailAdapter) Supports(channel string) bool {
	return channel == models.ChannelEmail
}

// Classifier exposes the channel's error table
func (a *EmailAdapter) Classifier() *Classifier {
	return a.classifier
}

// Send delivers one email and normalizes the outcome
func (a *EmailAdapter) Send(ctx context.Context, recipient string, content Content) SendResult {
	return sendBounded(ctx, func() SendResult {
		// SMTP assigns no message id on submission, so mint one for dedup
		// and audit purposes.
		messageID := fmt.Sprintf("<%s@leadpilot>", uuid.NewString())

		var body strings.Builder
		body.WriteString("From: " + a.from + "\r\n")
		body.WriteString("To: " + recipient + "\r\n")
		body.WriteString("Subject: " + content.Subject + "\r\n")
		body.WriteString("Message-ID: " + messageID + "\r\n")
		body.WriteString("MIME-Version: 1.0\r\n")
		body.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		body.WriteString("\r\n")
		body.WriteString(content.Body)

		addr := fmt.Sprintf("%s:%d", a.host, a.port)
		var auth smtp.Auth
		if a.username != "" {
			auth = smtp.PlainAuth("", a.username, a.password, a.host)
		}

		err := smtp.SendMail(addr, auth, a.from, []string{recipient}, []byte(body.String()))
		if err != nil {
			return a.resultFromError(err)
		}

		return SendResult{
			Success:           true,
			ProviderMessageID: messageID,
			ResponseData:      map[string]string{"smtp_host": a.host},
		}
	})
}

func (a *EmailAdapter) resultFromError(err error) SendResult {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		code := strconv.Itoa(protoErr.Code)
		entry := a.classifier.Classify(code)
		return SendResult{
			ErrorCode:    code,
			ErrorMessage: entry.Message,
			Retryable:    entry.Retryable,
			RateLimited:  entry.RateLimit,
			ResponseData: map[string]string{"smtp_reply": protoErr.Msg},
		}
	}

	// Dial/TLS failures carry no reply code - treat as transient
	return SendResult{
		ErrorCode:    "UNKNOWN",
		ErrorMessage: err.Error(),
		Retryable:    true,
	}
}
