package providers

import (
	"context"
)

// SendResult is the normalized outcome of one provider send call. Adapters
// never return raw provider errors to callers - everything is folded into
// this struct so the orchestrator can stay provider-agnostic.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
	Retryable         bool
	RateLimited       bool
	RetryAfterSeconds int
	ResponseData      map[string]string
}

// Content is the resolved message content handed to an adapter: a rendered
// body for freeform sends, or a provider-registered template reference with
// positional variables.
type Content struct {
	Body       string
	Subject    string
	ContentSID string
	Variables  map[string]string
}

// Adapter wraps one outbound messaging API behind the SendResult contract.
type Adapter interface {
	Send(ctx context.Context, recipient string, content Content) SendResult
	Supports(channel string) bool
}

// timeout result shared by all adapters
func timeoutResult() SendResult {
	return SendResult{
		ErrorCode:    "TIMEOUT",
		ErrorMessage: "provider call exceeded send timeout",
		Retryable:    true,
	}
}

// sendBounded runs fn and enforces the context deadline. The underlying
// client calls do not take a context, so an expired deadline abandons the
// in-flight call and reports a retryable timeout - dedup by provider message
// id on the inbound side covers the case where the call still landed.
func sendBounded(ctx context.Context, fn func() SendResult) SendResult {
	done := make(chan SendResult, 1)
	go func() {
		done <- fn()
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return timeoutResult()
	}
}
