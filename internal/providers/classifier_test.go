package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKnownCodes(t *testing.T) {
	c := NewClassifier(whatsAppErrorTable)

	outsideWindow := c.Classify("63016")
	assert.False(t, outsideWindow.Retryable)
	assert.False(t, outsideWindow.RateLimit)

	throttled := c.Classify("63018")
	assert.True(t, throttled.Retryable)
	assert.True(t, throttled.RateLimit)
}

func TestClassifyUnknownCodeDefaultsToRetryable(t *testing.T) {
	c := NewClassifier(smsErrorTable)

	entry := c.Classify("99999")
	assert.True(t, entry.Retryable, "unknown provider codes must not fail permanently")
	assert.False(t, entry.RateLimit)
	assert.False(t, c.Known("99999"))
}

func TestClassifierCopiesTable(t *testing.T) {
	table := map[string]ErrorEntry{
		"500": {Message: "boom", Retryable: true},
	}
	c := NewClassifier(table)

	table["500"] = ErrorEntry{Message: "mutated", Retryable: false}

	entry := c.Classify("500")
	assert.Equal(t, "boom", entry.Message)
	assert.True(t, entry.Retryable)
}

func TestSMSRateLimitCode(t *testing.T) {
	c := NewClassifier(smsErrorTable)

	entry := c.Classify("20429")
	assert.True(t, entry.RateLimit)
	assert.True(t, entry.Retryable)

	optOut := c.Classify("21610")
	assert.False(t, optOut.Retryable)
}

func TestSMTPClassification(t *testing.T) {
	c := NewClassifier(smtpErrorTable)

	assert.True(t, c.Classify("452").RateLimit)
	assert.True(t, c.Classify("421").Retryable)
	assert.False(t, c.Classify("550").Retryable)
}
