package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

func newTestWebhookProcessor(t *testing.T) (*WebhookProcessor, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	_, err := store.CreateTenantSettings(&models.TenantSettings{
		TenantID:      "tenant-1",
		Name:          "Acme Dental",
		WebhookSecret: "super-secret",
	})
	require.NoError(t, err)

	sessions := NewSessionWindowService(store, testConfig())
	return NewWebhookProcessor(store, sessions), store
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAccepts(t *testing.T) {
	w, _ := newTestWebhookProcessor(t)

	body := []byte(`{"messages":[]}`)
	assert.NoError(t, w.VerifySignature("tenant-1", body, sign("super-secret", body)))
}

func TestVerifySignatureRejects(t *testing.T) {
	w, _ := newTestWebhookProcessor(t)
	body := []byte(`{"messages":[]}`)

	// Wrong secret
	err := w.VerifySignature("tenant-1", body, sign("wrong-secret", body))
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// Tampered body
	err = w.VerifySignature("tenant-1", []byte(`{"messages":[{}]}`), sign("super-secret", body))
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// Missing prefix
	err = w.VerifySignature("tenant-1", body, "deadbeef")
	assert.ErrorIs(t, err, ErrMalformedSignature)

	// Not hex
	err = w.VerifySignature("tenant-1", body, "sha256=zzzz")
	assert.ErrorIs(t, err, ErrMalformedSignature)

	// Unknown tenant is a hard reject, not a bypass
	err = w.VerifySignature("tenant-nope", body, sign("super-secret", body))
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestVerifySignatureRejectsTenantWithoutSecret(t *testing.T) {
	w, store := newTestWebhookProcessor(t)
	_, err := store.CreateTenantSettings(&models.TenantSettings{
		TenantID: "tenant-nosecret",
	})
	require.NoError(t, err)

	body := []byte(`{}`)
	err = w.VerifySignature("tenant-nosecret", body, sign("", body))
	assert.ErrorIs(t, err, ErrNoWebhookSecret)
}

func TestProcessInboundCreatesLeadAndWindow(t *testing.T) {
	w, store := newTestWebhookProcessor(t)

	received := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	result := w.ProcessInbound("tenant-1", InboundWebhookPayload{
		Messages: []InboundWebhookMessage{{
			ID:          "wamid.1",
			From:        "+1 (555) 123-4567",
			Body:        "Hi, do you have an opening tomorrow?",
			Timestamp:   received.Format(time.RFC3339),
			ContactName: "Priya",
		}},
	})
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Duplicates)
	assert.Zero(t, result.Failed)

	inbound, err := store.GetInboundMessageByProviderID("tenant-1", "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", inbound.FromPhone)
	assert.Equal(t, received, inbound.ReceivedAt)

	lead, err := store.GetActiveLeadByPhone("tenant-1", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "Priya", lead.Name)
	assert.Equal(t, lead.LeadID, inbound.LeadID)

	window, err := store.GetSessionWindow("tenant-1", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, received.Add(24*time.Hour), window.WindowExpiresAt)
}

func TestProcessInboundDeduplicates(t *testing.T) {
	w, store := newTestWebhookProcessor(t)

	payload := InboundWebhookPayload{
		Messages: []InboundWebhookMessage{{
			ID:   "wamid.dup",
			From: "+15551234567",
			Body: "hello",
		}},
	}

	first := w.ProcessInbound("tenant-1", payload)
	assert.Equal(t, 1, first.Processed)

	// Provider redelivers the same webhook
	second := w.ProcessInbound("tenant-1", payload)
	assert.Zero(t, second.Processed)
	assert.Equal(t, 1, second.Duplicates)

	count := 0
	if _, err := store.GetInboundMessageByProviderID("tenant-1", "wamid.dup"); err == nil {
		count = 1
	}
	assert.Equal(t, 1, count)
}

func TestProcessInboundReusesActiveLead(t *testing.T) {
	w, store := newTestWebhookProcessor(t)

	existing, err := store.CreateLead(&models.Lead{
		TenantID: "tenant-1",
		Phone:    "+15551234567",
		Name:     "Priya",
		Status:   models.LeadStatusOpen,
	})
	require.NoError(t, err)

	w.ProcessInbound("tenant-1", InboundWebhookPayload{
		Messages: []InboundWebhookMessage{{ID: "wamid.2", From: "+15551234567", Body: "hi again"}},
	})

	inbound, err := store.GetInboundMessageByProviderID("tenant-1", "wamid.2")
	require.NoError(t, err)
	assert.Equal(t, existing.LeadID, inbound.LeadID)
}

func TestProcessInboundSkipsClosedLead(t *testing.T) {
	w, store := newTestWebhookProcessor(t)

	closed, err := store.CreateLead(&models.Lead{
		TenantID: "tenant-1",
		Phone:    "+15551234567",
		Status:   models.LeadStatusClosed,
	})
	require.NoError(t, err)

	w.ProcessInbound("tenant-1", InboundWebhookPayload{
		Messages: []InboundWebhookMessage{{ID: "wamid.3", From: "+15551234567", Body: "new enquiry"}},
	})

	inbound, err := store.GetInboundMessageByProviderID("tenant-1", "wamid.3")
	require.NoError(t, err)
	assert.NotEqual(t, closed.LeadID, inbound.LeadID, "a closed lead must not absorb new conversations")
}

func TestProcessInboundBadTimestampFallsBackToNow(t *testing.T) {
	w, store := newTestWebhookProcessor(t)

	w.ProcessInbound("tenant-1", InboundWebhookPayload{
		Messages: []InboundWebhookMessage{{
			ID:        "wamid.4",
			From:      "+15551234567",
			Body:      "hi",
			Timestamp: "not-a-timestamp",
		}},
	})

	inbound, err := store.GetInboundMessageByProviderID("tenant-1", "wamid.4")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), inbound.ReceivedAt, 5*time.Second)
}

func TestProcessInboundContinuesAfterBadRecord(t *testing.T) {
	w, store := newTestWebhookProcessor(t)

	result := w.ProcessInbound("tenant-1", InboundWebhookPayload{
		Messages: []InboundWebhookMessage{
			{ID: "", From: "+15550000001", Body: "no id"},
			{ID: "wamid.ok", From: "+15550000002", Body: "fine"},
		},
	})

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)

	_, err := store.GetInboundMessageByProviderID("tenant-1", "wamid.ok")
	assert.NoError(t, err)
}
