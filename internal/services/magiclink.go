package services

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// MagicLinkService issues short-lived signed sign-in links and delivers them
// through the outbound pipeline like any other message.
type MagicLinkService struct {
	store        storage.Store
	orchestrator *Orchestrator
	secret       []byte
	baseURL      string
	ttl          time.Duration
}

// NewMagicLinkService creates a magic link service
func NewMagicLinkService(store storage.Store, orchestrator *Orchestrator, cfg *config.Config) (*MagicLinkService, error) {
	if cfg.MagicLinkSecret == "" {
		return nil, fmt.Errorf("MAGIC_LINK_SECRET is not configured")
	}
	return &MagicLinkService{
		store:        store,
		orchestrator: orchestrator,
		secret:       []byte(cfg.MagicLinkSecret),
		baseURL:      cfg.MagicLinkBaseURL,
		ttl:          cfg.MagicLinkTTL,
	}, nil
}

// GenerateLink mints a signed sign-in URL for a lead.
func (m *MagicLinkService) GenerateLink(leadID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   leadID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		Issuer:    "leadpilot",
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign magic link token: %w", err)
	}

	return m.baseURL + "?token=" + url.QueryEscape(token), nil
}

// ValidateToken parses a magic link token and returns the lead it grants
// access to.
func (m *MagicLinkService) ValidateToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid magic link token: %w", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("magic link token carries no subject")
	}
	return claims.Subject, nil
}

// SendLink generates a link and enqueues its delivery over WhatsApp. The
// caller supplies the idempotency key so repeated requests reuse the queued
// message instead of flooding the lead.
func (m *MagicLinkService) SendLink(tenantID, leadID, idempotencyKey string) (*models.OutboundMessage, error) {
	lead, err := m.store.GetLead(leadID)
	if err != nil {
		return nil, fmt.Errorf("lead lookup failed: %w", err)
	}

	link, err := m.GenerateLink(leadID)
	if err != nil {
		return nil, err
	}

	msg, created, err := m.orchestrator.Enqueue(EnqueueRequest{
		TenantID:     tenantID,
		LeadID:       leadID,
		Channel:      models.ChannelWhatsApp,
		Recipient:    lead.Phone,
		TemplateCode: "magic_link_login",
		Payload: map[string]string{
			"name":       lead.Name,
			"link":       link,
			"expires_in": m.ttl.String(),
		},
		IdempotencyKey: idempotencyKey,
		ConsentType:    "transactional",
	})
	if err != nil {
		return nil, err
	}

	if !created {
		log.WithFields(log.Fields{
			"tenant_id": tenantID,
			"lead_id":   leadID,
		}).Info("magic link already queued for this key")
	}
	return msg, nil
}
