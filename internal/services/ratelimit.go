package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// QuotaDecision is the outcome of a consumption attempt.
type QuotaDecision struct {
	Allowed bool
	// ResetAt is the moment the block lifts when Allowed is false: the window
	// reset, or the throttle expiry if a provider signal is active.
	ResetAt time.Time
}

// QuotaTracker enforces per-tenant per-channel send quotas over a rolling
// window. Counter state is persisted so it survives restarts; a keyed mutex
// makes check-then-increment atomic within this process.
type QuotaTracker struct {
	store storage.Store
	cfg   *config.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewQuotaTracker creates a quota tracker backed by the given store
func NewQuotaTracker(store storage.Store, cfg *config.Config) *QuotaTracker {
	return &QuotaTracker{
		store: store,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one (tenant, channel) counter.
func (q *QuotaTracker) lockFor(tenantID, channel string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := tenantID + "|" + channel
	l, ok := q.locks[key]
	if !ok {
		l = &sync.Mutex{}
		q.locks[key] = l
	}
	return l
}

// limitFor resolves the effective quota: tenant override row if present,
// otherwise the global per-channel default.
func (q *QuotaTracker) limitFor(tenantID, channel string) int {
	override, err := q.store.GetQuotaOverride(tenantID, channel)
	if err == nil && override.Limit > 0 {
		return override.Limit
	}
	return q.cfg.DefaultQuota(channel)
}

// loadState fetches or initializes the persisted counter for one
// (tenant, channel). The caller must hold the keyed lock.
func (q *QuotaTracker) loadState(tenantID, channel string, now time.Time) (*models.RateLimitState, error) {
	state, err := q.store.GetRateLimitState(tenantID, channel)
	if errors.Is(err, storage.ErrNotFound) {
		state = &models.RateLimitState{
			TenantID:      tenantID,
			Channel:       channel,
			Limit:         q.limitFor(tenantID, channel),
			Count:         0,
			WindowResetAt: now.Add(q.cfg.QuotaWindow),
		}
		// Persist immediately so ResetSweep sees the tenant even when the
		// very first consume is denied.
		if err := q.store.SaveRateLimitState(state); err != nil {
			return nil, err
		}
		return state, nil
	}
	if err != nil {
		return nil, err
	}

	// Roll the window forward lazily when it has elapsed.
	if !now.Before(state.WindowResetAt) {
		state.Count = 0
		state.WindowResetAt = now.Add(q.cfg.QuotaWindow)
	}

	// Pick up limit changes (override added or removed) on every load.
	state.Limit = q.limitFor(tenantID, channel)
	return state, nil
}

// TryConsume atomically checks and consumes one send from the tenant's quota.
// A denial never consumes; the returned decision carries when to requeue.
func (q *QuotaTracker) TryConsume(tenantID, channel string) (QuotaDecision, error) {
	lock := q.lockFor(tenantID, channel)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	state, err := q.loadState(tenantID, channel, now)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("failed to load rate limit state: %w", err)
	}

	// An explicit provider throttle blocks regardless of the local counter.
	if state.Throttled(now) {
		return QuotaDecision{Allowed: false, ResetAt: *state.ThrottledUntil}, nil
	}

	if state.Count >= state.Limit {
		return QuotaDecision{Allowed: false, ResetAt: state.WindowResetAt}, nil
	}

	state.Count++
	if err := q.store.SaveRateLimitState(state); err != nil {
		return QuotaDecision{}, fmt.Errorf("failed to save rate limit state: %w", err)
	}
	return QuotaDecision{Allowed: true, ResetAt: state.WindowResetAt}, nil
}

// HandleProviderThrottleSignal records a provider-side rate limit for a
// tenant's channel. When the provider supplied a retry-after hint it is
// honored; otherwise a conservative fallback pause applies.
func (q *QuotaTracker) HandleProviderThrottleSignal(tenantID, channel string, retryAfterSeconds int) (time.Time, error) {
	lock := q.lockFor(tenantID, channel)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	state, err := q.loadState(tenantID, channel, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load rate limit state: %w", err)
	}

	pause := q.cfg.ThrottleFallback
	if retryAfterSeconds > 0 {
		pause = time.Duration(retryAfterSeconds) * time.Second
	}
	until := now.Add(pause)
	state.ThrottledUntil = &until

	if err := q.store.SaveRateLimitState(state); err != nil {
		return time.Time{}, fmt.Errorf("failed to save rate limit state: %w", err)
	}

	log.WithFields(log.Fields{
		"tenant_id":       tenantID,
		"channel":         channel,
		"throttled_until": until,
	}).Warn("provider rate limit signal received, pausing channel")

	return until, nil
}

// NextResetAt returns when the tenant's quota next becomes available, without
// consuming anything.
func (q *QuotaTracker) NextResetAt(tenantID, channel string) (time.Time, error) {
	lock := q.lockFor(tenantID, channel)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	state, err := q.loadState(tenantID, channel, now)
	if err != nil {
		return time.Time{}, err
	}
	if state.Throttled(now) {
		return *state.ThrottledUntil, nil
	}
	return state.WindowResetAt, nil
}

// ResetSweep walks every persisted counter and, for each window that has
// elapsed, resets it and requeues the tenant's THROTTLED messages. Reset and
// requeue happen under the tenant's channel lock so no send can slip in
// between seeing a fresh window and the backlog becoming dispatchable.
func (q *QuotaTracker) ResetSweep() {
	states, err := q.store.ListRateLimitStates()
	if err != nil {
		log.WithError(err).Error("quota reset sweep failed to list states")
		return
	}

	now := time.Now().UTC()
	for _, st := range states {
		windowElapsed := !now.Before(st.WindowResetAt)
		throttleExpired := st.ThrottledUntil != nil && !now.Before(*st.ThrottledUntil)
		if windowElapsed || throttleExpired {
			q.resetTenantChannel(st.TenantID, st.Channel, now)
		}
	}
}

func (q *QuotaTracker) resetTenantChannel(tenantID, channel string, now time.Time) {
	lock := q.lockFor(tenantID, channel)
	lock.Lock()
	defer lock.Unlock()

	state, err := q.store.GetRateLimitState(tenantID, channel)
	if err != nil {
		return
	}

	changed := false
	if !now.Before(state.WindowResetAt) {
		state.Count = 0
		state.WindowResetAt = now.Add(q.cfg.QuotaWindow)
		changed = true
	}
	if state.ThrottledUntil != nil && !now.Before(*state.ThrottledUntil) {
		state.ThrottledUntil = nil
		changed = true
	}
	if !changed {
		return
	}

	if err := q.store.SaveRateLimitState(state); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
		}).Error("failed to persist quota window reset")
		return
	}

	requeued, err := q.requeueThrottled(tenantID, channel)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
		}).Error("failed to requeue throttled messages")
		return
	}
	if requeued > 0 {
		log.WithFields(log.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
			"requeued":  requeued,
		}).Info("quota window reset, throttled messages requeued")
	}
}

// requeueThrottled flips a tenant's THROTTLED messages on one channel back to
// QUEUED, clearing the stale error context so the next attempt starts clean.
func (q *QuotaTracker) requeueThrottled(tenantID, channel string) (int, error) {
	msgs, err := q.store.GetThrottledMessagesByTenant(tenantID)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, msg := range msgs {
		if msg.Channel != channel {
			continue
		}
		msg.Status = models.MessageStatusQueued
		msg.LastErrorCode = ""
		msg.LastErrorMessage = ""
		msg.RequeueAt = nil
		msg.NextAttemptAt = nil
		if err := q.store.UpdateOutboundMessage(msg); err != nil {
			log.WithError(err).WithField("message_id", msg.MessageID).Error("failed to requeue throttled message")
			continue
		}
		requeued++
	}
	return requeued, nil
}
