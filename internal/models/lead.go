package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeadStatus constants
const (
	LeadStatusNew       = "new"
	LeadStatusOpen      = "open"
	LeadStatusQualified = "qualified"
	LeadStatusClosed    = "closed"
	LeadStatusLost      = "lost"
)

// Lead is the narrow slice of the CRM lead record this core needs:
// enough to attach inbound messages and address outbound ones.
type Lead struct {
	gorm.Model

	LeadID   string `json:"lead_id" gorm:"uniqueIndex"`
	TenantID string `json:"tenant_id" gorm:"index"`
	Name     string `json:"name"`
	Phone    string `json:"phone" gorm:"index"` // normalized, leading +
	Email    string `json:"email"`
	Status   string `json:"status" gorm:"default:new"`
}

// BeforeCreate hook to auto-generate LeadID
func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.LeadID == "" {
		l.LeadID = "LEAD-" + uuid.NewString()
	}
	if l.Status == "" {
		l.Status = LeadStatusNew
	}
	return nil
}

// IsTerminal reports whether the lead is closed out and should not be
// matched by inbound find-or-create.
func (l *Lead) IsTerminal() bool {
	return l.Status == LeadStatusClosed || l.Status == LeadStatusLost
}

// Appointment is the slice of the scheduling collaborator the reminder job
// reads: who to remind, when the appointment starts, and whether the
// reminder was already enqueued.
type Appointment struct {
	gorm.Model

	AppointmentID string    `json:"appointment_id" gorm:"uniqueIndex"`
	TenantID      string    `json:"tenant_id" gorm:"index"`
	LeadID        string    `json:"lead_id" gorm:"index"`
	StartsAt      time.Time `json:"starts_at" gorm:"index"`
	Location      string    `json:"location"`
	ReminderSent  bool      `json:"reminder_sent" gorm:"default:false"`
}

// BeforeCreate hook to auto-generate AppointmentID
func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.AppointmentID == "" {
		a.AppointmentID = "APPT-" + uuid.NewString()
	}
	return nil
}
