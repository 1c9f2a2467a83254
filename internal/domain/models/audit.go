package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/accessgate/pkg/constants"
)

// AuditEvent is one record of the security pipeline's decision for a request.
type AuditEvent struct {
	ID         string                  `json:"id" gorm:"primaryKey;size:36"`
	Timestamp  time.Time               `json:"timestamp" gorm:"index"`
	RequestID  string                  `json:"request_id" gorm:"size:64"`
	ClientIP   string                  `json:"client_ip" gorm:"size:64;index"`
	Method     string                  `json:"method" gorm:"size:16"`
	Path       string                  `json:"path" gorm:"size:512"`
	Status     int                     `json:"status"`
	Subject    string                  `json:"subject,omitempty" gorm:"size:128;index"`
	Role       string                  `json:"role,omitempty" gorm:"size:64"`
	Decision   constants.AuditDecision `json:"decision" gorm:"size:32"`
	Reason     string                  `json:"reason,omitempty" gorm:"size:256"`
	DurationMS float64                 `json:"duration_ms"`
	UserAgent  string                  `json:"user_agent,omitempty" gorm:"size:256"`
}

// TableName pins the GORM table name.
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates an event stamped with a fresh id.
func NewAuditEvent(now time.Time) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
	}
}
