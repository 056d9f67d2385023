package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventType string

const (
	EventLogin                 EventType = "LOGIN"
	EventRegister              EventType = "REGISTER"
	EventAIUsed                EventType = "AI_USED"
	EventQuizCompleted         EventType = "QUIZ_COMPLETED"
	EventPaymentSubmitted      EventType = "PAYMENT_SUBMITTED"
	EventPaymentApproved       EventType = "PAYMENT_APPROVED"
	EventPaymentRejected       EventType = "PAYMENT_REJECTED"
	EventSubscriptionActivated EventType = "SUBSCRIPTION_ACTIVATED"
	EventAccountSuspended      EventType = "ACCOUNT_SUSPENDED"
	EventAccountActivated      EventType = "ACCOUNT_ACTIVATED"
	EventStackUpdated          EventType = "STACK_UPDATED"
	EventProfileUpdated        EventType = "PROFILE_UPDATED"
)

type EventSource string

const (
	SourceDashboard EventSource = "dashboard"
	SourceAI        EventSource = "ai"
	SourceAdmin     EventSource = "admin"
	SourceSystem    EventSource = "system"
)

type UserEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"userId"`
	EventType EventType      `gorm:"type:varchar(32);not null;index" json:"eventType"`
	Source    EventSource    `gorm:"type:varchar(16);not null" json:"source"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
}

func (UserEvent) TableName() string { return "user_events" }

func (e *UserEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
