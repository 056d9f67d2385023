package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

type PaymentProvider string

const (
	ProviderManual PaymentProvider = "manual"
	ProviderStripe PaymentProvider = "stripe"
)

type PaymentRequest struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"userId"`
	TxID       string          `gorm:"column:tx_id;type:varchar(128);not null;uniqueIndex:idx_payment_provider_tx,priority:2" json:"txId"`
	ReceiptURL string          `json:"receiptUrl,omitempty"`
	Amount     string          `gorm:"type:varchar(32);not null" json:"amount"`
	Provider   PaymentProvider `gorm:"type:varchar(16);not null;default:manual;uniqueIndex:idx_payment_provider_tx,priority:1" json:"provider"`
	Status     PaymentStatus   `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	CreatedAt  time.Time       `gorm:"index" json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	ReviewedAt *time.Time      `json:"reviewedAt,omitempty"`
	ReviewedBy *uuid.UUID      `gorm:"type:uuid" json:"reviewedBy,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (PaymentRequest) TableName() string { return "payment_requests" }

func (p *PaymentRequest) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
