package models

import (
	"encoding/json"
	"time"

	"github.com/sepehrx/simurgh/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentRequestStatus represents the status of a card-gateway payment request
type PaymentRequestStatus string

const (
	PaymentRequestStatusCreated   PaymentRequestStatus = "created"   // created, waiting for gateway token
	PaymentRequestStatusPending   PaymentRequestStatus = "pending"   // user redirected to gateway, payment in progress
	PaymentRequestStatusCompleted PaymentRequestStatus = "completed" // payment completed and credited
	PaymentRequestStatusFailed    PaymentRequestStatus = "failed"    // payment failed or signature mismatch
	PaymentRequestStatusExpired   PaymentRequestStatus = "expired"   // payment request expired
)

// PaymentRequest represents a wallet recharge via the alternate card-payment
// gateway. The gateway return/IPN is authenticated by an HMAC signature; a
// mismatch marks the request failed and never credits.
type PaymentRequest struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	CorrelationID uuid.UUID `gorm:"type:uuid;index;not null" json:"correlation_id"`

	CustomerID uint `gorm:"not null;index" json:"customer_id"`

	Amount   uint64 `gorm:"not null" json:"amount"` // fiat minor units
	Currency string `gorm:"type:varchar(3);not null;default:'TMN'" json:"currency"`

	// Reference is the merchant-side unique identifier echoed by the gateway
	Reference string `gorm:"type:varchar(255);uniqueIndex;not null" json:"reference"`

	// Gateway echo fields from the return callback
	GatewayToken     string `gorm:"type:varchar(255);index" json:"gateway_token"`
	GatewayReference string `gorm:"type:varchar(255);index" json:"gateway_reference"`
	GatewayTrace     string `gorm:"type:varchar(255)" json:"gateway_trace"`
	GatewayMaskedPAN string `gorm:"type:varchar(255)" json:"gateway_masked_pan"`

	Status       PaymentRequestStatus `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	StatusReason string               `gorm:"type:text" json:"status_reason"`
	CreditedAt   *time.Time           `json:"credited_at,omitempty"`

	Metadata  json.RawMessage `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	ExpiresAt *time.Time      `gorm:"index" json:"expires_at"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Customer Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
}

// BeforeCreate ensures UUID and CorrelationID are set
func (pr *PaymentRequest) BeforeCreate(tx *gorm.DB) error {
	if pr.UUID == uuid.Nil {
		pr.UUID = uuid.New()
	}
	if pr.CorrelationID == uuid.Nil {
		pr.CorrelationID = uuid.New()
	}
	return nil
}

// IsFinal returns true if the payment request is in a final state
func (pr *PaymentRequest) IsFinal() bool {
	return pr.Status == PaymentRequestStatusCompleted ||
		pr.Status == PaymentRequestStatusFailed ||
		pr.Status == PaymentRequestStatusExpired
}

// IsExpired returns true if the payment request has expired
func (pr *PaymentRequest) IsExpired() bool {
	if pr.ExpiresAt == nil {
		return false
	}
	return utils.UTCNow().After(*pr.ExpiresAt)
}

// PaymentRequestFilter represents filter criteria for payment request queries
type PaymentRequestFilter struct {
	ID            *uint                 `json:"id,omitempty"`
	UUID          *uuid.UUID            `json:"uuid,omitempty"`
	CustomerID    *uint                 `json:"customer_id,omitempty"`
	Reference     *string               `json:"reference,omitempty"`
	Status        *PaymentRequestStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time            `json:"created_after,omitempty"`
	CreatedBefore *time.Time            `json:"created_before,omitempty"`
}
