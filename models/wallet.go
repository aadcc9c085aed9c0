package models

import (
	"time"

	"github.com/sepehrx/simurgh/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WalletStatus represents the lifecycle state of an ephemeral deposit wallet
type WalletStatus string

const (
	WalletStatusPending WalletStatus = "pending" // awaiting a qualifying deposit
	WalletStatusPaid    WalletStatus = "paid"    // qualifying deposit detected and credited
	WalletStatusSwept   WalletStatus = "swept"   // funds moved to the custodial main wallet
	WalletStatusExpired WalletStatus = "expired" // payment window elapsed unpaid
)

// Wallet is a single-use chain wallet provisioned per payment request.
// It is bound to exactly one customer and one expected amount, and is never
// deleted (audit trail). Status moves pending->paid->swept or pending->expired;
// swept and expired are terminal.
type Wallet struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	CorrelationID uuid.UUID `gorm:"type:uuid;index;not null" json:"correlation_id"`

	CustomerID uint `gorm:"not null;index" json:"customer_id"`

	// Chain credentials. The private key never leaves the repository layer
	// except into ChainClient.SubmitTransfer during the sweep.
	Address    string `gorm:"type:varchar(64);uniqueIndex;not null" json:"address"`
	PrivateKey string `gorm:"type:varchar(128);not null" json:"-"`

	// ExpectedAmount is the deposit that satisfies this payment, in wei
	ExpectedAmount string `gorm:"type:numeric(78,0);not null" json:"expected_amount"`

	// FiatAmount is the requested top-up in fiat minor units, kept for display
	FiatAmount uint64 `gorm:"not null" json:"fiat_amount"`

	Status       WalletStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	StatusReason string       `gorm:"type:text" json:"status_reason"`
	Swept        bool         `gorm:"not null;default:false;index" json:"swept"`

	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	SweptAt   *time.Time `json:"swept_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Relationships
	Customer           Customer            `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
	LedgerTransactions []LedgerTransaction `gorm:"foreignKey:WalletID" json:"ledger_transactions,omitempty"`
}

// BeforeCreate ensures UUID and CorrelationID are set
func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.UUID == uuid.Nil {
		w.UUID = uuid.New()
	}
	if w.CorrelationID == uuid.Nil {
		w.CorrelationID = uuid.New()
	}
	return nil
}

// IsFinal returns true if the wallet is in a terminal state
func (w *Wallet) IsFinal() bool {
	return w.Status == WalletStatusSwept || w.Status == WalletStatusExpired
}

// IsPending returns true if the wallet is still awaiting a deposit
func (w *Wallet) IsPending() bool {
	return w.Status == WalletStatusPending
}

// IsExpired returns true if the payment window has elapsed
func (w *Wallet) IsExpired() bool {
	return utils.UTCNow().After(w.ExpiresAt)
}

// WalletFilter represents filter criteria for wallet queries
type WalletFilter struct {
	ID            *uint         `json:"id,omitempty"`
	UUID          *uuid.UUID    `json:"uuid,omitempty"`
	CustomerID    *uint         `json:"customer_id,omitempty"`
	Address       *string       `json:"address,omitempty"`
	Status        *WalletStatus `json:"status,omitempty"`
	Swept         *bool         `json:"swept,omitempty"`
	ExpiresAfter  *time.Time    `json:"expires_after,omitempty"`
	ExpiresBefore *time.Time    `json:"expires_before,omitempty"`
	CreatedAfter  *time.Time    `json:"created_after,omitempty"`
	CreatedBefore *time.Time    `json:"created_before,omitempty"`
}
