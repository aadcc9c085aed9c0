package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerTransactionType distinguishes deposits into a wallet from sweeps out of it
type LedgerTransactionType string

const (
	LedgerTransactionTypeDeposit LedgerTransactionType = "deposit"
	LedgerTransactionTypeSweep   LedgerTransactionType = "sweep"
)

// LedgerTransactionStatus represents the resolution state of an observed chain transaction
type LedgerTransactionStatus string

const (
	LedgerTransactionStatusPending   LedgerTransactionStatus = "pending"
	LedgerTransactionStatusConfirmed LedgerTransactionStatus = "confirmed"
	LedgerTransactionStatusFailed    LedgerTransactionStatus = "failed"
)

// LedgerTransaction is an observed or submitted chain transaction. The tx hash
// is the natural idempotency key: at most one balance mutation is ever
// attributed to a hash, and BalanceCredited, once true, is never unset.
// Rows are updated in place as their status resolves and never deleted.
type LedgerTransaction struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	CorrelationID uuid.UUID `gorm:"type:uuid;index;not null" json:"correlation_id"`

	TxHash      string `gorm:"type:varchar(80);uniqueIndex;not null" json:"tx_hash"`
	FromAddress string `gorm:"type:varchar(64);index" json:"from_address"`
	ToAddress   string `gorm:"type:varchar(64);index" json:"to_address"`

	// Amount transferred, in wei
	Amount string `gorm:"type:numeric(78,0);not null" json:"amount"`

	GasUsed     uint64     `json:"gas_used"`
	BlockNumber uint64     `gorm:"index" json:"block_number"`
	BlockTime   *time.Time `json:"block_time,omitempty"`
	ObservedAt  time.Time  `gorm:"not null" json:"observed_at"`

	Type   LedgerTransactionType   `gorm:"type:varchar(10);not null;index" json:"type"`
	Status LedgerTransactionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	// WalletID back-references the owning deposit wallet when known
	WalletID *uint `gorm:"index" json:"wallet_id,omitempty"`

	// BalanceCredited records whether this transaction has already caused a
	// user-balance mutation. Set exactly once through a guarded update.
	BalanceCredited bool       `gorm:"not null;default:false;index" json:"balance_credited"`
	CreditedAt      *time.Time `json:"credited_at,omitempty"`

	Metadata json.RawMessage `gorm:"type:jsonb;default:'{}'" json:"metadata"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Wallet *Wallet `gorm:"foreignKey:WalletID" json:"wallet,omitempty"`
}

// BeforeCreate ensures UUID and CorrelationID are set
func (t *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.CorrelationID == uuid.Nil {
		t.CorrelationID = uuid.New()
	}
	return nil
}

// IsConfirmed returns true once the transaction has resolved successfully
func (t *LedgerTransaction) IsConfirmed() bool {
	return t.Status == LedgerTransactionStatusConfirmed
}

// LedgerTransactionFilter represents filter criteria for ledger queries
type LedgerTransactionFilter struct {
	ID              *uint                    `json:"id,omitempty"`
	UUID            *uuid.UUID               `json:"uuid,omitempty"`
	TxHash          *string                  `json:"tx_hash,omitempty"`
	ToAddress       *string                  `json:"to_address,omitempty"`
	FromAddress     *string                  `json:"from_address,omitempty"`
	WalletID        *uint                    `json:"wallet_id,omitempty"`
	Type            *LedgerTransactionType   `json:"type,omitempty"`
	Status          *LedgerTransactionStatus `json:"status,omitempty"`
	BalanceCredited *bool                    `json:"balance_credited,omitempty"`
	CreatedAfter    *time.Time               `json:"created_after,omitempty"`
	CreatedBefore   *time.Time               `json:"created_before,omitempty"`
}
