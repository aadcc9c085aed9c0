// Package models contains domain entities and business models for the settlement system
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Customer represents a platform user whose fiat balance is credited by the
// confirmation engine. The balance column is the authoritative UserBalance
// projection and is only ever mutated through CustomerRepository.CreditBalance.
type Customer struct {
	ID   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`

	FullName string `gorm:"size:255;not null" json:"full_name"`
	Email    string `gorm:"size:255;not null;uniqueIndex:idx_customers_email" json:"email"`
	ChatID   *int64 `gorm:"uniqueIndex:idx_customers_chat_id" json:"chat_id,omitempty"` // messenger chat binding, optional

	// Balance is the fiat-equivalent balance in minor units (Tomans)
	Balance  uint64 `gorm:"not null;default:0" json:"balance"`
	Currency string `gorm:"type:varchar(3);not null;default:'TMN'" json:"currency"`

	IsActive *bool `gorm:"default:true;index:idx_customers_is_active" json:"is_active"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Relationships
	Wallets         []Wallet         `gorm:"foreignKey:CustomerID" json:"wallets,omitempty"`
	PaymentRequests []PaymentRequest `gorm:"foreignKey:CustomerID" json:"payment_requests,omitempty"`
}

// BeforeCreate ensures UUID is set
func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	return nil
}

// CustomerFilter represents filter criteria for customer queries
type CustomerFilter struct {
	ID            *uint      `json:"id,omitempty"`
	UUID          *uuid.UUID `json:"uuid,omitempty"`
	Email         *string    `json:"email,omitempty"`
	ChatID        *int64     `json:"chat_id,omitempty"`
	IsActive      *bool      `json:"is_active,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
}
