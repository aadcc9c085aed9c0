package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CustomerID   *uint           `gorm:"index:idx_audit_customer_id" json:"customer_id,omitempty"`
	Customer     *Customer       `gorm:"foreignKey:CustomerID;references:ID" json:"customer,omitempty"`
	Action       string          `gorm:"type:varchar(64);not null;index:idx_audit_action" json:"action"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionPaymentCreated    = "payment_created"
	AuditActionPaymentCredited   = "payment_credited"
	AuditActionPaymentExpired    = "payment_expired"
	AuditActionPaymentFailed     = "payment_failed"
	AuditActionWalletSwept       = "wallet_swept"
	AuditActionSweepFailed       = "sweep_failed"
	AuditActionGatewayReturn     = "gateway_return"
	AuditActionGatewayRejected   = "gateway_rejected"
	AuditActionManualCheck       = "manual_check"
	AuditActionReconcileRequired = "reconcile_required"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	CustomerID    *uint
	Action        *string
	Success       *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
