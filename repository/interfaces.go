package repository

import (
	"context"
	"time"

	"github.com/sepehrx/simurgh/models"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// TxContextKey is the context key for database transactions
const TxContextKey contextKey = "tx"

// Repository defines the base interface for all repositories
type Repository[T any, F any] interface {
	Save(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	ByID(ctx context.Context, id uint) (*T, error)
}

// CustomerRepository manages customer rows and the authoritative balance column
type CustomerRepository interface {
	Repository[models.Customer, models.CustomerFilter]
	ByUUID(ctx context.Context, customerUUID uuid.UUID) (*models.Customer, error)
	ByEmail(ctx context.Context, email string) (*models.Customer, error)
	ByChatID(ctx context.Context, chatID int64) (*models.Customer, error)
	// CreditBalance atomically adds amount (fiat minor units) to the customer
	// balance. Returns false if the customer does not exist.
	CreditBalance(ctx context.Context, customerID uint, amount uint64) (bool, error)
}

// WalletRepository manages ephemeral deposit wallets. The Mark* methods are
// guarded updates: they succeed at most once per wallet and report whether
// this caller won the transition.
type WalletRepository interface {
	Repository[models.Wallet, models.WalletFilter]
	ByUUID(ctx context.Context, walletUUID uuid.UUID) (*models.Wallet, error)
	ByAddress(ctx context.Context, address string) (*models.Wallet, error)
	ByFilter(ctx context.Context, filter *models.WalletFilter, limit int) ([]*models.Wallet, error)
	ListPending(ctx context.Context) ([]*models.Wallet, error)
	ListPaidUnswept(ctx context.Context) ([]*models.Wallet, error)
	// MarkPaid transitions pending -> paid. Returns false when the wallet was
	// not pending, which callers treat as "someone else already settled it".
	MarkPaid(ctx context.Context, walletID uint, paidAt time.Time) (bool, error)
	// MarkSwept transitions paid -> swept and sets the swept flag.
	MarkSwept(ctx context.Context, walletID uint, sweptAt time.Time) (bool, error)
	// ExpireDue transitions every pending wallet whose window has elapsed to
	// expired and returns how many rows changed.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// LedgerTransactionRepository manages observed chain transactions keyed by hash
type LedgerTransactionRepository interface {
	Repository[models.LedgerTransaction, models.LedgerTransactionFilter]
	ByTxHash(ctx context.Context, txHash string) (*models.LedgerTransaction, error)
	ByFilter(ctx context.Context, filter *models.LedgerTransactionFilter, limit int) ([]*models.LedgerTransaction, error)
	ListByWallet(ctx context.Context, walletID uint) ([]*models.LedgerTransaction, error)
	UpdateStatus(ctx context.Context, txHash string, status models.LedgerTransactionStatus) error
	// MarkCredited flips balance_credited from false to true for the hash.
	// Returns false when the flag was already set; at most one caller ever
	// observes true for a given hash.
	MarkCredited(ctx context.Context, txHash string, creditedAt time.Time) (bool, error)
}

// PaymentRequestRepository manages card-gateway payment requests
type PaymentRequestRepository interface {
	Repository[models.PaymentRequest, models.PaymentRequestFilter]
	ByUUID(ctx context.Context, requestUUID uuid.UUID) (*models.PaymentRequest, error)
	ByReference(ctx context.Context, reference string) (*models.PaymentRequest, error)
	// MarkCompleted transitions pending -> completed exactly once.
	MarkCompleted(ctx context.Context, requestID uint, creditedAt time.Time) (bool, error)
}

// AuditLogRepository persists append-only audit records
type AuditLogRepository interface {
	Save(ctx context.Context, entry *models.AuditLog) error
	ByFilter(ctx context.Context, filter *models.AuditLogFilter, limit int) ([]*models.AuditLog, error)
}
