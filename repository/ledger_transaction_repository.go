package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sepehrx/simurgh/models"

	"gorm.io/gorm"
)

// ledgerTransactionRepository implements LedgerTransactionRepository
type ledgerTransactionRepository struct {
	*BaseRepository[models.LedgerTransaction, models.LedgerTransactionFilter]
}

// NewLedgerTransactionRepository creates a new ledger transaction repository instance
func NewLedgerTransactionRepository(db *gorm.DB) LedgerTransactionRepository {
	return &ledgerTransactionRepository{
		BaseRepository: NewBaseRepository[models.LedgerTransaction, models.LedgerTransactionFilter](db),
	}
}

func (r *ledgerTransactionRepository) ByTxHash(ctx context.Context, txHash string) (*models.LedgerTransaction, error) {
	db := r.getDB(ctx)

	var tx models.LedgerTransaction
	err := db.Where("tx_hash = ?", txHash).Last(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find ledger transaction by hash: %w", err)
	}

	return &tx, nil
}

func (r *ledgerTransactionRepository) ByFilter(ctx context.Context, filter *models.LedgerTransactionFilter, limit int) ([]*models.LedgerTransaction, error) {
	db := r.getDB(ctx)

	query := r.applyFilter(db, filter)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var txs []*models.LedgerTransaction
	if err := query.Order("id DESC").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to find ledger transactions by filter: %w", err)
	}

	return txs, nil
}

func (r *ledgerTransactionRepository) ListByWallet(ctx context.Context, walletID uint) ([]*models.LedgerTransaction, error) {
	db := r.getDB(ctx)

	var txs []*models.LedgerTransaction
	err := db.Where("wallet_id = ?", walletID).
		Order("id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger transactions for wallet %d: %w", walletID, err)
	}

	return txs, nil
}

func (r *ledgerTransactionRepository) UpdateStatus(ctx context.Context, txHash string, status models.LedgerTransactionStatus) error {
	db := r.getDB(ctx)

	err := db.Model(&models.LedgerTransaction{}).
		Where("tx_hash = ?", txHash).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update ledger transaction status: %w", err)
	}

	return nil
}

// MarkCredited flips balance_credited from false to true for the hash. The
// predicate on the old value makes this a compare-and-set: of any number of
// concurrent callers exactly one gets true, so at most one balance credit is
// ever attributed to a transaction hash.
func (r *ledgerTransactionRepository) MarkCredited(ctx context.Context, txHash string, creditedAt time.Time) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.LedgerTransaction{}).
		Where("tx_hash = ? AND balance_credited = ?", txHash, false).
		Updates(map[string]interface{}{
			"balance_credited": true,
			"credited_at":      creditedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark ledger transaction credited: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *ledgerTransactionRepository) applyFilter(db *gorm.DB, filter *models.LedgerTransactionFilter) *gorm.DB {
	if filter == nil {
		return db
	}
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.TxHash != nil {
		db = db.Where("tx_hash = ?", *filter.TxHash)
	}
	if filter.ToAddress != nil {
		db = db.Where("to_address = ?", *filter.ToAddress)
	}
	if filter.FromAddress != nil {
		db = db.Where("from_address = ?", *filter.FromAddress)
	}
	if filter.WalletID != nil {
		db = db.Where("wallet_id = ?", *filter.WalletID)
	}
	if filter.Type != nil {
		db = db.Where("type = ?", *filter.Type)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.BalanceCredited != nil {
		db = db.Where("balance_credited = ?", *filter.BalanceCredited)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return db
}
