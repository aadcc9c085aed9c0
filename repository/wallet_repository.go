package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sepehrx/simurgh/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// walletRepository implements WalletRepository
type walletRepository struct {
	*BaseRepository[models.Wallet, models.WalletFilter]
}

// NewWalletRepository creates a new wallet repository instance
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{
		BaseRepository: NewBaseRepository[models.Wallet, models.WalletFilter](db),
	}
}

func (r *walletRepository) ByUUID(ctx context.Context, walletUUID uuid.UUID) (*models.Wallet, error) {
	db := r.getDB(ctx)

	var wallet models.Wallet
	err := db.Where("uuid = ?", walletUUID).Last(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find wallet by UUID: %w", err)
	}

	return &wallet, nil
}

func (r *walletRepository) ByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	db := r.getDB(ctx)

	var wallet models.Wallet
	err := db.Where("address = ?", address).Last(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find wallet by address: %w", err)
	}

	return &wallet, nil
}

func (r *walletRepository) ByFilter(ctx context.Context, filter *models.WalletFilter, limit int) ([]*models.Wallet, error) {
	db := r.getDB(ctx)

	query := r.applyFilter(db, filter)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var wallets []*models.Wallet
	if err := query.Order("id DESC").Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("failed to find wallets by filter: %w", err)
	}

	return wallets, nil
}

// ListPending returns wallets still awaiting a qualifying deposit
func (r *walletRepository) ListPending(ctx context.Context) ([]*models.Wallet, error) {
	db := r.getDB(ctx)

	var wallets []*models.Wallet
	err := db.Where("status = ?", models.WalletStatusPending).
		Order("id ASC").
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending wallets: %w", err)
	}

	return wallets, nil
}

// ListPaidUnswept returns wallets whose deposit is settled but whose funds
// have not yet been moved to the main wallet
func (r *walletRepository) ListPaidUnswept(ctx context.Context) ([]*models.Wallet, error) {
	db := r.getDB(ctx)

	var wallets []*models.Wallet
	err := db.Where("status = ? AND swept = ?", models.WalletStatusPaid, false).
		Order("id ASC").
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list paid unswept wallets: %w", err)
	}

	return wallets, nil
}

// MarkPaid flips a wallet from pending to paid. The status predicate makes
// the update a compare-and-set: concurrent callers race on the same row and
// exactly one sees RowsAffected == 1.
func (r *walletRepository) MarkPaid(ctx context.Context, walletID uint, paidAt time.Time) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.Wallet{}).
		Where("id = ? AND status = ?", walletID, models.WalletStatusPending).
		Updates(map[string]interface{}{
			"status":  models.WalletStatusPaid,
			"paid_at": paidAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark wallet %d paid: %w", walletID, result.Error)
	}

	return result.RowsAffected == 1, nil
}

// MarkSwept flips a paid wallet to swept exactly once
func (r *walletRepository) MarkSwept(ctx context.Context, walletID uint, sweptAt time.Time) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.Wallet{}).
		Where("id = ? AND status = ? AND swept = ?", walletID, models.WalletStatusPaid, false).
		Updates(map[string]interface{}{
			"status":   models.WalletStatusSwept,
			"swept":    true,
			"swept_at": sweptAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark wallet %d swept: %w", walletID, result.Error)
	}

	return result.RowsAffected == 1, nil
}

// ExpireDue expires every pending wallet whose window has elapsed. Wallets in
// any other state are untouched regardless of their deadline.
func (r *walletRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.Wallet{}).
		Where("status = ? AND expires_at <= ?", models.WalletStatusPending, now).
		Updates(map[string]interface{}{
			"status":        models.WalletStatusExpired,
			"status_reason": "payment window elapsed",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire due wallets: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (r *walletRepository) applyFilter(db *gorm.DB, filter *models.WalletFilter) *gorm.DB {
	if filter == nil {
		return db
	}
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.CustomerID != nil {
		db = db.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Address != nil {
		db = db.Where("address = ?", *filter.Address)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Swept != nil {
		db = db.Where("swept = ?", *filter.Swept)
	}
	if filter.ExpiresAfter != nil {
		db = db.Where("expires_at >= ?", *filter.ExpiresAfter)
	}
	if filter.ExpiresBefore != nil {
		db = db.Where("expires_at <= ?", *filter.ExpiresBefore)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return db
}
