package repository

import (
	"context"
	"fmt"

	"github.com/sepehrx/simurgh/models"

	"gorm.io/gorm"
)

// auditLogRepository implements AuditLogRepository
type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates a new audit log repository instance
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

func (r *auditLogRepository) Save(ctx context.Context, entry *models.AuditLog) error {
	db := r.getDB(ctx)

	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}

	return nil
}

func (r *auditLogRepository) ByFilter(ctx context.Context, filter *models.AuditLogFilter, limit int) ([]*models.AuditLog, error) {
	db := r.getDB(ctx)

	if filter != nil {
		if filter.ID != nil {
			db = db.Where("id = ?", *filter.ID)
		}
		if filter.CustomerID != nil {
			db = db.Where("customer_id = ?", *filter.CustomerID)
		}
		if filter.Action != nil {
			db = db.Where("action = ?", *filter.Action)
		}
		if filter.Success != nil {
			db = db.Where("success = ?", *filter.Success)
		}
		if filter.CreatedAfter != nil {
			db = db.Where("created_at >= ?", *filter.CreatedAfter)
		}
		if filter.CreatedBefore != nil {
			db = db.Where("created_at <= ?", *filter.CreatedBefore)
		}
	}

	if limit > 0 {
		db = db.Limit(limit)
	}

	var entries []*models.AuditLog
	if err := db.Order("id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to find audit logs by filter: %w", err)
	}

	return entries, nil
}
