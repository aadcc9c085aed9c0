package businessflow

import (
	"context"
	"log"

	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	"github.com/sepehrx/simurgh/utils"

	"gorm.io/gorm"
)

// runInTransaction wraps fn in a database transaction when a DB handle is
// available. Tests wire flows with in-memory repositories and a nil handle,
// in which case fn runs against the repositories directly.
func runInTransaction(ctx context.Context, db *gorm.DB, fn func(context.Context) error) error {
	if db == nil {
		return fn(ctx)
	}
	return repository.WithTransaction(ctx, db, fn)
}

// logAudit persists an audit entry. A failed audit write is logged and never
// propagated to the caller.
func logAudit(ctx context.Context, repo repository.AuditLogRepository, logger *log.Logger, customerID *uint, action, description string, success bool, errMessage string) {
	if repo == nil {
		return
	}

	entry := &models.AuditLog{
		CustomerID:  customerID,
		Action:      action,
		Description: utils.ToPtr(description),
		Success:     utils.ToPtr(success),
		CreatedAt:   utils.UTCNow(),
	}
	if errMessage != "" {
		entry.ErrorMessage = utils.ToPtr(errMessage)
	}

	if err := repo.Save(ctx, entry); err != nil {
		logger.Printf("WARN failed to persist audit entry action=%s: %v", action, err)
	}
}
