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

// paymentRequestRepository implements PaymentRequestRepository
type paymentRequestRepository struct {
	*BaseRepository[models.PaymentRequest, models.PaymentRequestFilter]
}

// NewPaymentRequestRepository creates a new payment request repository instance
func NewPaymentRequestRepository(db *gorm.DB) PaymentRequestRepository {
	return &paymentRequestRepository{
		BaseRepository: NewBaseRepository[models.PaymentRequest, models.PaymentRequestFilter](db),
	}
}

func (r *paymentRequestRepository) ByUUID(ctx context.Context, requestUUID uuid.UUID) (*models.PaymentRequest, error) {
	db := r.getDB(ctx)

	var request models.PaymentRequest
	err := db.Where("uuid = ?", requestUUID).Last(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment request by UUID: %w", err)
	}

	return &request, nil
}

func (r *paymentRequestRepository) ByReference(ctx context.Context, reference string) (*models.PaymentRequest, error) {
	db := r.getDB(ctx)

	var request models.PaymentRequest
	err := db.Where("reference = ?", reference).Last(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment request by reference: %w", err)
	}

	return &request, nil
}

// MarkCompleted flips a pending request to completed exactly once. Duplicate
// gateway callbacks for the same reference lose the race and credit nothing.
func (r *paymentRequestRepository) MarkCompleted(ctx context.Context, requestID uint, creditedAt time.Time) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ?", requestID, models.PaymentRequestStatusPending).
		Updates(map[string]interface{}{
			"status":      models.PaymentRequestStatusCompleted,
			"credited_at": creditedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark payment request %d completed: %w", requestID, result.Error)
	}

	return result.RowsAffected == 1, nil
}
