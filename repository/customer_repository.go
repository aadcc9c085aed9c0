package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sepehrx/simurgh/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// customerRepository implements CustomerRepository
type customerRepository struct {
	*BaseRepository[models.Customer, models.CustomerFilter]
}

// NewCustomerRepository creates a new customer repository instance
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{
		BaseRepository: NewBaseRepository[models.Customer, models.CustomerFilter](db),
	}
}

func (r *customerRepository) ByUUID(ctx context.Context, customerUUID uuid.UUID) (*models.Customer, error) {
	db := r.getDB(ctx)

	var customer models.Customer
	err := db.Where("uuid = ?", customerUUID).Last(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find customer by UUID: %w", err)
	}

	return &customer, nil
}

func (r *customerRepository) ByEmail(ctx context.Context, email string) (*models.Customer, error) {
	db := r.getDB(ctx)

	var customer models.Customer
	err := db.Where("email = ?", email).Last(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find customer by email: %w", err)
	}

	return &customer, nil
}

func (r *customerRepository) ByChatID(ctx context.Context, chatID int64) (*models.Customer, error) {
	db := r.getDB(ctx)

	var customer models.Customer
	err := db.Where("chat_id = ?", chatID).Last(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find customer by chat ID: %w", err)
	}

	return &customer, nil
}

// CreditBalance adds amount to the customer balance in a single atomic UPDATE.
// The increment happens in the database, never as read-modify-write in Go, so
// concurrent credits cannot lose updates.
func (r *customerRepository) CreditBalance(ctx context.Context, customerID uint, amount uint64) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.Customer{}).
		Where("id = ?", customerID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return false, fmt.Errorf("failed to credit customer %d: %w", customerID, result.Error)
	}

	return result.RowsAffected == 1, nil
}
