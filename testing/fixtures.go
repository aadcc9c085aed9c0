package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/utils"

	"github.com/google/uuid"
)

// TestFixtures creates domain rows in a test database
type TestFixtures struct {
	db *TestDB
}

func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{db: db}
}

// CreateTestCustomer inserts an active customer with a zero balance
func (tf *TestFixtures) CreateTestCustomer() (*models.Customer, error) {
	customer := &models.Customer{
		UUID:     uuid.New(),
		FullName: "Test Customer",
		Email:    fmt.Sprintf("customer%d@example.com", rand.Intn(1000000)),
		Currency: utils.TomanCurrency,
		IsActive: utils.ToPtr(true),
	}
	if err := tf.db.DB.Create(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to create test customer: %w", err)
	}
	return customer, nil
}

// CreateTestWallet inserts a pending wallet for the customer
func (tf *TestFixtures) CreateTestWallet(customerID uint, expectedWei string, ttl time.Duration) (*models.Wallet, error) {
	wallet := &models.Wallet{
		CustomerID:     customerID,
		Address:        fmt.Sprintf("0x%040x", rand.Int63()),
		PrivateKey:     fmt.Sprintf("%064x", rand.Int63()),
		ExpectedAmount: expectedWei,
		FiatAmount:     100000,
		Status:         models.WalletStatusPending,
		ExpiresAt:      utils.UTCNowAdd(ttl),
	}
	if err := tf.db.DB.Create(wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to create test wallet: %w", err)
	}
	return wallet, nil
}

// CreateTestDeposit inserts a confirmed deposit into the wallet
func (tf *TestFixtures) CreateTestDeposit(walletID uint, toAddress, amountWei string) (*models.LedgerTransaction, error) {
	tx := &models.LedgerTransaction{
		TxHash:      fmt.Sprintf("0x%064x", rand.Int63()),
		FromAddress: fmt.Sprintf("0x%040x", rand.Int63()),
		ToAddress:   toAddress,
		Amount:      amountWei,
		BlockNumber: uint64(rand.Intn(1000)),
		ObservedAt:  utils.UTCNow(),
		Type:        models.LedgerTransactionTypeDeposit,
		Status:      models.LedgerTransactionStatusConfirmed,
		WalletID:    utils.ToPtr(walletID),
	}
	if err := tf.db.DB.Create(tx).Error; err != nil {
		return nil, fmt.Errorf("failed to create test deposit: %w", err)
	}
	return tx, nil
}
