package businessflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	"github.com/sepehrx/simurgh/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreatePaymentRequest describes a coin top-up order
type CreatePaymentRequest struct {
	CustomerUUID uuid.UUID
	// FiatAmount is the requested top-up in fiat minor units
	FiatAmount uint64
}

// CreatePaymentResult is what the caller shows the customer
type CreatePaymentResult struct {
	WalletUUID     uuid.UUID
	Address        string
	ExpectedAmount string // wei
	ExpectedCoin   decimal.Decimal
	FiatAmount     uint64
	ExpiresAt      time.Time
}

// PaymentStatusResult reports a wallet's settlement state
type PaymentStatusResult struct {
	WalletUUID     uuid.UUID
	Address        string
	Status         models.WalletStatus
	ExpectedAmount string
	FiatAmount     uint64
	ExpiresAt      time.Time
	PaidAt         *time.Time
	SweptAt        *time.Time
	Deposits       []*models.LedgerTransaction
}

// CryptoPaymentFlow is the customer-facing side of coin settlement: ordering
// a payment, polling its status, and forcing an immediate re-check.
type CryptoPaymentFlow interface {
	CreatePayment(ctx context.Context, request *CreatePaymentRequest) (*CreatePaymentResult, error)
	GetPaymentStatus(ctx context.Context, walletUUID uuid.UUID) (*PaymentStatusResult, error)
	// ForceCheck runs an on-demand deposit scan for a wallet, bypassing the
	// periodic monitor. Used when a customer reports "I paid".
	ForceCheck(ctx context.Context, walletUUID uuid.UUID) (*PaymentStatusResult, error)
	ListCustomerPayments(ctx context.Context, customerUUID uuid.UUID, limit int) ([]*models.Wallet, error)
	ListWalletTransactions(ctx context.Context, walletUUID uuid.UUID) ([]*models.LedgerTransaction, error)
}

// cryptoPaymentFlow implements CryptoPaymentFlow
type cryptoPaymentFlow struct {
	walletRepo    repository.WalletRepository
	ledgerRepo    repository.LedgerTransactionRepository
	customerRepo  repository.CustomerRepository
	auditRepo     repository.AuditLogRepository
	engine        ConfirmationEngine
	keygen        services.KeyGenerator
	oracle        services.ExchangeRateOracle
	db            *gorm.DB
	logger        *log.Logger
	minFiatAmount uint64
	walletTTL     time.Duration
}

// NewCryptoPaymentFlow creates a new crypto payment flow
func NewCryptoPaymentFlow(
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerTransactionRepository,
	customerRepo repository.CustomerRepository,
	auditRepo repository.AuditLogRepository,
	engine ConfirmationEngine,
	keygen services.KeyGenerator,
	oracle services.ExchangeRateOracle,
	db *gorm.DB,
	logger *log.Logger,
	minFiatAmount uint64,
	walletTTL time.Duration,
) CryptoPaymentFlow {
	if walletTTL == 0 {
		walletTTL = utils.WalletTTL
	}
	return &cryptoPaymentFlow{
		walletRepo:    walletRepo,
		ledgerRepo:    ledgerRepo,
		customerRepo:  customerRepo,
		auditRepo:     auditRepo,
		engine:        engine,
		keygen:        keygen,
		oracle:        oracle,
		db:            db,
		logger:        logger,
		minFiatAmount: minFiatAmount,
		walletTTL:     walletTTL,
	}
}

func (f *cryptoPaymentFlow) CreatePayment(ctx context.Context, request *CreatePaymentRequest) (*CreatePaymentResult, error) {
	if request == nil || request.FiatAmount < f.minFiatAmount {
		return nil, NewBusinessErrorf("AMOUNT_TOO_LOW",
			"top-up amount must be at least %d", ErrAmountTooLow, f.minFiatAmount)
	}

	customer, err := f.customerRepo.ByUUID(ctx, request.CustomerUUID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "customer not found", ErrCustomerNotFound)
	}
	if !utils.IsTrue(customer.IsActive) {
		return nil, NewBusinessError("ACCOUNT_INACTIVE", "account is inactive", ErrAccountInactive)
	}

	rate, err := f.oracle.Rate(ctx)
	if err != nil {
		return nil, NewBusinessError("RATE_UNAVAILABLE", "exchange rate unavailable", ErrRateUnavailable)
	}

	// Quote the coin price once at order time; the wallet expects exactly
	// this amount regardless of later rate movement.
	expectedCoin := decimal.NewFromUint64(request.FiatAmount).Div(rate)
	expectedWei := utils.CoinToWei(expectedCoin)

	keypair, err := f.keygen.Generate()
	if err != nil {
		return nil, NewBusinessError("KEY_GENERATION", "wallet key generation failed", ErrKeyGeneration)
	}

	wallet := &models.Wallet{
		CustomerID:     customer.ID,
		Address:        keypair.Address,
		PrivateKey:     keypair.PrivateKeyHex,
		ExpectedAmount: utils.FormatWei(expectedWei),
		FiatAmount:     request.FiatAmount,
		Status:         models.WalletStatusPending,
		ExpiresAt:      utils.UTCNowAdd(f.walletTTL),
	}
	if err := f.walletRepo.Save(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to persist wallet: %w", err)
	}

	f.logger.Printf("payment created customer=%d wallet=%s address=%s expected=%s wei expires=%s",
		customer.ID, wallet.UUID, wallet.Address, wallet.ExpectedAmount, wallet.ExpiresAt.Format(time.RFC3339))

	logAudit(ctx, f.auditRepo, f.logger, utils.ToPtr(customer.ID), models.AuditActionPaymentCreated,
		fmt.Sprintf("wallet %s provisioned for %d fiat (%s wei expected)", wallet.Address, request.FiatAmount, wallet.ExpectedAmount),
		true, "")

	return &CreatePaymentResult{
		WalletUUID:     wallet.UUID,
		Address:        wallet.Address,
		ExpectedAmount: wallet.ExpectedAmount,
		ExpectedCoin:   expectedCoin,
		FiatAmount:     request.FiatAmount,
		ExpiresAt:      wallet.ExpiresAt,
	}, nil
}

// GetPaymentStatus reports the wallet state. For a live pending wallet it
// first runs an opportunistic deposit scan, so a customer polling right after
// transferring sees the credit without waiting for the monitor. A scan failure
// degrades to the last-known status.
func (f *cryptoPaymentFlow) GetPaymentStatus(ctx context.Context, walletUUID uuid.UUID) (*PaymentStatusResult, error) {
	wallet, err := f.walletRepo.ByUUID(ctx, walletUUID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, NewBusinessError("WALLET_NOT_FOUND", "wallet not found", ErrWalletNotFound)
	}

	if wallet.IsPending() && !wallet.IsExpired() {
		if _, serr := f.engine.ScanWallet(ctx, wallet); serr != nil {
			f.logger.Printf("WARN status scan of wallet %d failed: %v", wallet.ID, serr)
		} else if refreshed, rerr := f.walletRepo.ByID(ctx, wallet.ID); rerr == nil && refreshed != nil {
			wallet = refreshed
		}
	}

	deposits, err := f.ledgerRepo.ListByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	return f.statusResult(wallet, deposits), nil
}

func (f *cryptoPaymentFlow) ForceCheck(ctx context.Context, walletUUID uuid.UUID) (*PaymentStatusResult, error) {
	wallet, err := f.walletRepo.ByUUID(ctx, walletUUID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, NewBusinessError("WALLET_NOT_FOUND", "wallet not found", ErrWalletNotFound)
	}

	settled := false
	if wallet.IsPending() {
		settled, err = f.engine.ScanWallet(ctx, wallet)
		if err != nil {
			logAudit(ctx, f.auditRepo, f.logger, utils.ToPtr(wallet.CustomerID), models.AuditActionManualCheck,
				fmt.Sprintf("manual check of wallet %s failed", wallet.Address), false, err.Error())
			return nil, err
		}
	}

	logAudit(ctx, f.auditRepo, f.logger, utils.ToPtr(wallet.CustomerID), models.AuditActionManualCheck,
		fmt.Sprintf("manual check of wallet %s (settled=%t)", wallet.Address, settled), true, "")

	// Re-read so the caller sees the post-scan state
	wallet, err = f.walletRepo.ByID(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, NewBusinessError("WALLET_NOT_FOUND", "wallet not found", ErrWalletNotFound)
	}

	deposits, err := f.ledgerRepo.ListByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	return f.statusResult(wallet, deposits), nil
}

func (f *cryptoPaymentFlow) ListCustomerPayments(ctx context.Context, customerUUID uuid.UUID, limit int) ([]*models.Wallet, error) {
	customer, err := f.customerRepo.ByUUID(ctx, customerUUID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "customer not found", ErrCustomerNotFound)
	}

	return f.walletRepo.ByFilter(ctx, &models.WalletFilter{CustomerID: utils.ToPtr(customer.ID)}, limit)
}

// ListWalletTransactions returns every ledger row attributed to the wallet,
// deposits and sweeps alike, oldest first.
func (f *cryptoPaymentFlow) ListWalletTransactions(ctx context.Context, walletUUID uuid.UUID) ([]*models.LedgerTransaction, error) {
	wallet, err := f.walletRepo.ByUUID(ctx, walletUUID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, NewBusinessError("WALLET_NOT_FOUND", "wallet not found", ErrWalletNotFound)
	}

	return f.ledgerRepo.ListByWallet(ctx, wallet.ID)
}

// statusResult projects a wallet into its caller-visible state. A pending
// wallet past its deadline reads as expired even before the reaper runs.
func (f *cryptoPaymentFlow) statusResult(wallet *models.Wallet, deposits []*models.LedgerTransaction) *PaymentStatusResult {
	status := wallet.Status
	if wallet.IsPending() && wallet.IsExpired() {
		status = models.WalletStatusExpired
	}

	return &PaymentStatusResult{
		WalletUUID:     wallet.UUID,
		Address:        wallet.Address,
		Status:         status,
		ExpectedAmount: wallet.ExpectedAmount,
		FiatAmount:     wallet.FiatAmount,
		ExpiresAt:      wallet.ExpiresAt,
		PaidAt:         wallet.PaidAt,
		SweptAt:        wallet.SweptAt,
		Deposits:       deposits,
	}
}
