package businessflow

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	"github.com/sepehrx/simurgh/utils"

	"gorm.io/gorm"
)

// ConfirmationEngine settles deposits into pending wallets. It is the single
// place a chain deposit turns into a balance credit, shared by the periodic
// monitor and the manual check path, and safe to call concurrently for the
// same wallet: the wallet status transition and the per-hash credited flag
// are both guarded updates, so a deposit credits at most once no matter how
// many goroutines race on it.
type ConfirmationEngine interface {
	// ScanWallet looks for deposits into the wallet and settles the first
	// confirmed one that covers the expected amount. Returns true when the
	// wallet was settled during this call.
	ScanWallet(ctx context.Context, wallet *models.Wallet) (bool, error)
	// ConfirmDeposit settles a specific recorded deposit against the wallet.
	ConfirmDeposit(ctx context.Context, wallet *models.Wallet, tx *models.LedgerTransaction) error
}

// confirmationEngine implements ConfirmationEngine
type confirmationEngine struct {
	walletRepo   repository.WalletRepository
	ledgerRepo   repository.LedgerTransactionRepository
	customerRepo repository.CustomerRepository
	auditRepo    repository.AuditLogRepository
	chain        services.ChainClient
	oracle       services.ExchangeRateOracle
	notifier     services.NotificationService
	db           *gorm.DB
	logger       *log.Logger
	blockWindow  uint64

	// seen is a process-local hint of hashes already settled. It short-cuts
	// repeat scans within one process; the durable guard is the credited
	// flag in the ledger, never this map.
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewConfirmationEngine creates a new confirmation engine
func NewConfirmationEngine(
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerTransactionRepository,
	customerRepo repository.CustomerRepository,
	auditRepo repository.AuditLogRepository,
	chain services.ChainClient,
	oracle services.ExchangeRateOracle,
	notifier services.NotificationService,
	db *gorm.DB,
	logger *log.Logger,
	blockWindow uint64,
) ConfirmationEngine {
	if blockWindow == 0 {
		blockWindow = utils.DefaultBlockWindow
	}
	return &confirmationEngine{
		walletRepo:   walletRepo,
		ledgerRepo:   ledgerRepo,
		customerRepo: customerRepo,
		auditRepo:    auditRepo,
		chain:        chain,
		oracle:       oracle,
		notifier:     notifier,
		db:           db,
		logger:       logger,
		blockWindow:  blockWindow,
		seen:         make(map[string]struct{}),
	}
}

func (e *confirmationEngine) ScanWallet(ctx context.Context, wallet *models.Wallet) (bool, error) {
	if wallet == nil {
		return false, NewBusinessError("WALLET_NOT_FOUND", "wallet not found", ErrWalletNotFound)
	}
	if !wallet.IsPending() {
		return false, nil
	}

	expected, err := utils.ParseWei(wallet.ExpectedAmount)
	if err != nil {
		return false, fmt.Errorf("wallet %d has malformed expected amount: %w", wallet.ID, err)
	}

	head, err := e.chain.CurrentBlock(ctx)
	if err != nil {
		return false, NewBusinessError("CHAIN_UNAVAILABLE", "failed to read chain head", ErrChainUnavailable)
	}

	fromBlock := uint64(0)
	if head > e.blockWindow {
		fromBlock = head - e.blockWindow
	}

	observed, err := e.chain.ScanIncoming(ctx, wallet.Address, fromBlock, head)
	if err != nil {
		return false, NewBusinessError("CHAIN_UNAVAILABLE", "failed to scan wallet deposits", ErrChainUnavailable)
	}

	for _, chainTx := range observed {
		if err := e.recordObserved(ctx, wallet, chainTx); err != nil {
			e.logger.Printf("WARN failed to record tx %s for wallet %d: %v", chainTx.Hash, wallet.ID, err)
		}
	}

	candidate, err := e.pickSettlingDeposit(ctx, wallet.ID, expected)
	if err != nil {
		return false, err
	}
	if candidate == nil {
		return false, nil
	}

	if err := e.ConfirmDeposit(ctx, wallet, candidate); err != nil {
		if IsAlreadyCredited(err) || IsWalletNotPending(err) {
			// another worker settled it first
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// recordObserved upserts an observed chain transaction into the ledger. Rows
// are keyed by hash; a repeated observation only ever refreshes the status of
// a still-pending row.
func (e *confirmationEngine) recordObserved(ctx context.Context, wallet *models.Wallet, chainTx services.ChainTx) error {
	existing, err := e.ledgerRepo.ByTxHash(ctx, chainTx.Hash)
	if err != nil {
		return err
	}

	status := models.LedgerTransactionStatusConfirmed
	if !chainTx.Success {
		status = models.LedgerTransactionStatusFailed
	}

	if existing != nil {
		if existing.Status == models.LedgerTransactionStatusPending && existing.Status != status {
			return e.ledgerRepo.UpdateStatus(ctx, chainTx.Hash, status)
		}
		return nil
	}

	var blockTime *time.Time
	if !chainTx.BlockTime.IsZero() {
		blockTime = utils.TimeToUTCPtr(&chainTx.BlockTime)
	}

	return e.ledgerRepo.Save(ctx, &models.LedgerTransaction{
		TxHash:      chainTx.Hash,
		FromAddress: chainTx.From,
		ToAddress:   chainTx.To,
		Amount:      utils.FormatWei(chainTx.Amount),
		GasUsed:     chainTx.GasUsed,
		BlockNumber: chainTx.BlockNumber,
		BlockTime:   blockTime,
		ObservedAt:  utils.UTCNow(),
		Type:        models.LedgerTransactionTypeDeposit,
		Status:      status,
		WalletID:    utils.ToPtr(wallet.ID),
	})
}

// pickSettlingDeposit returns the earliest confirmed uncredited deposit that
// covers the expected amount. Underpayments stay recorded but never settle.
func (e *confirmationEngine) pickSettlingDeposit(ctx context.Context, walletID uint, expected *big.Int) (*models.LedgerTransaction, error) {
	deposits, err := e.ledgerRepo.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	for _, tx := range deposits {
		if tx.Type != models.LedgerTransactionTypeDeposit || !tx.IsConfirmed() || tx.BalanceCredited {
			continue
		}
		amount, err := utils.ParseWei(tx.Amount)
		if err != nil {
			e.logger.Printf("WARN ledger tx %s has malformed amount %q", tx.TxHash, tx.Amount)
			continue
		}
		if amount.Cmp(expected) >= 0 {
			return tx, nil
		}
	}

	return nil, nil
}

func (e *confirmationEngine) ConfirmDeposit(ctx context.Context, wallet *models.Wallet, tx *models.LedgerTransaction) error {
	if wallet == nil {
		return NewBusinessError("WALLET_NOT_FOUND", "wallet not found", ErrWalletNotFound)
	}
	if tx == nil || !tx.IsConfirmed() {
		return NewBusinessError("DEPOSIT_UNCONFIRMED", "deposit is not confirmed on chain", ErrWalletUnconfirmed)
	}

	if e.alreadySeen(tx.TxHash) || tx.BalanceCredited {
		return NewBusinessError("ALREADY_CREDITED", "transaction already credited", ErrAlreadyCredited)
	}

	expected, err := utils.ParseWei(wallet.ExpectedAmount)
	if err != nil {
		return fmt.Errorf("wallet %d has malformed expected amount: %w", wallet.ID, err)
	}
	amount, err := utils.ParseWei(tx.Amount)
	if err != nil {
		return fmt.Errorf("ledger tx %s has malformed amount: %w", tx.TxHash, err)
	}
	if amount.Cmp(expected) < 0 {
		return NewBusinessErrorf("DEPOSIT_INSUFFICIENT",
			"deposit %s wei below expected %s wei", ErrDepositInsufficient, amount, expected)
	}

	now := utils.UTCNow()

	// Per-wallet serialization: of all concurrent settlers exactly one wins
	// the pending -> paid transition and proceeds to credit.
	won, err := e.walletRepo.MarkPaid(ctx, wallet.ID, now)
	if err != nil {
		return err
	}
	if !won {
		e.markSeen(tx.TxHash)
		return NewBusinessError("WALLET_NOT_PENDING", "wallet already settled", ErrWalletNotPending)
	}

	customer, err := e.customerRepo.ByID(ctx, wallet.CustomerID)
	if err != nil {
		return err
	}
	if customer == nil {
		// Wallet is now paid but nobody to credit. The credited flag stays
		// unset so reconciliation can attribute the deposit later.
		e.logger.Printf("ERROR deposit %s for wallet %d has no owning customer %d",
			tx.TxHash, wallet.ID, wallet.CustomerID)
		logAudit(ctx, e.auditRepo, e.logger, nil, models.AuditActionReconcileRequired,
			fmt.Sprintf("deposit %s: customer %d not found for wallet %d", tx.TxHash, wallet.CustomerID, wallet.ID),
			false, ErrUnknownDepositRecipient.Error())
		e.alertOps(ctx, "Deposit without owner",
			fmt.Sprintf("tx %s paid wallet %d but customer %d does not exist", tx.TxHash, wallet.ID, wallet.CustomerID))
		return NewBusinessError("UNKNOWN_RECIPIENT", "deposit wallet owner not found", ErrUnknownDepositRecipient)
	}

	rate, err := e.oracle.Rate(ctx)
	if err != nil {
		e.logger.Printf("ERROR wallet %d paid but rate lookup failed: %v", wallet.ID, err)
		e.alertOps(ctx, "Credit pending on rate outage",
			fmt.Sprintf("wallet %d is paid by tx %s but the exchange rate is unavailable", wallet.ID, tx.TxHash))
		return NewBusinessError("RATE_UNAVAILABLE", "exchange rate unavailable", ErrRateUnavailable)
	}

	// Single quote at settlement time; later rate movements are irrelevant.
	credited := uint64(utils.WeiToCoin(amount).Mul(rate).Floor().IntPart())

	err = runInTransaction(ctx, e.db, func(txCtx context.Context) error {
		creditedNow, err := e.ledgerRepo.MarkCredited(txCtx, tx.TxHash, now)
		if err != nil {
			return err
		}
		if !creditedNow {
			return NewBusinessError("ALREADY_CREDITED", "transaction already credited", ErrAlreadyCredited)
		}

		ok, err := e.customerRepo.CreditBalance(txCtx, customer.ID, credited)
		if err != nil {
			return err
		}
		if !ok {
			return NewBusinessError("CUSTOMER_NOT_FOUND", "customer vanished during credit", ErrCustomerNotFound)
		}
		return nil
	})
	if err != nil {
		if IsAlreadyCredited(err) {
			e.markSeen(tx.TxHash)
			return err
		}
		e.logger.Printf("ERROR wallet %d paid but credit failed: %v", wallet.ID, err)
		e.alertOps(ctx, "Credit failed after wallet paid",
			fmt.Sprintf("wallet %d tx %s: %v", wallet.ID, tx.TxHash, err))
		return err
	}

	e.markSeen(tx.TxHash)
	e.logger.Printf("credited customer=%d amount=%d %s tx=%s wallet=%d rate=%s",
		customer.ID, credited, customer.Currency, tx.TxHash, wallet.ID, rate)

	logAudit(ctx, e.auditRepo, e.logger, utils.ToPtr(customer.ID), models.AuditActionPaymentCredited,
		fmt.Sprintf("credited %d %s for tx %s (wallet %d)", credited, customer.Currency, tx.TxHash, wallet.ID),
		true, "")

	if e.notifier != nil {
		if err := e.notifier.NotifyPaymentCredited(ctx, customer, credited, tx.TxHash); err != nil {
			e.logger.Printf("WARN failed to notify customer %d: %v", customer.ID, err)
		}
	}

	return nil
}

func (e *confirmationEngine) alreadySeen(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.seen[hash]
	return ok
}

func (e *confirmationEngine) markSeen(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[hash] = struct{}{}
}

func (e *confirmationEngine) alertOps(ctx context.Context, subject, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.AlertOps(ctx, subject, message); err != nil {
		e.logger.Printf("WARN failed to raise ops alert [%s]: %v", subject, err)
	}
}
