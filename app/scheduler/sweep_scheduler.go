package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	"github.com/sepehrx/simurgh/utils"
)

// SweepScheduler moves settled deposits from ephemeral wallets to the
// custodial main wallet. It only ever spends balance minus the current gas
// cost, and it never settles a payment itself: a wallet without a credited
// deposit is left alone and flagged for reconciliation.
type SweepScheduler struct {
	walletRepo    repository.WalletRepository
	ledgerRepo    repository.LedgerTransactionRepository
	auditRepo     repository.AuditLogRepository
	chain         services.ChainClient
	notifier      services.NotificationService
	mainWallet    string
	interval      time.Duration
	submitTimeout time.Duration
	logger        *log.Logger
}

// NewSweepScheduler creates a new sweep scheduler
func NewSweepScheduler(
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerTransactionRepository,
	auditRepo repository.AuditLogRepository,
	chain services.ChainClient,
	notifier services.NotificationService,
	mainWallet string,
	interval time.Duration,
	logger *log.Logger,
) *SweepScheduler {
	if interval == 0 {
		interval = utils.SweepInterval
	}
	return &SweepScheduler{
		walletRepo:    walletRepo,
		ledgerRepo:    ledgerRepo,
		auditRepo:     auditRepo,
		chain:         chain,
		notifier:      notifier,
		mainWallet:    mainWallet,
		interval:      interval,
		submitTimeout: 2 * time.Minute,
		logger:        logger,
	}
}

// Start launches the sweep loop and returns a function that stops it
func (s *SweepScheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.Printf("sweep scheduler started interval=%s main_wallet=%s", s.interval, s.mainWallet)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Printf("sweep scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()

	return cancel
}

func (s *SweepScheduler) runCycle(ctx context.Context) {
	wallets, err := s.walletRepo.ListPaidUnswept(ctx)
	if err != nil {
		s.logger.Printf("ERROR failed to list paid unswept wallets: %v", err)
		return
	}

	for _, wallet := range wallets {
		if err := s.sweepWallet(ctx, wallet); err != nil {
			s.logger.Printf("ERROR sweep of wallet %d (%s) failed: %v", wallet.ID, wallet.Address, err)
			sweepsFailedTotal.Inc()
		}
	}
}

func (s *SweepScheduler) sweepWallet(ctx context.Context, wallet *models.Wallet) error {
	// A paid wallet must carry a credited deposit. The sweeper moves funds,
	// it never settles payments, so anything else goes to reconciliation.
	credited, err := s.ledgerRepo.ByFilter(ctx, &models.LedgerTransactionFilter{
		WalletID:        utils.ToPtr(wallet.ID),
		BalanceCredited: utils.ToPtr(true),
	}, 1)
	if err != nil {
		return err
	}
	if len(credited) == 0 {
		s.logger.Printf("WARN wallet %d is paid but has no credited deposit, skipping sweep", wallet.ID)
		sweepsSkippedTotal.WithLabelValues("uncredited").Inc()
		s.logAudit(ctx, wallet, models.AuditActionReconcileRequired,
			fmt.Sprintf("wallet %s is paid but no credited deposit exists", wallet.Address), false)
		return nil
	}

	balance, err := s.chain.GetBalance(ctx, wallet.Address)
	if err != nil {
		return fmt.Errorf("balance lookup failed: %w", err)
	}

	gasCost, err := s.chain.EstimateSweepGas(ctx)
	if err != nil {
		return fmt.Errorf("gas estimate failed: %w", err)
	}

	// Nothing worth moving once gas eats the balance; retry next cycle when
	// gas may be cheaper.
	if balance.Cmp(gasCost) <= 0 {
		s.logger.Printf("wallet %d balance %s wei does not cover gas %s wei, deferring sweep",
			wallet.ID, balance, gasCost)
		sweepsSkippedTotal.WithLabelValues("gas").Inc()
		return nil
	}

	amount := new(big.Int).Sub(balance, gasCost)

	submitCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	chainTx, err := s.chain.SubmitTransfer(submitCtx, wallet.PrivateKey, s.mainWallet, amount)
	if err != nil {
		s.logAudit(ctx, wallet, models.AuditActionSweepFailed,
			fmt.Sprintf("sweep of wallet %s failed: %v", wallet.Address, err), false)
		s.alertOps(ctx, "Sweep failed",
			fmt.Sprintf("wallet %d (%s): %v", wallet.ID, wallet.Address, err))
		return err
	}

	now := utils.UTCNow()
	s.recordSweep(ctx, wallet, chainTx, now)

	if !chainTx.Success {
		s.logAudit(ctx, wallet, models.AuditActionSweepFailed,
			fmt.Sprintf("sweep tx %s of wallet %s reverted", chainTx.Hash, wallet.Address), false)
		return fmt.Errorf("sweep tx %s reverted", chainTx.Hash)
	}

	swept, err := s.walletRepo.MarkSwept(ctx, wallet.ID, now)
	if err != nil {
		return err
	}
	if !swept {
		// Funds moved but the row transitioned elsewhere; surface it.
		s.logger.Printf("WARN sweep tx %s landed but wallet %d was no longer paid/unswept", chainTx.Hash, wallet.ID)
		return nil
	}

	s.logger.Printf("swept wallet=%d address=%s amount=%s wei tx=%s", wallet.ID, wallet.Address, amount, chainTx.Hash)
	sweepsCompletedTotal.Inc()

	s.logAudit(ctx, wallet, models.AuditActionWalletSwept,
		fmt.Sprintf("swept %s wei from %s in tx %s", amount, wallet.Address, chainTx.Hash), true)

	return nil
}

// recordSweep writes the sweep transaction into the ledger. Sweep rows never
// carry the credited flag; only deposits credit balances.
func (s *SweepScheduler) recordSweep(ctx context.Context, wallet *models.Wallet, chainTx *services.ChainTx, now time.Time) {
	status := models.LedgerTransactionStatusConfirmed
	if !chainTx.Success {
		status = models.LedgerTransactionStatusFailed
	}

	err := s.ledgerRepo.Save(ctx, &models.LedgerTransaction{
		TxHash:      chainTx.Hash,
		FromAddress: wallet.Address,
		ToAddress:   s.mainWallet,
		Amount:      utils.FormatWei(chainTx.Amount),
		GasUsed:     chainTx.GasUsed,
		BlockNumber: chainTx.BlockNumber,
		ObservedAt:  now,
		Type:        models.LedgerTransactionTypeSweep,
		Status:      status,
		WalletID:    utils.ToPtr(wallet.ID),
	})
	if err != nil {
		s.logger.Printf("ERROR failed to record sweep tx %s: %v", chainTx.Hash, err)
	}
}

func (s *SweepScheduler) logAudit(ctx context.Context, wallet *models.Wallet, action, description string, success bool) {
	if s.auditRepo == nil {
		return
	}
	entry := &models.AuditLog{
		CustomerID:  utils.ToPtr(wallet.CustomerID),
		Action:      action,
		Description: utils.ToPtr(description),
		Success:     utils.ToPtr(success),
		CreatedAt:   utils.UTCNow(),
	}
	if err := s.auditRepo.Save(ctx, entry); err != nil {
		s.logger.Printf("WARN failed to persist audit entry action=%s: %v", action, err)
	}
}

func (s *SweepScheduler) alertOps(ctx context.Context, subject, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.AlertOps(ctx, subject, message); err != nil {
		s.logger.Printf("WARN failed to raise ops alert [%s]: %v", subject, err)
	}
}
