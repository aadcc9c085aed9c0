package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/sepehrx/simurgh/app/services"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	"github.com/sepehrx/simurgh/utils"

	"github.com/robfig/cron/v3"
)

// reaperSchedule fires at the top of every hour
const reaperSchedule = "0 * * * *"

// ExpiryReaper expires pending wallets whose payment window has elapsed.
// Expiry only ever touches pending wallets; a wallet paid seconds before the
// deadline is untouched, and late deposits into expired wallets stay in the
// ledger for manual handling.
type ExpiryReaper struct {
	walletRepo   repository.WalletRepository
	customerRepo repository.CustomerRepository
	auditRepo    repository.AuditLogRepository
	notifier     services.NotificationService
	logger       *log.Logger
	cron         *cron.Cron
}

// NewExpiryReaper creates a new expiry reaper
func NewExpiryReaper(
	walletRepo repository.WalletRepository,
	customerRepo repository.CustomerRepository,
	auditRepo repository.AuditLogRepository,
	notifier services.NotificationService,
	logger *log.Logger,
) *ExpiryReaper {
	return &ExpiryReaper{
		walletRepo:   walletRepo,
		customerRepo: customerRepo,
		auditRepo:    auditRepo,
		notifier:     notifier,
		logger:       logger,
		cron:         cron.New(),
	}
}

// Start schedules the hourly reap and returns a function that stops it
func (r *ExpiryReaper) Start(ctx context.Context) (func(), error) {
	if _, err := r.cron.AddFunc(reaperSchedule, func() { r.Reap(ctx) }); err != nil {
		return nil, fmt.Errorf("failed to schedule expiry reaper: %w", err)
	}

	r.cron.Start()
	r.logger.Printf("expiry reaper started schedule=%q", reaperSchedule)

	return func() {
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
		r.logger.Printf("expiry reaper stopped")
	}, nil
}

// Reap expires all due wallets once. Exported so the manual check path and
// tests can trigger a pass outside the schedule.
func (r *ExpiryReaper) Reap(ctx context.Context) {
	now := utils.UTCNow()

	// Snapshot the due wallets first so expired customers can be notified
	// after the bulk transition.
	due, err := r.walletRepo.ByFilter(ctx, &models.WalletFilter{
		Status:        utils.ToPtr(models.WalletStatusPending),
		ExpiresBefore: utils.ToPtr(now),
	}, 0)
	if err != nil {
		r.logger.Printf("ERROR failed to list due wallets: %v", err)
		return
	}

	expired, err := r.walletRepo.ExpireDue(ctx, now)
	if err != nil {
		r.logger.Printf("ERROR failed to expire due wallets: %v", err)
		return
	}
	if expired == 0 {
		return
	}

	r.logger.Printf("expired %d wallet(s)", expired)
	walletsExpiredTotal.Add(float64(expired))

	// A wallet from the snapshot may have been paid before the guarded
	// transition ran; only wallets that actually expired are reported.
	for _, wallet := range due {
		stored, err := r.walletRepo.ByID(ctx, wallet.ID)
		if err != nil {
			r.logger.Printf("WARN cannot re-read wallet %d after expiry pass: %v", wallet.ID, err)
			continue
		}
		if stored == nil || stored.Status != models.WalletStatusExpired {
			continue
		}
		r.logAudit(ctx, stored)
		r.notifyCustomer(ctx, stored)
	}
}

func (r *ExpiryReaper) logAudit(ctx context.Context, wallet *models.Wallet) {
	if r.auditRepo == nil {
		return
	}
	entry := &models.AuditLog{
		CustomerID:  utils.ToPtr(wallet.CustomerID),
		Action:      models.AuditActionPaymentExpired,
		Description: utils.ToPtr(fmt.Sprintf("wallet %s expired unpaid", wallet.Address)),
		Success:     utils.ToPtr(true),
		CreatedAt:   utils.UTCNow(),
	}
	if err := r.auditRepo.Save(ctx, entry); err != nil {
		r.logger.Printf("WARN failed to persist audit entry for wallet %d: %v", wallet.ID, err)
	}
}

func (r *ExpiryReaper) notifyCustomer(ctx context.Context, wallet *models.Wallet) {
	if r.notifier == nil {
		return
	}

	customer, err := r.customerRepo.ByID(ctx, wallet.CustomerID)
	if err != nil || customer == nil {
		r.logger.Printf("WARN cannot notify expiry of wallet %d, customer %d unavailable: %v",
			wallet.ID, wallet.CustomerID, err)
		return
	}

	if err := r.notifier.NotifyPaymentExpired(ctx, customer, wallet); err != nil {
		r.logger.Printf("WARN failed to notify customer %d of expiry: %v", customer.ID, err)
	}
}
