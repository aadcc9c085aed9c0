package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	businessflow "github.com/sepehrx/simurgh/business_flow"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	"github.com/sepehrx/simurgh/utils"
)

// DepositMonitor periodically scans every pending wallet for deposits and
// hands candidates to the confirmation engine. A cycle that overlaps a manual
// check of the same wallet is harmless: settlement is guarded downstream.
type DepositMonitor struct {
	walletRepo repository.WalletRepository
	engine     businessflow.ConfirmationEngine
	chain      services.ChainClient
	interval   time.Duration
	workers    int
	logger     *log.Logger
}

// NewDepositMonitor creates a new deposit monitor
func NewDepositMonitor(walletRepo repository.WalletRepository, engine businessflow.ConfirmationEngine, chain services.ChainClient, interval time.Duration, workers int, logger *log.Logger) *DepositMonitor {
	if interval == 0 {
		interval = utils.MonitorInterval
	}
	if workers <= 0 {
		workers = 4
	}
	return &DepositMonitor{
		walletRepo: walletRepo,
		engine:     engine,
		chain:      chain,
		interval:   interval,
		workers:    workers,
		logger:     logger,
	}
}

// Start launches the monitor loop and returns a function that stops it
func (m *DepositMonitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		m.logger.Printf("deposit monitor started interval=%s workers=%d", m.interval, m.workers)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Printf("deposit monitor stopped")
				return
			case <-ticker.C:
				m.runCycle(ctx)
			}
		}
	}()

	return cancel
}

func (m *DepositMonitor) runCycle(ctx context.Context) {
	started := time.Now()

	wallets, err := m.walletRepo.ListPending(ctx)
	if err != nil {
		m.logger.Printf("ERROR failed to list pending wallets: %v", err)
		monitorScanErrorsTotal.Inc()
		return
	}

	sem := make(chan struct{}, m.workers)
	var wg sync.WaitGroup

	for _, wallet := range wallets {
		// The reaper owns expiry; scanning a wallet past its deadline would
		// only waste node calls.
		if wallet.IsExpired() {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(w *models.Wallet) {
			defer wg.Done()
			defer func() { <-sem }()

			// An untouched wallet has a zero balance; skip the block scan
			// entirely instead of walking the window for nothing.
			balance, err := m.chain.GetBalance(ctx, w.Address)
			if err != nil {
				m.logger.Printf("ERROR balance check of wallet %d (%s) failed: %v", w.ID, w.Address, err)
				monitorScanErrorsTotal.Inc()
				return
			}
			if balance.Sign() == 0 {
				return
			}

			settled, err := m.engine.ScanWallet(ctx, w)
			if err != nil {
				m.logger.Printf("ERROR scan of wallet %d (%s) failed: %v", w.ID, w.Address, err)
				monitorScanErrorsTotal.Inc()
				return
			}
			if settled {
				m.logger.Printf("wallet %d (%s) settled", w.ID, w.Address)
				depositsSettledTotal.Inc()
			}
		}(wallet)
	}

	wg.Wait()
	monitorCyclesTotal.Inc()
	monitorCycleDuration.Observe(time.Since(started).Seconds())
}
