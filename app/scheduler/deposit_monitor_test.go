package scheduler

import (
	"context"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	businessflow "github.com/sepehrx/simurgh/business_flow"
	"github.com/sepehrx/simurgh/models"
	simtesting "github.com/sepehrx/simurgh/testing"
	"github.com/sepehrx/simurgh/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type monitorFixture struct {
	customers *simtesting.InMemoryCustomerRepo
	wallets   *simtesting.InMemoryWalletRepo
	ledger    *simtesting.InMemoryLedgerRepo
	chain     *simtesting.FakeChainClient
	monitor   *DepositMonitor
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()

	f := &monitorFixture{
		customers: simtesting.NewInMemoryCustomerRepo(),
		wallets:   simtesting.NewInMemoryWalletRepo(),
		ledger:    simtesting.NewInMemoryLedgerRepo(),
		chain:     simtesting.NewFakeChainClient(),
	}

	oracle := services.StaticRateOracle{Quote: decimal.NewFromInt(1_000_000)}
	logger := log.New(io.Discard, "", 0)

	engine := businessflow.NewConfirmationEngine(
		f.wallets, f.ledger, f.customers, simtesting.NewInMemoryAuditRepo(),
		f.chain, oracle, simtesting.NewFakeNotifier(), nil, logger, 50)

	f.monitor = NewDepositMonitor(f.wallets, engine, f.chain, time.Second, 2, logger)
	return f
}

func (f *monitorFixture) seedCustomerWallet(t *testing.T, address string, expiresIn time.Duration) (*models.Customer, *models.Wallet) {
	t.Helper()
	ctx := context.Background()

	customer := &models.Customer{
		FullName: "Nima Rad",
		Email:    address + "@example.com",
		Currency: utils.TomanCurrency,
		IsActive: utils.ToPtr(true),
	}
	require.NoError(t, f.customers.Save(ctx, customer))

	wallet := &models.Wallet{
		CustomerID:     customer.ID,
		Address:        address,
		PrivateKey:     "aa",
		ExpectedAmount: "100000000000000000", // 0.1 coin
		FiatAmount:     100_000,
		Status:         models.WalletStatusPending,
		ExpiresAt:      utils.UTCNowAdd(expiresIn),
	}
	require.NoError(t, f.wallets.Save(ctx, wallet))
	return customer, wallet
}

func TestMonitorCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("settles funded pending wallets", func(t *testing.T) {
		f := newMonitorFixture(t)
		customer, wallet := f.seedCustomerWallet(t, "0xfunded", time.Hour)
		_, unfundedWallet := f.seedCustomerWallet(t, "0xempty", time.Hour)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x900", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 99, Success: true},
		}

		f.monitor.runCycle(ctx)

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, stored.Status)
		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))

		stored, err = f.wallets.ByID(ctx, unfundedWallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPending, stored.Status)
	})

	t.Run("skips wallets past their deadline", func(t *testing.T) {
		f := newMonitorFixture(t)
		customer, wallet := f.seedCustomerWallet(t, "0xlate", -time.Minute)

		// Funds arrive after the window; the reaper owns these wallets
		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x901", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 99, Success: true},
		}

		f.monitor.runCycle(ctx)

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPending, stored.Status)
		assert.Zero(t, f.customers.Balance(customer.ID))
	})

	t.Run("a second cycle is idempotent", func(t *testing.T) {
		f := newMonitorFixture(t)
		customer, wallet := f.seedCustomerWallet(t, "0xonce", time.Hour)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x902", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 99, Success: true},
		}

		f.monitor.runCycle(ctx)
		f.monitor.runCycle(ctx)

		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))
	})
}

func TestMonitorStartStop(t *testing.T) {
	f := newMonitorFixture(t)

	stop := f.monitor.Start(context.Background())
	stop()
}
