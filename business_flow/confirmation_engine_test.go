package businessflow

import (
	"context"
	"io"
	"log"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	"github.com/sepehrx/simurgh/models"
	simtesting "github.com/sepehrx/simurgh/testing"
	"github.com/sepehrx/simurgh/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	customers *simtesting.InMemoryCustomerRepo
	wallets   *simtesting.InMemoryWalletRepo
	ledger    *simtesting.InMemoryLedgerRepo
	audit     *simtesting.InMemoryAuditRepo
	chain     *simtesting.FakeChainClient
	notifier  *simtesting.FakeNotifier
	engine    ConfirmationEngine
}

// newEngineFixture wires an engine against in-memory stores with a fixed
// quote of 1,000,000 fiat minor units per coin.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		customers: simtesting.NewInMemoryCustomerRepo(),
		wallets:   simtesting.NewInMemoryWalletRepo(),
		ledger:    simtesting.NewInMemoryLedgerRepo(),
		audit:     simtesting.NewInMemoryAuditRepo(),
		chain:     simtesting.NewFakeChainClient(),
		notifier:  simtesting.NewFakeNotifier(),
	}

	oracle := services.StaticRateOracle{Quote: decimal.NewFromInt(1_000_000)}
	logger := log.New(io.Discard, "", 0)

	f.engine = NewConfirmationEngine(
		f.wallets, f.ledger, f.customers, f.audit,
		f.chain, oracle, f.notifier, nil, logger, 50)

	return f
}

func (f *engineFixture) seedCustomer(t *testing.T) *models.Customer {
	t.Helper()
	customer := &models.Customer{
		FullName: "Roya Tehrani",
		Email:    "roya@example.com",
		Currency: utils.TomanCurrency,
		IsActive: utils.ToPtr(true),
	}
	require.NoError(t, f.customers.Save(context.Background(), customer))
	return customer
}

// seedWallet creates a pending wallet expecting 0.1 coin
func (f *engineFixture) seedWallet(t *testing.T, customerID uint) *models.Wallet {
	t.Helper()
	wallet := &models.Wallet{
		CustomerID:     customerID,
		Address:        "0xdeadbeef00000000000000000000000000000001",
		PrivateKey:     "aa",
		ExpectedAmount: "100000000000000000", // 0.1 coin in wei
		FiatAmount:     100_000,
		Status:         models.WalletStatusPending,
		ExpiresAt:      utils.UTCNowAdd(24 * time.Hour),
	}
	require.NoError(t, f.wallets.Save(context.Background(), wallet))
	return wallet
}

func (f *engineFixture) seedDeposit(t *testing.T, walletID uint, hash, amountWei string) *models.LedgerTransaction {
	t.Helper()
	tx := &models.LedgerTransaction{
		TxHash:     hash,
		ToAddress:  "0xdeadbeef00000000000000000000000000000001",
		Amount:     amountWei,
		ObservedAt: utils.UTCNow(),
		Type:       models.LedgerTransactionTypeDeposit,
		Status:     models.LedgerTransactionStatusConfirmed,
		WalletID:   utils.ToPtr(walletID),
	}
	require.NoError(t, f.ledger.Save(context.Background(), tx))
	return tx
}

func TestConfirmDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("credits the customer exactly once", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		deposit := f.seedDeposit(t, wallet.ID, "0xaaa", "200000000000000000") // 0.2 coin

		require.NoError(t, f.engine.ConfirmDeposit(ctx, wallet, deposit))

		// 0.2 coin at 1,000,000 per coin
		assert.Equal(t, uint64(200_000), f.customers.Balance(customer.ID))

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, stored.Status)
		require.NotNil(t, stored.PaidAt)

		credited, err := f.ledger.ByTxHash(ctx, "0xaaa")
		require.NoError(t, err)
		assert.True(t, credited.BalanceCredited)

		assert.Contains(t, f.audit.Actions(), models.AuditActionPaymentCredited)
		assert.Contains(t, f.notifier.Credited, "0xaaa")

		// A second confirmation of the same deposit must not credit again
		err = f.engine.ConfirmDeposit(ctx, stored, credited)
		assert.True(t, IsAlreadyCredited(err))
		assert.Equal(t, uint64(200_000), f.customers.Balance(customer.ID))
	})

	t.Run("concurrent confirmations credit once", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		deposit := f.seedDeposit(t, wallet.ID, "0xbbb", "100000000000000000")

		const workers = 16
		var wg sync.WaitGroup
		results := make(chan error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- f.engine.ConfirmDeposit(ctx, wallet, deposit)
			}()
		}
		wg.Wait()
		close(results)

		successes := 0
		for err := range results {
			if err == nil {
				successes++
			} else {
				assert.True(t, IsAlreadyCredited(err) || IsWalletNotPending(err),
					"unexpected error: %v", err)
			}
		}

		assert.Equal(t, 1, successes)
		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))
	})

	t.Run("underpayment never settles", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		deposit := f.seedDeposit(t, wallet.ID, "0xccc", "50000000000000000") // 0.05 coin

		err := f.engine.ConfirmDeposit(ctx, wallet, deposit)
		assert.True(t, IsDepositInsufficient(err))

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPending, stored.Status)
		assert.Zero(t, f.customers.Balance(customer.ID))

		// The observation stays on the ledger, uncredited
		row, err := f.ledger.ByTxHash(ctx, "0xccc")
		require.NoError(t, err)
		assert.False(t, row.BalanceCredited)
	})

	t.Run("deposit into wallet without owner is quarantined", func(t *testing.T) {
		f := newEngineFixture(t)
		wallet := f.seedWallet(t, 999) // no such customer
		deposit := f.seedDeposit(t, wallet.ID, "0xddd", "100000000000000000")

		err := f.engine.ConfirmDeposit(ctx, wallet, deposit)
		require.Error(t, err)

		// The credited flag stays clear so reconciliation can attribute it
		row, rerr := f.ledger.ByTxHash(ctx, "0xddd")
		require.NoError(t, rerr)
		assert.False(t, row.BalanceCredited)

		assert.Contains(t, f.audit.Actions(), models.AuditActionReconcileRequired)
		assert.NotEmpty(t, f.notifier.OpsAlerts)
	})

	t.Run("non-pending wallet is refused", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		deposit := f.seedDeposit(t, wallet.ID, "0xeee", "100000000000000000")

		_, err := f.wallets.MarkPaid(ctx, wallet.ID, utils.UTCNow())
		require.NoError(t, err)

		err = f.engine.ConfirmDeposit(ctx, wallet, deposit)
		assert.True(t, IsWalletNotPending(err))
		assert.Zero(t, f.customers.Balance(customer.ID))
	})
}

func TestScanWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("records observations and settles the first sufficient deposit", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x111", To: wallet.Address, Amount: big.NewInt(50_000_000_000_000_000), BlockNumber: 95, Success: true},  // 0.05 coin
			{Hash: "0x222", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 96, Success: true}, // 0.1 coin
		}

		settled, err := f.engine.ScanWallet(ctx, wallet)
		require.NoError(t, err)
		assert.True(t, settled)

		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))

		small, err := f.ledger.ByTxHash(ctx, "0x111")
		require.NoError(t, err)
		assert.False(t, small.BalanceCredited)

		full, err := f.ledger.ByTxHash(ctx, "0x222")
		require.NoError(t, err)
		assert.True(t, full.BalanceCredited)
	})

	t.Run("reverted deposits never settle", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x333", To: wallet.Address, Amount: big.NewInt(200_000_000_000_000_000), BlockNumber: 97, Success: false},
		}

		settled, err := f.engine.ScanWallet(ctx, wallet)
		require.NoError(t, err)
		assert.False(t, settled)
		assert.Zero(t, f.customers.Balance(customer.ID))

		row, err := f.ledger.ByTxHash(ctx, "0x333")
		require.NoError(t, err)
		assert.Equal(t, models.LedgerTransactionStatusFailed, row.Status)
	})

	t.Run("rescan after an empty window settles a deposit confirmed later", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		settled, err := f.engine.ScanWallet(ctx, wallet)
		require.NoError(t, err)
		assert.False(t, settled)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x444", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 99, Success: true},
		}

		settled, err = f.engine.ScanWallet(ctx, wallet)
		require.NoError(t, err)
		assert.True(t, settled)
		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))
	})

	t.Run("chain outage surfaces as chain unavailable", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		f.chain.Err = context.DeadlineExceeded

		_, err := f.engine.ScanWallet(ctx, wallet)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChainUnavailable)
	})

	t.Run("non-pending wallet is a no-op", func(t *testing.T) {
		f := newEngineFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		_, err := f.wallets.MarkPaid(ctx, wallet.ID, utils.UTCNow())
		require.NoError(t, err)

		paid, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)

		settled, err := f.engine.ScanWallet(ctx, paid)
		require.NoError(t, err)
		assert.False(t, settled)
	})
}
