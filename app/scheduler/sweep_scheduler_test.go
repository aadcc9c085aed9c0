package scheduler

import (
	"context"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/sepehrx/simurgh/models"
	simtesting "github.com/sepehrx/simurgh/testing"
	"github.com/sepehrx/simurgh/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mainWallet = "0xmain000000000000000000000000000000000001"

type sweepFixture struct {
	wallets  *simtesting.InMemoryWalletRepo
	ledger   *simtesting.InMemoryLedgerRepo
	audit    *simtesting.InMemoryAuditRepo
	chain    *simtesting.FakeChainClient
	notifier *simtesting.FakeNotifier
	sweeper  *SweepScheduler
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()

	f := &sweepFixture{
		wallets:  simtesting.NewInMemoryWalletRepo(),
		ledger:   simtesting.NewInMemoryLedgerRepo(),
		audit:    simtesting.NewInMemoryAuditRepo(),
		chain:    simtesting.NewFakeChainClient(),
		notifier: simtesting.NewFakeNotifier(),
	}

	f.sweeper = NewSweepScheduler(
		f.wallets, f.ledger, f.audit, f.chain, f.notifier,
		mainWallet, time.Minute, log.New(io.Discard, "", 0))

	return f
}

// seedPaidWallet creates a paid, unswept wallet with a credited deposit and
// the given on-chain balance
func (f *sweepFixture) seedPaidWallet(t *testing.T, balance *big.Int) *models.Wallet {
	t.Helper()
	ctx := context.Background()

	wallet := &models.Wallet{
		CustomerID:     1,
		Address:        "0xpaid00000000000000000000000000000000001",
		PrivateKey:     "aa",
		ExpectedAmount: "100000000000000000",
		Status:         models.WalletStatusPaid,
		PaidAt:         utils.UTCNowPtr(),
		ExpiresAt:      utils.UTCNowAdd(time.Hour),
	}
	require.NoError(t, f.wallets.Save(ctx, wallet))

	deposit := &models.LedgerTransaction{
		TxHash:          "0xdeposit",
		ToAddress:       wallet.Address,
		Amount:          "100000000000000000",
		ObservedAt:      utils.UTCNow(),
		Type:            models.LedgerTransactionTypeDeposit,
		Status:          models.LedgerTransactionStatusConfirmed,
		WalletID:        utils.ToPtr(wallet.ID),
		BalanceCredited: true,
	}
	require.NoError(t, f.ledger.Save(ctx, deposit))

	f.chain.Balances[wallet.Address] = balance
	return wallet
}

func TestSweepWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("sweeps balance minus gas to the main wallet", func(t *testing.T) {
		f := newSweepFixture(t)
		balance := big.NewInt(100_000_000_000_000_000) // 0.1 coin
		wallet := f.seedPaidWallet(t, balance)

		require.NoError(t, f.sweeper.sweepWallet(ctx, wallet))

		require.Len(t, f.chain.SubmittedTransfers, 1)
		transfer := f.chain.SubmittedTransfers[0]
		assert.Equal(t, mainWallet, transfer.To)

		expected := new(big.Int).Sub(balance, f.chain.GasCost)
		assert.Zero(t, transfer.Amount.Cmp(expected))

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusSwept, stored.Status)
		assert.True(t, stored.Swept)
		require.NotNil(t, stored.SweptAt)

		// The sweep is on the ledger as an uncredited outgoing tx
		rows, err := f.ledger.ByFilter(ctx, &models.LedgerTransactionFilter{
			Type: utils.ToPtr(models.LedgerTransactionTypeSweep),
		}, 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.False(t, rows[0].BalanceCredited)
		assert.Equal(t, mainWallet, rows[0].ToAddress)

		assert.Contains(t, f.audit.Actions(), models.AuditActionWalletSwept)
	})

	t.Run("defers when balance does not cover gas", func(t *testing.T) {
		f := newSweepFixture(t)
		wallet := f.seedPaidWallet(t, big.NewInt(1_000)) // dust

		require.NoError(t, f.sweeper.sweepWallet(ctx, wallet))

		assert.Empty(t, f.chain.SubmittedTransfers)

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, stored.Status)
		assert.False(t, stored.Swept)
	})

	t.Run("balance exactly equal to gas is also deferred", func(t *testing.T) {
		f := newSweepFixture(t)
		wallet := f.seedPaidWallet(t, new(big.Int).Set(f.chain.GasCost))

		require.NoError(t, f.sweeper.sweepWallet(ctx, wallet))
		assert.Empty(t, f.chain.SubmittedTransfers)

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, stored.Status)
	})

	t.Run("paid wallet without a credited deposit is quarantined, never swept", func(t *testing.T) {
		f := newSweepFixture(t)
		ctx := context.Background()

		wallet := &models.Wallet{
			CustomerID:     1,
			Address:        "0xodd0000000000000000000000000000000000002",
			PrivateKey:     "bb",
			ExpectedAmount: "1",
			Status:         models.WalletStatusPaid,
			ExpiresAt:      utils.UTCNowAdd(time.Hour),
		}
		require.NoError(t, f.wallets.Save(ctx, wallet))
		f.chain.Balances[wallet.Address] = big.NewInt(100_000_000_000_000_000)

		require.NoError(t, f.sweeper.sweepWallet(ctx, wallet))

		assert.Empty(t, f.chain.SubmittedTransfers)
		assert.Contains(t, f.audit.Actions(), models.AuditActionReconcileRequired)
	})

	t.Run("broadcast failure leaves the wallet for the next cycle", func(t *testing.T) {
		f := newSweepFixture(t)
		wallet := f.seedPaidWallet(t, big.NewInt(100_000_000_000_000_000))
		f.chain.FailSubmit = true

		err := f.sweeper.sweepWallet(ctx, wallet)
		require.Error(t, err)

		stored, serr := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, serr)
		assert.Equal(t, models.WalletStatusPaid, stored.Status)
		assert.False(t, stored.Swept)

		assert.Contains(t, f.audit.Actions(), models.AuditActionSweepFailed)
		assert.NotEmpty(t, f.notifier.OpsAlerts)
	})
}

func TestSweepCycle(t *testing.T) {
	ctx := context.Background()

	f := newSweepFixture(t)
	wallet := f.seedPaidWallet(t, big.NewInt(100_000_000_000_000_000))

	// Pending and expired wallets are not sweep candidates
	pending := &models.Wallet{
		CustomerID: 2, Address: "0xpending", PrivateKey: "cc",
		ExpectedAmount: "1", Status: models.WalletStatusPending,
		ExpiresAt: utils.UTCNowAdd(time.Hour),
	}
	require.NoError(t, f.wallets.Save(ctx, pending))

	f.sweeper.runCycle(ctx)

	require.Len(t, f.chain.SubmittedTransfers, 1)
	stored, err := f.wallets.ByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WalletStatusSwept, stored.Status)

	storedPending, err := f.wallets.ByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WalletStatusPending, storedPending.Status)
}
