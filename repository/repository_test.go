package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	simtesting "github.com/sepehrx/simurgh/testing"
	"github.com/sepehrx/simurgh/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRepoTest provisions a throwaway database. Skips when no Postgres is
// reachable so the suite stays runnable without infrastructure.
func setupRepoTest(t *testing.T) (*simtesting.TestDB, *simtesting.TestFixtures) {
	t.Helper()

	tdb, err := simtesting.SetupTestDB()
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() {
		if terr := tdb.TeardownTestDB(); terr != nil {
			t.Logf("teardown: %v", terr)
		}
	})

	return tdb, simtesting.NewTestFixtures(tdb)
}

func TestWalletStateTransitions(t *testing.T) {
	tdb, fixtures := setupRepoTest(t)
	ctx := simtesting.CreateTestContext()
	repo := repository.NewWalletRepository(tdb.DB)

	customer, err := fixtures.CreateTestCustomer()
	require.NoError(t, err)
	wallet, err := fixtures.CreateTestWallet(customer.ID, "100000000000000000", time.Hour)
	require.NoError(t, err)

	t.Run("MarkPaid wins once", func(t *testing.T) {
		won, err := repo.MarkPaid(ctx, wallet.ID, utils.UTCNow())
		require.NoError(t, err)
		assert.True(t, won)

		won, err = repo.MarkPaid(ctx, wallet.ID, utils.UTCNow())
		require.NoError(t, err)
		assert.False(t, won)

		stored, err := repo.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, stored.Status)
		assert.NotNil(t, stored.PaidAt)
	})

	t.Run("MarkSwept requires paid and unswept", func(t *testing.T) {
		won, err := repo.MarkSwept(ctx, wallet.ID, utils.UTCNow())
		require.NoError(t, err)
		assert.True(t, won)

		won, err = repo.MarkSwept(ctx, wallet.ID, utils.UTCNow())
		require.NoError(t, err)
		assert.False(t, won)

		stored, err := repo.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusSwept, stored.Status)
		assert.True(t, stored.Swept)
	})

	t.Run("ExpireDue only touches due pending wallets", func(t *testing.T) {
		due, err := fixtures.CreateTestWallet(customer.ID, "1", -time.Minute)
		require.NoError(t, err)
		fresh, err := fixtures.CreateTestWallet(customer.ID, "1", time.Hour)
		require.NoError(t, err)

		n, err := repo.ExpireDue(ctx, utils.UTCNow())
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		stored, err := repo.ByID(ctx, due.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusExpired, stored.Status)

		stored, err = repo.ByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPending, stored.Status)
	})
}

func TestLedgerMarkCredited(t *testing.T) {
	tdb, fixtures := setupRepoTest(t)
	ctx := simtesting.CreateTestContext()
	repo := repository.NewLedgerTransactionRepository(tdb.DB)

	customer, err := fixtures.CreateTestCustomer()
	require.NoError(t, err)
	wallet, err := fixtures.CreateTestWallet(customer.ID, "100000000000000000", time.Hour)
	require.NoError(t, err)
	deposit, err := fixtures.CreateTestDeposit(wallet.ID, wallet.Address, "100000000000000000")
	require.NoError(t, err)

	won, err := repo.MarkCredited(ctx, deposit.TxHash, utils.UTCNow())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkCredited(ctx, deposit.TxHash, utils.UTCNow())
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.ByTxHash(ctx, deposit.TxHash)
	require.NoError(t, err)
	assert.True(t, stored.BalanceCredited)
	assert.NotNil(t, stored.CreditedAt)
}

func TestLedgerRejectsDuplicateHash(t *testing.T) {
	tdb, fixtures := setupRepoTest(t)
	ctx := simtesting.CreateTestContext()
	repo := repository.NewLedgerTransactionRepository(tdb.DB)

	customer, err := fixtures.CreateTestCustomer()
	require.NoError(t, err)
	wallet, err := fixtures.CreateTestWallet(customer.ID, "1", time.Hour)
	require.NoError(t, err)
	deposit, err := fixtures.CreateTestDeposit(wallet.ID, wallet.Address, "1")
	require.NoError(t, err)

	dup := &models.LedgerTransaction{
		TxHash:     deposit.TxHash,
		ToAddress:  wallet.Address,
		Amount:     "1",
		ObservedAt: utils.UTCNow(),
		Type:       models.LedgerTransactionTypeDeposit,
		Status:     models.LedgerTransactionStatusConfirmed,
		WalletID:   utils.ToPtr(wallet.ID),
	}
	assert.Error(t, repo.Save(ctx, dup))
}

func TestCustomerCreditBalance(t *testing.T) {
	tdb, fixtures := setupRepoTest(t)
	ctx := simtesting.CreateTestContext()
	repo := repository.NewCustomerRepository(tdb.DB)

	customer, err := fixtures.CreateTestCustomer()
	require.NoError(t, err)

	ok, err := repo.CreditBalance(ctx, customer.ID, 50_000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CreditBalance(ctx, customer.ID, 25_000)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.ByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(75_000), stored.Balance)

	ok, err = repo.CreditBalance(ctx, 999_999, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaymentRequestMarkCompleted(t *testing.T) {
	tdb, fixtures := setupRepoTest(t)
	ctx := simtesting.CreateTestContext()
	repo := repository.NewPaymentRequestRepository(tdb.DB)

	customer, err := fixtures.CreateTestCustomer()
	require.NoError(t, err)

	request := &models.PaymentRequest{
		CustomerID: customer.ID,
		Amount:     100_000,
		Currency:   utils.TomanCurrency,
		Reference:  "ref-mark-completed",
		Status:     models.PaymentRequestStatusPending,
	}
	require.NoError(t, repo.Save(ctx, request))

	won, err := repo.MarkCompleted(ctx, request.ID, utils.UTCNow())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkCompleted(ctx, request.ID, utils.UTCNow())
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.ByReference(ctx, request.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRequestStatusCompleted, stored.Status)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	tdb, fixtures := setupRepoTest(t)
	ctx := simtesting.CreateTestContext()
	customers := repository.NewCustomerRepository(tdb.DB)

	customer, err := fixtures.CreateTestCustomer()
	require.NoError(t, err)

	err = repository.WithTransaction(ctx, tdb.DB, func(txCtx context.Context) error {
		ok, cerr := customers.CreditBalance(txCtx, customer.ID, 10_000)
		require.NoError(t, cerr)
		require.True(t, ok)
		return errors.New("force rollback")
	})
	require.Error(t, err)

	stored, err := customers.ByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Balance)
}
