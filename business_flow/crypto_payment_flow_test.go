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
	"github.com/sepehrx/simurgh/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flowFixture struct {
	*engineFixture
	flow CryptoPaymentFlow
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()

	ef := newEngineFixture(t)
	oracle := services.StaticRateOracle{Quote: decimal.NewFromInt(1_000_000)}
	logger := log.New(io.Discard, "", 0)

	flow := NewCryptoPaymentFlow(
		ef.wallets, ef.ledger, ef.customers, ef.audit,
		ef.engine, fakeKeyGenerator{}, oracle, nil, logger,
		10_000, 24*time.Hour)

	return &flowFixture{engineFixture: ef, flow: flow}
}

// fakeKeyGenerator mints deterministic-looking unique keypairs
type fakeKeyGenerator struct{}

func (fakeKeyGenerator) Generate() (services.Keypair, error) {
	id := uuid.NewString()
	return services.Keypair{
		Address:       "0x" + id[:8],
		PrivateKeyHex: "pk-" + id,
	}, nil
}

func TestCreatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions a pending wallet priced at the current rate", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)

		before := utils.UTCNow()
		result, err := f.flow.CreatePayment(ctx, &CreatePaymentRequest{
			CustomerUUID: customer.UUID,
			FiatAmount:   100_000,
		})
		require.NoError(t, err)

		// 100,000 fiat at 1,000,000 per coin is 0.1 coin
		assert.Equal(t, "100000000000000000", result.ExpectedAmount)
		assert.NotEmpty(t, result.Address)

		// Window is 24h from creation
		assert.WithinDuration(t, before.Add(24*time.Hour), result.ExpiresAt, 5*time.Second)

		wallet, err := f.wallets.ByUUID(ctx, result.WalletUUID)
		require.NoError(t, err)
		require.NotNil(t, wallet)
		assert.Equal(t, models.WalletStatusPending, wallet.Status)
		assert.Equal(t, customer.ID, wallet.CustomerID)
		assert.NotEmpty(t, wallet.PrivateKey)

		assert.Contains(t, f.audit.Actions(), models.AuditActionPaymentCreated)
	})

	t.Run("each payment gets its own wallet", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)

		first, err := f.flow.CreatePayment(ctx, &CreatePaymentRequest{CustomerUUID: customer.UUID, FiatAmount: 50_000})
		require.NoError(t, err)
		second, err := f.flow.CreatePayment(ctx, &CreatePaymentRequest{CustomerUUID: customer.UUID, FiatAmount: 50_000})
		require.NoError(t, err)

		assert.NotEqual(t, first.Address, second.Address)
		assert.NotEqual(t, first.WalletUUID, second.WalletUUID)
	})

	t.Run("rejects amounts below the minimum", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)

		_, err := f.flow.CreatePayment(ctx, &CreatePaymentRequest{CustomerUUID: customer.UUID, FiatAmount: 5_000})
		assert.True(t, IsAmountTooLow(err))
	})

	t.Run("rejects unknown and inactive customers", func(t *testing.T) {
		f := newFlowFixture(t)

		_, err := f.flow.CreatePayment(ctx, &CreatePaymentRequest{CustomerUUID: uuid.New(), FiatAmount: 100_000})
		assert.True(t, IsCustomerNotFound(err))

		customer := f.seedCustomer(t)
		customer.IsActive = utils.ToPtr(false)
		require.NoError(t, f.customers.Update(ctx, customer))

		_, err = f.flow.CreatePayment(ctx, &CreatePaymentRequest{CustomerUUID: customer.UUID, FiatAmount: 100_000})
		assert.True(t, IsAccountInactive(err))
	})
}

func TestGetPaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("reports the wallet state with its deposits", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		f.seedDeposit(t, wallet.ID, "0xabc", "50000000000000000")

		status, err := f.flow.GetPaymentStatus(ctx, wallet.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPending, status.Status)
		assert.Len(t, status.Deposits, 1)
	})

	t.Run("settles a freshly funded wallet on poll", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x555", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 99, Success: true},
		}

		status, err := f.flow.GetPaymentStatus(ctx, wallet.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, status.Status)
		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))
	})

	t.Run("chain outage degrades to the last-known status", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		f.chain.Err = context.DeadlineExceeded

		status, err := f.flow.GetPaymentStatus(ctx, wallet.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPending, status.Status)
	})

	t.Run("pending wallet past its deadline reads as expired", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)
		wallet.ExpiresAt = utils.UTCNowAdd(-time.Minute)
		require.NoError(t, f.wallets.Update(ctx, wallet))

		status, err := f.flow.GetPaymentStatus(ctx, wallet.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusExpired, status.Status)

		// The projection does not mutate the row; the reaper owns that
		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPending, stored.Status)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		f := newFlowFixture(t)
		_, err := f.flow.GetPaymentStatus(ctx, uuid.New())
		assert.True(t, IsWalletNotFound(err))
	})
}

func TestForceCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("settles a funded wallet on demand", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x777", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 98, Success: true},
		}

		status, err := f.flow.ForceCheck(ctx, wallet.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, status.Status)
		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))
		assert.Contains(t, f.audit.Actions(), models.AuditActionManualCheck)
	})

	t.Run("racing the monitor scan credits once", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x999", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 98, Success: true},
		}

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, 2*workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.engine.ScanWallet(ctx, wallet)
				errs <- err
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.flow.ForceCheck(ctx, wallet.UUID)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}

		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))

		stored, err := f.wallets.ByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WalletStatusPaid, stored.Status)

		row, err := f.ledger.ByTxHash(ctx, "0x999")
		require.NoError(t, err)
		assert.True(t, row.BalanceCredited)
	})

	t.Run("is idempotent for an already settled wallet", func(t *testing.T) {
		f := newFlowFixture(t)
		customer := f.seedCustomer(t)
		wallet := f.seedWallet(t, customer.ID)

		f.chain.Incoming[wallet.Address] = []services.ChainTx{
			{Hash: "0x888", To: wallet.Address, Amount: big.NewInt(100_000_000_000_000_000), BlockNumber: 98, Success: true},
		}

		_, err := f.flow.ForceCheck(ctx, wallet.UUID)
		require.NoError(t, err)
		status, err := f.flow.ForceCheck(ctx, wallet.UUID)
		require.NoError(t, err)

		assert.Equal(t, models.WalletStatusPaid, status.Status)
		assert.Equal(t, uint64(100_000), f.customers.Balance(customer.ID))
	})
}

func TestListCustomerPayments(t *testing.T) {
	ctx := context.Background()

	f := newFlowFixture(t)
	customer := f.seedCustomer(t)
	other := &models.Customer{FullName: "Other", Email: "other@example.com", Currency: utils.TomanCurrency, IsActive: utils.ToPtr(true)}
	require.NoError(t, f.customers.Save(ctx, other))

	f.seedWallet(t, customer.ID)
	w2 := &models.Wallet{
		CustomerID: other.ID, Address: "0xother", PrivateKey: "bb",
		ExpectedAmount: "1", FiatAmount: 1, Status: models.WalletStatusPending,
		ExpiresAt: utils.UTCNowAdd(time.Hour),
	}
	require.NoError(t, f.wallets.Save(ctx, w2))

	wallets, err := f.flow.ListCustomerPayments(ctx, customer.UUID, 10)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, customer.ID, wallets[0].CustomerID)
}

func TestListWalletTransactions(t *testing.T) {
	ctx := context.Background()

	f := newFlowFixture(t)
	customer := f.seedCustomer(t)
	wallet := f.seedWallet(t, customer.ID)
	f.seedDeposit(t, wallet.ID, "0xaaa1", "50000000000000000")
	f.seedDeposit(t, wallet.ID, "0xaaa2", "100000000000000000")

	txs, err := f.flow.ListWalletTransactions(ctx, wallet.UUID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "0xaaa1", txs[0].TxHash)

	_, err = f.flow.ListWalletTransactions(ctx, uuid.New())
	assert.True(t, IsWalletNotFound(err))
}
