package testing

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/utils"

	"github.com/google/uuid"
)

// In-memory repository fakes. They mirror the guarded-update semantics of the
// real repositories (compare-and-set transitions under a single mutex) so
// concurrency properties can be tested without a database.

// InMemoryCustomerRepo is an in-memory CustomerRepository
type InMemoryCustomerRepo struct {
	mu        sync.Mutex
	customers map[uint]*models.Customer
	nextID    uint
}

func NewInMemoryCustomerRepo() *InMemoryCustomerRepo {
	return &InMemoryCustomerRepo{customers: make(map[uint]*models.Customer), nextID: 1}
}

func (r *InMemoryCustomerRepo) Save(ctx context.Context, c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == 0 {
		c.ID = r.nextID
		r.nextID++
	}
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	copied := *c
	r.customers[c.ID] = &copied
	return nil
}

func (r *InMemoryCustomerRepo) Update(ctx context.Context, c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.customers[c.ID]; !ok {
		return fmt.Errorf("customer %d not found", c.ID)
	}
	copied := *c
	r.customers[c.ID] = &copied
	return nil
}

func (r *InMemoryCustomerRepo) ByID(ctx context.Context, id uint) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *InMemoryCustomerRepo) ByUUID(ctx context.Context, customerUUID uuid.UUID) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.UUID == customerUUID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryCustomerRepo) ByEmail(ctx context.Context, email string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.Email == email {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryCustomerRepo) ByChatID(ctx context.Context, chatID int64) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.ChatID != nil && *c.ChatID == chatID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryCustomerRepo) CreditBalance(ctx context.Context, customerID uint, amount uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[customerID]
	if !ok {
		return false, nil
	}
	c.Balance += amount
	return true, nil
}

// Balance reads the current balance, for assertions
func (r *InMemoryCustomerRepo) Balance(customerID uint) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[customerID]; ok {
		return c.Balance
	}
	return 0
}

// InMemoryWalletRepo is an in-memory WalletRepository
type InMemoryWalletRepo struct {
	mu      sync.Mutex
	wallets map[uint]*models.Wallet
	nextID  uint
}

func NewInMemoryWalletRepo() *InMemoryWalletRepo {
	return &InMemoryWalletRepo{wallets: make(map[uint]*models.Wallet), nextID: 1}
}

func (r *InMemoryWalletRepo) Save(ctx context.Context, w *models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == 0 {
		w.ID = r.nextID
		r.nextID++
	}
	if w.UUID == uuid.Nil {
		w.UUID = uuid.New()
	}
	if w.CorrelationID == uuid.Nil {
		w.CorrelationID = uuid.New()
	}
	copied := *w
	r.wallets[w.ID] = &copied
	return nil
}

func (r *InMemoryWalletRepo) Update(ctx context.Context, w *models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[w.ID]; !ok {
		return fmt.Errorf("wallet %d not found", w.ID)
	}
	copied := *w
	r.wallets[w.ID] = &copied
	return nil
}

func (r *InMemoryWalletRepo) ByID(ctx context.Context, id uint) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, nil
	}
	copied := *w
	return &copied, nil
}

func (r *InMemoryWalletRepo) ByUUID(ctx context.Context, walletUUID uuid.UUID) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.UUID == walletUUID {
			copied := *w
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryWalletRepo) ByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.Address == address {
			copied := *w
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryWalletRepo) ByFilter(ctx context.Context, filter *models.WalletFilter, limit int) ([]*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Wallet
	for _, w := range r.sortedLocked() {
		if filter != nil {
			if filter.CustomerID != nil && w.CustomerID != *filter.CustomerID {
				continue
			}
			if filter.Status != nil && w.Status != *filter.Status {
				continue
			}
			if filter.Swept != nil && w.Swept != *filter.Swept {
				continue
			}
			if filter.Address != nil && w.Address != *filter.Address {
				continue
			}
			if filter.ExpiresBefore != nil && w.ExpiresAt.After(*filter.ExpiresBefore) {
				continue
			}
			if filter.ExpiresAfter != nil && w.ExpiresAt.Before(*filter.ExpiresAfter) {
				continue
			}
		}
		copied := *w
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *InMemoryWalletRepo) ListPending(ctx context.Context) ([]*models.Wallet, error) {
	return r.ByFilter(ctx, &models.WalletFilter{Status: utils.ToPtr(models.WalletStatusPending)}, 0)
}

func (r *InMemoryWalletRepo) ListPaidUnswept(ctx context.Context) ([]*models.Wallet, error) {
	return r.ByFilter(ctx, &models.WalletFilter{
		Status: utils.ToPtr(models.WalletStatusPaid),
		Swept:  utils.ToPtr(false),
	}, 0)
}

func (r *InMemoryWalletRepo) MarkPaid(ctx context.Context, walletID uint, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok || w.Status != models.WalletStatusPending {
		return false, nil
	}
	w.Status = models.WalletStatusPaid
	w.PaidAt = &paidAt
	return true, nil
}

func (r *InMemoryWalletRepo) MarkSwept(ctx context.Context, walletID uint, sweptAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok || w.Status != models.WalletStatusPaid || w.Swept {
		return false, nil
	}
	w.Status = models.WalletStatusSwept
	w.Swept = true
	w.SweptAt = &sweptAt
	return true, nil
}

func (r *InMemoryWalletRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, w := range r.wallets {
		if w.Status == models.WalletStatusPending && !w.ExpiresAt.After(now) {
			w.Status = models.WalletStatusExpired
			w.StatusReason = "payment window elapsed"
			n++
		}
	}
	return n, nil
}

func (r *InMemoryWalletRepo) sortedLocked() []*models.Wallet {
	out := make([]*models.Wallet, 0, len(r.wallets))
	for _, w := range r.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InMemoryLedgerRepo is an in-memory LedgerTransactionRepository
type InMemoryLedgerRepo struct {
	mu     sync.Mutex
	txs    map[string]*models.LedgerTransaction // keyed by hash
	nextID uint
}

func NewInMemoryLedgerRepo() *InMemoryLedgerRepo {
	return &InMemoryLedgerRepo{txs: make(map[string]*models.LedgerTransaction), nextID: 1}
}

func (r *InMemoryLedgerRepo) Save(ctx context.Context, tx *models.LedgerTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.txs[tx.TxHash]; exists {
		return fmt.Errorf("duplicate tx hash %s", tx.TxHash)
	}
	if tx.ID == 0 {
		tx.ID = r.nextID
		r.nextID++
	}
	if tx.UUID == uuid.Nil {
		tx.UUID = uuid.New()
	}
	copied := *tx
	r.txs[tx.TxHash] = &copied
	return nil
}

func (r *InMemoryLedgerRepo) Update(ctx context.Context, tx *models.LedgerTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.TxHash]; !ok {
		return fmt.Errorf("tx %s not found", tx.TxHash)
	}
	copied := *tx
	r.txs[tx.TxHash] = &copied
	return nil
}

func (r *InMemoryLedgerRepo) ByID(ctx context.Context, id uint) (*models.LedgerTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ID == id {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryLedgerRepo) ByTxHash(ctx context.Context, txHash string) (*models.LedgerTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[txHash]
	if !ok {
		return nil, nil
	}
	copied := *tx
	return &copied, nil
}

func (r *InMemoryLedgerRepo) ByFilter(ctx context.Context, filter *models.LedgerTransactionFilter, limit int) ([]*models.LedgerTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.LedgerTransaction
	for _, tx := range r.sortedLocked() {
		if filter != nil {
			if filter.WalletID != nil && (tx.WalletID == nil || *tx.WalletID != *filter.WalletID) {
				continue
			}
			if filter.TxHash != nil && tx.TxHash != *filter.TxHash {
				continue
			}
			if filter.Type != nil && tx.Type != *filter.Type {
				continue
			}
			if filter.Status != nil && tx.Status != *filter.Status {
				continue
			}
			if filter.BalanceCredited != nil && tx.BalanceCredited != *filter.BalanceCredited {
				continue
			}
		}
		copied := *tx
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *InMemoryLedgerRepo) ListByWallet(ctx context.Context, walletID uint) ([]*models.LedgerTransaction, error) {
	return r.ByFilter(ctx, &models.LedgerTransactionFilter{WalletID: utils.ToPtr(walletID)}, 0)
}

func (r *InMemoryLedgerRepo) UpdateStatus(ctx context.Context, txHash string, status models.LedgerTransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[txHash]
	if !ok {
		return fmt.Errorf("tx %s not found", txHash)
	}
	tx.Status = status
	return nil
}

func (r *InMemoryLedgerRepo) MarkCredited(ctx context.Context, txHash string, creditedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[txHash]
	if !ok || tx.BalanceCredited {
		return false, nil
	}
	tx.BalanceCredited = true
	tx.CreditedAt = &creditedAt
	return true, nil
}

func (r *InMemoryLedgerRepo) sortedLocked() []*models.LedgerTransaction {
	out := make([]*models.LedgerTransaction, 0, len(r.txs))
	for _, tx := range r.txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InMemoryPaymentRequestRepo is an in-memory PaymentRequestRepository
type InMemoryPaymentRequestRepo struct {
	mu       sync.Mutex
	requests map[uint]*models.PaymentRequest
	nextID   uint
}

func NewInMemoryPaymentRequestRepo() *InMemoryPaymentRequestRepo {
	return &InMemoryPaymentRequestRepo{requests: make(map[uint]*models.PaymentRequest), nextID: 1}
}

func (r *InMemoryPaymentRequestRepo) Save(ctx context.Context, pr *models.PaymentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pr.ID == 0 {
		pr.ID = r.nextID
		r.nextID++
	}
	if pr.UUID == uuid.Nil {
		pr.UUID = uuid.New()
	}
	copied := *pr
	r.requests[pr.ID] = &copied
	return nil
}

func (r *InMemoryPaymentRequestRepo) Update(ctx context.Context, pr *models.PaymentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.requests[pr.ID]
	if !ok {
		return fmt.Errorf("payment request %d not found", pr.ID)
	}
	// The completed status is owned by MarkCompleted; a plain update must not
	// resurrect or downgrade it.
	copied := *pr
	if existing.Status == models.PaymentRequestStatusCompleted {
		copied.Status = existing.Status
		copied.CreditedAt = existing.CreditedAt
	}
	r.requests[pr.ID] = &copied
	return nil
}

func (r *InMemoryPaymentRequestRepo) ByID(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	copied := *pr
	return &copied, nil
}

func (r *InMemoryPaymentRequestRepo) ByUUID(ctx context.Context, requestUUID uuid.UUID) (*models.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pr := range r.requests {
		if pr.UUID == requestUUID {
			copied := *pr
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryPaymentRequestRepo) ByReference(ctx context.Context, reference string) (*models.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pr := range r.requests {
		if pr.Reference == reference {
			copied := *pr
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryPaymentRequestRepo) MarkCompleted(ctx context.Context, requestID uint, creditedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.requests[requestID]
	if !ok || pr.Status != models.PaymentRequestStatusPending {
		return false, nil
	}
	pr.Status = models.PaymentRequestStatusCompleted
	pr.CreditedAt = &creditedAt
	return true, nil
}

// InMemoryAuditRepo is an in-memory AuditLogRepository
type InMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func NewInMemoryAuditRepo() *InMemoryAuditRepo {
	return &InMemoryAuditRepo{}
}

func (r *InMemoryAuditRepo) Save(ctx context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uint(len(r.entries) + 1)
	copied := *entry
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *InMemoryAuditRepo) ByFilter(ctx context.Context, filter *models.AuditLogFilter, limit int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditLog
	for _, e := range r.entries {
		if filter != nil {
			if filter.Action != nil && e.Action != *filter.Action {
				continue
			}
			if filter.CustomerID != nil && (e.CustomerID == nil || *e.CustomerID != *filter.CustomerID) {
				continue
			}
			if filter.Success != nil && (e.Success == nil || *e.Success != *filter.Success) {
				continue
			}
		}
		copied := *e
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Actions lists recorded audit actions in order, for assertions
func (r *InMemoryAuditRepo) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

// FakeChainClient is a scriptable services.ChainClient
type FakeChainClient struct {
	mu sync.Mutex

	Head     uint64
	Balances map[string]*big.Int
	// Incoming maps address -> transfers returned by ScanIncoming
	Incoming map[string][]services.ChainTx
	Txs      map[string]*services.ChainTx
	GasCost  *big.Int

	// Err, when set, fails every call
	Err error

	// SubmittedTransfers records SubmitTransfer calls
	SubmittedTransfers []FakeTransfer
	// FailSubmit makes SubmitTransfer return an error
	FailSubmit bool
}

// FakeTransfer is a recorded SubmitTransfer call
type FakeTransfer struct {
	To     string
	Amount *big.Int
}

func NewFakeChainClient() *FakeChainClient {
	return &FakeChainClient{
		Head:     100,
		Balances: make(map[string]*big.Int),
		Incoming: make(map[string][]services.ChainTx),
		Txs:      make(map[string]*services.ChainTx),
		GasCost:  big.NewInt(21000_000_000_000), // 21000 gas at 1 gwei
	}
}

// GetBalance returns the scripted balance, falling back to the sum of
// successful incoming transfers when no balance was set explicitly.
func (c *FakeChainClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if b, ok := c.Balances[address]; ok {
		return new(big.Int).Set(b), nil
	}

	total := big.NewInt(0)
	for _, tx := range c.Incoming[address] {
		if tx.Success {
			total.Add(total, tx.Amount)
		}
	}
	return total, nil
}

func (c *FakeChainClient) CurrentBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	return c.Head, nil
}

func (c *FakeChainClient) ScanIncoming(ctx context.Context, address string, fromBlock, toBlock uint64) ([]services.ChainTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	var out []services.ChainTx
	for _, tx := range c.Incoming[address] {
		if tx.BlockNumber >= fromBlock && tx.BlockNumber <= toBlock {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (c *FakeChainClient) TransactionByHash(ctx context.Context, hash string) (*services.ChainTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if tx, ok := c.Txs[hash]; ok {
		copied := *tx
		return &copied, nil
	}
	return nil, nil
}

func (c *FakeChainClient) EstimateSweepGas(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return new(big.Int).Set(c.GasCost), nil
}

func (c *FakeChainClient) SubmitTransfer(ctx context.Context, privateKeyHex, to string, amount *big.Int) (*services.ChainTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if c.FailSubmit {
		return nil, fmt.Errorf("broadcast rejected")
	}

	c.SubmittedTransfers = append(c.SubmittedTransfers, FakeTransfer{To: to, Amount: new(big.Int).Set(amount)})
	return &services.ChainTx{
		Hash:        fmt.Sprintf("0xsweep%d", len(c.SubmittedTransfers)),
		To:          to,
		Amount:      new(big.Int).Set(amount),
		GasUsed:     21000,
		BlockNumber: c.Head,
		Success:     true,
	}, nil
}

// FakeNotifier records notifications instead of delivering them
type FakeNotifier struct {
	mu        sync.Mutex
	Credited  []string // tx hashes
	Expired   []uint   // wallet IDs
	OpsAlerts []string // subjects
}

func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{}
}

func (n *FakeNotifier) NotifyPaymentCredited(ctx context.Context, customer *models.Customer, creditedAmount uint64, txHash string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Credited = append(n.Credited, txHash)
	return nil
}

func (n *FakeNotifier) NotifyPaymentExpired(ctx context.Context, customer *models.Customer, wallet *models.Wallet) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Expired = append(n.Expired, wallet.ID)
	return nil
}

func (n *FakeNotifier) AlertOps(ctx context.Context, subject, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.OpsAlerts = append(n.OpsAlerts, subject)
	return nil
}
