package businessflow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/sepehrx/simurgh/app/services"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"
	"github.com/sepehrx/simurgh/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// gatewayStatusOK is the success code the card gateway sends on its return leg
const gatewayStatusOK = "OK"

// GatewayReturn is the card gateway's return/IPN payload after checkout
type GatewayReturn struct {
	Reference        string // merchant-side reference, echoed back
	GatewayReference string
	Trace            string
	MaskedPAN        string
	Status           string
	Amount           uint64
	Signature        string // hex HMAC-SHA256 over reference|status|amount
}

// CardPaymentFlow is the alternate top-up path through the card gateway.
// Creation hands the customer off to the gateway; the return leg verifies
// the gateway signature and credits the balance exactly once per request.
type CardPaymentFlow interface {
	CreateRequest(ctx context.Context, customerUUID uuid.UUID, amount uint64) (*models.PaymentRequest, error)
	HandleGatewayReturn(ctx context.Context, ret *GatewayReturn) (*models.PaymentRequest, error)
}

// cardPaymentFlow implements CardPaymentFlow
type cardPaymentFlow struct {
	requestRepo   repository.PaymentRequestRepository
	customerRepo  repository.CustomerRepository
	auditRepo     repository.AuditLogRepository
	notifier      services.NotificationService
	db            *gorm.DB
	logger        *log.Logger
	gatewaySecret []byte
	minAmount     uint64
	requestTTL    time.Duration
}

// NewCardPaymentFlow creates a new card payment flow
func NewCardPaymentFlow(
	requestRepo repository.PaymentRequestRepository,
	customerRepo repository.CustomerRepository,
	auditRepo repository.AuditLogRepository,
	notifier services.NotificationService,
	db *gorm.DB,
	logger *log.Logger,
	gatewaySecret string,
	minAmount uint64,
	requestTTL time.Duration,
) CardPaymentFlow {
	if requestTTL == 0 {
		requestTTL = time.Hour
	}
	return &cardPaymentFlow{
		requestRepo:   requestRepo,
		customerRepo:  customerRepo,
		auditRepo:     auditRepo,
		notifier:      notifier,
		db:            db,
		logger:        logger,
		gatewaySecret: []byte(gatewaySecret),
		minAmount:     minAmount,
		requestTTL:    requestTTL,
	}
}

func (f *cardPaymentFlow) CreateRequest(ctx context.Context, customerUUID uuid.UUID, amount uint64) (*models.PaymentRequest, error) {
	if amount < f.minAmount {
		return nil, NewBusinessErrorf("AMOUNT_TOO_LOW",
			"top-up amount must be at least %d", ErrAmountTooLow, f.minAmount)
	}

	customer, err := f.customerRepo.ByUUID(ctx, customerUUID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "customer not found", ErrCustomerNotFound)
	}
	if !utils.IsTrue(customer.IsActive) {
		return nil, NewBusinessError("ACCOUNT_INACTIVE", "account is inactive", ErrAccountInactive)
	}

	request := &models.PaymentRequest{
		CustomerID: customer.ID,
		Amount:     amount,
		Currency:   customer.Currency,
		Reference:  uuid.NewString(),
		Status:     models.PaymentRequestStatusPending,
		ExpiresAt:  utils.UTCNowAddPtr(f.requestTTL),
	}
	if err := f.requestRepo.Save(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to persist payment request: %w", err)
	}

	f.logger.Printf("card payment request created customer=%d reference=%s amount=%d",
		customer.ID, request.Reference, amount)

	return request, nil
}

func (f *cardPaymentFlow) HandleGatewayReturn(ctx context.Context, ret *GatewayReturn) (*models.PaymentRequest, error) {
	if ret == nil || ret.Reference == "" {
		return nil, NewBusinessError("REQUEST_NOT_FOUND", "payment request not found", ErrPaymentRequestNotFound)
	}

	request, err := f.requestRepo.ByReference(ctx, ret.Reference)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, NewBusinessError("REQUEST_NOT_FOUND", "payment request not found", ErrPaymentRequestNotFound)
	}

	if !f.verifySignature(ret) {
		f.failRequest(ctx, request, "gateway signature mismatch", models.AuditActionGatewayRejected)
		return nil, NewBusinessError("INVALID_SIGNATURE", "gateway signature mismatch", ErrInvalidGatewaySignature)
	}

	if request.IsFinal() {
		return nil, NewBusinessError("ALREADY_PROCESSED", "payment request already processed", ErrPaymentRequestAlreadyProcessed)
	}
	if request.IsExpired() {
		f.failRequest(ctx, request, "payment request expired before gateway return", models.AuditActionPaymentFailed)
		return nil, NewBusinessError("REQUEST_EXPIRED", "payment request expired", ErrPaymentRequestExpired)
	}

	if ret.Status != gatewayStatusOK {
		f.failRequest(ctx, request, fmt.Sprintf("gateway reported status %q", ret.Status), models.AuditActionPaymentFailed)
		return nil, NewBusinessErrorf("PAYMENT_FAILED",
			"gateway reported status %q", nil, ret.Status)
	}

	now := utils.UTCNow()
	err = runInTransaction(ctx, f.db, func(txCtx context.Context) error {
		completed, err := f.requestRepo.MarkCompleted(txCtx, request.ID, now)
		if err != nil {
			return err
		}
		if !completed {
			return NewBusinessError("ALREADY_PROCESSED", "payment request already processed", ErrPaymentRequestAlreadyProcessed)
		}

		ok, err := f.customerRepo.CreditBalance(txCtx, request.CustomerID, request.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return NewBusinessError("CUSTOMER_NOT_FOUND", "customer not found", ErrCustomerNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	request.Status = models.PaymentRequestStatusCompleted
	request.CreditedAt = &now
	request.GatewayReference = ret.GatewayReference
	request.GatewayTrace = ret.Trace
	request.GatewayMaskedPAN = ret.MaskedPAN
	if uerr := f.requestRepo.Update(ctx, request); uerr != nil {
		f.logger.Printf("WARN failed to store gateway echo fields for request %d: %v", request.ID, uerr)
	}

	f.logger.Printf("card payment completed customer=%d reference=%s amount=%d",
		request.CustomerID, request.Reference, request.Amount)

	logAudit(ctx, f.auditRepo, f.logger, utils.ToPtr(request.CustomerID), models.AuditActionGatewayReturn,
		fmt.Sprintf("credited %d via card gateway (reference %s)", request.Amount, request.Reference), true, "")

	if f.notifier != nil {
		if customer, cerr := f.customerRepo.ByID(ctx, request.CustomerID); cerr == nil && customer != nil {
			if nerr := f.notifier.NotifyPaymentCredited(ctx, customer, request.Amount, request.Reference); nerr != nil {
				f.logger.Printf("WARN failed to notify customer %d: %v", customer.ID, nerr)
			}
		}
	}

	return request, nil
}

// ComputeGatewaySignature produces the hex HMAC-SHA256 the gateway signs its
// return leg with, over reference|status|amount.
func ComputeGatewaySignature(secret []byte, reference, status string, amount uint64) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s|%s|%d", reference, status, amount)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *cardPaymentFlow) verifySignature(ret *GatewayReturn) bool {
	expected := ComputeGatewaySignature(f.gatewaySecret, ret.Reference, ret.Status, ret.Amount)
	return hmac.Equal([]byte(expected), []byte(ret.Signature))
}

func (f *cardPaymentFlow) failRequest(ctx context.Context, request *models.PaymentRequest, reason, auditAction string) {
	request.Status = models.PaymentRequestStatusFailed
	request.StatusReason = reason
	if err := f.requestRepo.Update(ctx, request); err != nil {
		f.logger.Printf("WARN failed to mark payment request %d failed: %v", request.ID, err)
	}

	logAudit(ctx, f.auditRepo, f.logger, utils.ToPtr(request.CustomerID), auditAction,
		fmt.Sprintf("payment request %s failed: %s", request.Reference, reason), false, reason)
}
