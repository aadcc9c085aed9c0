// Package businessflow contains the core business logic and use cases for payment settlement workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Customer-related errors
	ErrCustomerNotFound = errors.New("customer not found")
	ErrAccountInactive  = errors.New("account is inactive")

	// Payment creation errors
	ErrAmountTooLow      = errors.New("amount is too low")
	ErrKeyGeneration     = errors.New("wallet key generation failed")
	ErrRateUnavailable   = errors.New("exchange rate unavailable")
	ErrChainUnavailable  = errors.New("chain node unavailable")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletNotPending  = errors.New("wallet is not pending")
	ErrWalletUnconfirmed = errors.New("no confirmed deposit for wallet")

	// Settlement errors
	ErrAlreadyCredited         = errors.New("transaction already credited")
	ErrDepositInsufficient     = errors.New("deposit below expected amount")
	ErrInsufficientGasBalance  = errors.New("wallet balance does not cover gas cost")
	ErrUnknownDepositRecipient = errors.New("deposit wallet owner not found")

	// Card gateway errors
	ErrPaymentRequestNotFound         = errors.New("payment request not found")
	ErrPaymentRequestAlreadyProcessed = errors.New("payment request already processed")
	ErrPaymentRequestExpired          = errors.New("payment request expired")
	ErrInvalidGatewaySignature        = errors.New("gateway signature mismatch")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsCustomerNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound)
}

func IsAccountInactive(err error) bool {
	return errors.Is(err, ErrAccountInactive)
}

func IsAmountTooLow(err error) bool {
	return errors.Is(err, ErrAmountTooLow)
}

func IsWalletNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound)
}

func IsWalletNotPending(err error) bool {
	return errors.Is(err, ErrWalletNotPending)
}

func IsAlreadyCredited(err error) bool {
	return errors.Is(err, ErrAlreadyCredited)
}

func IsDepositInsufficient(err error) bool {
	return errors.Is(err, ErrDepositInsufficient)
}

func IsInsufficientGasBalance(err error) bool {
	return errors.Is(err, ErrInsufficientGasBalance)
}

func IsPaymentRequestNotFound(err error) bool {
	return errors.Is(err, ErrPaymentRequestNotFound)
}

func IsPaymentRequestAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrPaymentRequestAlreadyProcessed)
}

func IsPaymentRequestExpired(err error) bool {
	return errors.Is(err, ErrPaymentRequestExpired)
}

func IsInvalidGatewaySignature(err error) bool {
	return errors.Is(err, ErrInvalidGatewaySignature)
}
