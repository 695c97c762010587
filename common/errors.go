package common

import (
	"errors"
	"fmt"

	"github.com/hermeznetwork/tracerr"
)

// ErrNotInFF is used when the *big.Int does not fit inside the Finite Field
var ErrNotInFF = errors.New("BigInt not inside the Finite Field")

// ErrNumOverflow is used when a given value overflows the maximum capacity of the parameter
var ErrNumOverflow = errors.New("Value overflows the type")

// ErrIdxOverflow is used when a given idx overflows the maximum capacity of the AccountIdx (2**24-1)
var ErrIdxOverflow = errors.New("idx overflow, max value: 2**24 -1")

// ErrNonceOverflow is used when a given nonce overflows the maximum capacity of the Nonce (2**40-1)
var ErrNonceOverflow = errors.New("Nonce overflow, max value: 2**40 -1")

// ErrorKind groups the errors returned by the settlement engine
type ErrorKind string

const (
	// KindValidation is used for errors caused by amounts, deposits or
	// account existence
	KindValidation ErrorKind = "validation"
	// KindProtocol is used for errors caused by an offline transaction
	// that breaks the signature, nonce, replay or expiry rules
	KindProtocol ErrorKind = "protocol"
	// KindAuthorization is used for errors caused by a caller that is not
	// allowed to perform the operation
	KindAuthorization ErrorKind = "authorization"
	// KindNotFound is used when the requested account does not exist
	KindNotFound ErrorKind = "notfound"
	// KindInternal is used for any other error
	KindInternal ErrorKind = "internal"
)

// Validation errors
var (
	// ErrInsufficientDeposit is returned when an account is initialized
	// without reaching the minimum deposit in any asset
	ErrInsufficientDeposit = errors.New("INSUFFICIENT_DEPOSIT")
	// ErrAlreadyInitialized is returned when initializing an address that
	// already has an account
	ErrAlreadyInitialized = errors.New("Account already initialized")
	// ErrInsufficientDepositBalance is returned when the deposit is
	// smaller than the amount to withdraw, promote or debit
	ErrInsufficientDepositBalance = errors.New("Insufficient deposit balance")
	// ErrPendingBalanceExists is returned when withdrawing deposit while
	// the spendable balance of the same asset is not zero
	ErrPendingBalanceExists = errors.New("Cannot withdraw deposit with pending balance")
	// ErrTokenNotConfigured is returned by PYUSD operations before the
	// token address has been set
	ErrTokenNotConfigured = errors.New("PYUSD token not set")
	// ErrInsufficientAllowance is returned when the token transferFrom is
	// rejected for lack of allowance
	ErrInsufficientAllowance = errors.New("ERC20: insufficient allowance")
	// ErrInsufficientBalance is returned when the sender of an offline
	// transaction does not hold enough spendable balance
	ErrInsufficientBalance = errors.New("Insufficient balance")
	// ErrInvalidAmount is returned for nil, zero or negative amounts
	ErrInvalidAmount = errors.New("Invalid amount")
	// ErrInvalidTokenType is returned for an unknown TokenType
	ErrInvalidTokenType = errors.New("Invalid token type")
	// ErrEmptyBatch is returned when a batch has no transactions
	ErrEmptyBatch = errors.New("Empty batch")
	// ErrBatchTooLarge is returned when a batch has more than
	// MaxBatchSize transactions
	ErrBatchTooLarge = errors.New("Batch too large")
	// ErrInvalidFunding is returned when the funding transaction of a
	// FLOW deposit did not move the amount from the depositor to the
	// custody address
	ErrInvalidFunding = errors.New("Invalid funding transaction")
	// ErrFundingReused is returned when the funding transaction of a FLOW
	// deposit was already credited
	ErrFundingReused = errors.New("Funding transaction already used")
	// ErrAccountNotFound is returned when the address has no account
	ErrAccountNotFound = errors.New("Account not found")
)

// ErrInsufficientCustody is returned when the node does not hold enough of
// an asset to pay out a withdrawal, which can only happen after an emergency
// withdrawal
var ErrInsufficientCustody = errors.New("Insufficient custody funds")

// Protocol errors
var (
	// ErrInvalidSignature is returned when the recovered signer is not the
	// sender of the transaction
	ErrInvalidSignature = errors.New("Invalid signature")
	// ErrInvalidNonce is returned when the nonce is outside of the
	// admissible window
	ErrInvalidNonce = errors.New("Invalid nonce")
	// ErrReplayedTransaction is returned when the transaction id has
	// already been processed
	ErrReplayedTransaction = errors.New("Transaction already processed")
	// ErrExpiredTransaction is returned when the transaction is older
	// than TransactionTTL
	ErrExpiredTransaction = errors.New("Transaction expired")
	// ErrInvalidTxID is returned when the transaction id does not match
	// the id generated from its fields
	ErrInvalidTxID = errors.New("Invalid transaction id")
)

// Authorization errors
var (
	// ErrNotOwner is returned when an owner operation is called by
	// another address
	ErrNotOwner = errors.New("Ownable: caller is not the owner")
	// ErrAccountInactive is returned when an inactive account sends,
	// receives or submits
	ErrAccountInactive = errors.New("Account not active")
	// ErrNotAccountOwner is returned when an address tries to change the
	// activation of another address
	ErrNotAccountOwner = errors.New("Caller is not the account owner")
)

var errorKinds = map[error]ErrorKind{
	ErrInsufficientDeposit:        KindValidation,
	ErrAlreadyInitialized:         KindValidation,
	ErrInsufficientDepositBalance: KindValidation,
	ErrPendingBalanceExists:       KindValidation,
	ErrTokenNotConfigured:         KindValidation,
	ErrInsufficientAllowance:      KindValidation,
	ErrInsufficientBalance:        KindValidation,
	ErrInvalidAmount:              KindValidation,
	ErrInvalidTokenType:           KindValidation,
	ErrEmptyBatch:                 KindValidation,
	ErrBatchTooLarge:              KindValidation,
	ErrInvalidFunding:             KindValidation,
	ErrFundingReused:              KindValidation,
	ErrAccountNotFound:            KindNotFound,
	ErrInvalidSignature:           KindProtocol,
	ErrInvalidNonce:               KindProtocol,
	ErrReplayedTransaction:        KindProtocol,
	ErrExpiredTransaction:         KindProtocol,
	ErrInvalidTxID:                KindProtocol,
	ErrNotOwner:                   KindAuthorization,
	ErrAccountInactive:            KindAuthorization,
	ErrNotAccountOwner:            KindAuthorization,
}

// Kind returns the ErrorKind of err by looking for a known error in its
// chain.  Unknown errors are KindInternal.
func Kind(err error) ErrorKind {
	for sentinel, kind := range errorKinds {
		if Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// BatchError identifies the first transaction of a batch that made the
// whole batch fail.  Index is -1 when the batch failed before any
// transaction was checked.
type BatchError struct {
	BatchID string
	Index   int
	TxID    TxID
	Err     error
}

// Error implements the error interface
func (e *BatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("batch %q rejected: %v", e.BatchID, e.Err)
	}
	return fmt.Sprintf("batch %q rejected at tx %d (%s): %v", e.BatchID, e.Index, e.TxID, e.Err)
}

// Unwrap returns the cause of the batch failure
func (e *BatchError) Unwrap() error {
	return e.Err
}

// Wrap adds the stack trace to err
func Wrap(err error) error {
	return tracerr.Wrap(err)
}

// Unwrap returns the error without the stack trace
func Unwrap(err error) error {
	return tracerr.Unwrap(err)
}

// Is reports whether target is in the chain of err, looking through the
// stack trace wrappers and the errors that implement Unwrap.
func Is(err, target error) bool {
	for err != nil {
		err = Unwrap(err)
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// AsBatchError returns the BatchError in the chain of err, if any
func AsBatchError(err error) (*BatchError, bool) {
	for err != nil {
		err = Unwrap(err)
		if be, ok := err.(*BatchError); ok {
			return be, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
