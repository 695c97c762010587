/*
Package txvalidator contains the checks that an offline transaction must pass
before it can be settled.  The checks do not write to the StateDB: the
replay check only reads the processed set, and the nonce check compares
against the nonce given by the caller, which is the running nonce of the
sender inside the batch being processed.

The checks, in the order applied by ValidateTx:
  - the signature recovers to the sender (ValidateSignature)
  - the id is the one generated from the fields (ValidateID)
  - the nonce is inside the window (current, current+MaxNonceSkip]
  - the transaction is not older than TransactionTTL
  - the id is not in the processed set (PreventReplay)
*/
package txvalidator

import (
	"fmt"
	"time"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// ProcessedSet is the set of the ids of the settled transactions.
// *statedb.StateDB implements it.
type ProcessedSet interface {
	IsProcessed(id common.TxID) (bool, error)
}

// Validator runs the checks of an offline transaction
type Validator struct {
	processed ProcessedSet
	now       func() time.Time
}

// NewValidator returns a Validator that looks for replays in processed and
// uses the system clock for the expiry check
func NewValidator(processed ProcessedSet) *Validator {
	return &Validator{
		processed: processed,
		now:       time.Now,
	}
}

// SetClock replaces the clock used by IsExpired
func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// Now returns the current time of the Validator clock in seconds
func (v *Validator) Now() int64 {
	return v.now().Unix()
}

// GenerateID returns the id of the transaction with the given fields
func GenerateID(from, to ethCommon.Address, nonce common.Nonce, timestamp int64) common.TxID {
	return common.GenerateTxID(from, to, nonce, timestamp)
}

// ValidateSignature returns common.ErrInvalidSignature unless the
// signature of tx was made by tx.From over the canonical message
func (v *Validator) ValidateSignature(tx *common.OfflineTx) error {
	signer, err := tx.Signer()
	if err != nil {
		if common.Is(err, common.ErrInvalidSignature) {
			return common.Wrap(err)
		}
		return common.Wrap(fmt.Errorf("%w: %v", common.ErrInvalidSignature, err))
	}
	if signer != tx.From {
		return common.Wrap(fmt.Errorf("%w: signer %s, from %s",
			common.ErrInvalidSignature, signer.Hex(), tx.From.Hex()))
	}
	return nil
}

// ValidateID returns common.ErrInvalidTxID if tx.ID is not the id generated
// from the fields of tx.  The comparison is exact: an id with checksummed or
// 0x prefixed addresses, or with another separator, is rejected.
func (v *Validator) ValidateID(tx *common.OfflineTx) error {
	expected := GenerateID(tx.From, tx.To, tx.Nonce, tx.Timestamp)
	if tx.ID != expected {
		return common.Wrap(fmt.Errorf("%w: %q, expected %q", common.ErrInvalidTxID, tx.ID, expected))
	}
	return nil
}

// ValidNonce returns true if nonce is inside the window
// (current, current+MaxNonceSkip]
func ValidNonce(current, nonce common.Nonce) bool {
	return nonce > current && nonce-current <= common.MaxNonceSkip
}

// ValidateNonce returns common.ErrInvalidNonce if nonce is not valid for
// an account with the current nonce
func (v *Validator) ValidateNonce(current, nonce common.Nonce) error {
	if !ValidNonce(current, nonce) {
		return common.Wrap(fmt.Errorf("%w: nonce %d, current %d, max skip %d",
			common.ErrInvalidNonce, nonce, current, common.MaxNonceSkip))
	}
	return nil
}

// PreventReplay returns true if the id has not been processed yet
func (v *Validator) PreventReplay(id common.TxID) (bool, error) {
	processed, err := v.processed.IsProcessed(id)
	if err != nil {
		return false, common.Wrap(err)
	}
	return !processed, nil
}

// IsExpired returns true if more than TransactionTTL seconds have passed
// since timestamp
func (v *Validator) IsExpired(timestamp int64) bool {
	return v.Now()-timestamp > common.TransactionTTL
}

// ValidateTx runs all the checks of tx for a sender with the given current
// nonce, returning the error of the first one that fails
func (v *Validator) ValidateTx(tx *common.OfflineTx, currentNonce common.Nonce) error {
	if err := v.ValidateSignature(tx); err != nil {
		return common.Wrap(err)
	}
	if err := v.ValidateID(tx); err != nil {
		return common.Wrap(err)
	}
	if err := v.ValidateNonce(currentNonce, tx.Nonce); err != nil {
		return common.Wrap(err)
	}
	if v.IsExpired(tx.Timestamp) {
		return common.Wrap(fmt.Errorf("%w: timestamp %d, now %d",
			common.ErrExpiredTransaction, tx.Timestamp, v.Now()))
	}
	fresh, err := v.PreventReplay(tx.ID)
	if err != nil {
		return common.Wrap(err)
	}
	if !fresh {
		return common.Wrap(fmt.Errorf("%w: %s", common.ErrReplayedTransaction, tx.ID))
	}
	return nil
}
