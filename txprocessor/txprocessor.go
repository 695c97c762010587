/*
Package txprocessor is the module that takes a batch of offline transactions
and settles it, updating the Balances, Deposits and Nonces of the Accounts in
the StateDB.

A batch is settled all or nothing.  ProcessBatch goes through these states:

	          +----------+   fail   +----------+
	batch --> | Precheck | -------> | Rejected |
	          +----+-----+          +----------+
	               |                     ^
	               v                     | fail (any entry)
	          +-------------------+      |
	          | for each entry:   | -----+
	          |   validate, apply |
	          +----+--------------+
	               |
	               v
	          +---------------------------+
	          | debit fee, lastSyncTime,  |
	          | stats, write accounts     |
	          +----+----------------------+
	               |
	               v
	           Committed (by the caller)

  - Precheck: the batch is not empty nor bigger than MaxBatchSize, the
    submitter account exists, is active and its FLOW deposit covers
    CalcBatchFee(len(txs)).  The fee claimed by the submitter is ignored.
  - Each entry, in order, is checked with the txvalidator against the
    running state of the batch: a sender with two entries in the batch
    needs strictly increasing nonces, and the balance received by an
    account in an entry can be spent by a later one.  Sender and receiver
    must be active and the sender must hold the amount.
  - Apply moves the amount between the balances of the asset of the entry,
    sets the nonce of the sender to the nonce of the entry, and adds the id
    to the processed set.

The TxProcessor writes to the StateDB but never commits: the caller makes a
checkpoint when ProcessBatch succeeds, or resets the StateDB to the last
checkpoint when it fails, so that a rejected batch leaves no trace.
*/
package txprocessor

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"offgridpay/common"
	"offgridpay/database/statedb"
	"offgridpay/log"
	"offgridpay/txvalidator"
	"offgridpay/vault"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// TxProcessor represents the TxProcessor object
type TxProcessor struct {
	state     *statedb.StateDB
	validator *txvalidator.Validator
	vault     *vault.Vault
	// updatedAccounts stores the last version of the account when it has
	// been updated by any of the processed transactions of the batch.
	updatedAccounts map[ethCommon.Address]*common.Account
	config          Config
}

// Config contains the TxProcessor configuration parameters
type Config struct {
	// MaxBatchSize is the maximum number of transactions of a batch.  If
	// 0, common.MaxBatchSize is used.
	MaxBatchSize int
}

// ProcessBatchOutput contains the output of the ProcessBatch method
type ProcessBatchOutput struct {
	// Batch is the record of the settled batch.  BatchNum is the one that
	// the next checkpoint of the StateDB will have.
	Batch common.Batch
	// Txs are the transactions of the batch, with status Settled
	Txs []common.OfflineTx
	// UpdatedAccounts returns the current state of each account updated
	// by the batch
	UpdatedAccounts map[ethCommon.Address]*common.Account
}

// NewTxProcessor returns a new TxProcessor with the given *StateDB & Config
func NewTxProcessor(state *statedb.StateDB, validator *txvalidator.Validator, v *vault.Vault,
	config Config) *TxProcessor {
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = common.MaxBatchSize
	}
	return &TxProcessor{
		state:     state,
		validator: validator,
		vault:     v,
		config:    config,
	}
}

func newErrorNotEnoughBalance(tx *common.OfflineTx, balance *big.Int) error {
	return fmt.Errorf("%w: TxID: %s, From: %s, Token: %s, Balance: %s, Amount: %s",
		common.ErrInsufficientBalance, tx.ID, tx.From.Hex(), tx.TokenType, balance, tx.Amount)
}

func rejectBatch(batch *common.TxBatch, err error) error {
	return common.Wrap(&common.BatchError{BatchID: batch.BatchID, Index: -1, Err: err})
}

func rejectTx(batch *common.TxBatch, i int, err error) error {
	return common.Wrap(&common.BatchError{
		BatchID: batch.BatchID,
		Index:   i,
		TxID:    batch.Txs[i].ID,
		Err:     err,
	})
}

// ProcessBatch settles the given batch in the StateDB.  On error, the
// StateDB contains partial writes of the batch and must be reset by the
// caller; the error is a *common.BatchError with the index of the failing
// transaction, or -1 when the batch failed the precheck.
func (txProcessor *TxProcessor) ProcessBatch(batch *common.TxBatch) (*ProcessBatchOutput, error) {
	txProcessor.updatedAccounts = make(map[ethCommon.Address]*common.Account)
	defer func() { txProcessor.updatedAccounts = nil }()

	nTx := len(batch.Txs)
	if nTx == 0 {
		return nil, rejectBatch(batch, common.ErrEmptyBatch)
	}
	if nTx > txProcessor.config.MaxBatchSize {
		return nil, rejectBatch(batch, fmt.Errorf("%w: %d transactions, max %d",
			common.ErrBatchTooLarge, nTx, txProcessor.config.MaxBatchSize))
	}

	fee := common.CalcBatchFee(nTx)
	submitter, err := txProcessor.getAccount(batch.Submitter)
	if err != nil {
		return nil, rejectBatch(batch, err)
	}
	if !submitter.IsActive {
		return nil, rejectBatch(batch, fmt.Errorf("%w: submitter %s",
			common.ErrAccountInactive, batch.Submitter.Hex()))
	}
	if submitter.FlowDeposit.Cmp(fee) < 0 {
		return nil, rejectBatch(batch, fmt.Errorf("%w: submitter FLOW deposit %s, fee %s",
			common.ErrInsufficientDepositBalance, submitter.FlowDeposit, fee))
	}
	if batch.FlowUsed != nil && batch.FlowUsed.Cmp(fee) != 0 {
		log.Debugw("TxProcessor: claimed fee differs from the computed one",
			"batchId", batch.BatchID, "flowUsed", batch.FlowUsed, "fee", fee)
	}

	txs := make([]common.OfflineTx, nTx)
	for i := range batch.Txs {
		tx := batch.Txs[i]
		if err := txProcessor.processTx(&tx); err != nil {
			return nil, rejectTx(batch, i, err)
		}
		tx.Status = common.TxStatusSettled
		txs[i] = tx
	}

	if err := txProcessor.vault.DebitFee(submitter, fee); err != nil {
		return nil, rejectBatch(batch, err)
	}

	now := txProcessor.validator.Now()
	if err := txProcessor.writeAccounts(now); err != nil {
		return nil, common.Wrap(err)
	}

	stats, err := txProcessor.state.GetStats()
	if err != nil {
		return nil, common.Wrap(err)
	}
	stats.TotalTransactions += uint64(nTx)
	if err := txProcessor.state.SetStats(stats); err != nil {
		return nil, common.Wrap(err)
	}

	return &ProcessBatchOutput{
		Batch: common.Batch{
			BatchNum:  txProcessor.state.CurrentBatch() + 1,
			BatchID:   batch.BatchID,
			Submitter: batch.Submitter,
			NumTxs:    nTx,
			Fee:       fee,
			FlowUsed:  batch.FlowUsed,
			StateRoot: txProcessor.state.StateRoot(),
			Timestamp: time.Unix(now, 0).UTC(),
		},
		Txs:             txs,
		UpdatedAccounts: txProcessor.updatedAccounts,
	}, nil
}

// processTx validates the transaction against the running state of the
// batch and applies it
func (txProcessor *TxProcessor) processTx(tx *common.OfflineTx) error {
	if !tx.TokenType.Valid() {
		return common.Wrap(fmt.Errorf("%w: %d", common.ErrInvalidTokenType, tx.TokenType))
	}
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return common.Wrap(fmt.Errorf("%w: %v", common.ErrInvalidAmount, tx.Amount))
	}
	sender, err := txProcessor.getAccount(tx.From)
	if err != nil {
		return common.Wrap(err)
	}
	if err := txProcessor.validator.ValidateTx(tx, sender.Nonce); err != nil {
		return common.Wrap(err)
	}
	if !sender.IsActive {
		return common.Wrap(fmt.Errorf("%w: sender %s", common.ErrAccountInactive, tx.From.Hex()))
	}
	senderBalance := sender.Balance(tx.TokenType)
	if senderBalance.Cmp(tx.Amount) < 0 {
		return common.Wrap(newErrorNotEnoughBalance(tx, senderBalance))
	}
	receiver, err := txProcessor.getAccount(tx.To)
	if err != nil {
		return common.Wrap(err)
	}
	if !receiver.IsActive {
		return common.Wrap(fmt.Errorf("%w: receiver %s", common.ErrAccountInactive, tx.To.Hex()))
	}

	// sender and receiver are the same *Account when tx.From == tx.To
	senderBalance.Sub(senderBalance, tx.Amount)
	receiverBalance := receiver.Balance(tx.TokenType)
	receiverBalance.Add(receiverBalance, tx.Amount)
	sender.Nonce = tx.Nonce

	return common.Wrap(txProcessor.state.MarkProcessed(tx.ID))
}

// getAccount returns the account of addr as updated by the previous
// transactions of the batch
func (txProcessor *TxProcessor) getAccount(addr ethCommon.Address) (*common.Account, error) {
	if account, ok := txProcessor.updatedAccounts[addr]; ok {
		return account, nil
	}
	account, err := txProcessor.state.GetAccount(addr)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: %s", err, addr.Hex()))
	}
	txProcessor.updatedAccounts[addr] = account
	return account, nil
}

// writeAccounts stores every account touched by the batch, in Idx order,
// with their LastSyncTime set to now
func (txProcessor *TxProcessor) writeAccounts(now int64) error {
	accounts := make([]*common.Account, 0, len(txProcessor.updatedAccounts))
	for _, account := range txProcessor.updatedAccounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Idx < accounts[j].Idx })
	for _, account := range accounts {
		account.LastSyncTime = now
		if _, err := txProcessor.state.UpdateAccount(account); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}
