/*
Package txselector is responsible to order a pile of offline transactions,
as collected by a submitter, into batches that can be settled one after the
other.  The transactions that can not be settled are discarded, each one
with the reason.

A batch is settled all or nothing, so one bad transaction makes its whole
batch fail.  The selection makes sure that every selected transaction would
pass the checks of the settlement, given the current state and the
transactions selected before it:

- Stateless checks: valid token and amount, valid signature of the sender,
id matching the fields, not expired.
- Not already settled, and no other transaction with the same id selected.
- Sender and receiver accounts exist and are active.
- The nonce is in the window after the nonce of the sender, counting the
transactions of the sender already selected.
- The sender holds the amount, counting what it sent and received in the
transactions already selected.
- The FLOW deposit of the submitter covers the fee of every selected
transaction.

Current implementation:

1. Discard the transactions that fail the stateless checks, the duplicated
ids and the already settled ones.
2. Order the transactions by (nonce, timestamp), so that the transactions
of a sender keep their nonce order.
3. Selection loop: iterate over the sorted transactions and split them in
selected and non selected, applying the selected ones to a copy of the
involved accounts.  Repeat this process with the non selected of each
iteration until one iteration doesn't select any tx, since a tx that
spends what another one receives can become valid in a later iteration.
4. Split the selected transactions, in selection order, into batches of at
most MaxBatchSize transactions.
*/
package txselector

import (
	"fmt"
	"math/big"
	"sort"

	"offgridpay/common"
	"offgridpay/log"
	"offgridpay/metric"
	"offgridpay/txvalidator"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// StateReader gives access to the committed state
type StateReader interface {
	GetAccount(addr ethCommon.Address) (*common.Account, error)
	IsTransactionProcessed(id common.TxID) (bool, error)
}

type processedSet struct {
	state StateReader
}

func (p processedSet) IsProcessed(id common.TxID) (bool, error) {
	return p.state.IsTransactionProcessed(id)
}

// Config contains the TxSelector configuration parameters
type Config struct {
	// MaxBatchSize is the maximum number of transactions of a batch.  If
	// 0, common.MaxBatchSize is used.
	MaxBatchSize int
}

// DiscardedTx is a transaction that was not selected, with the reason
type DiscardedTx struct {
	Tx   common.OfflineTx `json:"transaction"`
	Info string           `json:"info"`
	Code int              `json:"code"`
	Type string           `json:"type"`
	Err  string           `json:"error,omitempty"`
}

// TxSelector implements all the functionalities to select the txs for the
// next batches
type TxSelector struct {
	cfg       Config
	state     StateReader
	validator *txvalidator.Validator
}

// NewTxSelector returns a *TxSelector
func NewTxSelector(cfg Config, state StateReader) *TxSelector {
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = common.MaxBatchSize
	}
	return &TxSelector{
		cfg:       cfg,
		state:     state,
		validator: txvalidator.NewValidator(processedSet{state: state}),
	}
}

// Validator returns the Validator used for the stateless checks
func (txsel *TxSelector) Validator() *txvalidator.Validator {
	return txsel.validator
}

// selection is the running state of a selection
type selection struct {
	state    StateReader
	accounts map[ethCommon.Address]*common.Account
	// feeBudget is the number of txs the submitter can still pay for
	feeBudget int64
}

func (s *selection) getAccount(addr ethCommon.Address) (*common.Account, error) {
	if account, ok := s.accounts[addr]; ok {
		return account, nil
	}
	account, err := s.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	s.accounts[addr] = account
	return account, nil
}

func discard(tx common.OfflineTx, info string, code int, typ string, err error) DiscardedTx {
	d := DiscardedTx{Tx: tx, Info: info, Code: code, Type: typ}
	if err != nil {
		d.Err = common.Unwrap(err).Error()
	}
	return d
}

// SelectBatches orders txs into batches to be submitted by submitter, in
// the returned order.  The transactions that can not be settled are
// returned as discarded.
func (txsel *TxSelector) SelectBatches(submitter ethCommon.Address,
	txs []common.OfflineTx) ([]*common.TxBatch, []DiscardedTx, error) {
	metric.TxSelection.Inc()

	sel := selection{
		state:    txsel.state,
		accounts: make(map[ethCommon.Address]*common.Account),
	}
	submitterAccount, err := sel.getAccount(submitter)
	if err != nil {
		return nil, nil, common.Wrap(fmt.Errorf("submitter %s: %w", submitter.Hex(), err))
	}
	sel.feeBudget = new(big.Int).Div(submitterAccount.FlowDeposit, common.BaseTransactionFee).Int64()

	// 1. stateless checks, duplicates and settled txs
	var discarded []DiscardedTx
	candidates := make([]common.OfflineTx, 0, len(txs))
	seen := make(map[common.TxID]bool, len(txs))
	for _, tx := range txs {
		if seen[tx.ID] {
			discarded = append(discarded, discard(tx, ErrDuplicatedTx, ErrDuplicatedTxCode,
				ErrDuplicatedTxType, nil))
			continue
		}
		seen[tx.ID] = true
		if err := txsel.checkTx(&tx); err != nil {
			discarded = append(discarded, discard(tx, ErrInvalidTx, ErrInvalidTxCode,
				ErrInvalidTxType, err))
			continue
		}
		processed, err := txsel.state.IsTransactionProcessed(tx.ID)
		if err != nil {
			return nil, nil, common.Wrap(err)
		}
		if processed {
			discarded = append(discarded, discard(tx, ErrTxAlreadyProcessed, ErrTxAlreadyProcessedCode,
				ErrTxAlreadyProcessedType, nil))
			continue
		}
		candidates = append(candidates, tx)
	}

	// 2. order by nonce
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Nonce != candidates[j].Nonce {
			return candidates[i].Nonce < candidates[j].Nonce
		}
		return candidates[i].Timestamp < candidates[j].Timestamp
	})

	// 3. selection loop
	var selected []common.OfflineTx
	var lastDiscarded []DiscardedTx
	for len(candidates) > 0 {
		var nonSelected []common.OfflineTx
		lastDiscarded = lastDiscarded[:0]
		for _, tx := range candidates {
			d, ok, err := sel.apply(tx)
			if err != nil {
				return nil, nil, common.Wrap(err)
			}
			if ok {
				selected = append(selected, tx)
			} else {
				nonSelected = append(nonSelected, tx)
				lastDiscarded = append(lastDiscarded, d)
			}
		}
		if len(nonSelected) == len(candidates) {
			break
		}
		candidates = nonSelected
	}
	discarded = append(discarded, lastDiscarded...)

	// 4. split in batches
	var batches []*common.TxBatch
	for i := 0; i < len(selected); i += txsel.cfg.MaxBatchSize {
		end := i + txsel.cfg.MaxBatchSize
		if end > len(selected) {
			end = len(selected)
		}
		batchTxs := selected[i:end:end]
		batches = append(batches, &common.TxBatch{
			Submitter: submitter,
			Txs:       batchTxs,
			Timestamp: txsel.validator.Now(),
			FlowUsed:  common.CalcBatchFee(len(batchTxs)),
		})
	}

	metric.DiscardedTxs.Add(float64(len(discarded)))
	log.Debugw("TxSelector: selection done", "submitter", submitter.Hex(), "txs", len(txs),
		"selected", len(selected), "batches", len(batches), "discarded", len(discarded))
	return batches, discarded, nil
}

// checkTx runs the checks that do not depend on the state
func (txsel *TxSelector) checkTx(tx *common.OfflineTx) error {
	if !tx.TokenType.Valid() {
		return common.Wrap(fmt.Errorf("%w: %d", common.ErrInvalidTokenType, tx.TokenType))
	}
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return common.Wrap(fmt.Errorf("%w: %v", common.ErrInvalidAmount, tx.Amount))
	}
	if err := txsel.validator.ValidateSignature(tx); err != nil {
		return common.Wrap(err)
	}
	if err := txsel.validator.ValidateID(tx); err != nil {
		return common.Wrap(err)
	}
	if txsel.validator.IsExpired(tx.Timestamp) {
		return common.Wrap(fmt.Errorf("%w: timestamp %d", common.ErrExpiredTransaction, tx.Timestamp))
	}
	return nil
}

// apply checks tx against the running state and, if it passes, applies it.
// Returns false and the reason when the tx can not be selected now.
func (s *selection) apply(tx common.OfflineTx) (DiscardedTx, bool, error) {
	sender, err := s.getAccount(tx.From)
	if common.Is(err, common.ErrAccountNotFound) {
		return discard(tx, ErrSenderNotFound, ErrSenderNotFoundCode, ErrSenderNotFoundType, err), false, nil
	} else if err != nil {
		return DiscardedTx{}, false, common.Wrap(err)
	}
	receiver, err := s.getAccount(tx.To)
	if common.Is(err, common.ErrAccountNotFound) {
		return discard(tx, ErrReceiverNotFound, ErrReceiverNotFoundCode, ErrReceiverNotFoundType, err),
			false, nil
	} else if err != nil {
		return DiscardedTx{}, false, common.Wrap(err)
	}
	if !sender.IsActive || !receiver.IsActive {
		return discard(tx, ErrAccountInactive, ErrAccountInactiveCode, ErrAccountInactiveType, nil),
			false, nil
	}
	if !txvalidator.ValidNonce(sender.Nonce, tx.Nonce) {
		return discard(tx, ErrNoncesOutOfWindow, ErrNoncesOutOfWindowCode, ErrNoncesOutOfWindowType,
			fmt.Errorf("%w: nonce %d, account nonce %d", common.ErrInvalidNonce, tx.Nonce, sender.Nonce)),
			false, nil
	}
	senderBalance := sender.Balance(tx.TokenType)
	if senderBalance.Cmp(tx.Amount) < 0 {
		return discard(tx, ErrSenderNotEnoughBalance, ErrSenderNotEnoughBalanceCode,
			ErrSenderNotEnoughBalanceType, fmt.Errorf("%w: balance %s, amount %s",
				common.ErrInsufficientBalance, senderBalance, tx.Amount)), false, nil
	}
	if s.feeBudget <= 0 {
		return discard(tx, ErrFeeNotCovered, ErrFeeNotCoveredCode, ErrFeeNotCoveredType, nil), false, nil
	}

	senderBalance.Sub(senderBalance, tx.Amount)
	receiverBalance := receiver.Balance(tx.TokenType)
	receiverBalance.Add(receiverBalance, tx.Amount)
	sender.Nonce = tx.Nonce
	s.feeBudget--
	return DiscardedTx{}, true, nil
}
