package historydb

import (
	"math/big"
	"time"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// txWrite is the representation of a common.OfflineTx in the tx table
type txWrite struct {
	TxID            common.TxID       `meddler:"id"`
	BatchNum        *common.BatchNum  `meddler:"batch_num"`
	RejectedBatchID *int              `meddler:"rejected_batch_id"`
	Position        int               `meddler:"position"`
	Status          common.TxStatus   `meddler:"status"`
	FromAddr        ethCommon.Address `meddler:"from_addr"`
	ToAddr          ethCommon.Address `meddler:"to_addr"`
	TokenType       common.TokenType  `meddler:"token_type"`
	Amount          *big.Int          `meddler:"amount,bigint"`
	Nonce           common.Nonce      `meddler:"nonce"`
	Timestamp       int64             `meddler:"timestamp"`
	Signature       []byte            `meddler:"signature"`
}

func newTxWrite(tx *common.OfflineTx, position int, status common.TxStatus) txWrite {
	return txWrite{
		TxID:      tx.ID,
		Position:  position,
		Status:    status,
		FromAddr:  tx.From,
		ToAddr:    tx.To,
		TokenType: tx.TokenType,
		Amount:    tx.Amount,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Signature: tx.Signature,
	}
}

func (tx *txWrite) offlineTx() common.OfflineTx {
	return common.OfflineTx{
		ID:        tx.TxID,
		From:      tx.FromAddr,
		To:        tx.ToAddr,
		Amount:    tx.Amount,
		Timestamp: tx.Timestamp,
		Nonce:     tx.Nonce,
		Signature: tx.Signature,
		Status:    tx.Status,
		TokenType: tx.TokenType,
	}
}

// TxAPI is a row of the history of a transaction id, as exposed by the API.
// A settled tx has BatchNum, a rejected one has RejectedBatchID and Reason.
type TxAPI struct {
	ItemID          uint64            `json:"itemId" meddler:"item_id"`
	TxID            common.TxID       `json:"id" meddler:"id"`
	BatchNum        *common.BatchNum  `json:"batchNum" meddler:"batch_num"`
	RejectedBatchID *int              `json:"rejectedBatchId,omitempty" meddler:"rejected_batch_id"`
	Reason          *string           `json:"reason,omitempty" meddler:"reason"`
	Position        int               `json:"position" meddler:"position"`
	Status          common.TxStatus   `json:"status" meddler:"status"`
	FromAddr        ethCommon.Address `json:"from" meddler:"from_addr"`
	ToAddr          ethCommon.Address `json:"to" meddler:"to_addr"`
	TokenType       common.TokenType  `json:"tokenType" meddler:"token_type"`
	Amount          *big.Int          `json:"amount" meddler:"amount,bigint"`
	Nonce           common.Nonce      `json:"nonce" meddler:"nonce"`
	Timestamp       int64             `json:"timestamp" meddler:"timestamp"`
}

// RejectedBatch is the record of a TxBatch that failed to settle
type RejectedBatch struct {
	ItemID    int               `json:"itemId" meddler:"item_id,pk"`
	BatchID   string            `json:"batchId" meddler:"batch_id"`
	Submitter ethCommon.Address `json:"submitter" meddler:"submitter"`
	NumTxs    int               `json:"numTxs" meddler:"num_txs"`
	Reason    string            `json:"reason" meddler:"reason"`
	Timestamp time.Time         `json:"timestamp" meddler:"timestamp,utctime"`
}

// BatchAPI is a settled batch as exposed by the API
type BatchAPI struct {
	ItemID    uint64            `json:"itemId" meddler:"item_id"`
	BatchNum  common.BatchNum   `json:"batchNum" meddler:"batch_num"`
	BatchID   string            `json:"batchId" meddler:"batch_id"`
	Submitter ethCommon.Address `json:"submitter" meddler:"submitter"`
	NumTxs    int               `json:"numTxs" meddler:"num_txs"`
	Fee       *big.Int          `json:"fee" meddler:"fee,bigint"`
	FlowUsed  *big.Int          `json:"flowUsed" meddler:"flow_used,bigintnull"`
	StateRoot *big.Int          `json:"stateRoot" meddler:"state_root,bigint"`
	Timestamp time.Time         `json:"timestamp" meddler:"timestamp,utctime"`
}

// EventFilter selects the events returned by GetEventsAPI.  Zero values
// do not filter.
type EventFilter struct {
	Address   *ethCommon.Address
	Type      common.EventType
	FromBatch common.BatchNum
	Limit     uint
}
