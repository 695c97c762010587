package common

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const batchNumBytesLen = 8

// BatchNum is the sequence number of a commit of the ledger state.  Every
// successful mutation (account initialization, deposit operation, admin
// operation or settled batch) is committed under the next BatchNum.
type BatchNum int64

// Bytes returns a byte array of length 8 representing the BatchNum
func (bn BatchNum) Bytes() []byte {
	var batchNumBytes [batchNumBytesLen]byte
	binary.BigEndian.PutUint64(batchNumBytes[:], uint64(bn))
	return batchNumBytes[:]
}

// BatchNumFromBytes returns BatchNum from a []byte
func BatchNumFromBytes(b []byte) (BatchNum, error) {
	if len(b) != batchNumBytesLen {
		return 0,
			Wrap(fmt.Errorf("can not parse BatchNumFromBytes, bytes len %d, expected %d",
				len(b), batchNumBytesLen))
	}
	batchNum := binary.BigEndian.Uint64(b[:batchNumBytesLen])
	return BatchNum(batchNum), nil
}

// BigInt returns a *big.Int representing the BatchNum
func (bn BatchNum) BigInt() *big.Int {
	return big.NewInt(int64(bn))
}

// TxBatch is a set of offline transactions submitted together.  They are
// settled in the listed order, all of them or none.
type TxBatch struct {
	// BatchID is chosen by the submitter, used for logs only
	BatchID   string            `json:"batchId"`
	Submitter ethCommon.Address `json:"submitter"`
	Txs       []OfflineTx       `json:"transactions"`
	Timestamp int64             `json:"timestamp"`
	// FlowUsed is the fee claimed by the submitter.  It is informational,
	// the charged fee is always CalcBatchFee(len(Txs)).
	FlowUsed *big.Int `json:"flowUsed"`
}

// Batch is the record of a settled TxBatch stored in the commit log
type Batch struct {
	BatchNum  BatchNum          `meddler:"batch_num"`
	BatchID   string            `meddler:"batch_id"`
	Submitter ethCommon.Address `meddler:"submitter"`
	NumTxs    int               `meddler:"num_txs"`
	Fee       *big.Int          `meddler:"fee,bigint"`
	FlowUsed  *big.Int          `meddler:"flow_used,bigintnull"`
	StateRoot *big.Int          `meddler:"state_root,bigint"`
	Timestamp time.Time         `meddler:"timestamp,utctime"`
}

// BatchData contains the information of a settled batch: the batch record
// and its transactions with their final status
type BatchData struct {
	Batch Batch
	Txs   []OfflineTx
}

// Stats are the process wide counters of the settlement node
type Stats struct {
	TotalUsers          uint64   `json:"totalUsers"`
	TotalTransactions   uint64   `json:"totalTransactions"`
	TotalFlowDeposited  *big.Int `json:"totalFlowDeposited"`
	TotalPyusdDeposited *big.Int `json:"totalPyusdDeposited"`
}

// NewStats returns Stats with all the counters at zero
func NewStats() *Stats {
	return &Stats{
		TotalFlowDeposited:  big.NewInt(0),
		TotalPyusdDeposited: big.NewInt(0),
	}
}

// TotalDeposited returns the counter of the given asset.  The returned
// *big.Int is the field of Stats, so it can be mutated in place.
func (s *Stats) TotalDeposited(t TokenType) *big.Int {
	if t == TokenPYUSD {
		return s.TotalPyusdDeposited
	}
	return s.TotalFlowDeposited
}
