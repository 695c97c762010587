package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path"
	"time"

	"offgridpay/common"
	"offgridpay/log"
	"offgridpay/metric"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// Status is used to mark the status of the batch
type Status string

const (
	// StatusPending marks the batch as being processed
	StatusPending Status = "pending"
	// StatusSettled marks the batch as committed
	StatusSettled Status = "settled"
	// StatusRejected marks the batch as rejected
	StatusRejected Status = "rejected"
)

// Debug information related to the Batch
type Debug struct {
	// StartTimestamp of is the time the batch was received
	StartTimestamp time.Time
	// EndTimestamp is the time the batch was settled or rejected
	EndTimestamp time.Time
	// Status of the Batch
	Status Status
	// Duration of the processing of the batch, in seconds, including the
	// wait for the writer lock
	Duration float64
	// FailedIndex is the index of the transaction that made the batch
	// fail, or -1
	FailedIndex int
}

// BatchInfo contans the Batch information
type BatchInfo struct {
	BatchNum  common.BatchNum
	BatchID   string
	Submitter ethCommon.Address
	Txs       []common.OfflineTx
	Fee       *big.Int
	FlowUsed  *big.Int
	StateRoot *big.Int
	Err       string `json:",omitempty"`
	Debug     Debug
}

// DebugStore is a debug function to store the BatchInfo as a json text file
// in storePath
func (b *BatchInfo) DebugStore(storePath string) error {
	batchJSON, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return common.Wrap(err)
	}
	filename := fmt.Sprintf("%08d-%v-%v.json", b.BatchNum, b.Debug.StartTimestamp.UnixNano(), b.Debug.Status)
	// nolint reason: 0640 allows rw to owner and r to group
	//nolint:gosec
	return common.Wrap(os.WriteFile(path.Join(storePath, filename), batchJSON, 0640))
}

func rejectedTxs(txs []common.OfflineTx) []common.OfflineTx {
	rejected := make([]common.OfflineTx, len(txs))
	copy(rejected, txs)
	for i := range rejected {
		rejected[i].Status = common.TxStatusRejected
	}
	return rejected
}

// SubmitBatch settles the batch, all of its transactions or none.  On
// success the batch is committed and returned with its BatchNum.  On error
// nothing is committed, and the error identifies the first failing
// transaction (see common.AsBatchError).
func (c *Coordinator) SubmitBatch(ctx context.Context, batch *common.TxBatch) (*common.BatchData, error) {
	start := time.Now()
	info := BatchInfo{
		BatchID:   batch.BatchID,
		Submitter: batch.Submitter,
		Txs:       batch.Txs,
		FlowUsed:  batch.FlowUsed,
		Debug: Debug{
			StartTimestamp: start,
			Status:         StatusPending,
			FailedIndex:    -1,
		},
	}

	var batchData *common.BatchData
	_, err := c.mutate("submitBatch", func(batchNum common.BatchNum) (*notification, error) {
		if err := ctx.Err(); err != nil {
			return nil, common.Wrap(err)
		}
		info.BatchNum = batchNum
		out, err := c.txProcessor.ProcessBatch(batch)
		if err != nil {
			rejected := *batch
			rejected.Txs = rejectedTxs(batch.Txs)
			return &notification{rejected: &rejected, reason: common.Unwrap(err).Error()}, err
		}
		batchData = &common.BatchData{Batch: out.Batch, Txs: out.Txs}
		e := c.newEvent(common.EventBatchSettled, batchNum, batch.Submitter)
		e.BatchID = batch.BatchID
		e.Amount = new(big.Int).Set(out.Batch.Fee)
		return &notification{batch: batchData, events: []common.Event{e}}, nil
	})

	info.Debug.EndTimestamp = time.Now()
	info.Debug.Duration = info.Debug.EndTimestamp.Sub(start).Seconds()
	if err != nil {
		info.Debug.Status = StatusRejected
		info.Err = err.Error()
		if be, ok := common.AsBatchError(err); ok {
			info.Debug.FailedIndex = be.Index
		}
		metric.RejectedBatches.WithLabelValues(string(common.Kind(err))).Inc()
		metric.MeasureDuration(metric.ProcessBatch, start, string(StatusRejected))
		log.Infow("Coordinator: batch rejected", "batchId", batch.BatchID,
			"submitter", batch.Submitter.Hex(), "err", err)
	} else {
		info.Debug.Status = StatusSettled
		info.Txs = batchData.Txs
		info.Fee = batchData.Batch.Fee
		info.StateRoot = batchData.Batch.StateRoot
		metric.SettledBatches.Inc()
		metric.MeasureDuration(metric.ProcessBatch, start, string(StatusSettled))
		log.Infow("Coordinator: batch settled", "batchNum", batchData.Batch.BatchNum,
			"batchId", batch.BatchID, "submitter", batch.Submitter.Hex(),
			"txs", len(batchData.Txs), "fee", batchData.Batch.Fee)
	}
	if c.cfg.DebugBatchPath != "" {
		if err := info.DebugStore(c.cfg.DebugBatchPath); err != nil {
			log.Warnw("BatchInfo.DebugStore", "err", err)
		}
	}
	if err != nil {
		return nil, err
	}
	return batchData, nil
}
