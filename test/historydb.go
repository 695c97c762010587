package test

import (
	"math/big"
	"time"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// WARNING: the generators in this file doesn't necessary follow the protocol
// they are intended to check that the parsers between struct <==> DB are correct

// GenTxs generates n offline txs from `from` to `to` with consecutive
// nonces starting at firstNonce.  The signatures are not valid.
func GenTxs(from, to ethCommon.Address, firstNonce common.Nonce, n int, timestamp int64) []common.OfflineTx {
	var txs []common.OfflineTx
	for i := 0; i < n; i++ {
		tx := common.NewOfflineTx(from, to, common.TokenType(i%2), //nolint:gomnd
			big.NewInt(int64(i+1)*1000), firstNonce+common.Nonce(i), timestamp) //nolint:gomnd
		tx.Signature = make([]byte, common.SignatureLen)
		tx.Signature[0] = byte(i)
		txs = append(txs, *tx)
	}
	return txs
}

// GenBatchData generates nBatches settled batches, with batch numbers
// starting at firstBatchNum and txsPerBatch txs each. WARNING: This is
// meant for DB/API testing, and may not be fully consistent with the
// protocol.
func GenBatchData(firstBatchNum common.BatchNum, nBatches, txsPerBatch int,
	submitter, from, to ethCommon.Address) []common.BatchData {
	var batches []common.BatchData
	nonce := common.Nonce(1)
	for i := 0; i < nBatches; i++ {
		txs := GenTxs(from, to, nonce, txsPerBatch, time.Now().Unix())
		for j := range txs {
			txs[j].Status = common.TxStatusSettled
		}
		nonce += common.Nonce(txsPerBatch)
		batches = append(batches, common.BatchData{
			Batch: common.Batch{
				BatchNum:  firstBatchNum + common.BatchNum(i),
				BatchID:   ethCommon.BigToHash(big.NewInt(int64(i))).Hex()[:10],
				Submitter: submitter,
				NumTxs:    txsPerBatch,
				Fee:       common.CalcBatchFee(txsPerBatch),
				FlowUsed:  common.CalcBatchFee(txsPerBatch),
				StateRoot: big.NewInt(int64(i+1) * 5), //nolint:gomnd
				Timestamp: time.Now().UTC().Truncate(time.Second),
			},
			Txs: txs,
		})
	}
	return batches
}
