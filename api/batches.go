package api

import (
	"database/sql"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"offgridpay/common"
	"offgridpay/txselector"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// settledBatchAPI is the result of a settled batch
type settledBatchAPI struct {
	BatchNum  common.BatchNum `json:"batchNum"`
	BatchID   string          `json:"batchId"`
	NumTxs    int             `json:"numTxs"`
	Fee       string          `json:"fee"`
	StateRoot string          `json:"stateRoot"`
	TxIDs     []common.TxID   `json:"transactionIds"`
}

func newSettledBatchAPI(batchData *common.BatchData) *settledBatchAPI {
	ids := make([]common.TxID, len(batchData.Txs))
	for i := range batchData.Txs {
		ids[i] = batchData.Txs[i].ID
	}
	return &settledBatchAPI{
		BatchNum:  batchData.Batch.BatchNum,
		BatchID:   batchData.Batch.BatchID,
		NumTxs:    batchData.Batch.NumTxs,
		Fee:       batchData.Batch.Fee.String(),
		StateRoot: batchData.Batch.StateRoot.String(),
		TxIDs:     ids,
	}
}

type postBatchRequest struct {
	BatchID      string         `json:"batchId"`
	Transactions []offlineTxAPI `json:"transactions" validate:"required,dive"`
	// FlowUsed is the fee claimed by the submitter, informational
	FlowUsed  string `json:"flowUsed"`
	Timestamp int64  `json:"timestamp" validate:"required"`
}

// newTxBatch returns the batch of txs submitted by submitter
func (a *API) newTxBatch(batchID string, submitter ethCommon.Address, txs []common.OfflineTx,
	flowUsed *big.Int) *common.TxBatch {
	if batchID == "" {
		batchID = uuid.New().String()
	}
	return &common.TxBatch{
		BatchID:   batchID,
		Submitter: submitter,
		Txs:       txs,
		Timestamp: a.now().Unix(),
		FlowUsed:  flowUsed,
	}
}

func (a *API) postBatch(c *gin.Context) {
	var req postBatchRequest
	if !a.bind(c, &req) {
		return
	}
	if len(req.Transactions) > a.maxTxs {
		errorResponse(c, http.StatusBadRequest, "Invalid request body",
			fmt.Sprintf("too many transactions: %d, max %d", len(req.Transactions), a.maxTxs))
		return
	}
	txs, err := parseOfflineTxs(req.Transactions)
	if err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	flowUsed, err := parseAmount("flowUsed", req.FlowUsed, true)
	if err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	batch := a.newTxBatch(req.BatchID, caller(c), txs, flowUsed)
	batchData, err := a.coord.SubmitBatch(c.Request.Context(), batch)
	if err != nil {
		engineError(c, "Batch rejected", err)
		return
	}
	successResponse(c, http.StatusOK, "Batch settled", newSettledBatchAPI(batchData))
}

type postTransactionsRequest struct {
	Transactions []offlineTxAPI `json:"transactions" validate:"required,dive"`
	Timestamp    int64          `json:"timestamp" validate:"required"`
}

// rejectedBatchAPI is a selected batch that failed to settle
type rejectedBatchAPI struct {
	BatchID string         `json:"batchId"`
	Error   *batchErrorAPI `json:"error"`
}

// postTransactions orders a pile of offline transactions into batches and
// settles them in order, stopping at the first rejected batch
func (a *API) postTransactions(c *gin.Context) {
	var req postTransactionsRequest
	if !a.bind(c, &req) {
		return
	}
	if len(req.Transactions) > a.maxTxs {
		errorResponse(c, http.StatusBadRequest, "Invalid request body",
			fmt.Sprintf("too many transactions: %d, max %d", len(req.Transactions), a.maxTxs))
		return
	}
	txs, err := parseOfflineTxs(req.Transactions)
	if err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	submitter := caller(c)
	batches, discarded, err := a.txSelector.SelectBatches(submitter, txs)
	if err != nil {
		engineError(c, "Failed to select the transactions", err)
		return
	}

	settled := []*settledBatchAPI{}
	var rejected *rejectedBatchAPI
	var notSubmitted []common.TxID
	for i, batch := range batches {
		batch = a.newTxBatch("", submitter, batch.Txs, batch.FlowUsed)
		batchData, err := a.coord.SubmitBatch(c.Request.Context(), batch)
		if err != nil {
			if common.Kind(err) == common.KindInternal {
				engineError(c, "Failed to settle the transactions", err)
				return
			}
			rejected = &rejectedBatchAPI{
				BatchID: batch.BatchID,
				Error:   &batchErrorAPI{Index: -1, Error: common.Unwrap(err).Error()},
			}
			if be, ok := common.AsBatchError(err); ok {
				rejected.Error = &batchErrorAPI{Index: be.Index, TxID: be.TxID,
					Error: common.Unwrap(be.Err).Error()}
			}
			for _, next := range batches[i+1:] {
				for _, tx := range next.Txs {
					notSubmitted = append(notSubmitted, tx.ID)
				}
			}
			break
		}
		settled = append(settled, newSettledBatchAPI(batchData))
	}
	if discarded == nil {
		discarded = []txselector.DiscardedTx{}
	}
	successResponse(c, http.StatusOK, "Transactions processed", gin.H{
		"settled":      settled,
		"rejected":     rejected,
		"notSubmitted": notSubmitted,
		"discarded":    discarded,
	})
}

func (a *API) getProcessed(c *gin.Context) {
	id := common.TxID(c.Param("id"))
	processed, err := a.coord.IsTransactionProcessed(id)
	if err != nil {
		engineError(c, "Failed to check the transaction", err)
		return
	}
	successResponse(c, http.StatusOK, "Transaction checked", gin.H{
		"id":        id,
		"processed": processed,
	})
}

// getTxID returns the TxID of the fields in the query
func (a *API) getTxID(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if !ethCommon.IsHexAddress(from) || !ethCommon.IsHexAddress(to) {
		errorResponse(c, http.StatusBadRequest, "Invalid query", "invalid from or to address")
		return
	}
	nonce, err := parseUintQuery(c, "nonce")
	if err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	timestamp, err := parseIntQuery(c, "timestamp")
	if err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	id := common.GenerateTxID(ethCommon.HexToAddress(from), ethCommon.HexToAddress(to),
		common.Nonce(nonce), timestamp)
	successResponse(c, http.StatusOK, "Transaction id generated", gin.H{"id": id})
}

// historyError responds with an error of the HistoryDB
func historyError(c *gin.Context, message string, err error) {
	if common.Is(err, sql.ErrNoRows) {
		errorResponse(c, http.StatusNotFound, message, "item not found")
		return
	}
	engineError(c, message, err)
}

func (a *API) getBatch(c *gin.Context) {
	batchNum, err := strconv.ParseInt(c.Param("batchNum"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid batch number", c.Param("batchNum"))
		return
	}
	batch, err := a.historyDB.GetBatchAPI(common.BatchNum(batchNum))
	if err != nil {
		historyError(c, "Failed to get the batch", err)
		return
	}
	txs, err := a.historyDB.GetBatchTxs(batch.BatchNum)
	if err != nil {
		historyError(c, "Failed to get the batch", err)
		return
	}
	successResponse(c, http.StatusOK, "Batch retrieved", gin.H{
		"batch":        batch,
		"transactions": txs,
	})
}

func (a *API) getTxHistory(c *gin.Context) {
	id := common.TxID(c.Param("id"))
	txs, err := a.historyDB.GetTxHistoryAPI(id)
	if err != nil {
		historyError(c, "Failed to get the transaction", err)
		return
	}
	if len(txs) == 0 {
		errorResponse(c, http.StatusNotFound, "Failed to get the transaction", "item not found")
		return
	}
	successResponse(c, http.StatusOK, "Transaction retrieved", gin.H{
		"id":      id,
		"history": txs,
	})
}
