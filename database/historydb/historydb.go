/*
Package historydb is the commit log of the settlement node: an append-only
record, in PostgreSQL, of every settled batch with its transactions, every
rejected batch with the reason, and every event emitted after a commit.

The ledger state lives in the StateDB, and the HistoryDB is only written
after a commit, so it never holds anything that is not committed.  It can
lag behind the StateDB but it never leads it, and Reset removes what a
StateDB reset discarded.
*/
package historydb

import (
	"time"

	"offgridpay/common"
	"offgridpay/database"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
)

const (
	// apiMaxLimit is the maximum number of items returned by an API query
	apiMaxLimit = 2049
)

// HistoryDB persist the historic of the settlement node
type HistoryDB struct {
	dbRead     *sqlx.DB
	dbWrite    *sqlx.DB
	apiConnCon *database.APIConnectionController
}

// NewHistoryDB initialize the DB
func NewHistoryDB(dbRead, dbWrite *sqlx.DB, apiConnCon *database.APIConnectionController) *HistoryDB {
	return &HistoryDB{
		dbRead:     dbRead,
		dbWrite:    dbWrite,
		apiConnCon: apiConnCon,
	}
}

// DB returns a pointer to the L2DB.db. This method should be used only for
// internal testing purposes.
func (hdb *HistoryDB) DB() *sqlx.DB {
	return hdb.dbWrite
}

// AddBatch inserts a settled batch and its transactions into the DB
func (hdb *HistoryDB) AddBatch(batchData *common.BatchData) (err error) {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	if err = hdb.addBatch(txn, &batchData.Batch); err != nil {
		return common.Wrap(err)
	}
	batchNum := batchData.Batch.BatchNum
	txs := make([]txWrite, len(batchData.Txs))
	for i := range batchData.Txs {
		txs[i] = newTxWrite(&batchData.Txs[i], i, common.TxStatusSettled)
		txs[i].BatchNum = &batchNum
	}
	if err = hdb.addTxs(txn, txs); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(txn.Commit())
}

func (hdb *HistoryDB) addBatch(d meddler.DB, batch *common.Batch) error {
	return common.Wrap(meddler.Insert(d, "batch", batch))
}

func (hdb *HistoryDB) addTxs(d meddler.DB, txs []txWrite) error {
	if len(txs) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO tx (
			id,
			batch_num,
			rejected_batch_id,
			position,
			status,
			from_addr,
			to_addr,
			token_type,
			amount,
			nonce,
			timestamp,
			signature
		) VALUES %s;`,
		txs,
	))
}

// AddRejectedBatch inserts a batch that failed to settle, with the reason
// and its transactions marked as rejected
func (hdb *HistoryDB) AddRejectedBatch(batch *common.TxBatch, reason string) (err error) {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	rejected := RejectedBatch{
		BatchID:   batch.BatchID,
		Submitter: batch.Submitter,
		NumTxs:    len(batch.Txs),
		Reason:    reason,
		Timestamp: time.Unix(batch.Timestamp, 0),
	}
	if err = meddler.Insert(txn, "rejected_batch", &rejected); err != nil {
		return common.Wrap(err)
	}
	txs := make([]txWrite, len(batch.Txs))
	for i := range batch.Txs {
		txs[i] = newTxWrite(&batch.Txs[i], i, common.TxStatusRejected)
		txs[i].RejectedBatchID = &rejected.ItemID
	}
	if err = hdb.addTxs(txn, txs); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(txn.Commit())
}

// AddEvents inserts events into the DB
func (hdb *HistoryDB) AddEvents(events []common.Event) error {
	return common.Wrap(hdb.addEvents(hdb.dbWrite, events))
}

func (hdb *HistoryDB) addEvents(d meddler.DB, events []common.Event) error {
	if len(events) == 0 {
		return nil
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO event (
			type,
			batch_num,
			address,
			amount,
			pyusd_amount,
			token_type,
			batch_id,
			token,
			timestamp
		) VALUES %s;`,
		events,
	))
}

// GetBatch returns the settled batch with the given batchNum
func (hdb *HistoryDB) GetBatch(batchNum common.BatchNum) (*common.Batch, error) {
	var batch common.Batch
	err := meddler.QueryRow(
		hdb.dbRead, &batch, `SELECT batch_num, batch_id, submitter, num_txs, fee,
		flow_used, state_root, timestamp FROM batch WHERE batch_num = $1;`,
		batchNum,
	)
	return &batch, common.Wrap(err)
}

// GetBatches retrieve the settled batches from the DB, given a range of
// batch numbers defined by from and to
func (hdb *HistoryDB) GetBatches(from, to common.BatchNum) ([]common.Batch, error) {
	var batches []*common.Batch
	err := meddler.QueryAll(
		hdb.dbRead, &batches,
		`SELECT batch_num, batch_id, submitter, num_txs, fee, flow_used, state_root, timestamp
		FROM batch WHERE $1 <= batch_num AND batch_num < $2 ORDER BY batch_num;`,
		from, to,
	)
	return database.SlicePtrsToSlice(batches).([]common.Batch), common.Wrap(err)
}

// GetLastBatchNum returns the greatest BatchNum with an entry in the DB, be
// it a settled batch or an event.  If the DB is empty, 0 is returned.
func (hdb *HistoryDB) GetLastBatchNum() (common.BatchNum, error) {
	row := hdb.dbRead.QueryRow(
		`SELECT COALESCE(GREATEST((SELECT MAX(batch_num) FROM batch),
		(SELECT MAX(batch_num) FROM event)), 0);`,
	)
	var batchNum common.BatchNum
	return batchNum, common.Wrap(row.Scan(&batchNum))
}

// GetBatchTxs returns the transactions of the settled batch, in settlement
// order
func (hdb *HistoryDB) GetBatchTxs(batchNum common.BatchNum) ([]common.OfflineTx, error) {
	var txs []*txWrite
	err := meddler.QueryAll(
		hdb.dbRead, &txs,
		`SELECT id, batch_num, rejected_batch_id, position, status, from_addr, to_addr,
		token_type, amount, nonce, timestamp, signature
		FROM tx WHERE batch_num = $1 ORDER BY position;`,
		batchNum,
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	res := make([]common.OfflineTx, len(txs))
	for i, tx := range txs {
		res[i] = tx.offlineTx()
	}
	return res, nil
}

// GetRejectedBatches returns the rejected batches of the submitter, the
// most recent first
func (hdb *HistoryDB) GetRejectedBatches(submitter ethCommon.Address) ([]RejectedBatch, error) {
	var batches []*RejectedBatch
	err := meddler.QueryAll(
		hdb.dbRead, &batches,
		`SELECT * FROM rejected_batch WHERE submitter = $1 ORDER BY item_id DESC;`,
		submitter,
	)
	return database.SlicePtrsToSlice(batches).([]RejectedBatch), common.Wrap(err)
}

// GetAllEvents returns all the events, in commit order
func (hdb *HistoryDB) GetAllEvents() ([]common.Event, error) {
	var events []*common.Event
	err := meddler.QueryAll(
		hdb.dbRead, &events,
		`SELECT type, batch_num, address, amount, pyusd_amount, token_type, batch_id,
		token, timestamp FROM event ORDER BY item_id;`,
	)
	return database.SlicePtrsToSlice(events).([]common.Event), common.Wrap(err)
}

// Reset deletes all the information that was added into the DB after
// batchNum.  The rejected batches are kept, since they never changed the
// state.
func (hdb *HistoryDB) Reset(batchNum common.BatchNum) (err error) {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	// the txs of the deleted batches go by cascade
	if _, err = txn.Exec("DELETE FROM batch WHERE batch_num > $1;", batchNum); err != nil {
		return common.Wrap(err)
	}
	if _, err = txn.Exec("DELETE FROM event WHERE batch_num > $1;", batchNum); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(txn.Commit())
}
