package historydb

import (
	"fmt"
	"strings"

	"offgridpay/common"
	"offgridpay/database"

	"github.com/russross/meddler"
)

// acquire reserves a connection for an API query, if the HistoryDB limits
// them
func (hdb *HistoryDB) acquire() (func(), error) {
	if hdb.apiConnCon == nil {
		return func() {}, nil
	}
	cancel, err := hdb.apiConnCon.Acquire()
	if err != nil {
		cancel()
		return nil, common.Wrap(err)
	}
	return func() {
		cancel()
		hdb.apiConnCon.Release()
	}, nil
}

// GetBatchAPI returns the settled batch with the given batchNum
func (hdb *HistoryDB) GetBatchAPI(batchNum common.BatchNum) (*BatchAPI, error) {
	release, err := hdb.acquire()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer release()
	batch := &BatchAPI{}
	if err := meddler.QueryRow(
		hdb.dbRead, batch,
		`SELECT item_id, batch_num, batch_id, submitter, num_txs, fee, flow_used,
		state_root, timestamp FROM batch WHERE batch_num = $1;`, batchNum,
	); err != nil {
		return nil, common.Wrap(err)
	}
	return batch, nil
}

// GetTxHistoryAPI returns every record of the tx id: at most one settled
// and any number of rejected ones, the oldest first
func (hdb *HistoryDB) GetTxHistoryAPI(id common.TxID) ([]TxAPI, error) {
	release, err := hdb.acquire()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer release()
	var txs []*TxAPI
	err = meddler.QueryAll(
		hdb.dbRead, &txs,
		`SELECT tx.item_id, tx.id, tx.batch_num, tx.rejected_batch_id, rejected_batch.reason,
		tx.position, tx.status, tx.from_addr, tx.to_addr, tx.token_type, tx.amount, tx.nonce,
		tx.timestamp FROM tx LEFT JOIN rejected_batch ON tx.rejected_batch_id = rejected_batch.item_id
		WHERE tx.id = $1 ORDER BY tx.item_id;`, id,
	)
	return database.SlicePtrsToSlice(txs).([]TxAPI), common.Wrap(err)
}

// GetEventsAPI returns the events that match the filter, in commit order
func (hdb *HistoryDB) GetEventsAPI(filter EventFilter) ([]common.Event, error) {
	release, err := hdb.acquire()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer release()
	var query strings.Builder
	var args []interface{}
	query.WriteString(`SELECT type, batch_num, address, amount, pyusd_amount, token_type,
		batch_id, token, timestamp FROM event`)
	var where []string
	if filter.Address != nil {
		args = append(args, *filter.Address)
		where = append(where, fmt.Sprintf("address = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.FromBatch > 0 {
		args = append(args, filter.FromBatch)
		where = append(where, fmt.Sprintf("batch_num >= $%d", len(args)))
	}
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	limit := filter.Limit
	if limit == 0 || limit > apiMaxLimit {
		limit = apiMaxLimit
	}
	args = append(args, limit)
	query.WriteString(fmt.Sprintf(" ORDER BY item_id LIMIT $%d;", len(args)))

	var events []*common.Event
	err = meddler.QueryAll(hdb.dbRead, &events, query.String(), args...)
	return database.SlicePtrsToSlice(events).([]common.Event), common.Wrap(err)
}
