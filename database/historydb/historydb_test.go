package historydb

import (
	"math/big"
	"os"
	"testing"
	"time"

	"offgridpay/common"
	"offgridpay/database"
	"offgridpay/log"
	"offgridpay/test"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var historyDB *HistoryDB
var historyDBWithACC *HistoryDB

var (
	submitter = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice     = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a2")
	bob       = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a3")
)

func TestMain(m *testing.M) {
	log.Init("debug", []string{"stdout"})
	// init DB
	db, err := database.InitTestSQLDB()
	if err != nil {
		log.Warnw("HistoryDB tests skipped, test DB unreachable", "err", err)
		os.Exit(m.Run())
	}
	historyDB = NewHistoryDB(db, db, nil)
	apiConnCon := database.NewAPIConnectionController(1, time.Second)
	historyDBWithACC = NewHistoryDB(db, db, apiConnCon)

	// Run tests
	result := m.Run()
	// Close DB
	if err := db.Close(); err != nil {
		log.Error("Error closing the history DB", err)
	}
	os.Exit(result)
}

func setup(t *testing.T) {
	if historyDB == nil {
		t.Skip("test DB unreachable")
	}
	test.WipeDB(historyDB.DB())
}

func TestBatches(t *testing.T) {
	setup(t)
	batches := test.GenBatchData(3, 4, 5, submitter, alice, bob)
	for i := range batches {
		require.NoError(t, historyDB.AddBatch(&batches[i]))
	}

	lastBatchNum, err := historyDB.GetLastBatchNum()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(6), lastBatchNum)

	batch, err := historyDB.GetBatch(4)
	require.NoError(t, err)
	assert.Equal(t, batches[1].Batch, *batch)

	fetched, err := historyDB.GetBatches(3, 5)
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	assert.Equal(t, batches[0].Batch, fetched[0])
	assert.Equal(t, batches[1].Batch, fetched[1])

	txs, err := historyDB.GetBatchTxs(5)
	require.NoError(t, err)
	assert.Equal(t, batches[2].Txs, txs)

	batchAPI, err := historyDBWithACC.GetBatchAPI(6)
	require.NoError(t, err)
	assert.Equal(t, batches[3].Batch.BatchID, batchAPI.BatchID)
	assert.Equal(t, 0, batchAPI.Fee.Cmp(common.CalcBatchFee(5)))

	// a tx id can only be settled once
	dup := batches[0]
	dup.Batch.BatchNum = 7
	assert.Error(t, historyDB.AddBatch(&dup))
	lastBatchNum, err = historyDB.GetLastBatchNum()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(6), lastBatchNum)
}

func TestRejectedBatches(t *testing.T) {
	setup(t)
	txs := test.GenTxs(alice, bob, 1, 3, time.Now().Unix())
	rejected := &common.TxBatch{
		BatchID:   "retry-me",
		Submitter: submitter,
		Txs:       txs,
		Timestamp: time.Now().Unix(),
	}
	require.NoError(t, historyDB.AddRejectedBatch(rejected, "Invalid signature"))
	require.NoError(t, historyDB.AddRejectedBatch(rejected, "Insufficient balance"))

	rejectedBatches, err := historyDB.GetRejectedBatches(submitter)
	require.NoError(t, err)
	require.Len(t, rejectedBatches, 2)
	assert.Equal(t, "Insufficient balance", rejectedBatches[0].Reason)
	assert.Equal(t, 3, rejectedBatches[1].NumTxs)
	assert.Equal(t, "retry-me", rejectedBatches[1].BatchID)

	// the same txs settle later
	settled := test.GenBatchData(1, 1, 0, submitter, alice, bob)[0]
	settled.Txs = txs
	settled.Batch.NumTxs = len(txs)
	require.NoError(t, historyDB.AddBatch(&settled))

	history, err := historyDBWithACC.GetTxHistoryAPI(txs[1].ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, common.TxStatusRejected, history[0].Status)
	require.NotNil(t, history[0].Reason)
	assert.Equal(t, "Invalid signature", *history[0].Reason)
	assert.Nil(t, history[0].BatchNum)
	assert.Equal(t, common.TxStatusSettled, history[2].Status)
	require.NotNil(t, history[2].BatchNum)
	assert.Equal(t, common.BatchNum(1), *history[2].BatchNum)
	assert.Nil(t, history[2].Reason)
	assert.Equal(t, 1, history[2].Position)
}

func TestEvents(t *testing.T) {
	setup(t)
	flow := common.TokenFLOW
	token := ethCommon.HexToAddress("0x00000000000000000000000000000000000000e2")
	events := []common.Event{
		{Type: common.EventAccountInitialized, BatchNum: 1, Address: alice,
			Amount: big.NewInt(10), PyusdAmount: big.NewInt(7), Timestamp: 100},
		{Type: common.EventPyusdTokenSet, BatchNum: 2, Address: submitter, Token: &token, Timestamp: 101},
		{Type: common.EventFlowDepositAdded, BatchNum: 3, Address: alice, Amount: big.NewInt(5),
			TokenType: &flow, Timestamp: 102},
		{Type: common.EventBatchSettled, BatchNum: 4, Address: bob, Amount: big.NewInt(3),
			BatchID: "b1", Timestamp: 103},
	}
	require.NoError(t, historyDB.AddEvents(events))
	require.NoError(t, historyDB.AddEvents(nil))

	fetched, err := historyDB.GetAllEvents()
	require.NoError(t, err)
	assert.Equal(t, events, fetched)

	fetched, err = historyDBWithACC.GetEventsAPI(EventFilter{Address: &alice})
	require.NoError(t, err)
	assert.Equal(t, []common.Event{events[0], events[2]}, fetched)

	fetched, err = historyDBWithACC.GetEventsAPI(EventFilter{FromBatch: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, events[1:3], fetched)

	fetched, err = historyDBWithACC.GetEventsAPI(EventFilter{Type: common.EventBatchSettled})
	require.NoError(t, err)
	assert.Equal(t, events[3:], fetched)

	lastBatchNum, err := historyDB.GetLastBatchNum()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(4), lastBatchNum)
}

func TestReset(t *testing.T) {
	setup(t)
	batches := test.GenBatchData(1, 4, 2, submitter, alice, bob)
	for i := range batches {
		require.NoError(t, historyDB.AddBatch(&batches[i]))
		require.NoError(t, historyDB.AddEvents([]common.Event{{Type: common.EventBatchSettled,
			BatchNum: batches[i].Batch.BatchNum, Address: submitter, Timestamp: 1}}))
	}
	require.NoError(t, historyDB.Reset(2))

	lastBatchNum, err := historyDB.GetLastBatchNum()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(2), lastBatchNum)
	txs, err := historyDB.GetBatchTxs(3)
	require.NoError(t, err)
	assert.Empty(t, txs)
	events, err := historyDB.GetAllEvents()
	require.NoError(t, err)
	assert.Len(t, events, 2)

	require.NoError(t, historyDB.Reset(0))
	lastBatchNum, err = historyDB.GetLastBatchNum()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(0), lastBatchNum)
}

func TestNodeInfo(t *testing.T) {
	setup(t)
	owner := ethCommon.HexToAddress("0x00000000000000000000000000000000000000f1")
	constants := NewConstants(747, owner, submitter, 100)
	require.NoError(t, historyDB.SetConstants(constants))
	dbConstants, err := historyDB.GetConstants()
	require.NoError(t, err)
	assert.Equal(t, constants, dbConstants)

	stats := common.NewStats()
	stats.TotalUsers = 2
	stats.TotalFlowDeposited.SetInt64(42)
	stats.TotalPyusdDeposited.SetInt64(11)
	stateAPI := &StateAPI{
		LastBatchNum: 9,
		StateRoot:    big.NewInt(12345),
		Stats:        *stats,
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, historyDB.SetStateInternalAPI(stateAPI))
	dbStateAPI, err := historyDBWithACC.GetStateAPI()
	require.NoError(t, err)
	assert.Equal(t, stateAPI, dbStateAPI)
}
