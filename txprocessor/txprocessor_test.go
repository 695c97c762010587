package txprocessor

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	"offgridpay/common"
	"offgridpay/database/statedb"
	"offgridpay/log"
	"offgridpay/test"
	"offgridpay/txvalidator"
	"offgridpay/vault"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deleteme []string

func init() {
	log.Init("debug", []string{"stdout"})
}

func TestMain(m *testing.M) {
	exitVal := m.Run()
	for _, dir := range deleteme {
		if err := os.RemoveAll(dir); err != nil {
			panic(err)
		}
	}
	os.Exit(exitVal)
}

const now = int64(1700000000)

func flow(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type user struct {
	sk   *ecdsa.PrivateKey
	addr ethCommon.Address
}

type env struct {
	t     *testing.T
	sdb   *statedb.StateDB
	tp    *TxProcessor
	users []user
}

// newEnv creates n active accounts with 15 FLOW of deposit, 5 of them
// promoted to balance, and commits them
func newEnv(t *testing.T, n int) *env {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 128, NLevels: statedb.MaxNLevels})
	require.NoError(t, err)
	t.Cleanup(sdb.Close)

	custody := ethCommon.HexToAddress("0x000000000000000000000000000000000000c0de")
	client := test.NewClient(false, custody)
	validator := txvalidator.NewValidator(sdb)
	validator.SetClock(func() time.Time { return time.Unix(now, 0) })
	v := vault.NewVault(sdb, client, client, vault.Config{Custody: custody})
	e := &env{
		t:   t,
		sdb: sdb,
		tp:  NewTxProcessor(sdb, validator, v, Config{}),
	}
	for i := 0; i < n; i++ {
		sk, err := ethCrypto.GenerateKey()
		require.NoError(t, err)
		u := user{sk: sk, addr: ethCrypto.PubkeyToAddress(sk.PublicKey)}
		account := common.NewAccount(u.addr, flow(15), big.NewInt(0))
		_, err = sdb.CreateAccount(account)
		require.NoError(t, err)
		_, err = v.PromoteToBalance(common.TokenFLOW, u.addr, flow(5))
		require.NoError(t, err)
		e.users = append(e.users, u)
	}
	require.NoError(t, sdb.MakeCheckpoint())
	return e
}

func (e *env) tx(from, to int, amount *big.Int, nonce common.Nonce) common.OfflineTx {
	tx := common.NewOfflineTx(e.users[from].addr, e.users[to].addr, common.TokenFLOW, amount,
		nonce, now-60)
	require.NoError(e.t, tx.Sign(e.users[from].sk))
	return *tx
}

func (e *env) batch(submitter int, txs ...common.OfflineTx) *common.TxBatch {
	return &common.TxBatch{
		BatchID:   fmt.Sprintf("batch-%d", len(txs)),
		Submitter: e.users[submitter].addr,
		Txs:       txs,
		Timestamp: now,
	}
}

func (e *env) account(i int) *common.Account {
	account, err := e.sdb.GetAccount(e.users[i].addr)
	require.NoError(e.t, err)
	return account
}

func (e *env) snapshot() []common.Account {
	accounts, err := e.sdb.GetAccounts()
	require.NoError(e.t, err)
	return accounts
}

func requireBatchError(t *testing.T, err error, index int, target error) {
	require.Error(t, err)
	be, ok := common.AsBatchError(err)
	require.True(t, ok, "not a BatchError: %v", err)
	assert.Equal(t, index, be.Index)
	assert.True(t, common.Is(err, target), "expected %v, got %v", target, err)
}

func TestProcessBatchTransfer(t *testing.T) {
	e := newEnv(t, 2)
	tx := e.tx(0, 1, flow(2), 1)
	out, err := e.tp.ProcessBatch(e.batch(0, tx))
	require.NoError(t, err)
	require.NoError(t, e.sdb.MakeCheckpoint())

	a, b := e.account(0), e.account(1)
	assert.Equal(t, flow(3), a.FlowBalance)
	assert.Equal(t, flow(7), b.FlowBalance)
	assert.Equal(t, common.Nonce(1), a.Nonce)
	assert.Equal(t, common.Nonce(0), b.Nonce)
	// the fee is paid from the FLOW deposit of the submitter
	assert.Equal(t, new(big.Int).Sub(flow(10), common.BaseTransactionFee), a.FlowDeposit)
	assert.Equal(t, flow(10), b.FlowDeposit)
	assert.Equal(t, now, a.LastSyncTime)
	assert.Equal(t, now, b.LastSyncTime)

	processed, err := e.sdb.IsProcessed(tx.ID)
	require.NoError(t, err)
	assert.True(t, processed)
	stats, err := e.sdb.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalTransactions)

	assert.Equal(t, common.BatchNum(2), out.Batch.BatchNum)
	assert.Equal(t, common.BatchNum(2), e.sdb.CurrentBatch())
	assert.Equal(t, 1, out.Batch.NumTxs)
	assert.Equal(t, common.BaseTransactionFee, out.Batch.Fee)
	assert.Equal(t, e.sdb.StateRoot(), out.Batch.StateRoot)
	require.Len(t, out.Txs, 1)
	assert.Equal(t, common.TxStatusSettled, out.Txs[0].Status)
	assert.Len(t, out.UpdatedAccounts, 2)

	// the same transaction can not be settled again
	_, err = e.tp.ProcessBatch(e.batch(0, tx))
	requireBatchError(t, err, 0, common.ErrInvalidNonce)
	require.NoError(t, e.sdb.Discard())
}

func TestProcessBatchPyusd(t *testing.T) {
	e := newEnv(t, 2)
	a := e.account(0)
	a.PyusdBalance = big.NewInt(5e6)
	_, err := e.sdb.UpdateAccount(a)
	require.NoError(t, err)

	tx := common.NewOfflineTx(e.users[0].addr, e.users[1].addr, common.TokenPYUSD,
		big.NewInt(2e6), 1, now)
	require.NoError(t, tx.Sign(e.users[0].sk))
	_, err = e.tp.ProcessBatch(e.batch(1, *tx))
	require.NoError(t, err)

	a, b := e.account(0), e.account(1)
	assert.Equal(t, big.NewInt(3e6), a.PyusdBalance)
	assert.Equal(t, big.NewInt(2e6), b.PyusdBalance)
	// FLOW balances are untouched
	assert.Equal(t, flow(5), a.FlowBalance)
	assert.Equal(t, flow(5), b.FlowBalance)
	assert.Equal(t, new(big.Int).Sub(flow(10), common.BaseTransactionFee), b.FlowDeposit)
}

func TestProcessBatchRunningState(t *testing.T) {
	e := newEnv(t, 3)
	// 0 -> 1 twice with increasing nonces, then 1 spends what it received
	batch := e.batch(2,
		e.tx(0, 1, flow(3), 1),
		e.tx(0, 1, flow(2), 4),
		e.tx(1, 2, flow(9), 1),
	)
	_, err := e.tp.ProcessBatch(batch)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(0), e.account(0).FlowBalance)
	assert.Equal(t, common.Nonce(4), e.account(0).Nonce)
	assert.Equal(t, flow(1), e.account(1).FlowBalance)
	assert.Equal(t, flow(14), e.account(2).FlowBalance)
	fee := common.CalcBatchFee(3)
	assert.Equal(t, new(big.Int).Sub(flow(10), fee), e.account(2).FlowDeposit)
}

func TestProcessBatchSelfTransfer(t *testing.T) {
	e := newEnv(t, 1)
	_, err := e.tp.ProcessBatch(e.batch(0, e.tx(0, 0, flow(5), 1)))
	require.NoError(t, err)
	assert.Equal(t, flow(5), e.account(0).FlowBalance)
	assert.Equal(t, common.Nonce(1), e.account(0).Nonce)
}

func TestProcessBatchAtomicity(t *testing.T) {
	e := newEnv(t, 3)
	before := e.snapshot()
	rootBefore := e.sdb.StateRoot()
	statsBefore, err := e.sdb.GetStats()
	require.NoError(t, err)

	valid := e.tx(0, 1, flow(1), 1)
	badSig := e.tx(1, 2, flow(1), 1)
	badSig.Amount = flow(2)
	expired := e.tx(1, 2, flow(1), 1)
	expired.Timestamp = now - common.TransactionTTL - 1
	expired.ID = common.GenerateTxID(expired.From, expired.To, expired.Nonce, expired.Timestamp)
	require.NoError(t, expired.Sign(e.users[1].sk))
	sameNonce := e.tx(0, 2, flow(1), 1)
	tooMuch := e.tx(1, 2, flow(7), 1)
	farNonce := e.tx(1, 2, flow(1), 12)

	tests := []struct {
		name  string
		txs   []common.OfflineTx
		index int
		err   error
	}{
		{"bad signature", []common.OfflineTx{valid, badSig}, 1, common.ErrInvalidSignature},
		{"expired", []common.OfflineTx{valid, expired}, 1, common.ErrExpiredTransaction},
		{"nonce reused in batch", []common.OfflineTx{valid, sameNonce}, 1, common.ErrInvalidNonce},
		{"nonce too far", []common.OfflineTx{valid, farNonce}, 1, common.ErrInvalidNonce},
		{"replay in batch", []common.OfflineTx{valid, valid}, 1, common.ErrInvalidNonce},
		{"insufficient balance", []common.OfflineTx{valid, tooMuch}, 1, common.ErrInsufficientBalance},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.tp.ProcessBatch(e.batch(0, tc.txs...))
			requireBatchError(t, err, tc.index, tc.err)
			require.NoError(t, e.sdb.Discard())

			assert.Equal(t, before, e.snapshot())
			assert.Equal(t, rootBefore, e.sdb.StateRoot())
			processed, err := e.sdb.IsProcessed(valid.ID)
			require.NoError(t, err)
			assert.False(t, processed)
			stats, err := e.sdb.GetStats()
			require.NoError(t, err)
			assert.Equal(t, statsBefore.TotalTransactions, stats.TotalTransactions)
		})
	}
}

func TestProcessBatchReplayAcrossBatches(t *testing.T) {
	e := newEnv(t, 2)
	tx := e.tx(0, 1, flow(1), 1)
	_, err := e.tp.ProcessBatch(e.batch(0, tx))
	require.NoError(t, err)
	require.NoError(t, e.sdb.MakeCheckpoint())

	// roll the nonce back so that only the processed set stops the replay
	a := e.account(0)
	a.Nonce = 0
	_, err = e.sdb.UpdateAccount(a)
	require.NoError(t, err)
	_, err = e.tp.ProcessBatch(e.batch(0, tx))
	requireBatchError(t, err, 0, common.ErrReplayedTransaction)
	require.NoError(t, e.sdb.Discard())
}

func TestProcessBatchPrecheck(t *testing.T) {
	e := newEnv(t, 3)
	tx := e.tx(0, 1, flow(1), 1)

	_, err := e.tp.ProcessBatch(e.batch(0))
	requireBatchError(t, err, -1, common.ErrEmptyBatch)

	txs := make([]common.OfflineTx, common.MaxBatchSize+1)
	for i := range txs {
		txs[i] = tx
	}
	_, err = e.tp.ProcessBatch(e.batch(0, txs...))
	requireBatchError(t, err, -1, common.ErrBatchTooLarge)

	unknown := e.batch(0, tx)
	unknown.Submitter = ethCommon.HexToAddress("0x0000000000000000000000000000000000000bad")
	_, err = e.tp.ProcessBatch(unknown)
	requireBatchError(t, err, -1, common.ErrAccountNotFound)

	// fee not covered by the deposit
	c := e.account(2)
	c.FlowDeposit = new(big.Int).Sub(common.BaseTransactionFee, big.NewInt(1))
	_, err = e.sdb.UpdateAccount(c)
	require.NoError(t, err)
	_, err = e.tp.ProcessBatch(e.batch(2, tx))
	requireBatchError(t, err, -1, common.ErrInsufficientDepositBalance)
	require.NoError(t, e.sdb.Discard())

	// the claimed fee is ignored
	claimed := e.batch(2, tx)
	claimed.FlowUsed = big.NewInt(0)
	c = e.account(2)
	c.IsActive = false
	_, err = e.sdb.UpdateAccount(c)
	require.NoError(t, err)
	_, err = e.tp.ProcessBatch(claimed)
	requireBatchError(t, err, -1, common.ErrAccountInactive)
	assert.Equal(t, common.KindAuthorization, common.Kind(err))
	require.NoError(t, e.sdb.Discard())

	claimed.Submitter = e.users[1].addr
	out, err := e.tp.ProcessBatch(claimed)
	require.NoError(t, err)
	assert.Equal(t, common.BaseTransactionFee, out.Batch.Fee)
	assert.Equal(t, big.NewInt(0), out.Batch.FlowUsed)
	require.NoError(t, e.sdb.Discard())
}

func TestProcessBatchInactiveAccounts(t *testing.T) {
	e := newEnv(t, 3)
	b := e.account(1)
	b.IsActive = false
	_, err := e.sdb.UpdateAccount(b)
	require.NoError(t, err)
	require.NoError(t, e.sdb.MakeCheckpoint())

	_, err = e.tp.ProcessBatch(e.batch(2, e.tx(0, 1, flow(1), 1)))
	requireBatchError(t, err, 0, common.ErrAccountInactive)
	require.NoError(t, e.sdb.Discard())

	_, err = e.tp.ProcessBatch(e.batch(2, e.tx(1, 0, flow(1), 1)))
	requireBatchError(t, err, 0, common.ErrAccountInactive)
	require.NoError(t, e.sdb.Discard())
}
