package statedb

import (
	"math/big"
	"os"
	"testing"

	"offgridpay/common"
	"offgridpay/log"

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
	exitVal := 0
	exitVal = m.Run()
	for _, dir := range deleteme {
		if err := os.RemoveAll(dir); err != nil {
			panic(err)
		}
	}
	os.Exit(exitVal)
}

func newStateDB(t *testing.T, nLevels int) *StateDB {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)

	sdb, err := NewStateDB(Config{Path: dir, Keep: 128, NLevels: nLevels})
	require.NoError(t, err)
	return sdb
}

func newAccount(t *testing.T, i int) *common.Account {
	key, err := ethCrypto.GenerateKey()
	require.NoError(t, err)
	address := ethCrypto.PubkeyToAddress(key.PublicKey)

	account := common.NewAccount(address, big.NewInt(int64(1000+i)), big.NewInt(int64(i)))
	account.Nonce = common.Nonce(i)
	return account
}

func TestAccountInStateDB(t *testing.T) {
	sdb := newStateDB(t, 0)
	defer sdb.Close()

	// create test accounts
	var accounts []*common.Account
	for i := 0; i < 4; i++ {
		accounts = append(accounts, newAccount(t, i))
	}

	// get non-existing account, expecting an error
	_, err := sdb.GetAccount(accounts[0].EthAddr)
	assert.Equal(t, common.ErrAccountNotFound, common.Unwrap(err))
	_, err = sdb.GetAccountByIdx(common.AccountIdx(1))
	assert.Equal(t, common.ErrAccountNotFound, common.Unwrap(err))

	// add test accounts
	for i := 0; i < len(accounts); i++ {
		_, err = sdb.CreateAccount(accounts[i])
		require.NoError(t, err)
		assert.Equal(t, common.AccountIdxUserThreshold+common.AccountIdx(i), accounts[i].Idx)
	}
	assert.Equal(t, common.AccountIdxUserThreshold+3, sdb.CurrentAccountIdx())

	for i := 0; i < len(accounts); i++ {
		accGetted, err := sdb.GetAccount(accounts[i].EthAddr)
		require.NoError(t, err)
		assert.Equal(t, accounts[i], accGetted)
	}

	// the same address can not be created twice
	again := common.NewAccount(accounts[1].EthAddr, big.NewInt(1), big.NewInt(1))
	_, err = sdb.CreateAccount(again)
	assert.Equal(t, common.ErrAlreadyInitialized, common.Unwrap(err))

	// update accounts
	for i := 0; i < len(accounts); i++ {
		accounts[i].Nonce = accounts[i].Nonce + 1
		accounts[i].FlowBalance = big.NewInt(7)
		accounts[i].IsActive = false
		accounts[i].LastSyncTime = 1700000000
		_, err = sdb.UpdateAccount(accounts[i])
		require.NoError(t, err)
		accGetted, err := sdb.GetAccount(accounts[i].EthAddr)
		require.NoError(t, err)
		assert.Equal(t, accounts[i], accGetted)
	}

	all, err := sdb.GetAccounts()
	require.NoError(t, err)
	require.Equal(t, len(accounts), len(all))
	for i := range all {
		assert.Equal(t, *accounts[i], all[i])
	}

	// without merkle tree the root is 0 and there are no proofs
	assert.Equal(t, big.NewInt(0), sdb.StateRoot())
	_, err = sdb.MTGetAccountProof(accounts[0].EthAddr)
	assert.Equal(t, ErrStateDBWithoutMT, common.Unwrap(err))
}

func TestStateRoot(t *testing.T) {
	sdb := newStateDB(t, MaxNLevels)
	defer sdb.Close()

	assert.Equal(t, big.NewInt(0), sdb.StateRoot())
	account := newAccount(t, 1)
	_, err := sdb.CreateAccount(account)
	require.NoError(t, err)
	root1 := sdb.StateRoot()
	assert.NotEqual(t, big.NewInt(0), root1)

	account.PyusdBalance = big.NewInt(3)
	_, err = sdb.UpdateAccount(account)
	require.NoError(t, err)
	root2 := sdb.StateRoot()
	assert.NotEqual(t, root1, root2)

	proof, err := sdb.MTGetAccountProof(account.EthAddr)
	require.NoError(t, err)
	assert.Equal(t, root2, proof.Root.BigInt())
	hash, err := account.HashValue()
	require.NoError(t, err)
	assert.Equal(t, hash, proof.Value)
}

func TestCheckpointDiscard(t *testing.T) {
	sdb := newStateDB(t, MaxNLevels)
	defer sdb.Close()

	a := newAccount(t, 1)
	_, err := sdb.CreateAccount(a)
	require.NoError(t, err)
	require.NoError(t, sdb.MarkProcessed("tx-1"))
	require.NoError(t, sdb.MakeCheckpoint())
	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
	root := sdb.StateRoot()

	// writes after the checkpoint
	b := newAccount(t, 2)
	_, err = sdb.CreateAccount(b)
	require.NoError(t, err)
	a.FlowBalance = big.NewInt(99)
	_, err = sdb.UpdateAccount(a)
	require.NoError(t, err)
	require.NoError(t, sdb.MarkProcessed("tx-2"))
	stats := common.NewStats()
	stats.TotalUsers = 2
	require.NoError(t, sdb.SetStats(stats))
	require.NoError(t, sdb.AddHeld(common.TokenFLOW, big.NewInt(5)))

	require.NoError(t, sdb.Discard())

	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
	assert.Equal(t, root, sdb.StateRoot())
	_, err = sdb.GetAccount(b.EthAddr)
	assert.Equal(t, common.ErrAccountNotFound, common.Unwrap(err))
	got, err := sdb.GetAccount(a.EthAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), got.FlowBalance)
	processed, err := sdb.IsProcessed("tx-1")
	require.NoError(t, err)
	assert.True(t, processed)
	processed, err = sdb.IsProcessed("tx-2")
	require.NoError(t, err)
	assert.False(t, processed)
	gotStats, err := sdb.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), gotStats.TotalUsers)
	held, err := sdb.GetHeld(common.TokenFLOW)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), held)
	// the idx is also restored, the next account reuses it
	assert.Equal(t, common.AccountIdxUserThreshold, sdb.CurrentAccountIdx())
}

func TestLastGetAccount(t *testing.T) {
	sdb := newStateDB(t, 0)
	defer sdb.Close()

	a := newAccount(t, 1)
	_, err := sdb.CreateAccount(a)
	require.NoError(t, err)
	_, err = sdb.LastGetAccount(a.EthAddr)
	assert.Equal(t, common.ErrAccountNotFound, common.Unwrap(err))

	require.NoError(t, sdb.MakeCheckpoint())
	got, err := sdb.LastGetAccount(a.EthAddr)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	err = sdb.LastRead(func(last *Last) error {
		stats, err := last.GetStats()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), stats.TotalUsers)
		processed, err := last.IsProcessed("none")
		require.NoError(t, err)
		assert.False(t, processed)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerValues(t *testing.T) {
	sdb := newStateDB(t, 0)
	defer sdb.Close()

	_, ok, err := sdb.GetPyusdToken()
	require.NoError(t, err)
	assert.False(t, ok)
	token := ethCommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, sdb.SetPyusdToken(token))
	got, ok, err := sdb.GetPyusdToken()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, token, got)

	require.NoError(t, sdb.AddHeld(common.TokenPYUSD, big.NewInt(10)))
	require.NoError(t, sdb.AddHeld(common.TokenPYUSD, big.NewInt(-4)))
	held, err := sdb.GetHeld(common.TokenPYUSD)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6), held)
	err = sdb.AddHeld(common.TokenPYUSD, big.NewInt(-7))
	assert.Equal(t, common.ErrInvalidAmount, common.Unwrap(err))

	stats := common.NewStats()
	stats.TotalUsers = 3
	stats.TotalTransactions = 10
	stats.TotalFlowDeposited = big.NewInt(12345)
	require.NoError(t, sdb.SetStats(stats))
	gotStats, err := sdb.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), gotStats.TotalUsers)
	assert.Equal(t, uint64(10), gotStats.TotalTransactions)
	assert.Equal(t, "12345", gotStats.TotalFlowDeposited.String())
	assert.Equal(t, "0", gotStats.TotalPyusdDeposited.String())

	require.NoError(t, sdb.MarkProcessed("id"))
	bn, err := sdb.GetProcessedBatchNum("id")
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(1), bn)
}
