package txselector

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"offgridpay/common"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init("debug", []string{"stdout"})
}

const now = int64(1700000000)

type stateReader struct {
	accounts  map[ethCommon.Address]*common.Account
	processed map[common.TxID]bool
}

func (s *stateReader) GetAccount(addr ethCommon.Address) (*common.Account, error) {
	account, ok := s.accounts[addr]
	if !ok {
		return nil, common.Wrap(common.ErrAccountNotFound)
	}
	return account.Copy(), nil
}

func (s *stateReader) IsTransactionProcessed(id common.TxID) (bool, error) {
	return s.processed[id], nil
}

type user struct {
	sk   *ecdsa.PrivateKey
	addr ethCommon.Address
}

func setup(t *testing.T, n int, cfg Config) (*TxSelector, *stateReader, []user) {
	state := &stateReader{
		accounts:  make(map[ethCommon.Address]*common.Account),
		processed: make(map[common.TxID]bool),
	}
	var users []user
	for i := 0; i < n; i++ {
		sk, err := ethCrypto.GenerateKey()
		require.NoError(t, err)
		u := user{sk: sk, addr: ethCrypto.PubkeyToAddress(sk.PublicKey)}
		account := common.NewAccount(u.addr, big.NewInt(1e18), big.NewInt(0))
		account.FlowBalance = big.NewInt(100)
		state.accounts[u.addr] = account
		users = append(users, u)
	}
	txsel := NewTxSelector(cfg, state)
	txsel.Validator().SetClock(func() time.Time { return time.Unix(now, 0) })
	return txsel, state, users
}

func tx(t *testing.T, from, to user, amount int64, nonce common.Nonce) common.OfflineTx {
	tx := common.NewOfflineTx(from.addr, to.addr, common.TokenFLOW, big.NewInt(amount), nonce, now)
	require.NoError(t, tx.Sign(from.sk))
	return *tx
}

func ids(txs []common.OfflineTx) []common.TxID {
	var res []common.TxID
	for _, tx := range txs {
		res = append(res, tx.ID)
	}
	return res
}

func discardedCodes(discarded []DiscardedTx) map[common.TxID]int {
	res := make(map[common.TxID]int)
	for _, d := range discarded {
		res[d.Tx.ID] = d.Code
	}
	return res
}

func TestSelectOrdersByNonce(t *testing.T) {
	txsel, _, users := setup(t, 2, Config{})
	a, b := users[0], users[1]
	tx3 := tx(t, a, b, 10, 3)
	tx1 := tx(t, a, b, 10, 1)
	tx2 := tx(t, a, b, 10, 2)

	batches, discarded, err := txsel.SelectBatches(a.addr, []common.OfflineTx{tx3, tx1, tx2})
	require.NoError(t, err)
	assert.Empty(t, discarded)
	require.Len(t, batches, 1)
	assert.Equal(t, []common.TxID{tx1.ID, tx2.ID, tx3.ID}, ids(batches[0].Txs))
	assert.Equal(t, a.addr, batches[0].Submitter)
	assert.Equal(t, common.CalcBatchFee(3), batches[0].FlowUsed)
}

func TestSelectRunningBalance(t *testing.T) {
	txsel, _, users := setup(t, 3, Config{})
	a, b, c := users[0], users[1], users[2]
	// b can only pay c after receiving from a, whose tx sorts later
	spend := tx(t, b, c, 150, 1)
	receive := tx(t, a, b, 60, 2)

	batches, discarded, err := txsel.SelectBatches(a.addr, []common.OfflineTx{spend, receive})
	require.NoError(t, err)
	assert.Empty(t, discarded)
	require.Len(t, batches, 1)
	assert.Equal(t, []common.TxID{receive.ID, spend.ID}, ids(batches[0].Txs))
}

func TestSelectDiscards(t *testing.T) {
	txsel, state, users := setup(t, 4, Config{})
	a, b, c, d := users[0], users[1], users[2], users[3]
	unknown := user{sk: a.sk, addr: ethCommon.HexToAddress("0x0000000000000000000000000000000000000bad")}

	ok := tx(t, a, b, 10, 1)
	settled := tx(t, a, b, 10, 2)
	state.processed[settled.ID] = true
	badSig := tx(t, b, a, 10, 1)
	badSig.Signature = ok.Signature
	expired := common.NewOfflineTx(b.addr, a.addr, common.TokenFLOW, big.NewInt(1), 2,
		now-common.TransactionTTL-1)
	require.NoError(t, expired.Sign(b.sk))
	toUnknown := tx(t, c, unknown, 10, 1)
	tooMuch := tx(t, c, a, 1000, 2)
	farNonce := tx(t, c, a, 1, 20)
	state.accounts[d.addr].IsActive = false
	toInactive := tx(t, c, d, 1, 3)

	batches, discarded, err := txsel.SelectBatches(a.addr, []common.OfflineTx{
		ok, ok, settled, badSig, *expired, toUnknown, tooMuch, farNonce, toInactive,
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []common.TxID{ok.ID}, ids(batches[0].Txs))

	require.Len(t, discarded, 8)
	// the duplicate is discarded, the first one is selected
	assert.Equal(t, ErrDuplicatedTxCode, discarded[0].Code)
	codes := discardedCodes(discarded[1:])
	assert.Equal(t, ErrTxAlreadyProcessedCode, codes[settled.ID])
	assert.Equal(t, ErrInvalidTxCode, codes[badSig.ID])
	assert.Equal(t, ErrInvalidTxCode, codes[expired.ID])
	assert.Equal(t, ErrReceiverNotFoundCode, codes[toUnknown.ID])
	assert.Equal(t, ErrSenderNotEnoughBalanceCode, codes[tooMuch.ID])
	assert.Equal(t, ErrNoncesOutOfWindowCode, codes[farNonce.ID])
	assert.Equal(t, ErrAccountInactiveCode, codes[toInactive.ID])
}

func TestSelectSplitsBatchesAndFee(t *testing.T) {
	txsel, state, users := setup(t, 2, Config{MaxBatchSize: 2})
	a, b := users[0], users[1]
	var txs []common.OfflineTx
	for i := 1; i <= 5; i++ {
		txs = append(txs, tx(t, a, b, 1, common.Nonce(i)))
	}
	batches, discarded, err := txsel.SelectBatches(b.addr, txs)
	require.NoError(t, err)
	assert.Empty(t, discarded)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Txs, 2)
	assert.Len(t, batches[1].Txs, 2)
	assert.Len(t, batches[2].Txs, 1)

	// the deposit of the submitter pays for 3 txs only
	state.accounts[b.addr].FlowDeposit = new(big.Int).Mul(common.BaseTransactionFee, big.NewInt(3))
	batches, discarded, err = txsel.SelectBatches(b.addr, txs)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Len(t, discarded, 2)
	for _, d := range discarded {
		assert.Equal(t, ErrFeeNotCoveredCode, d.Code)
	}

	_, _, err = txsel.SelectBatches(ethCommon.HexToAddress("0x01"), txs)
	assert.True(t, common.Is(err, common.ErrAccountNotFound))
}
