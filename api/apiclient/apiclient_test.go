package apiclient

import (
	"crypto/ecdsa"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"offgridpay/api"
	"offgridpay/common"
	"offgridpay/coordinator"
	"offgridpay/database/statedb"
	"offgridpay/log"
	"offgridpay/test"
	"offgridpay/txselector"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init("debug", []string{"stdout"})
	gin.SetMode(gin.TestMode)
}

const now = int64(1700000000)

func flow(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	sk, err := ethCrypto.GenerateKey()
	require.NoError(t, err)
	return sk
}

func newServer(t *testing.T) *httptest.Server {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 128, NLevels: statedb.MaxNLevels})
	require.NoError(t, err)
	t.Cleanup(sdb.Close)

	custody := ethCommon.HexToAddress("0xc0de")
	client := test.NewClient(false, custody)
	coord, err := coordinator.NewCoordinator(coordinator.Config{
		Owner:   ethCommon.HexToAddress("0xff"),
		Custody: custody,
	}, sdb, client, client, nil)
	require.NoError(t, err)
	clock := func() time.Time { return time.Unix(now, 0) }
	coord.SetClock(clock)
	coord.Start()
	t.Cleanup(coord.Stop)
	txsel := txselector.NewTxSelector(txselector.Config{}, coord)
	txsel.Validator().SetClock(clock)

	engine := gin.New()
	_, err = api.NewAPI(api.Config{
		Server:      engine,
		Coordinator: coord,
		TxSelector:  txsel,
		Now:         clock,
	})
	require.NoError(t, err)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	return server
}

func newClient(t *testing.T, url string) *Client {
	c := NewClient(url, newKey(t))
	c.SetClock(func() time.Time { return time.Unix(now, 0) })
	return c
}

func TestClient(t *testing.T) {
	server := newServer(t)
	alice, bob := newClient(t, server.URL), newClient(t, server.URL)
	for _, c := range []*Client{alice, bob} {
		account, err := c.InitializeAccount(flow(15), nil, ethCommon.Hash{})
		require.NoError(t, err)
		assert.Equal(t, c.Address(), account.Address)
		_, err = c.PromoteToBalance(common.TokenFLOW, flow(5))
		require.NoError(t, err)
	}

	tx := common.NewOfflineTx(alice.Address(), bob.Address(), common.TokenFLOW, flow(2), 1, now-60)
	require.NoError(t, tx.Sign(alice.sk))
	batch, err := bob.SubmitBatch("b1", []common.OfflineTx{*tx})
	require.NoError(t, err)
	assert.Equal(t, []common.TxID{tx.ID}, batch.TxIDs)

	processed, err := alice.IsTransactionProcessed(tx.ID)
	require.NoError(t, err)
	assert.True(t, processed)
	nonce, err := bob.GetNonce(alice.Address())
	require.NoError(t, err)
	assert.Equal(t, common.Nonce(1), nonce)
	account, err := alice.GetAccount(bob.Address())
	require.NoError(t, err)
	assert.Equal(t, flow(7).String(), account.FlowBalance)

	// the same batch again is rejected
	_, err = bob.SubmitBatch("b2", []common.OfflineTx{*tx})
	var apiErr *Error
	require.ErrorAs(t, common.Unwrap(err), &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	res, err := alice.SubmitTransactions([]common.OfflineTx{*tx})
	require.NoError(t, err)
	assert.Empty(t, res.Settled)
	assert.Len(t, res.Discarded, 1)

	stats, err := NewClient(server.URL, nil).GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalUsers)
	assert.Equal(t, uint64(1), stats.TotalTransactions)

	_, err = NewClient(server.URL, nil).PromoteToBalance(common.TokenFLOW, big.NewInt(1))
	assert.Error(t, err)
}
