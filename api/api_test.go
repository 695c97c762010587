package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

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

var (
	custody = ethCommon.HexToAddress("0x000000000000000000000000000000000000c0de")
	pyusd   = ethCommon.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func flow(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type user struct {
	sk   *ecdsa.PrivateKey
	addr ethCommon.Address
}

func newUser(t *testing.T) user {
	sk, err := ethCrypto.GenerateKey()
	require.NoError(t, err)
	return user{sk: sk, addr: ethCrypto.PubkeyToAddress(sk.PublicKey)}
}

type response struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type env struct {
	t      *testing.T
	server *gin.Engine
	coord  *coordinator.Coordinator
	client *test.Client
	owner  user
}

func newEnv(t *testing.T) *env {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 128, NLevels: statedb.MaxNLevels})
	require.NoError(t, err)
	t.Cleanup(sdb.Close)

	owner := newUser(t)
	client := test.NewClient(true, custody)
	client.CtlAddERC20(pyusd)
	coord, err := coordinator.NewCoordinator(coordinator.Config{Owner: owner.addr, Custody: custody},
		sdb, client, client, nil)
	require.NoError(t, err)
	clock := func() time.Time { return time.Unix(now, 0) }
	coord.SetClock(clock)
	coord.Start()
	t.Cleanup(coord.Stop)

	txsel := txselector.NewTxSelector(txselector.Config{}, coord)
	txsel.Validator().SetClock(clock)

	server := gin.New()
	_, err = NewAPI(Config{
		Version:     "test",
		Server:      server,
		Coordinator: coord,
		TxSelector:  txsel,
		ChainID:     1337,
		Now:         clock,
	})
	require.NoError(t, err)
	return &env{t: t, server: server, coord: coord, client: client, owner: owner}
}

func (e *env) do(req *http.Request) (int, *response) {
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	var res response
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return w.Code, &res
}

func (e *env) get(path string) (int, *response) {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(e.t, err)
	return e.do(req)
}

// post sends body signed by u.  The timestamp is set to the clock of the
// node when body does not have one.
func (e *env) post(path string, u user, body map[string]interface{}) (int, *response) {
	if _, ok := body["timestamp"]; !ok {
		body["timestamp"] = now
	}
	raw, err := json.Marshal(body)
	require.NoError(e.t, err)
	sig, err := SignRequest(u.sk, http.MethodPost, path, raw)
	require.NoError(e.t, err)
	return e.postRaw(path, raw, sig)
}

// postRaw sends raw with the signature header sig
func (e *env) postRaw(path string, raw []byte, sig string) (int, *response) {
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	require.NoError(e.t, err)
	req.Header.Set(signatureHeader, sig)
	return e.do(req)
}

// funded initializes the account of a new user with 15 FLOW of deposit
// and promotes 5
func (e *env) funded() user {
	u := newUser(e.t)
	status, res := e.post("/v1/accounts", u, map[string]interface{}{
		"address":     u.addr,
		"flowDeposit": flow(15).String(),
	})
	require.Equal(e.t, http.StatusCreated, status, res.Message)
	status, res = e.post("/v1/deposits/promote", u, map[string]interface{}{
		"address":   u.addr,
		"tokenType": "FLOW",
		"amount":    flow(5).String(),
	})
	require.Equal(e.t, http.StatusOK, status, res.Message)
	return u
}

func (e *env) account(u user) *accountAPI {
	status, res := e.get("/v1/accounts/" + u.addr.Hex())
	require.Equal(e.t, http.StatusOK, status)
	var account accountAPI
	require.NoError(e.t, json.Unmarshal(res.Data, &account))
	return &account
}

func txJSON(t *testing.T, from, to user, amount *big.Int, nonce common.Nonce) map[string]interface{} {
	tx := common.NewOfflineTx(from.addr, to.addr, common.TokenFLOW, amount, nonce, now-60)
	require.NoError(t, tx.Sign(from.sk))
	return map[string]interface{}{
		"id":        tx.ID,
		"from":      tx.From,
		"to":        tx.To,
		"tokenType": "FLOW",
		"amount":    amount.String(),
		"nonce":     nonce,
		"timestamp": tx.Timestamp,
		"signature": tx.Signature,
	}
}

func TestHealthAndNoRoute(t *testing.T) {
	e := newEnv(t)
	status, res := e.get("/v1/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"version":"test"`)

	status, _ = e.get("/v1/nothing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCORS(t *testing.T) {
	e := newEnv(t)
	preflight := func(server http.Handler, origin string) *httptest.ResponseRecorder {
		req, err := http.NewRequest(http.MethodOptions, "/v1/deposits", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", signatureHeader)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		return w
	}

	// every origin by default
	w := preflight(e.server, "https://wallet.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), signatureHeader)

	// restricted origins
	handler, err := newCORS([]string{"https://wallet.example"})
	require.NoError(t, err)
	server := gin.New()
	server.Use(handler)
	server.POST("/v1/deposits", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = preflight(server, "https://wallet.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://wallet.example", w.Header().Get("Access-Control-Allow-Origin"))
	w = preflight(server, "https://other.example")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	_, err = newCORS([]string{"wallet.example"})
	assert.Error(t, err)
}

func TestAccounts(t *testing.T) {
	e := newEnv(t)
	u := e.funded()

	account := e.account(u)
	assert.Equal(t, u.addr, account.Address)
	assert.Equal(t, flow(10).String(), account.FlowDeposit)
	assert.Equal(t, flow(5).String(), account.FlowBalance)
	assert.Equal(t, "5", account.Formatted.FlowBalance)
	assert.True(t, account.IsActive)

	status, res := e.get("/v1/accounts/" + u.addr.Hex() + "/nonce")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"nonce":0`)

	status, _ = e.get("/v1/accounts/" + u.addr.Hex() + "/proof")
	assert.Equal(t, http.StatusOK, status)

	// unknown and malformed addresses
	status, _ = e.get("/v1/accounts/" + newUser(t).addr.Hex())
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.get("/v1/accounts/0x1234")
	assert.Equal(t, http.StatusBadRequest, status)

	// initializing twice
	status, _ = e.post("/v1/accounts", u, map[string]interface{}{
		"address":     u.addr,
		"flowDeposit": flow(10).String(),
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// below the minimum deposit
	v := newUser(t)
	status, _ = e.post("/v1/accounts", v, map[string]interface{}{
		"address":     v.addr,
		"flowDeposit": flow(1).String(),
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// deactivation by the owner of the account only
	status, _ = e.post("/v1/accounts/"+u.addr.Hex()+"/active", v, map[string]interface{}{
		"active": false,
	})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.post("/v1/accounts/"+u.addr.Hex()+"/active", u, map[string]interface{}{
		"active": false,
	})
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, e.account(u).IsActive)
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)
	u := newUser(t)
	body := map[string]interface{}{
		"address":     u.addr,
		"flowDeposit": flow(10).String(),
	}

	// no signature
	raw, err := json.Marshal(map[string]interface{}{"address": u.addr, "timestamp": now})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, "/v1/accounts", bytes.NewReader(raw))
	require.NoError(t, err)
	status, _ := e.do(req)
	assert.Equal(t, http.StatusUnauthorized, status)

	// stale timestamp
	body["timestamp"] = now - int64(requestWindow.Seconds()) - 1
	status, _ = e.post("/v1/accounts", u, body)
	assert.Equal(t, http.StatusUnauthorized, status)

	// signed by another account
	body["timestamp"] = now
	status, _ = e.post("/v1/accounts", newUser(t), body)
	assert.Equal(t, http.StatusForbidden, status)

	// accepted once
	status, _ = e.post("/v1/accounts", u, body)
	assert.Equal(t, http.StatusCreated, status)
	status, res := e.post("/v1/accounts", u, body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(res.Error), errReplayedRequest.Error())
}

func TestAuthenticationReplays(t *testing.T) {
	e := newEnv(t)
	u := e.funded()
	raw, err := json.Marshal(map[string]interface{}{
		"address":   u.addr,
		"tokenType": "FLOW",
		"amount":    flow(1).String(),
		"timestamp": now,
	})
	require.NoError(t, err)
	sig, err := SignRequest(u.sk, http.MethodPost, "/v1/deposits/promote", raw)
	require.NoError(t, err)
	status, res := e.postRaw("/v1/deposits/promote", raw, sig)
	require.Equal(t, http.StatusOK, status, string(res.Error))
	account := e.account(u)

	// the same body and signature sent to another route
	status, _ = e.postRaw("/v1/deposits/withdraw", raw, sig)
	assert.Equal(t, http.StatusForbidden, status)

	// the malleated signature of the accepted request
	malleated, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	malleate(malleated)
	status, res = e.postRaw("/v1/deposits/promote", raw, "0x"+hex.EncodeToString(malleated))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(res.Error), common.ErrInvalidSignature.Error())

	assert.Equal(t, account, e.account(u))
}

func TestDeposits(t *testing.T) {
	e := newEnv(t)
	u := e.funded()

	// FLOW deposit with a funding tx
	fundingTx := e.client.CtlFund(u.addr, flow(3))
	status, res := e.post("/v1/deposits", u, map[string]interface{}{
		"address":   u.addr,
		"tokenType": "FLOW",
		"amount":    flow(3).String(),
		"fundingTx": fundingTx,
	})
	require.Equal(t, http.StatusOK, status, string(res.Error))
	assert.Equal(t, flow(13).String(), e.account(u).FlowDeposit)

	// the funding tx is credited once
	status, _ = e.post("/v1/deposits", u, map[string]interface{}{
		"address":   u.addr,
		"tokenType": "FLOW",
		"amount":    flow(3).String(),
		"fundingTx": fundingTx,
		"timestamp": now - 1,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// withdraw pays out to the account
	before := e.client.NativeBalance(u.addr)
	status, _ = e.post("/v1/deposits/withdraw", u, map[string]interface{}{
		"address":   u.addr,
		"tokenType": "FLOW",
		"amount":    flow(2).String(),
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, new(big.Int).Add(before, flow(2)), e.client.NativeBalance(u.addr))
	assert.Equal(t, flow(11).String(), e.account(u).FlowDeposit)

	// missing token type and malformed amounts
	status, _ = e.post("/v1/deposits/promote", u, map[string]interface{}{
		"address": u.addr,
		"amount":  "1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = e.post("/v1/deposits/promote", u, map[string]interface{}{
		"address":   u.addr,
		"tokenType": "FLOW",
		"amount":    "1.5",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// deposits of other accounts are not allowed
	v := e.funded()
	status, _ = e.post("/v1/deposits/promote", u, map[string]interface{}{
		"address":   v.addr,
		"tokenType": "FLOW",
		"amount":    "1",
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestBatches(t *testing.T) {
	e := newEnv(t)
	a, b := e.funded(), e.funded()

	tx1 := txJSON(t, a, b, flow(1), 1)
	tx2 := txJSON(t, b, a, flow(2), 1)
	status, res := e.post("/v1/batches", a, map[string]interface{}{
		"batchId":      "batch-1",
		"transactions": []interface{}{tx1, tx2},
	})
	require.Equal(t, http.StatusOK, status, string(res.Error))
	var settled settledBatchAPI
	require.NoError(t, json.Unmarshal(res.Data, &settled))
	assert.Equal(t, "batch-1", settled.BatchID)
	assert.Equal(t, 2, settled.NumTxs)
	assert.Equal(t, common.CalcBatchFee(2).String(), settled.Fee)
	assert.Equal(t, e.coord.StateRoot().String(), settled.StateRoot)

	assert.Equal(t, flow(6).String(), e.account(a).FlowBalance)
	assert.Equal(t, flow(4).String(), e.account(b).FlowBalance)
	assert.Equal(t, new(big.Int).Sub(flow(10), common.CalcBatchFee(2)).String(),
		e.account(a).FlowDeposit)

	status, res = e.get(fmt.Sprintf("/v1/transactions/%s/processed", tx1["id"]))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"processed":true`)

	// resubmitting fails at the first tx and changes nothing
	root := e.coord.StateRoot()
	status, res = e.post("/v1/batches", b, map[string]interface{}{
		"transactions": []interface{}{tx2},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	var batchErr batchErrorAPI
	require.NoError(t, json.Unmarshal(res.Error, &batchErr))
	assert.Equal(t, 0, batchErr.Index)
	assert.Equal(t, tx2["id"].(common.TxID), batchErr.TxID)
	assert.Equal(t, root, e.coord.StateRoot())

	status, res = e.get(fmt.Sprintf("/v1/txid?from=%s&to=%s&nonce=1&timestamp=%d",
		a.addr.Hex(), b.addr.Hex(), now-60))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), string(tx1["id"].(common.TxID)))
}

func TestPostTransactions(t *testing.T) {
	e := newEnv(t)
	a, b, c := e.funded(), e.funded(), e.funded()

	// b spends what it receives from a, listed before it
	spend := txJSON(t, b, c, flow(7), 1)
	receive := txJSON(t, a, b, flow(3), 1)
	tooMuch := txJSON(t, c, a, flow(100), 1)
	status, res := e.post("/v1/transactions", c, map[string]interface{}{
		"transactions": []interface{}{spend, receive, tooMuch, receive},
	})
	require.Equal(t, http.StatusOK, status, string(res.Error))
	var out struct {
		Settled   []settledBatchAPI        `json:"settled"`
		Rejected  *rejectedBatchAPI        `json:"rejected"`
		Discarded []map[string]interface{} `json:"discarded"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &out))
	require.Len(t, out.Settled, 1)
	assert.Nil(t, out.Rejected)
	assert.Equal(t, []common.TxID{receive["id"].(common.TxID), spend["id"].(common.TxID)},
		out.Settled[0].TxIDs)
	assert.Len(t, out.Discarded, 2)

	assert.Equal(t, flow(1).String(), e.account(b).FlowBalance)
	assert.Equal(t, flow(12).String(), e.account(c).FlowBalance)
}

func TestAdmin(t *testing.T) {
	e := newEnv(t)
	u := e.funded()

	status, _ := e.post("/v1/admin/token", u, map[string]interface{}{"token": pyusd})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.post("/v1/admin/token", e.owner, map[string]interface{}{"token": pyusd})
	assert.Equal(t, http.StatusOK, status)
	status, res := e.get("/v1/config")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), pyusd.Hex())

	status, res = e.post("/v1/admin/balance", e.owner, map[string]interface{}{
		"address":   u.addr,
		"tokenType": "PYUSD",
		"amount":    "1500000",
	})
	require.Equal(t, http.StatusOK, status, string(res.Error))
	account := e.account(u)
	assert.Equal(t, "1500000", account.PyusdBalance)
	assert.Equal(t, "1.5", account.Formatted.PyusdBalance)

	custodyBefore := e.client.NativeBalance(custody)
	status, res = e.post("/v1/admin/emergency-withdraw", e.owner, map[string]interface{}{})
	require.Equal(t, http.StatusOK, status, string(res.Error))
	assert.Contains(t, string(res.Data), custodyBefore.String())
	assert.Equal(t, 0, e.client.NativeBalance(custody).Sign())
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	e.funded()
	status, res := e.get("/v1/stats")
	require.Equal(t, http.StatusOK, status)
	var stats statsAPI
	require.NoError(t, json.Unmarshal(res.Data, &stats))
	assert.Equal(t, uint64(1), stats.TotalUsers)
	assert.Equal(t, flow(15).String(), stats.TotalFlowDeposited)

	status, res = e.get("/v1/state")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"currentBatch":2`)
}
