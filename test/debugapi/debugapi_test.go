package debugapi

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledger struct {
	accounts []common.Account
}

func (l *ledger) GetAccounts() ([]common.Account, error) { return l.accounts, nil }

func (l *ledger) GetAccount(addr ethCommon.Address) (*common.Account, error) {
	for i := range l.accounts {
		if l.accounts[i].EthAddr == addr {
			return &l.accounts[i], nil
		}
	}
	return nil, common.Wrap(common.ErrAccountNotFound)
}

func (l *ledger) StateRoot() *big.Int { return big.NewInt(1234) }

func (l *ledger) CurrentBatch() common.BatchNum { return 7 }

func (l *ledger) Stats() (*common.Stats, error) { return common.NewStats(), nil }

func get(t *testing.T, h http.Handler, path string) (int, []byte) {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func TestDebugAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	addr := ethCommon.HexToAddress("0x0000000000000000000000000000000000000a11")
	account := common.NewAccount(addr, big.NewInt(10), big.NewInt(20))
	account.Idx = common.AccountIdxUserThreshold
	h := NewDebugAPI("localhost:0", &ledger{accounts: []common.Account{*account}}).Handler()

	status, body := get(t, h, "/debug/statedb/accounts")
	require.Equal(t, http.StatusOK, status)
	var accounts []common.Account
	require.NoError(t, json.Unmarshal(body, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, addr, accounts[0].EthAddr)

	status, _ = get(t, h, "/debug/statedb/accounts/"+addr.Hex())
	assert.Equal(t, http.StatusOK, status)
	status, _ = get(t, h, "/debug/statedb/accounts/0x01")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = get(t, h, "/debug/statedb/mtroot")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `"1234"`, string(body))
	status, body = get(t, h, "/debug/statedb/currentbatch")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "7", string(body))

	status, _ = get(t, h, "/debug/nothing")
	assert.Equal(t, http.StatusNotFound, status)
}
