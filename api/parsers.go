package api

import (
	"fmt"
	"math/big"
	"strconv"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// parseAddrParam parses the address path param
func parseAddrParam(c *gin.Context) (ethCommon.Address, error) {
	addr := c.Param("addr")
	if !ethCommon.IsHexAddress(addr) {
		return common.EmptyAddr, common.Wrap(fmt.Errorf("invalid address %q", addr))
	}
	return ethCommon.HexToAddress(addr), nil
}

// parseAmount parses a decimal amount in minor units.  An empty string is
// nil when optional.
func parseAmount(name, s string, optional bool) (*big.Int, error) {
	if s == "" {
		if optional {
			return nil, nil
		}
		return nil, common.Wrap(fmt.Errorf("%w: missing %s", common.ErrInvalidAmount, name))
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, common.Wrap(fmt.Errorf("%w: %s %q", common.ErrInvalidAmount, name, s))
	}
	return amount, nil
}

// parseUintQuery parses an optional unsigned query param
func parseUintQuery(c *gin.Context, name string) (uint64, error) {
	s := c.Query(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("invalid %s %q", name, s))
	}
	return n, nil
}

// parseIntQuery parses a required signed query param
func parseIntQuery(c *gin.Context, name string) (int64, error) {
	s := c.Query(name)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("invalid %s %q", name, s))
	}
	return n, nil
}

// offlineTxAPI is an offline transaction as received by the API, with the
// amount as a decimal string in minor units
type offlineTxAPI struct {
	ID        common.TxID       `json:"id"`
	From      ethCommon.Address `json:"from"`
	To        ethCommon.Address `json:"to"`
	TokenType common.TokenType  `json:"tokenType"`
	Amount    string            `json:"amount" validate:"required"`
	Nonce     common.Nonce      `json:"nonce"`
	Timestamp int64             `json:"timestamp" validate:"required"`
	Signature common.Signature  `json:"signature" validate:"required"`
}

// offlineTx returns the common.OfflineTx.  A missing id is generated from
// the fields.
func (tx *offlineTxAPI) offlineTx() (common.OfflineTx, error) {
	amount, err := parseAmount("amount", tx.Amount, false)
	if err != nil {
		return common.OfflineTx{}, common.Wrap(err)
	}
	id := tx.ID
	if id == "" {
		id = common.GenerateTxID(tx.From, tx.To, tx.Nonce, tx.Timestamp)
	}
	return common.OfflineTx{
		ID:        id,
		From:      tx.From,
		To:        tx.To,
		Amount:    amount,
		Timestamp: tx.Timestamp,
		Nonce:     tx.Nonce,
		Signature: tx.Signature,
		Status:    common.TxStatusPending,
		TokenType: tx.TokenType,
	}, nil
}

func parseOfflineTxs(txs []offlineTxAPI) ([]common.OfflineTx, error) {
	res := make([]common.OfflineTx, len(txs))
	for i := range txs {
		tx, err := txs[i].offlineTx()
		if err != nil {
			return nil, common.Wrap(fmt.Errorf("transaction %d: %w", i, err))
		}
		res[i] = tx
	}
	return res, nil
}

// accountAPI is an Account as returned by the API: amounts in minor units
// as decimal strings, and in whole units
type accountAPI struct {
	Idx          common.AccountIdx `json:"idx"`
	Address      ethCommon.Address `json:"address"`
	FlowBalance  string            `json:"flowBalance"`
	PyusdBalance string            `json:"pyusdBalance"`
	FlowDeposit  string            `json:"flowDeposit"`
	PyusdDeposit string            `json:"pyusdDeposit"`
	Nonce        common.Nonce      `json:"nonce"`
	IsActive     bool              `json:"isActive"`
	LastSyncTime int64             `json:"lastSyncTime"`
	Formatted    struct {
		FlowBalance  string `json:"flowBalance"`
		PyusdBalance string `json:"pyusdBalance"`
		FlowDeposit  string `json:"flowDeposit"`
		PyusdDeposit string `json:"pyusdDeposit"`
	} `json:"formatted"`
}

func newAccountAPI(account *common.Account) *accountAPI {
	a := &accountAPI{
		Idx:          account.Idx,
		Address:      account.EthAddr,
		FlowBalance:  account.FlowBalance.String(),
		PyusdBalance: account.PyusdBalance.String(),
		FlowDeposit:  account.FlowDeposit.String(),
		PyusdDeposit: account.PyusdDeposit.String(),
		Nonce:        account.Nonce,
		IsActive:     account.IsActive,
		LastSyncTime: account.LastSyncTime,
	}
	a.Formatted.FlowBalance = common.FormatAmount(common.TokenFLOW, account.FlowBalance)
	a.Formatted.PyusdBalance = common.FormatAmount(common.TokenPYUSD, account.PyusdBalance)
	a.Formatted.FlowDeposit = common.FormatAmount(common.TokenFLOW, account.FlowDeposit)
	a.Formatted.PyusdDeposit = common.FormatAmount(common.TokenPYUSD, account.PyusdDeposit)
	return a
}

// bind decodes the JSON body of the request into req and validates it.
// Responds with a bad request and returns false on failure.
func (a *API) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "Invalid request body", err)
		return false
	}
	if err := a.validate.Struct(req); err != nil {
		badRequest(c, "Invalid request body", err)
		return false
	}
	return true
}
