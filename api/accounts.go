package api

import (
	"net/http"

	"offgridpay/common"
	"offgridpay/database/historydb"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func (a *API) getAccount(c *gin.Context) {
	addr, err := parseAddrParam(c)
	if err != nil {
		badRequest(c, "Invalid address", err)
		return
	}
	account, err := a.coord.GetAccount(addr)
	if err != nil {
		engineError(c, "Failed to get the account", err)
		return
	}
	successResponse(c, http.StatusOK, "Account retrieved", newAccountAPI(account))
}

func (a *API) getNonce(c *gin.Context) {
	addr, err := parseAddrParam(c)
	if err != nil {
		badRequest(c, "Invalid address", err)
		return
	}
	nonce, err := a.coord.GetNonce(addr)
	if err != nil {
		engineError(c, "Failed to get the nonce", err)
		return
	}
	successResponse(c, http.StatusOK, "Nonce retrieved", gin.H{
		"address": addr,
		"nonce":   nonce,
	})
}

func (a *API) getAccountProof(c *gin.Context) {
	addr, err := parseAddrParam(c)
	if err != nil {
		badRequest(c, "Invalid address", err)
		return
	}
	proof, err := a.coord.GetAccountProof(addr)
	if err != nil {
		engineError(c, "Failed to get the account proof", err)
		return
	}
	successResponse(c, http.StatusOK, "Account proof retrieved", proof)
}

type postAccountRequest struct {
	Address      ethCommon.Address `json:"address" validate:"required"`
	FlowDeposit  string            `json:"flowDeposit"`
	PyusdDeposit string            `json:"pyusdDeposit"`
	// FundingTx is the transaction that sent the FLOW deposit to the
	// custody address
	FundingTx ethCommon.Hash `json:"fundingTx"`
	Timestamp int64          `json:"timestamp" validate:"required"`
}

func (a *API) postAccount(c *gin.Context) {
	var req postAccountRequest
	if !a.bind(c, &req) {
		return
	}
	if req.Address != caller(c) {
		engineError(c, "Failed to initialize the account", common.Wrap(common.ErrNotAccountOwner))
		return
	}
	flow, err := parseAmount("flowDeposit", req.FlowDeposit, true)
	if err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	pyusd, err := parseAmount("pyusdDeposit", req.PyusdDeposit, true)
	if err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	account, err := a.coord.InitializeAccount(c.Request.Context(), req.Address, flow, pyusd, req.FundingTx)
	if err != nil {
		engineError(c, "Failed to initialize the account", err)
		return
	}
	successResponse(c, http.StatusCreated, "Account initialized", newAccountAPI(account))
}

type postActiveRequest struct {
	Active    bool  `json:"active"`
	Timestamp int64 `json:"timestamp" validate:"required"`
}

func (a *API) postActive(c *gin.Context) {
	addr, err := parseAddrParam(c)
	if err != nil {
		badRequest(c, "Invalid address", err)
		return
	}
	var req postActiveRequest
	if !a.bind(c, &req) {
		return
	}
	account, err := a.coord.SetActive(c.Request.Context(), caller(c), addr, req.Active)
	if err != nil {
		engineError(c, "Failed to set the account activation", err)
		return
	}
	successResponse(c, http.StatusOK, "Account updated", newAccountAPI(account))
}

func (a *API) getAccountEvents(c *gin.Context) {
	addr, err := parseAddrParam(c)
	if err != nil {
		badRequest(c, "Invalid address", err)
		return
	}
	filter, err := parseEventFilter(c)
	if err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	filter.Address = &addr
	a.serveEvents(c, filter)
}

func (a *API) getEvents(c *gin.Context) {
	filter, err := parseEventFilter(c)
	if err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	if addr := c.Query("address"); addr != "" {
		if !ethCommon.IsHexAddress(addr) {
			errorResponse(c, http.StatusBadRequest, "Invalid query", "invalid address")
			return
		}
		address := ethCommon.HexToAddress(addr)
		filter.Address = &address
	}
	a.serveEvents(c, filter)
}

func parseEventFilter(c *gin.Context) (historydb.EventFilter, error) {
	fromBatch, err := parseUintQuery(c, "fromBatch")
	if err != nil {
		return historydb.EventFilter{}, common.Wrap(err)
	}
	limit, err := parseUintQuery(c, "limit")
	if err != nil {
		return historydb.EventFilter{}, common.Wrap(err)
	}
	return historydb.EventFilter{
		Type:      common.EventType(c.Query("type")),
		FromBatch: common.BatchNum(fromBatch),
		Limit:     uint(limit),
	}, nil
}

func (a *API) serveEvents(c *gin.Context, filter historydb.EventFilter) {
	events, err := a.historyDB.GetEventsAPI(filter)
	if err != nil {
		engineError(c, "Failed to get the events", err)
		return
	}
	successResponse(c, http.StatusOK, "Events retrieved", gin.H{
		"events": events,
	})
}
