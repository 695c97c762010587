package api

import (
	"net/http"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// The owner endpoints only check the signature of the request, the
// Coordinator checks that the caller is the owner.

type adminBalanceRequest struct {
	Address   ethCommon.Address `json:"address" validate:"required"`
	TokenType *common.TokenType `json:"tokenType" validate:"required"`
	Amount    string            `json:"amount" validate:"required"`
	Timestamp int64             `json:"timestamp" validate:"required"`
}

func (a *API) postAdminBalance(c *gin.Context) {
	var req adminBalanceRequest
	if !a.bind(c, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	account, err := a.coord.UpdateBalance(c.Request.Context(), caller(c), *req.TokenType,
		req.Address, amount)
	if err != nil {
		engineError(c, "Failed to update the balance", err)
		return
	}
	successResponse(c, http.StatusOK, "Balance updated", newAccountAPI(account))
}

type adminTokenRequest struct {
	Token     ethCommon.Address `json:"token" validate:"required"`
	Timestamp int64             `json:"timestamp" validate:"required"`
}

func (a *API) postAdminToken(c *gin.Context) {
	var req adminTokenRequest
	if !a.bind(c, &req) {
		return
	}
	if err := a.coord.SetToken(c.Request.Context(), caller(c), req.Token); err != nil {
		engineError(c, "Failed to set the token", err)
		return
	}
	successResponse(c, http.StatusOK, "Token set", gin.H{"token": req.Token})
}

type adminRequest struct {
	Timestamp int64 `json:"timestamp" validate:"required"`
}

func (a *API) postEmergencyWithdraw(c *gin.Context) {
	var req adminRequest
	if !a.bind(c, &req) {
		return
	}
	amount, err := a.coord.EmergencyWithdraw(c.Request.Context(), caller(c))
	if err != nil {
		engineError(c, "Failed to withdraw", err)
		return
	}
	successResponse(c, http.StatusOK, "Funds withdrawn", gin.H{
		"amount":    amount.String(),
		"formatted": common.FormatAmount(common.TokenFLOW, amount),
	})
}
