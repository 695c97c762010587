package api

import (
	"context"
	"math/big"
	"net/http"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type depositRequest struct {
	Address   ethCommon.Address `json:"address" validate:"required"`
	TokenType *common.TokenType `json:"tokenType" validate:"required"`
	Amount    string            `json:"amount" validate:"required"`
	// FundingTx is the transaction that sent a FLOW deposit to the custody
	// address, only used by POST /deposits
	FundingTx ethCommon.Hash `json:"fundingTx"`
	Timestamp int64          `json:"timestamp" validate:"required"`
}

type depositOp func(ctx context.Context, req *depositRequest, amount *big.Int) (*common.Account, error)

// depositHandler serves a deposit operation of the caller on its own
// account
func (a *API) depositHandler(message string, op depositOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req depositRequest
		if !a.bind(c, &req) {
			return
		}
		if req.Address != caller(c) {
			engineError(c, "Failed to "+message, common.Wrap(common.ErrNotAccountOwner))
			return
		}
		amount, err := parseAmount("amount", req.Amount, false)
		if err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
		account, err := op(c.Request.Context(), &req, amount)
		if err != nil {
			engineError(c, "Failed to "+message, err)
			return
		}
		successResponse(c, http.StatusOK, "Deposit updated", newAccountAPI(account))
	}
}

func (a *API) postDeposit(c *gin.Context) {
	a.depositHandler("add the deposit", func(ctx context.Context, req *depositRequest,
		amount *big.Int) (*common.Account, error) {
		return a.coord.AddDeposit(ctx, *req.TokenType, req.Address, amount, req.FundingTx)
	})(c)
}

func (a *API) postWithdraw(c *gin.Context) {
	a.depositHandler("withdraw the deposit", func(ctx context.Context, req *depositRequest,
		amount *big.Int) (*common.Account, error) {
		return a.coord.WithdrawDeposit(ctx, *req.TokenType, req.Address, amount)
	})(c)
}

func (a *API) postPromote(c *gin.Context) {
	a.depositHandler("promote the deposit", func(ctx context.Context, req *depositRequest,
		amount *big.Int) (*common.Account, error) {
		return a.coord.PromoteToBalance(ctx, *req.TokenType, req.Address, amount)
	})(c)
}
