package coordinator

import (
	"context"
	"math/big"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

func (c *Coordinator) depositEvent(t common.EventType, batchNum common.BatchNum,
	tokenType common.TokenType, addr ethCommon.Address, amount *big.Int) *notification {
	e := c.newEvent(t, batchNum, addr)
	e.Amount = new(big.Int).Set(amount)
	e.TokenType = &tokenType
	return &notification{events: []common.Event{e}}
}

// AddDeposit collects amount of the asset from addr and adds it to its
// deposit.  For FLOW, fundingTx is the transaction that sent the amount to
// the custody address.  For PYUSD, addr must have approved the custody
// address to spend amount.
func (c *Coordinator) AddDeposit(ctx context.Context, t common.TokenType, addr ethCommon.Address,
	amount *big.Int, fundingTx ethCommon.Hash) (*common.Account, error) {
	var account *common.Account
	_, err := c.mutate("addDeposit", func(batchNum common.BatchNum) (*notification, error) {
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		var err error
		if account, err = c.vault.AddDeposit(ctx, t, addr, amount, fundingTx); err != nil {
			return nil, common.Wrap(err)
		}
		return c.depositEvent(common.DepositAddedEvent(t), batchNum, t, addr, amount), nil
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// WithdrawDeposit removes amount from the deposit of the asset of addr and
// pays it out to addr.  If the payout fails nothing is committed.
func (c *Coordinator) WithdrawDeposit(ctx context.Context, t common.TokenType, addr ethCommon.Address,
	amount *big.Int) (*common.Account, error) {
	var account *common.Account
	_, err := c.mutate("withdrawDeposit", func(batchNum common.BatchNum) (*notification, error) {
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		var err error
		if account, err = c.vault.WithdrawDeposit(ctx, t, addr, amount); err != nil {
			return nil, common.Wrap(err)
		}
		return c.depositEvent(common.DepositWithdrawnEvent(t), batchNum, t, addr, amount), nil
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// PromoteToBalance moves amount of the asset from the deposit of addr to
// its spendable balance
func (c *Coordinator) PromoteToBalance(ctx context.Context, t common.TokenType, addr ethCommon.Address,
	amount *big.Int) (*common.Account, error) {
	var account *common.Account
	_, err := c.mutate("promoteToBalance", func(batchNum common.BatchNum) (*notification, error) {
		var err error
		if account, err = c.vault.PromoteToBalance(t, addr, amount); err != nil {
			return nil, common.Wrap(err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}
