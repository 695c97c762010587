package coordinator

import (
	"context"
	"fmt"
	"math/big"

	"offgridpay/common"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// The owner operations bypass the settlement rules.  Each of them is logged
// as a warning and produces an event, which the CommitLog keeps as the
// audit trail.

// UpdateBalance sets the spendable balance of the asset of addr to amount,
// without any transfer validation.
func (c *Coordinator) UpdateBalance(ctx context.Context, caller ethCommon.Address, t common.TokenType,
	addr ethCommon.Address, amount *big.Int) (*common.Account, error) {
	if err := c.checkOwner(caller); err != nil {
		return nil, common.Wrap(err)
	}
	if !t.Valid() {
		return nil, common.Wrap(fmt.Errorf("%w: %d", common.ErrInvalidTokenType, t))
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, common.Wrap(fmt.Errorf("%w: %v", common.ErrInvalidAmount, amount))
	}
	var account *common.Account
	var old *big.Int
	_, err := c.mutate("updateBalance", func(batchNum common.BatchNum) (*notification, error) {
		var err error
		if account, err = c.state.GetAccount(addr); err != nil {
			return nil, common.Wrap(err)
		}
		balance := account.Balance(t)
		old = new(big.Int).Set(balance)
		balance.Set(amount)
		if _, err := c.state.UpdateAccount(account); err != nil {
			return nil, common.Wrap(err)
		}
		e := c.newEvent(common.EventBalanceOverridden, batchNum, addr)
		e.Amount = new(big.Int).Set(amount)
		e.TokenType = &t
		return &notification{events: []common.Event{e}}, nil
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	log.Warnw("Coordinator: balance overridden by the owner", "caller", caller.Hex(),
		"addr", addr.Hex(), "token", t, "old", old, "new", amount)
	return account, nil
}

// SetToken sets the address of the PYUSD token contract
func (c *Coordinator) SetToken(ctx context.Context, caller, token ethCommon.Address) error {
	if err := c.checkOwner(caller); err != nil {
		return common.Wrap(err)
	}
	if token == common.EmptyAddr {
		return common.Wrap(fmt.Errorf("%w: empty token address", common.ErrTokenNotConfigured))
	}
	var old ethCommon.Address
	_, err := c.mutate("setToken", func(batchNum common.BatchNum) (*notification, error) {
		var err error
		if old, _, err = c.state.GetPyusdToken(); err != nil {
			return nil, common.Wrap(err)
		}
		if err := c.state.SetPyusdToken(token); err != nil {
			return nil, common.Wrap(err)
		}
		e := c.newEvent(common.EventPyusdTokenSet, batchNum, caller)
		e.Token = &token
		return &notification{events: []common.Event{e}}, nil
	})
	if err != nil {
		return common.Wrap(err)
	}
	log.Warnw("Coordinator: PYUSD token set by the owner", "caller", caller.Hex(),
		"old", old.Hex(), "new", token.Hex())
	return nil
}

// PyusdToken returns the address of the PYUSD token contract, if set
func (c *Coordinator) PyusdToken() (ethCommon.Address, bool, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.state.GetPyusdToken()
}

// EmergencyWithdraw sends all the FLOW held by the node to the owner.  The
// accounts are not changed, so after a sweep their FLOW deposits are no
// longer backed by the custody funds.  Returns the amount sent.
func (c *Coordinator) EmergencyWithdraw(ctx context.Context, caller ethCommon.Address) (*big.Int, error) {
	if err := c.checkOwner(caller); err != nil {
		return nil, common.Wrap(err)
	}
	var swept *big.Int
	_, err := c.mutate("emergencyWithdraw", func(batchNum common.BatchNum) (*notification, error) {
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		var err error
		if swept, err = c.vault.Sweep(ctx, c.cfg.Owner); err != nil {
			return nil, common.Wrap(err)
		}
		if swept.Sign() == 0 {
			return nil, errNoChange
		}
		e := c.newEvent(common.EventEmergencyWithdrawal, batchNum, c.cfg.Owner)
		e.Amount = new(big.Int).Set(swept)
		return &notification{events: []common.Event{e}}, nil
	})
	if err == errNoChange {
		return swept, nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	log.Warnw("Coordinator: emergency withdrawal", "caller", caller.Hex(), "amount", swept)
	return swept, nil
}
