package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"offgridpay/common"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree"
)

// errNoChange is returned by a mutation that has nothing to commit
var errNoChange = errors.New("no change")

func amountOrZero(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return amount
}

// InitializeAccount creates the account of addr with the given deposits,
// collecting them from addr.  At least one of the deposits must reach the
// minimum of its asset.  fundingTx is the transaction that sent the FLOW
// deposit to the custody address, unused when flowDeposit is zero.
func (c *Coordinator) InitializeAccount(ctx context.Context, addr ethCommon.Address,
	flowDeposit, pyusdDeposit *big.Int, fundingTx ethCommon.Hash) (*common.Account, error) {
	flowDeposit, pyusdDeposit = amountOrZero(flowDeposit), amountOrZero(pyusdDeposit)
	if flowDeposit.Sign() < 0 || pyusdDeposit.Sign() < 0 {
		return nil, common.Wrap(fmt.Errorf("%w: FLOW %s, PYUSD %s",
			common.ErrInvalidAmount, flowDeposit, pyusdDeposit))
	}
	if flowDeposit.Cmp(common.MinimumFlowDeposit) < 0 &&
		pyusdDeposit.Cmp(common.MinimumPyusdDeposit) < 0 {
		return nil, common.Wrap(fmt.Errorf("%w: FLOW %s (min %s), PYUSD %s (min %s)",
			common.ErrInsufficientDeposit, flowDeposit, common.MinimumFlowDeposit,
			pyusdDeposit, common.MinimumPyusdDeposit))
	}

	var account *common.Account
	_, err := c.mutate("initialize", func(batchNum common.BatchNum) (*notification, error) {
		if _, err := c.state.GetAccount(addr); err == nil {
			return nil, common.Wrap(fmt.Errorf("%w: %s", common.ErrAlreadyInitialized, addr.Hex()))
		} else if !common.Is(err, common.ErrAccountNotFound) {
			return nil, common.Wrap(err)
		}

		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		if flowDeposit.Sign() > 0 {
			if err := c.vault.Collect(ctx, common.TokenFLOW, addr, flowDeposit, fundingTx); err != nil {
				return nil, common.Wrap(err)
			}
		}
		if pyusdDeposit.Sign() > 0 {
			if err := c.vault.Collect(ctx, common.TokenPYUSD, addr, pyusdDeposit,
				ethCommon.Hash{}); err != nil {
				return nil, common.Wrap(err)
			}
		}

		account = common.NewAccount(addr, flowDeposit, pyusdDeposit)
		account.LastSyncTime = c.validator.Now()
		if _, err := c.state.CreateAccount(account); err != nil {
			return nil, common.Wrap(err)
		}
		stats, err := c.state.GetStats()
		if err != nil {
			return nil, common.Wrap(err)
		}
		stats.TotalUsers++
		if err := c.state.SetStats(stats); err != nil {
			return nil, common.Wrap(err)
		}

		e := c.newEvent(common.EventAccountInitialized, batchNum, addr)
		e.Amount = new(big.Int).Set(flowDeposit)
		e.PyusdAmount = new(big.Int).Set(pyusdDeposit)
		return &notification{events: []common.Event{e}}, nil
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	log.Infow("Coordinator: account initialized", "addr", addr.Hex(), "idx", account.Idx,
		"flowDeposit", flowDeposit, "pyusdDeposit", pyusdDeposit)
	return account, nil
}

// SetActive activates or deactivates the account of addr.  Only the owner
// of the account (caller == addr) can do it.  Setting the current value
// commits nothing.
func (c *Coordinator) SetActive(ctx context.Context, caller, addr ethCommon.Address,
	active bool) (*common.Account, error) {
	if caller != addr {
		return nil, common.Wrap(fmt.Errorf("%w: caller %s, account %s",
			common.ErrNotAccountOwner, caller.Hex(), addr.Hex()))
	}
	var account *common.Account
	_, err := c.mutate("setActive", func(batchNum common.BatchNum) (*notification, error) {
		var err error
		account, err = c.state.GetAccount(addr)
		if err != nil {
			return nil, common.Wrap(err)
		}
		if account.IsActive == active {
			return nil, errNoChange
		}
		account.IsActive = active
		if _, err := c.state.UpdateAccount(account); err != nil {
			return nil, common.Wrap(err)
		}
		t := common.EventAccountDeactivated
		if active {
			t = common.EventAccountReactivated
		}
		return &notification{events: []common.Event{c.newEvent(t, batchNum, addr)}}, nil
	})
	if err == errNoChange {
		return account, nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// GetAccount returns the committed account of addr
func (c *Coordinator) GetAccount(addr ethCommon.Address) (*common.Account, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	account, err := c.state.GetAccount(addr)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: %s", err, addr.Hex()))
	}
	return account, nil
}

// GetAccounts returns all the committed accounts, in Idx order
func (c *Coordinator) GetAccounts() ([]common.Account, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.state.GetAccounts()
}

// GetBalance returns the spendable balance of the asset of addr
func (c *Coordinator) GetBalance(t common.TokenType, addr ethCommon.Address) (*big.Int, error) {
	account, err := c.GetAccount(addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return account.Balance(t), nil
}

// GetDepositBalance returns the deposit of the asset of addr
func (c *Coordinator) GetDepositBalance(t common.TokenType, addr ethCommon.Address) (*big.Int, error) {
	account, err := c.GetAccount(addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return account.Deposit(t), nil
}

// GetNonce returns the nonce of the last settled transaction of addr
func (c *Coordinator) GetNonce(addr ethCommon.Address) (common.Nonce, error) {
	account, err := c.GetAccount(addr)
	if err != nil {
		return 0, common.Wrap(err)
	}
	return account.Nonce, nil
}

// IsActive returns true if the account of addr is active
func (c *Coordinator) IsActive(addr ethCommon.Address) (bool, error) {
	account, err := c.GetAccount(addr)
	if err != nil {
		return false, common.Wrap(err)
	}
	return account.IsActive, nil
}

// StateRoot returns the root of the account merkle tree at the last commit
func (c *Coordinator) StateRoot() *big.Int {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.state.StateRoot()
}

// GetAccountProof returns the merkle proof of the account of addr against
// StateRoot
func (c *Coordinator) GetAccountProof(addr ethCommon.Address) (*merkletree.CircomVerifierProof, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.state.MTGetAccountProof(addr)
}
