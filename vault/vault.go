/*
Package vault manages the collateral deposits of the accounts, in both
assets, and the funds that back them.

The vault does not commit: every method writes to the StateDB and returns,
and the caller either makes a checkpoint or resets the StateDB to discard
the writes.  The calls to the token contract and the native payouts are
done after all the checks, so a failing check never moves funds, and a
failing payout returns an error before the caller commits.

Funds enter the vault with Collect: FLOW through a funding transaction sent
to the custody address (verified by the Native collaborator) and PYUSD with
a transferFrom of the token.  Every collected amount is added to the held
amount of the asset and to the deposited totals of the Stats.
*/
package vault

import (
	"context"
	"fmt"
	"math/big"

	"offgridpay/common"
	"offgridpay/database/statedb"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// Token is the ERC20 token contract used for PYUSD
type Token interface {
	// TransferFrom moves amount of token from holder to to, using the
	// allowance given by holder to the caller.  Fails with
	// common.ErrInsufficientAllowance when the allowance is not enough.
	TransferFrom(ctx context.Context, token, holder, to ethCommon.Address, amount *big.Int) error
	// Transfer moves amount of token from the caller to to
	Transfer(ctx context.Context, token, to ethCommon.Address, amount *big.Int) error
	// BalanceOf returns the token balance of holder
	BalanceOf(ctx context.Context, token, holder ethCommon.Address) (*big.Int, error)
}

// Native moves the FLOW native asset
type Native interface {
	// Collect checks that the funding transaction moved amount from
	// `from` to the custody address.  Fails with common.ErrInvalidFunding
	// otherwise.
	Collect(ctx context.Context, fundingTx ethCommon.Hash, from ethCommon.Address, amount *big.Int) error
	// Send pays amount from the custody address to `to`
	Send(ctx context.Context, to ethCommon.Address, amount *big.Int) error
	// Balance returns the native balance of the custody address
	Balance(ctx context.Context) (*big.Int, error)
}

// Config of the Vault
type Config struct {
	// Custody is the address that holds the funds of the vault
	Custody ethCommon.Address
}

// Vault keeps the deposits of the accounts
type Vault struct {
	state  *statedb.StateDB
	native Native
	token  Token
	cfg    Config
}

// NewVault returns a new Vault
func NewVault(state *statedb.StateDB, native Native, token Token, cfg Config) *Vault {
	return &Vault{
		state:  state,
		native: native,
		token:  token,
		cfg:    cfg,
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return common.Wrap(fmt.Errorf("%w: %v", common.ErrInvalidAmount, amount))
	}
	return nil
}

// pyusdToken returns the configured token address, or
// common.ErrTokenNotConfigured
func (v *Vault) pyusdToken() (ethCommon.Address, error) {
	token, ok, err := v.state.GetPyusdToken()
	if err != nil {
		return common.EmptyAddr, common.Wrap(err)
	}
	if !ok || v.token == nil {
		return common.EmptyAddr, common.Wrap(common.ErrTokenNotConfigured)
	}
	return token, nil
}

// Collect moves amount of the asset from `from` into the custody of the
// vault.  For FLOW, fundingTx is the transaction that sent the amount to
// the custody address, and it can only be credited once.  For PYUSD the
// amount is pulled with transferFrom, so `from` must have approved the
// custody address before.
func (v *Vault) Collect(ctx context.Context, t common.TokenType, from ethCommon.Address,
	amount *big.Int, fundingTx ethCommon.Hash) error {
	if err := checkAmount(amount); err != nil {
		return common.Wrap(err)
	}
	switch t {
	case common.TokenFLOW:
		if fundingTx != (ethCommon.Hash{}) {
			used, err := v.state.IsFundingUsed(fundingTx)
			if err != nil {
				return common.Wrap(err)
			}
			if used {
				return common.Wrap(fmt.Errorf("%w: %s", common.ErrFundingReused, fundingTx.Hex()))
			}
		}
		if err := v.native.Collect(ctx, fundingTx, from, amount); err != nil {
			return common.Wrap(err)
		}
		if fundingTx != (ethCommon.Hash{}) {
			if err := v.state.MarkFunding(fundingTx); err != nil {
				return common.Wrap(err)
			}
		}
	case common.TokenPYUSD:
		token, err := v.pyusdToken()
		if err != nil {
			return common.Wrap(err)
		}
		if err := v.token.TransferFrom(ctx, token, from, v.cfg.Custody, amount); err != nil {
			return common.Wrap(err)
		}
	default:
		return common.Wrap(fmt.Errorf("%w: %d", common.ErrInvalidTokenType, t))
	}

	if err := v.state.AddHeld(t, amount); err != nil {
		return common.Wrap(err)
	}
	stats, err := v.state.GetStats()
	if err != nil {
		return common.Wrap(err)
	}
	total := stats.TotalDeposited(t)
	total.Add(total, amount)
	return common.Wrap(v.state.SetStats(stats))
}

// AddDeposit collects amount of the asset from addr and adds it to its
// deposit
func (v *Vault) AddDeposit(ctx context.Context, t common.TokenType, addr ethCommon.Address,
	amount *big.Int, fundingTx ethCommon.Hash) (*common.Account, error) {
	account, err := v.state.GetAccount(addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if err := v.Collect(ctx, t, addr, amount, fundingTx); err != nil {
		return nil, common.Wrap(err)
	}
	deposit := account.Deposit(t)
	deposit.Add(deposit, amount)
	if _, err := v.state.UpdateAccount(account); err != nil {
		return nil, common.Wrap(err)
	}
	log.Debugw("vault: deposit added", "addr", addr.Hex(), "token", t, "amount", amount)
	return account, nil
}

// WithdrawDeposit removes amount from the deposit of the asset of addr and
// pays it out to addr.  Fails with common.ErrPendingBalanceExists while the
// spendable balance of the same asset is not zero, whatever the amount.
func (v *Vault) WithdrawDeposit(ctx context.Context, t common.TokenType, addr ethCommon.Address,
	amount *big.Int) (*common.Account, error) {
	if !t.Valid() {
		return nil, common.Wrap(fmt.Errorf("%w: %d", common.ErrInvalidTokenType, t))
	}
	if err := checkAmount(amount); err != nil {
		return nil, common.Wrap(err)
	}
	account, err := v.state.GetAccount(addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if account.Balance(t).Sign() != 0 {
		return nil, common.Wrap(fmt.Errorf("%w: %s balance %s",
			common.ErrPendingBalanceExists, t, account.Balance(t)))
	}
	deposit := account.Deposit(t)
	if deposit.Cmp(amount) < 0 {
		return nil, common.Wrap(fmt.Errorf("%w: %s deposit %s, amount %s",
			common.ErrInsufficientDepositBalance, t, deposit, amount))
	}
	var token ethCommon.Address
	if t == common.TokenPYUSD {
		if token, err = v.pyusdToken(); err != nil {
			return nil, common.Wrap(err)
		}
	}
	if err := v.release(t, amount); err != nil {
		return nil, common.Wrap(err)
	}
	deposit.Sub(deposit, amount)
	if _, err := v.state.UpdateAccount(account); err != nil {
		return nil, common.Wrap(err)
	}

	// payout is the last step, a failure leaves the writes above to be
	// discarded by the caller
	if t == common.TokenPYUSD {
		err = v.token.Transfer(ctx, token, addr, amount)
	} else {
		err = v.native.Send(ctx, addr, amount)
	}
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("payout of %s %s to %s: %w", amount, t, addr.Hex(), err))
	}
	log.Debugw("vault: deposit withdrawn", "addr", addr.Hex(), "token", t, "amount", amount)
	return account, nil
}

// PromoteToBalance moves amount of the asset from the deposit of addr to
// its spendable balance
func (v *Vault) PromoteToBalance(t common.TokenType, addr ethCommon.Address,
	amount *big.Int) (*common.Account, error) {
	if !t.Valid() {
		return nil, common.Wrap(fmt.Errorf("%w: %d", common.ErrInvalidTokenType, t))
	}
	if err := checkAmount(amount); err != nil {
		return nil, common.Wrap(err)
	}
	account, err := v.state.GetAccount(addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	deposit := account.Deposit(t)
	if deposit.Cmp(amount) < 0 {
		return nil, common.Wrap(fmt.Errorf("%w: %s deposit %s, amount %s",
			common.ErrInsufficientDepositBalance, t, deposit, amount))
	}
	deposit.Sub(deposit, amount)
	balance := account.Balance(t)
	balance.Add(balance, amount)
	if _, err := v.state.UpdateAccount(account); err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// DebitFee subtracts fee from the FLOW deposit of account.  Unlike
// WithdrawDeposit it does not check the spendable balance, and it only
// changes the given account: storing it is up to the caller.  The fee stays
// in custody.
func (v *Vault) DebitFee(account *common.Account, fee *big.Int) error {
	if fee.Sign() < 0 {
		return common.Wrap(fmt.Errorf("%w: fee %s", common.ErrInvalidAmount, fee))
	}
	if account.FlowDeposit.Cmp(fee) < 0 {
		return common.Wrap(fmt.Errorf("%w: FLOW deposit %s, fee %s",
			common.ErrInsufficientDepositBalance, account.FlowDeposit, fee))
	}
	account.FlowDeposit.Sub(account.FlowDeposit, fee)
	return nil
}

// release subtracts amount from the held amount of the asset
func (v *Vault) release(t common.TokenType, amount *big.Int) error {
	held, err := v.state.GetHeld(t)
	if err != nil {
		return common.Wrap(err)
	}
	if held.Cmp(amount) < 0 {
		return common.Wrap(fmt.Errorf("%w: %s held %s, amount %s",
			common.ErrInsufficientCustody, t, held, amount))
	}
	return common.Wrap(v.state.SetHeld(t, held.Sub(held, amount)))
}

// Held returns the amount of the asset held by the vault
func (v *Vault) Held(t common.TokenType) (*big.Int, error) {
	return v.state.GetHeld(t)
}

// Sweep sends the FLOW held by the vault to `to`, leaving the accounts
// untouched, and returns the amount sent.  Only the tracked amount is swept:
// FLOW sent to the custody address without a deposit stays there.  When the
// custody balance is below the tracked amount, because of the gas paid by
// the payouts, the whole custody balance is sent and the held amount is
// reset anyway.
func (v *Vault) Sweep(ctx context.Context, to ethCommon.Address) (*big.Int, error) {
	held, err := v.state.GetHeld(common.TokenFLOW)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if held.Sign() == 0 {
		return held, nil
	}
	balance, err := v.native.Balance(ctx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	amount := held
	if balance.Cmp(held) < 0 {
		log.Warnw("Vault: custody balance below the held FLOW", "held", held, "balance", balance)
		amount = balance
	}
	if err := v.state.SetHeld(common.TokenFLOW, big.NewInt(0)); err != nil {
		return nil, common.Wrap(err)
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := v.native.Send(ctx, to, amount); err != nil {
		return nil, common.Wrap(fmt.Errorf("sweep of %s FLOW to %s: %w", amount, to.Hex(), err))
	}
	return amount, nil
}
