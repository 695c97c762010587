package eth

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"offgridpay/common"
	"offgridpay/eth/contracts/erc20"
	"offgridpay/log"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ERC20Client moves ERC20 tokens on behalf of the custody account of the
// EthereumClient.  The token contract is given in each call, and its binding
// is created on first use.
type ERC20Client struct {
	client   *EthereumClient
	mu       sync.Mutex
	bindings map[ethCommon.Address]*erc20.ERC20
}

// NewERC20Client returns a new ERC20Client
func NewERC20Client(client *EthereumClient) *ERC20Client {
	return &ERC20Client{
		client:   client,
		bindings: make(map[ethCommon.Address]*erc20.ERC20),
	}
}

func (c *ERC20Client) binding(token ethCommon.Address) (*erc20.ERC20, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bindings[token]; ok {
		return b, nil
	}
	b, err := erc20.NewERC20(token, c.client.Client())
	if err != nil {
		return nil, common.Wrap(err)
	}
	c.bindings[token] = b
	return b, nil
}

// Consts returns the symbol and decimals of the token
func (c *ERC20Client) Consts(ctx context.Context, token ethCommon.Address) (*ERC20Consts, error) {
	b, err := c.binding(token)
	if err != nil {
		return nil, common.Wrap(err)
	}
	symbol, err := b.Symbol(newCallOpts(ctx))
	if err != nil {
		return nil, common.Wrap(err)
	}
	decimals, err := b.Decimals(newCallOpts(ctx))
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &ERC20Consts{Symbol: symbol, Decimals: uint64(decimals)}, nil
}

// BalanceOf returns the token balance of holder
func (c *ERC20Client) BalanceOf(ctx context.Context, token, holder ethCommon.Address) (*big.Int, error) {
	b, err := c.binding(token)
	if err != nil {
		return nil, common.Wrap(err)
	}
	balance, err := b.BalanceOf(newCallOpts(ctx), holder)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return balance, nil
}

// TransferFrom pulls amount of token from holder to `to`, using the allowance
// that holder gave to the custody account.  The allowance is checked before
// sending the transaction, so a missing approval fails with
// common.ErrInsufficientAllowance without spending gas.
func (c *ERC20Client) TransferFrom(ctx context.Context, token, holder, to ethCommon.Address,
	amount *big.Int) error {
	b, err := c.binding(token)
	if err != nil {
		return common.Wrap(err)
	}
	spender, err := c.client.EthAddress()
	if err != nil {
		return common.Wrap(err)
	}
	allowance, err := b.Allowance(newCallOpts(ctx), holder, *spender)
	if err != nil {
		return common.Wrap(err)
	}
	if allowance.Cmp(amount) < 0 {
		return common.Wrap(fmt.Errorf("%w: allowance %s, amount %s",
			common.ErrInsufficientAllowance, allowance, amount))
	}
	return common.Wrap(c.transact(ctx, "transferFrom",
		func(_ *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return b.TransferFrom(auth, holder, to, amount)
		}))
}

// Transfer sends amount of token from the custody account to `to`
func (c *ERC20Client) Transfer(ctx context.Context, token, to ethCommon.Address, amount *big.Int) error {
	b, err := c.binding(token)
	if err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(c.transact(ctx, "transfer",
		func(_ *ethclient.Client, auth *bind.TransactOpts) (*types.Transaction, error) {
			return b.Transfer(auth, to, amount)
		}))
}

func (c *ERC20Client) transact(ctx context.Context, method string,
	fn func(*ethclient.Client, *bind.TransactOpts) (*types.Transaction, error)) error {
	tx, err := c.client.CallAuth(ctx, 0, fn)
	if err != nil {
		return common.Wrap(fmt.Errorf("failed %s: %w", method, err))
	}
	receipt, err := c.client.EthWaitReceipt(ctx, tx)
	if err != nil {
		return common.Wrap(fmt.Errorf("failed %s: %w", method, err))
	}
	log.Debugw("ERC20Client: tx mined", "method", method, "tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)
	return nil
}
