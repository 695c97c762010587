package test

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"offgridpay/common"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/copystructure"
)

func init() {
	log.Init("debug", []string{"stdout"})
	copystructure.Copiers[reflect.TypeOf(big.Int{})] =
		func(raw interface{}) (interface{}, error) {
			in := raw.(big.Int)
			out := new(big.Int).Set(&in)
			return *out, nil
		}
}

// ERC20State is the state of a token contract of the test Client
type ERC20State struct {
	Balances   map[ethCommon.Address]*big.Int
	Allowances map[ethCommon.Address]map[ethCommon.Address]*big.Int
}

func newERC20State() *ERC20State {
	return &ERC20State{
		Balances:   make(map[ethCommon.Address]*big.Int),
		Allowances: make(map[ethCommon.Address]map[ethCommon.Address]*big.Int),
	}
}

// Funding is a native transfer to the custody address
type Funding struct {
	From   ethCommon.Address
	Amount *big.Int
}

// ChainState is the state of the ledger simulated by the test Client
type ChainState struct {
	Native   map[ethCommon.Address]*big.Int
	Tokens   map[ethCommon.Address]*ERC20State
	Fundings map[ethCommon.Hash]*Funding
}

func (s *ChainState) copy() *ChainState {
	cpy, err := copystructure.Copy(s)
	if err != nil {
		panic(err)
	}
	return cpy.(*ChainState)
}

type hasher struct {
	counter uint64
}

// Next returns the next hash
func (h *hasher) Next() ethCommon.Hash {
	h.counter++
	var hash ethCommon.Hash
	binary.LittleEndian.PutUint64(hash[:], h.counter)
	return hash
}

// Client implements the vault.Token and vault.Native interfaces over an in
// memory ledger, allowing to manipulate the values for testing, working
// with deterministic results.
type Client struct {
	rw      *sync.RWMutex
	log     bool
	custody ethCommon.Address
	state   *ChainState
	hasher  hasher
	sendErr error
}

// NewClient returns a new test Client whose custody address is custody
func NewClient(l bool, custody ethCommon.Address) *Client {
	return &Client{
		rw:      &sync.RWMutex{},
		log:     l,
		custody: custody,
		state: &ChainState{
			Native:   make(map[ethCommon.Address]*big.Int),
			Tokens:   make(map[ethCommon.Address]*ERC20State),
			Fundings: make(map[ethCommon.Hash]*Funding),
		},
	}
}

// Debugw calls log.Debugw if c.log is true
func (c *Client) Debugw(template string, kv ...interface{}) {
	if c.log {
		log.Debugw(template, kv...)
	}
}

//
// Mock Control
//

// CtlAddERC20 deploys a token at tokenAddr
func (c *Client) CtlAddERC20(tokenAddr ethCommon.Address) {
	c.rw.Lock()
	defer c.rw.Unlock()

	c.state.Tokens[tokenAddr] = newERC20State()
}

// CtlMint credits amount of token to `to`
func (c *Client) CtlMint(tokenAddr, to ethCommon.Address, amount *big.Int) {
	c.rw.Lock()
	defer c.rw.Unlock()

	token, ok := c.state.Tokens[tokenAddr]
	if !ok {
		panic(fmt.Sprintf("token %s not deployed", tokenAddr.Hex()))
	}
	addTo(token.Balances, to, amount)
}

// CtlApprove sets the allowance of spender over the tokens of owner
func (c *Client) CtlApprove(tokenAddr, owner, spender ethCommon.Address, amount *big.Int) {
	c.rw.Lock()
	defer c.rw.Unlock()

	token, ok := c.state.Tokens[tokenAddr]
	if !ok {
		panic(fmt.Sprintf("token %s not deployed", tokenAddr.Hex()))
	}
	if token.Allowances[owner] == nil {
		token.Allowances[owner] = make(map[ethCommon.Address]*big.Int)
	}
	token.Allowances[owner][spender] = new(big.Int).Set(amount)
}

// CtlFund simulates a native transfer of amount from `from` to the custody
// address, returning the hash of the transfer
func (c *Client) CtlFund(from ethCommon.Address, amount *big.Int) ethCommon.Hash {
	c.rw.Lock()
	defer c.rw.Unlock()

	h := c.hasher.Next()
	c.state.Fundings[h] = &Funding{From: from, Amount: new(big.Int).Set(amount)}
	addTo(c.state.Native, c.custody, amount)
	c.Debugw("TestClient funding", "hash", h.Hex(), "from", from.Hex(), "amount", amount)
	return h
}

// CtlSpendGas takes amount from the native balance of the custody address,
// as the gas of its transactions would
func (c *Client) CtlSpendGas(amount *big.Int) {
	c.rw.Lock()
	defer c.rw.Unlock()

	if err := move(c.state.Native, c.custody, ethCommon.Address{}, amount); err != nil {
		panic(err)
	}
}

// CtlFailSends makes every following Send and Transfer fail with err, until
// called again with nil
func (c *Client) CtlFailSends(err error) {
	c.rw.Lock()
	defer c.rw.Unlock()

	c.sendErr = err
}

// CtlSnapshot returns a deep copy of the ledger
func (c *Client) CtlSnapshot() *ChainState {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return c.state.copy()
}

// CtlRestore replaces the ledger with a snapshot
func (c *Client) CtlRestore(s *ChainState) {
	c.rw.Lock()
	defer c.rw.Unlock()

	c.state = s.copy()
}

// NativeBalance returns the native balance of addr
func (c *Client) NativeBalance(addr ethCommon.Address) *big.Int {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return balanceOf(c.state.Native, addr)
}

func balanceOf(m map[ethCommon.Address]*big.Int, addr ethCommon.Address) *big.Int {
	if b, ok := m[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func addTo(m map[ethCommon.Address]*big.Int, addr ethCommon.Address, amount *big.Int) {
	m[addr] = new(big.Int).Add(balanceOf(m, addr), amount)
}

func move(m map[ethCommon.Address]*big.Int, from, to ethCommon.Address, amount *big.Int) error {
	balance := balanceOf(m, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance of %s: %s < %s", from.Hex(), balance, amount)
	}
	m[from] = balance.Sub(balance, amount)
	addTo(m, to, amount)
	return nil
}

//
// Token
//

func (c *Client) token(tokenAddr ethCommon.Address) (*ERC20State, error) {
	token, ok := c.state.Tokens[tokenAddr]
	if !ok {
		return nil, common.Wrap(fmt.Errorf("no contract at %s", tokenAddr.Hex()))
	}
	return token, nil
}

// TransferFrom moves amount of token from holder to `to` using the
// allowance given by holder to the custody address
func (c *Client) TransferFrom(ctx context.Context, tokenAddr, holder, to ethCommon.Address,
	amount *big.Int) error {
	c.rw.Lock()
	defer c.rw.Unlock()

	token, err := c.token(tokenAddr)
	if err != nil {
		return common.Wrap(err)
	}
	allowance := big.NewInt(0)
	if a, ok := token.Allowances[holder][c.custody]; ok {
		allowance = a
	}
	if allowance.Cmp(amount) < 0 {
		return common.Wrap(fmt.Errorf("%w: %s < %s", common.ErrInsufficientAllowance, allowance, amount))
	}
	if err := move(token.Balances, holder, to, amount); err != nil {
		return common.Wrap(err)
	}
	token.Allowances[holder][c.custody] = new(big.Int).Sub(allowance, amount)
	c.Debugw("TestClient transferFrom", "token", tokenAddr.Hex(), "holder", holder.Hex(),
		"to", to.Hex(), "amount", amount)
	return nil
}

// Transfer moves amount of token from the custody address to `to`
func (c *Client) Transfer(ctx context.Context, tokenAddr, to ethCommon.Address, amount *big.Int) error {
	c.rw.Lock()
	defer c.rw.Unlock()

	if c.sendErr != nil {
		return common.Wrap(c.sendErr)
	}
	token, err := c.token(tokenAddr)
	if err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(move(token.Balances, c.custody, to, amount))
}

// BalanceOf returns the token balance of holder
func (c *Client) BalanceOf(ctx context.Context, tokenAddr, holder ethCommon.Address) (*big.Int, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	token, err := c.token(tokenAddr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return balanceOf(token.Balances, holder), nil
}

//
// Native
//

// Collect checks that fundingTx is a funding of amount from `from` made
// with CtlFund.  The empty hash stands for a value attached to the call,
// which is credited to the custody address directly.
func (c *Client) Collect(ctx context.Context, fundingTx ethCommon.Hash, from ethCommon.Address,
	amount *big.Int) error {
	c.rw.Lock()
	defer c.rw.Unlock()

	if fundingTx == (ethCommon.Hash{}) {
		addTo(c.state.Native, c.custody, amount)
		return nil
	}
	f, ok := c.state.Fundings[fundingTx]
	if !ok {
		return common.Wrap(fmt.Errorf("%w: %s not found", common.ErrInvalidFunding, fundingTx.Hex()))
	}
	if f.From != from || f.Amount.Cmp(amount) != 0 {
		return common.Wrap(fmt.Errorf("%w: %s moved %s from %s",
			common.ErrInvalidFunding, fundingTx.Hex(), f.Amount, f.From.Hex()))
	}
	return nil
}

// Balance returns the native balance of the custody address
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()

	return balanceOf(c.state.Native, c.custody), nil
}

// Send pays amount from the custody address to `to`
func (c *Client) Send(ctx context.Context, to ethCommon.Address, amount *big.Int) error {
	c.rw.Lock()
	defer c.rw.Unlock()

	if c.sendErr != nil {
		return common.Wrap(c.sendErr)
	}
	if err := move(c.state.Native, c.custody, to, amount); err != nil {
		return common.Wrap(err)
	}
	c.Debugw("TestClient send", "to", to.Hex(), "amount", amount)
	return nil
}
