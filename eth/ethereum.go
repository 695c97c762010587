package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"offgridpay/common"
	"offgridpay/etherscan"
	"offgridpay/log"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethKeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrAccountNil is used when the calls can not be made because the account is nil
	ErrAccountNil = fmt.Errorf("authorized calls can't be made when the account is nil")
	// ErrReceiptNotReceived is used when the receipt of a sent transaction
	// is not received before the timeout
	ErrReceiptNotReceived = fmt.Errorf("receipt not received")
)

// ERC20Consts are the constants defined in a particular ERC20 Token instance
type ERC20Consts struct {
	Symbol   string
	Decimals uint64
}

// EthereumConfig defines the configuration parameters of the EthereumClient
type EthereumConfig struct {
	CallGasLimit uint64
	GasPriceDiv  uint64
	// ReceiptTimeout is the time to wait for the receipt of a sent
	// transaction
	ReceiptTimeout time.Duration
	// ReceiptLoopInterval is the interval between receipt queries
	ReceiptLoopInterval time.Duration
}

// EthereumClient is an ethereum client to call Smart Contract methods and check blockchain
// information.
type EthereumClient struct {
	client  *ethclient.Client
	chainID *big.Int
	account *accounts.Account
	ks      *ethKeystore.KeyStore
	config  *EthereumConfig
	// gasOracle if set is the first source of the gas price
	gasOracle etherscan.Client
}

// EthereumInterface is the interface to Ethereum
type EthereumInterface interface {
	EthLastBlock() (int64, error)
	EthAddress() (*ethCommon.Address, error)
	EthTransactionReceipt(context.Context, ethCommon.Hash) (*types.Receipt, error)
	EthChainID() (*big.Int, error)
	EthBalance(ctx context.Context, addr ethCommon.Address) (*big.Int, error)
	EthPendingNonceAt(ctx context.Context, account ethCommon.Address) (uint64, error)
	EthSuggestGasPrice(ctx context.Context) (*big.Int, error)
	EthKeyStore() *ethKeystore.KeyStore
	EthCall(ctx context.Context, tx *types.Transaction, blockNum *big.Int) ([]byte, error)
}

// NewEthereumClient creates a EthereumClient instance.  The account is not
// necessary (can be nil) if the calls to the client are read only.
func NewEthereumClient(client *ethclient.Client, account *accounts.Account,
	ks *ethKeystore.KeyStore, config *EthereumConfig) (*EthereumClient, error) {
	if config == nil {
		config = &EthereumConfig{
			CallGasLimit: 300000, //nolint:gomnd
			GasPriceDiv:  100,    //nolint:gomnd
		}
	}
	if config.ReceiptTimeout == 0 {
		config.ReceiptTimeout = 60 * time.Second //nolint:gomnd
	}
	if config.ReceiptLoopInterval == 0 {
		config.ReceiptLoopInterval = 500 * time.Millisecond //nolint:gomnd
	}
	c := &EthereumClient{
		client:  client,
		account: account,
		ks:      ks,
		config:  config,
	}
	chainID, err := c.EthChainID()
	if err != nil {
		return nil, common.Wrap(err)
	}
	c.chainID = chainID
	return c, nil
}

// EthLastBlock returns the last block number in the blockchain
func (c *EthereumClient) EthLastBlock() (int64, error) {
	ctx, cancel := context.WithTimeout(context.TODO(), 1*time.Second)
	defer cancel()
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, common.Wrap(err)
	}
	return header.Number.Int64(), nil
}

// EthAddress returns the ethereum address of the account loaded into the EthereumClient
func (c *EthereumClient) EthAddress() (*ethCommon.Address, error) {
	if c.account == nil {
		return nil, common.Wrap(ErrAccountNil)
	}
	return &c.account.Address, nil
}

// EthTransactionReceipt returns the transaction receipt of the given txHash
func (c *EthereumClient) EthTransactionReceipt(ctx context.Context,
	txHash ethCommon.Hash) (*types.Receipt, error) {
	return c.client.TransactionReceipt(ctx, txHash)
}

// EthChainID returns the ChainID of the ethereum network
func (c *EthereumClient) EthChainID() (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}
	chainID, err := c.client.ChainID(context.Background())
	if err != nil {
		return nil, common.Wrap(err)
	}
	return chainID, nil
}

// EthBalance returns the native balance of addr at the latest block
func (c *EthereumClient) EthBalance(ctx context.Context, addr ethCommon.Address) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return balance, nil
}

// EthPendingNonceAt returns the account nonce of the given account in the pending
// state. This is the nonce that should be used for the next transaction.
func (c *EthereumClient) EthPendingNonceAt(ctx context.Context,
	account ethCommon.Address) (uint64, error) {
	return c.client.PendingNonceAt(ctx, account)
}

// SetGasOracle sets the gas oracle queried before the ethereum node for the
// gas price
func (c *EthereumClient) SetGasOracle(oracle etherscan.Client) {
	c.gasOracle = oracle
}

// EthSuggestGasPrice retrieves the currently suggested gas price to allow a
// timely execution of a transaction.  The gas oracle is used when set,
// falling back to the ethereum node when it fails.
func (c *EthereumClient) EthSuggestGasPrice(ctx context.Context) (gasPrice *big.Int, err error) {
	if c.gasOracle != nil {
		if gasPrice, err = c.oracleGasPrice(ctx); err == nil {
			return gasPrice, nil
		}
		log.Warnw("EthSuggestGasPrice: gas oracle failed, using the node", "err", err)
	}
	var head *types.Header
	head, err = c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		err = fmt.Errorf("[EthSuggestGasPrice]. Error getting head: %s", err.Error())
		return
	}
	var tip *big.Int
	tip, err = c.client.SuggestGasTipCap(ctx)
	if err != nil {
		err = fmt.Errorf("[EthSuggestGasPrice]. Error getting tip: %s", err.Error())
		return
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	gasPrice = new(big.Int).Add(baseFee, tip)
	if c.config.GasPriceDiv > 0 {
		// increase the price by 1/GasPriceDiv so it stays above the base
		// fee of the next blocks
		inc := new(big.Int).Div(gasPrice, new(big.Int).SetUint64(c.config.GasPriceDiv))
		gasPrice.Add(gasPrice, inc)
	}
	log.Debugw("Suggested Gas Price:", "tip", tip, "baseFee", baseFee, "gasPrice", gasPrice)
	return
}

func (c *EthereumClient) oracleGasPrice(ctx context.Context) (*big.Int, error) {
	res, err := c.gasOracle.GetGasPrice(ctx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	gasPrice, err := res.ProposeWei()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if gasPrice.Sign() <= 0 {
		return nil, common.Wrap(fmt.Errorf("invalid gas price %s", gasPrice))
	}
	log.Debugw("Gas oracle price", "lastBlock", res.LastBlock, "gasPrice", gasPrice)
	return gasPrice, nil
}

// EthKeyStore returns the keystore in the EthereumClient
func (c *EthereumClient) EthKeyStore() *ethKeystore.KeyStore {
	return c.ks
}

// EthCall runs the transaction as a call (without paying) in the local node at
// blockNum.
func (c *EthereumClient) EthCall(ctx context.Context, tx *types.Transaction,
	blockNum *big.Int) ([]byte, error) {
	if c.account == nil {
		return nil, common.Wrap(ErrAccountNil)
	}
	msg := ethereum.CallMsg{
		From:     c.account.Address,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	result, err := c.client.CallContract(ctx, msg, blockNum)
	return result, common.Wrap(err)
}

// Client returns the underlying ethclient, used by the contract bindings
func (c *EthereumClient) Client() *ethclient.Client {
	return c.client
}

// CallAuth performs a Smart Contract method call that requires authorization.
// This call requires a valid account with Ether that can be spend during the
// call.
func (c *EthereumClient) CallAuth(ctx context.Context, gasLimit uint64,
	fn func(*ethclient.Client, *bind.TransactOpts) (*types.Transaction, error)) (*types.Transaction, error) {
	if c.account == nil {
		return nil, common.Wrap(ErrAccountNil)
	}
	gasPrice, err := c.EthSuggestGasPrice(ctx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	auth, err := bind.NewKeyStoreTransactorWithChainID(c.ks, *c.account, c.chainID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	auth.Context = ctx
	auth.Value = big.NewInt(0) // in wei
	if gasLimit == 0 {
		auth.GasLimit = c.config.CallGasLimit // in units
	} else {
		auth.GasLimit = gasLimit // in units
	}
	auth.GasPrice = gasPrice

	tx, err := fn(c.client, auth)
	if tx != nil {
		log.Debugw("Transaction", "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	}
	return tx, common.Wrap(err)
}

// EthWaitReceipt waits for the receipt of tx until the ReceiptTimeout and
// fails if the transaction was reverted
func (c *EthereumClient) EthWaitReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()
	for {
		receipt, err := c.client.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, common.Wrap(fmt.Errorf("tx %s reverted", tx.Hash().Hex()))
			}
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, common.Wrap(err)
		}
		select {
		case <-ctx.Done():
			return nil, common.Wrap(fmt.Errorf("%w: tx %s", ErrReceiptNotReceived, tx.Hash().Hex()))
		case <-time.After(c.config.ReceiptLoopInterval):
		}
	}
}

// newCallOpts returns a CallOpts to be used in ethereum calls with a non-zero
// From address.  This is a workaround for a bug in ethereumjs-vm that shows up
// in ganache: https://github.com/hermeznetwork/hermez-node/issues/317
func newCallOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{
		From:    ethCommon.HexToAddress("0x0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"),
		Context: ctx,
	}
}
