package eth

import (
	"context"
	"fmt"
	"math/big"

	"offgridpay/common"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// nativeTransferGas is the gas of a plain value transfer
const nativeTransferGas = 21000

// NativeClient verifies the funding transactions sent to the custody account
// and pays the native asset out of it.  The custody account is the account
// of the EthereumClient.
type NativeClient struct {
	client *EthereumClient
}

// NewNativeClient returns a new NativeClient
func NewNativeClient(client *EthereumClient) *NativeClient {
	return &NativeClient{client: client}
}

func invalidFunding(fundingTx ethCommon.Hash, format string, args ...interface{}) error {
	return common.Wrap(fmt.Errorf("%w: %s: %s", common.ErrInvalidFunding, fundingTx.Hex(),
		fmt.Sprintf(format, args...)))
}

// Collect checks that fundingTx is a mined and successful transaction that
// sent exactly amount from `from` to the custody account.
func (c *NativeClient) Collect(ctx context.Context, fundingTx ethCommon.Hash, from ethCommon.Address,
	amount *big.Int) error {
	if fundingTx == (ethCommon.Hash{}) {
		return common.Wrap(fmt.Errorf("%w: funding transaction required", common.ErrInvalidFunding))
	}
	custody, err := c.client.EthAddress()
	if err != nil {
		return common.Wrap(err)
	}
	tx, pending, err := c.client.Client().TransactionByHash(ctx, fundingTx)
	if err != nil {
		return invalidFunding(fundingTx, "%v", err)
	}
	if pending {
		return invalidFunding(fundingTx, "pending")
	}
	receipt, err := c.client.EthTransactionReceipt(ctx, fundingTx)
	if err != nil {
		return invalidFunding(fundingTx, "receipt: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return invalidFunding(fundingTx, "reverted")
	}
	if tx.To() == nil || *tx.To() != *custody {
		return invalidFunding(fundingTx, "not sent to the custody address %s", custody.Hex())
	}
	if tx.Value().Cmp(amount) != 0 {
		return invalidFunding(fundingTx, "value %s, expected %s", tx.Value(), amount)
	}
	chainID, err := c.client.EthChainID()
	if err != nil {
		return common.Wrap(err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return invalidFunding(fundingTx, "sender: %v", err)
	}
	if sender != from {
		return invalidFunding(fundingTx, "sent by %s, expected %s", sender.Hex(), from.Hex())
	}
	return nil
}

// Send pays amount from the custody account to `to` and waits until the
// transaction is mined
func (c *NativeClient) Send(ctx context.Context, to ethCommon.Address, amount *big.Int) error {
	custody, err := c.client.EthAddress()
	if err != nil {
		return common.Wrap(err)
	}
	nonce, err := c.client.EthPendingNonceAt(ctx, *custody)
	if err != nil {
		return common.Wrap(err)
	}
	gasPrice, err := c.client.EthSuggestGasPrice(ctx)
	if err != nil {
		return common.Wrap(err)
	}
	chainID, err := c.client.EthChainID()
	if err != nil {
		return common.Wrap(err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      nativeTransferGas,
		GasPrice: gasPrice,
	})
	signed, err := c.client.EthKeyStore().SignTx(*c.client.account, tx, chainID)
	if err != nil {
		return common.Wrap(err)
	}
	if err := c.client.Client().SendTransaction(ctx, signed); err != nil {
		return common.Wrap(err)
	}
	receipt, err := c.client.EthWaitReceipt(ctx, signed)
	if err != nil {
		return common.Wrap(err)
	}
	log.Debugw("NativeClient: payout mined", "to", to.Hex(), "amount", amount,
		"tx", signed.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}

// Balance returns the native balance of the custody account
func (c *NativeClient) Balance(ctx context.Context) (*big.Int, error) {
	custody, err := c.client.EthAddress()
	if err != nil {
		return nil, common.Wrap(err)
	}
	return c.client.EthBalance(ctx, *custody)
}
