package eth

import (
	"offgridpay/common"
	"offgridpay/etherscan"

	"github.com/ethereum/go-ethereum/accounts"
	ethKeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is used to interact with Ethereum: it verifies and pays the native
// asset and moves the ERC20 token, both from the custody account.
type Client struct {
	EthereumClient
	Native *NativeClient
	ERC20  *ERC20Client
}

// ClientConfig is the configuration of the Client
type ClientConfig struct {
	Ethereum EthereumConfig
	// GasOracle is optional, see EthereumClient.SetGasOracle
	GasOracle etherscan.Client
}

// NewClient creates a new Client to interact with Ethereum.  account is the
// custody account and must be unlocked in ks.
func NewClient(client *ethclient.Client, account *accounts.Account, ks *ethKeystore.KeyStore,
	cfg *ClientConfig) (*Client, error) {
	ethereumClient, err := NewEthereumClient(client, account, ks, &cfg.Ethereum)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if cfg.GasOracle != nil {
		ethereumClient.SetGasOracle(cfg.GasOracle)
	}
	return &Client{
		EthereumClient: *ethereumClient,
		Native:         NewNativeClient(ethereumClient),
		ERC20:          NewERC20Client(ethereumClient),
	}, nil
}
