/*
Package config loads the configuration of the settlement node.  The values
are read from the embedded defaults, then from the TOML file and finally
from the environment (after loading the .env file next to the TOML file,
if any).
*/
package config

import (
	"fmt"
	"math/big"
	"path/filepath"
	"time"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator"
)

// Duration is a wrapper type that parses time duration from text.
type Duration struct {
	time.Duration `validate:"required"`
}

// UnmarshalText unmarshalls time duration from text.
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return common.Wrap(err)
	}
	d.Duration = duration
	return nil
}

// BigInt is a wrapper type that parses a decimal *big.Int from text
type BigInt struct {
	*big.Int
}

// UnmarshalText unmarshalls a decimal big.Int from text
func (b *BigInt) UnmarshalText(data []byte) error {
	n, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return common.Wrap(fmt.Errorf("invalid big.Int %q", string(data)))
	}
	b.Int = n
	return nil
}

// DefaultValues is the default configuration of the node
const DefaultValues = `
[Log]
Level = "info"
Out = ["stdout"]

[StateDB]
Path = "/var/offgridpay/statedb"
Keep = 256

[PostgreSQL]
PortWrite = 5432
HostWrite = "localhost"
UserWrite = "offgridpay"
NameWrite = "offgridpay"

[API]
Address = "localhost:8086"
MaxSQLConnections = 100
SQLConnectionTimeout = "2s"
ReadTimeout = "30s"
WriteTimeout = "30s"
MaxTxsPerRequest = 1000
AllowedOrigins = []

[Web3]
URL = "http://localhost:8545"
CallGasLimit = 300000
GasPriceDiv = 100
ReceiptTimeout = "60s"
ReceiptLoopInterval = "500ms"

[Web3.Keystore]
Path = "/var/offgridpay/keystore"

[Engine]
CallTimeout = "30s"
MaxBatchSize = 100

[Debug]
LightScrypt = false
MeddlerLogs = false
`

// PostgreSQL is the configuration of the commit log database.  When HostRead
// is empty the write connection is used for reads too.
type PostgreSQL struct {
	// Port of the PostgreSQL write server
	PortWrite int `validate:"required" env:"OFFGRIDPAY_POSTGRESQL_PORTWRITE"`
	// Host of the PostgreSQL write server
	HostWrite string `validate:"required" env:"OFFGRIDPAY_POSTGRESQL_HOSTWRITE"`
	// User of the PostgreSQL write server
	UserWrite string `validate:"required" env:"OFFGRIDPAY_POSTGRESQL_USERWRITE"`
	// Password of the PostgreSQL write server
	PasswordWrite string `validate:"required" env:"OFFGRIDPAY_POSTGRESQL_PASSWORDWRITE"`
	// Name of the PostgreSQL write server database
	NameWrite string `validate:"required" env:"OFFGRIDPAY_POSTGRESQL_NAMEWRITE"`
	// Port of the PostgreSQL read server
	PortRead int `env:"OFFGRIDPAY_POSTGRESQL_PORTREAD"`
	// Host of the PostgreSQL read server
	HostRead string `env:"OFFGRIDPAY_POSTGRESQL_HOSTREAD"`
	// User of the PostgreSQL read server
	UserRead string `env:"OFFGRIDPAY_POSTGRESQL_USERREAD"`
	// Password of the PostgreSQL read server
	PasswordRead string `env:"OFFGRIDPAY_POSTGRESQL_PASSWORDREAD"`
	// Name of the PostgreSQL read server database
	NameRead string `env:"OFFGRIDPAY_POSTGRESQL_NAMEREAD"`
}

// Node is the configuration of the settlement node
type Node struct {
	Log struct {
		// Level is the log level: debug, info, warn or error
		Level string `validate:"required" env:"OFFGRIDPAY_LOG_LEVEL"`
		// Out are the log outputs: "stdout", "stderr" or file paths
		Out []string `validate:"required" env:"OFFGRIDPAY_LOG_OUT" envSeparator:","`
	}
	StateDB struct {
		// Path where the ledger checkpoints are stored
		Path string `validate:"required" env:"OFFGRIDPAY_STATEDB_PATH"`
		// Keep is the number of checkpoints to keep
		Keep int `validate:"required" env:"OFFGRIDPAY_STATEDB_KEEP"`
	}
	PostgreSQL PostgreSQL
	API        struct {
		// Address where the API will listen
		Address string `validate:"required" env:"OFFGRIDPAY_API_ADDRESS"`
		// MaxSQLConnections is the maximum number of concurrent SQL
		// connections used by the API queries
		MaxSQLConnections int `validate:"required"`
		// SQLConnectionTimeout is the maximum time the API waits for a
		// free SQL connection
		SQLConnectionTimeout Duration
		// ReadTimeout of the http server
		ReadTimeout Duration
		// WriteTimeout of the http server
		WriteTimeout Duration
		// MaxTxsPerRequest is the maximum number of offline txs of a
		// request to the API
		MaxTxsPerRequest int `validate:"required"`
		// AllowedOrigins are the origins allowed by CORS, every origin
		// when empty
		AllowedOrigins []string `env:"OFFGRIDPAY_API_ALLOWEDORIGINS" envSeparator:","`
	}
	Web3 struct {
		// URL is the URL of the web3 ethereum-node RPC server
		URL string `validate:"required" env:"OFFGRIDPAY_WEB3_URL"`
		// Custody is the address of the account that holds the funds.
		// Its key must be in the keystore.
		Custody ethCommon.Address `validate:"required" env:"OFFGRIDPAY_WEB3_CUSTODY"`
		// CallGasLimit is the gas limit of the token transactions
		CallGasLimit uint64 `validate:"required"`
		// GasPriceDiv sets the increase of the suggested gas price, as
		// gasPrice / GasPriceDiv
		GasPriceDiv uint64
		// ReceiptTimeout is the time to wait for a transaction receipt
		ReceiptTimeout Duration
		// ReceiptLoopInterval is the time between receipt queries
		ReceiptLoopInterval Duration
		Keystore            struct {
			// Path to the keystore
			Path string `validate:"required" env:"OFFGRIDPAY_WEB3_KEYSTORE_PATH"`
			// Password used to decrypt the key of the custody account
			Password string `validate:"required" env:"OFFGRIDPAY_WEB3_KEYSTORE_PASSWORD"`
		}
		// Etherscan is the optional gas oracle used for the payouts.  If
		// URL is empty the gas price is taken from the ethereum node.
		Etherscan struct {
			URL    string `env:"OFFGRIDPAY_WEB3_ETHERSCAN_URL"`
			APIKey string `env:"OFFGRIDPAY_WEB3_ETHERSCAN_APIKEY"`
		}
	}
	Engine struct {
		// Owner is the address allowed to call the owner operations
		Owner ethCommon.Address `validate:"required" env:"OFFGRIDPAY_ENGINE_OWNER"`
		// PyusdToken is the address of the PYUSD token contract.  If
		// set, it is applied at startup when the ledger has no token.
		PyusdToken ethCommon.Address `env:"OFFGRIDPAY_ENGINE_PYUSDTOKEN"`
		// CallTimeout is the timeout of the calls to the chain done
		// while holding the ledger
		CallTimeout Duration
		// MaxBatchSize is the maximum number of txs of a batch
		MaxBatchSize int `validate:"required"`
		// MinimumCustodyBalance is the minimum native balance of the
		// custody account to start
		MinimumCustodyBalance *BigInt
	}
	Debug struct {
		// APIAddress is the address where the debugAPI will listen if
		// set
		APIAddress string
		// BatchPath if set, specifies the path where batchInfo is stored
		// in JSON in every step/update of the pipeline
		BatchPath string
		// LightScrypt if set, uses light parameters for the ethereum
		// keystore encryption algorithm.
		LightScrypt bool
		// MeddlerLogs enables meddler debug mode, where unused columns and struct
		// fields will be logged
		MeddlerLogs bool
	}
}

// LoadNode loads the Node configuration from path.  A .env file next to
// path, if present, is loaded into the environment before parsing it.
func LoadNode(path string) (*Node, error) {
	var cfg Node
	dotenvPath := ""
	if path != "" {
		dotenvPath = filepath.Join(filepath.Dir(path), ".env")
	}
	if err := LoadConfig(path, dotenvPath, DefaultValues, &cfg); err != nil {
		return nil, common.Wrap(err)
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error validating configuration file: %w", err))
	}
	return &cfg, nil
}

// LoadDB loads only the PostgreSQL configuration, used by the commands that
// just need the database
func LoadDB(path string) (*PostgreSQL, error) {
	var cfg struct {
		PostgreSQL PostgreSQL
	}
	dotenvPath := ""
	if path != "" {
		dotenvPath = filepath.Join(filepath.Dir(path), ".env")
	}
	if err := LoadConfig(path, dotenvPath, DefaultValues, &cfg); err != nil {
		return nil, common.Wrap(err)
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error validating configuration file: %w", err))
	}
	return &cfg.PostgreSQL, nil
}
