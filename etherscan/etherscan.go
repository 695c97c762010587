/*
Package etherscan queries the gas oracle of an etherscan compatible
explorer, used as the gas price source of the payouts when configured.
*/
package etherscan

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"offgridpay/common"

	"github.com/dghubble/sling"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxIdleConns    = 10
	defaultIdleConnTimeout = 2 * time.Second
	// statusOK is the status of a successful etherscan response
	statusOK = "1"
	// gweiDecimals are the decimals of a gwei amount in wei
	gweiDecimals = 9
)

type etherscanResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Result  GasPriceEtherscan `json:"result"`
}

// GasPriceEtherscan definition
type GasPriceEtherscan struct {
	LastBlock       string `json:"LastBlock"`
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

// ProposeWei returns the proposed gas price in wei.  The oracle gives it in
// gwei, possibly with decimals.
func (g *GasPriceEtherscan) ProposeWei() (*big.Int, error) {
	d, err := decimal.NewFromString(g.ProposeGasPrice)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("invalid ProposeGasPrice %q: %w", g.ProposeGasPrice, err))
	}
	return d.Shift(gweiDecimals).Truncate(0).BigInt(), nil
}

// Service definition
type Service struct {
	clientEtherscan *sling.Sling
	apiKey          string
}

// Client is the interface to the gas oracle
type Client interface {
	// Blocking.  Returns the gas price.
	GetGasPrice(ctx context.Context) (*GasPriceEtherscan, error)
}

// NewEtherscanService is the constructor that creates an etherscanService
func NewEtherscanService(etherscanURL string, apikey string) (*Service, error) {
	// Init
	tr := &http.Transport{
		MaxIdleConns:       defaultMaxIdleConns,
		IdleConnTimeout:    defaultIdleConnTimeout,
		DisableCompression: true,
	}
	httpClient := &http.Client{Transport: tr}
	return &Service{
		clientEtherscan: sling.New().Base(etherscanURL).Client(httpClient),
		apiKey:          apikey,
	}, nil
}

type gasOracleParams struct {
	Module string `url:"module"`
	Action string `url:"action"`
	APIKey string `url:"apikey,omitempty"`
}

// GetGasPrice retrieves the gas price estimation from etherscan
func (s *Service) GetGasPrice(ctx context.Context) (*GasPriceEtherscan, error) {
	var resBody etherscanResponse
	req, err := s.clientEtherscan.New().Get("api").QueryStruct(&gasOracleParams{
		Module: "gastracker",
		Action: "gasoracle",
		APIKey: s.apiKey,
	}).Request()
	if err != nil {
		return nil, common.Wrap(err)
	}
	res, err := s.clientEtherscan.Do(req.WithContext(ctx), &resBody, nil)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, common.Wrap(fmt.Errorf("http response is not 200: %d", res.StatusCode))
	}
	if resBody.Status != statusOK {
		return nil, common.Wrap(fmt.Errorf("etherscan error: %s", resBody.Message))
	}
	return &resBody.Result, nil
}
