/*
Package apiclient is a client of the HTTP API of the settlement node.  The
mutating requests are signed with the key of the client.
*/
package apiclient

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"offgridpay/common"

	"github.com/dghubble/sling"
	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	defaultMaxIdleConns    = 10
	defaultIdleConnTimeout = 2 * time.Second
)

// Response is the envelope of every API response
type Response struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// Error is a response of the API with a non 2xx status
type Error struct {
	Status  int
	Message string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Message, e.Detail)
}

// Account is an account as returned by the API
type Account struct {
	Idx          common.AccountIdx `json:"idx"`
	Address      ethCommon.Address `json:"address"`
	FlowBalance  string            `json:"flowBalance"`
	PyusdBalance string            `json:"pyusdBalance"`
	FlowDeposit  string            `json:"flowDeposit"`
	PyusdDeposit string            `json:"pyusdDeposit"`
	Nonce        common.Nonce      `json:"nonce"`
	IsActive     bool              `json:"isActive"`
	LastSyncTime int64             `json:"lastSyncTime"`
}

// SettledBatch is the result of a settled batch
type SettledBatch struct {
	BatchNum  common.BatchNum `json:"batchNum"`
	BatchID   string          `json:"batchId"`
	NumTxs    int             `json:"numTxs"`
	Fee       string          `json:"fee"`
	StateRoot string          `json:"stateRoot"`
	TxIDs     []common.TxID   `json:"transactionIds"`
}

// Stats are the counters of the node
type Stats struct {
	TotalUsers          uint64 `json:"totalUsers"`
	TotalTransactions   uint64 `json:"totalTransactions"`
	TotalFlowDeposited  string `json:"totalFlowDeposited"`
	TotalPyusdDeposited string `json:"totalPyusdDeposited"`
}

// Client of the API
type Client struct {
	client *sling.Sling
	base   *url.URL
	sk     *ecdsa.PrivateKey
	addr   ethCommon.Address
	now    func() time.Time
}

// NewClient returns a Client of the API at baseURL.  sk signs the mutating
// requests and can be nil for a read only client.
func NewClient(baseURL string, sk *ecdsa.PrivateKey) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = &url.URL{Path: "/"}
	}
	tr := &http.Transport{
		MaxIdleConns:    defaultMaxIdleConns,
		IdleConnTimeout: defaultIdleConnTimeout,
	}
	c := &Client{
		client: sling.New().Base(baseURL).Client(&http.Client{Transport: tr}),
		base:   base,
		sk:     sk,
		now:    time.Now,
	}
	if sk != nil {
		c.addr = ethCrypto.PubkeyToAddress(sk.PublicKey)
	}
	return c
}

// SetClock replaces the clock used to timestamp the requests
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// Address returns the address of the key of the client
func (c *Client) Address() ethCommon.Address {
	return c.addr
}

func (c *Client) do(s *sling.Sling, data interface{}) error {
	var res Response
	httpRes, err := s.Receive(&res, &res)
	if err != nil {
		return common.Wrap(err)
	}
	if httpRes.StatusCode < 200 || httpRes.StatusCode >= 300 {
		return common.Wrap(&Error{Status: httpRes.StatusCode, Message: res.Message,
			Detail: string(res.Error)})
	}
	if data == nil {
		return nil
	}
	return common.Wrap(json.Unmarshal(res.Data, data))
}

func (c *Client) get(path string, data interface{}) error {
	return c.do(c.client.New().Get(path), data)
}

// post sends body signed by the key of the client, adding the timestamp
func (c *Client) post(path string, body map[string]interface{}, data interface{}) error {
	if c.sk == nil {
		return common.Wrap(fmt.Errorf("read only client"))
	}
	body["timestamp"] = c.now().Unix()
	raw, err := json.Marshal(body)
	if err != nil {
		return common.Wrap(err)
	}
	// the signature covers the path as received by the node
	fullPath := c.base.ResolveReference(&url.URL{Path: path}).Path
	sig, err := common.SignHash(c.sk, common.RequestMessage(http.MethodPost, fullPath, raw))
	if err != nil {
		return common.Wrap(err)
	}
	s := c.client.New().Post(path).
		Set("Content-Type", "application/json").
		Set("X-Signature", "0x"+hex.EncodeToString(sig)).
		Body(bytes.NewReader(raw))
	return c.do(s, data)
}

// GetAccount returns the account of addr
func (c *Client) GetAccount(addr ethCommon.Address) (*Account, error) {
	var account Account
	if err := c.get("v1/accounts/"+addr.Hex(), &account); err != nil {
		return nil, common.Wrap(err)
	}
	return &account, nil
}

// GetNonce returns the nonce of the account of addr
func (c *Client) GetNonce(addr ethCommon.Address) (common.Nonce, error) {
	var res struct {
		Nonce common.Nonce `json:"nonce"`
	}
	if err := c.get("v1/accounts/"+addr.Hex()+"/nonce", &res); err != nil {
		return 0, common.Wrap(err)
	}
	return res.Nonce, nil
}

// IsTransactionProcessed returns true if the tx id was settled
func (c *Client) IsTransactionProcessed(id common.TxID) (bool, error) {
	var res struct {
		Processed bool `json:"processed"`
	}
	if err := c.get(fmt.Sprintf("v1/transactions/%s/processed", id), &res); err != nil {
		return false, common.Wrap(err)
	}
	return res.Processed, nil
}

// GetStats returns the counters of the node
func (c *Client) GetStats() (*Stats, error) {
	var stats Stats
	if err := c.get("v1/stats", &stats); err != nil {
		return nil, common.Wrap(err)
	}
	return &stats, nil
}

// InitializeAccount initializes the account of the client
func (c *Client) InitializeAccount(flowDeposit, pyusdDeposit *big.Int,
	fundingTx ethCommon.Hash) (*Account, error) {
	body := map[string]interface{}{
		"address":   c.addr,
		"fundingTx": fundingTx,
	}
	if flowDeposit != nil {
		body["flowDeposit"] = flowDeposit.String()
	}
	if pyusdDeposit != nil {
		body["pyusdDeposit"] = pyusdDeposit.String()
	}
	var account Account
	if err := c.post("v1/accounts", body, &account); err != nil {
		return nil, common.Wrap(err)
	}
	return &account, nil
}

func (c *Client) deposit(path string, t common.TokenType, amount *big.Int,
	fundingTx ethCommon.Hash) (*Account, error) {
	var account Account
	if err := c.post(path, map[string]interface{}{
		"address":   c.addr,
		"tokenType": t,
		"amount":    amount.String(),
		"fundingTx": fundingTx,
	}, &account); err != nil {
		return nil, common.Wrap(err)
	}
	return &account, nil
}

// AddDeposit adds amount to the deposit of the asset
func (c *Client) AddDeposit(t common.TokenType, amount *big.Int, fundingTx ethCommon.Hash) (*Account, error) {
	return c.deposit("v1/deposits", t, amount, fundingTx)
}

// WithdrawDeposit withdraws amount from the deposit of the asset
func (c *Client) WithdrawDeposit(t common.TokenType, amount *big.Int) (*Account, error) {
	return c.deposit("v1/deposits/withdraw", t, amount, ethCommon.Hash{})
}

// PromoteToBalance moves amount from the deposit to the balance
func (c *Client) PromoteToBalance(t common.TokenType, amount *big.Int) (*Account, error) {
	return c.deposit("v1/deposits/promote", t, amount, ethCommon.Hash{})
}

func txsBody(txs []common.OfflineTx) []map[string]interface{} {
	res := make([]map[string]interface{}, len(txs))
	for i, tx := range txs {
		res[i] = map[string]interface{}{
			"id":        tx.ID,
			"from":      tx.From,
			"to":        tx.To,
			"tokenType": tx.TokenType,
			"amount":    tx.Amount.String(),
			"nonce":     tx.Nonce,
			"timestamp": tx.Timestamp,
			"signature": tx.Signature,
		}
	}
	return res
}

// SubmitBatch submits txs as a batch of the client, settled all or none
func (c *Client) SubmitBatch(batchID string, txs []common.OfflineTx) (*SettledBatch, error) {
	var batch SettledBatch
	if err := c.post("v1/batches", map[string]interface{}{
		"batchId":      batchID,
		"transactions": txsBody(txs),
	}, &batch); err != nil {
		return nil, common.Wrap(err)
	}
	return &batch, nil
}

// TransactionsResult is the result of SubmitTransactions
type TransactionsResult struct {
	Settled      []SettledBatch    `json:"settled"`
	Rejected     json.RawMessage   `json:"rejected"`
	NotSubmitted []common.TxID     `json:"notSubmitted"`
	Discarded    []json.RawMessage `json:"discarded"`
}

// SubmitTransactions submits a pile of txs collected by the client, which
// the node orders into batches
func (c *Client) SubmitTransactions(txs []common.OfflineTx) (*TransactionsResult, error) {
	var res TransactionsResult
	if err := c.post("v1/transactions", map[string]interface{}{
		"transactions": txsBody(txs),
	}, &res); err != nil {
		return nil, common.Wrap(err)
	}
	return &res, nil
}
