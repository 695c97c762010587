package historydb

import (
	"math/big"
	"time"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// Constants contains the settlement constants of the node
type Constants struct {
	ChainID             uint64            `json:"chainId"`
	Owner               ethCommon.Address `json:"owner"`
	Custody             ethCommon.Address `json:"custody"`
	MinimumFlowDeposit  *big.Int          `json:"minimumFlowDeposit"`
	MinimumPyusdDeposit *big.Int          `json:"minimumPyusdDeposit"`
	BaseTransactionFee  *big.Int          `json:"baseTransactionFee"`
	MaxNonceSkip        uint64            `json:"maxNonceSkip"`
	TransactionTTL      int64             `json:"transactionTTL"`
	MaxBatchSize        int               `json:"maxBatchSize"`
}

// NewConstants returns the Constants of a node with the given chain and
// addresses
func NewConstants(chainID uint64, owner, custody ethCommon.Address, maxBatchSize int) *Constants {
	return &Constants{
		ChainID:             chainID,
		Owner:               owner,
		Custody:             custody,
		MinimumFlowDeposit:  common.MinimumFlowDeposit,
		MinimumPyusdDeposit: common.MinimumPyusdDeposit,
		BaseTransactionFee:  common.BaseTransactionFee,
		MaxNonceSkip:        common.MaxNonceSkip,
		TransactionTTL:      common.TransactionTTL,
		MaxBatchSize:        maxBatchSize,
	}
}

// StateAPI is the state of the node exposed via the API
type StateAPI struct {
	LastBatchNum common.BatchNum `json:"lastBatchNum"`
	StateRoot    *big.Int        `json:"stateRoot"`
	Stats        common.Stats    `json:"stats"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NodeInfo contains information about he node used when serving the API
type NodeInfo struct {
	ItemID    int        `meddler:"item_id,pk"`
	StateAPI  *StateAPI  `meddler:"state,json"`
	Constants *Constants `meddler:"constants,json"`
}

// SetConstants sets the Constants
func (hdb *HistoryDB) SetConstants(constants *Constants) error {
	_constants := struct {
		Constants *Constants `meddler:"constants,json"`
	}{constants}
	values, err := meddler.Default.Values(&_constants, false)
	if err != nil {
		return common.Wrap(err)
	}
	_, err = hdb.dbWrite.Exec(
		"UPDATE node_info SET constants = $1 WHERE item_id = 1;",
		values[0],
	)
	return common.Wrap(err)
}

// GetConstants returns the Constats
func (hdb *HistoryDB) GetConstants() (*Constants, error) {
	var nodeInfo NodeInfo
	err := meddler.QueryRow(
		hdb.dbRead, &nodeInfo,
		"SELECT constants FROM node_info WHERE item_id = 1;",
	)
	return nodeInfo.Constants, common.Wrap(err)
}

// SetStateInternalAPI sets the StateAPI
func (hdb *HistoryDB) SetStateInternalAPI(stateAPI *StateAPI) error {
	_stateAPI := struct {
		StateAPI *StateAPI `meddler:"state,json"`
	}{stateAPI}
	values, err := meddler.Default.Values(&_stateAPI, false)
	if err != nil {
		return common.Wrap(err)
	}
	_, err = hdb.dbWrite.Exec(
		"UPDATE node_info SET state = $1 WHERE item_id = 1;",
		values[0],
	)
	return common.Wrap(err)
}

// GetStateAPI returns the StateAPI, as last set by the node
func (hdb *HistoryDB) GetStateAPI() (*StateAPI, error) {
	release, err := hdb.acquire()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer release()
	var nodeInfo NodeInfo
	err = meddler.QueryRow(
		hdb.dbRead, &nodeInfo,
		"SELECT state FROM node_info WHERE item_id = 1;",
	)
	return nodeInfo.StateAPI, common.Wrap(err)
}
