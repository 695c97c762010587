package api

import (
	"math/big"
	"net/http"
	"reflect"

	"offgridpay/common"
	"offgridpay/config"
	"offgridpay/coordinator"
	"offgridpay/database/historydb"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mitchellh/copystructure"
)

const redacted = "<redacted>"

func init() {
	copystructure.Copiers[reflect.TypeOf(big.Int{})] = func(v interface{}) (interface{}, error) {
		n := v.(big.Int)
		return *new(big.Int).Set(&n), nil
	}
}

type configAPI struct {
	Constants *historydb.Constants `json:"constants"`
	// Node is the configuration of the node without secrets
	Node *config.Node `json:"node,omitempty"`
}

func newConfigAPI(chainID uint64, coord *coordinator.Coordinator, nodeCfg *config.Node) (*configAPI, error) {
	maxBatchSize := common.MaxBatchSize
	custody := common.EmptyAddr
	var node *config.Node
	if nodeCfg != nil {
		maxBatchSize = nodeCfg.Engine.MaxBatchSize
		custody = nodeCfg.Web3.Custody
		cp, err := copystructure.Copy(nodeCfg)
		if err != nil {
			return nil, common.Wrap(err)
		}
		node = cp.(*config.Node)
		node.PostgreSQL.PasswordWrite = redacted
		if node.PostgreSQL.PasswordRead != "" {
			node.PostgreSQL.PasswordRead = redacted
		}
		node.Web3.Keystore.Password = redacted
		if node.Web3.Etherscan.APIKey != "" {
			node.Web3.Etherscan.APIKey = redacted
		}
	}
	return &configAPI{
		Constants: historydb.NewConstants(chainID, coord.Owner(), custody, maxBatchSize),
		Node:      node,
	}, nil
}

func (a *API) getConfig(c *gin.Context) {
	token, ok, err := a.coord.PyusdToken()
	if err != nil {
		engineError(c, "Failed to get the config", err)
		return
	}
	var pyusdToken *ethCommon.Address
	if ok {
		pyusdToken = &token
	}
	successResponse(c, http.StatusOK, "Config retrieved", gin.H{
		"constants":  a.config.Constants,
		"pyusdToken": pyusdToken,
		"node":       a.config.Node,
	})
}
