package api

import (
	"net/http"

	"offgridpay/common"

	"github.com/gin-gonic/gin"
)

// statsAPI are the node counters, with the deposited totals in minor units
// and in whole units
type statsAPI struct {
	TotalUsers          uint64 `json:"totalUsers"`
	TotalTransactions   uint64 `json:"totalTransactions"`
	TotalFlowDeposited  string `json:"totalFlowDeposited"`
	TotalPyusdDeposited string `json:"totalPyusdDeposited"`
	Formatted           struct {
		TotalFlowDeposited  string `json:"totalFlowDeposited"`
		TotalPyusdDeposited string `json:"totalPyusdDeposited"`
	} `json:"formatted"`
}

func newStatsAPI(stats *common.Stats) *statsAPI {
	s := &statsAPI{
		TotalUsers:          stats.TotalUsers,
		TotalTransactions:   stats.TotalTransactions,
		TotalFlowDeposited:  stats.TotalFlowDeposited.String(),
		TotalPyusdDeposited: stats.TotalPyusdDeposited.String(),
	}
	s.Formatted.TotalFlowDeposited = common.FormatAmount(common.TokenFLOW, stats.TotalFlowDeposited)
	s.Formatted.TotalPyusdDeposited = common.FormatAmount(common.TokenPYUSD, stats.TotalPyusdDeposited)
	return s
}

func (a *API) getStats(c *gin.Context) {
	stats, err := a.coord.Stats()
	if err != nil {
		engineError(c, "Failed to get the stats", err)
		return
	}
	successResponse(c, http.StatusOK, "Stats retrieved", newStatsAPI(stats))
}

// getState returns the committed state of the ledger.  When the node keeps
// a commit log, the last batch it stored is returned too: it can lag
// behind the ledger, never lead it.
func (a *API) getState(c *gin.Context) {
	stats, err := a.coord.Stats()
	if err != nil {
		engineError(c, "Failed to get the state", err)
		return
	}
	state := gin.H{
		"currentBatch": a.coord.CurrentBatch(),
		"stateRoot":    a.coord.StateRoot().String(),
		"stats":        newStatsAPI(stats),
	}
	if a.historyDB != nil {
		stateAPI, err := a.historyDB.GetStateAPI()
		if err != nil {
			historyError(c, "Failed to get the state", err)
			return
		}
		state["commitLog"] = stateAPI
	}
	successResponse(c, http.StatusOK, "State retrieved", state)
}
