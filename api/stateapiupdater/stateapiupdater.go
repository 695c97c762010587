/*
Package stateapiupdater keeps the state of the node served by the API in the
HistoryDB, so that API servers that only read the database can serve it.
*/
package stateapiupdater

import (
	"math/big"
	"sync"
	"time"

	"offgridpay/common"
	"offgridpay/database/historydb"
)

// Updater is an utility object to facilitate updating the StateAPI
type Updater struct {
	hdb   *historydb.HistoryDB
	state historydb.StateAPI
	rw    sync.RWMutex
	now   func() time.Time
}

// NewUpdater creates a new Updater
func NewUpdater(hdb *historydb.HistoryDB) *Updater {
	return &Updater{
		hdb: hdb,
		state: historydb.StateAPI{
			StateRoot: big.NewInt(0),
			Stats:     *common.NewStats(),
		},
		now: time.Now,
	}
}

// Store the State in the HistoryDB
func (u *Updater) Store() error {
	u.rw.RLock()
	defer u.rw.RUnlock()
	return common.Wrap(u.hdb.SetStateInternalAPI(&u.state))
}

// UpdateState sets the state after the commit of batchNum.  Older commits
// are ignored, since the notifications of the commits can be observed out
// of order by the callers.
func (u *Updater) UpdateState(batchNum common.BatchNum, stateRoot *big.Int, stats *common.Stats) bool {
	u.rw.Lock()
	defer u.rw.Unlock()
	if batchNum < u.state.LastBatchNum {
		return false
	}
	u.state.LastBatchNum = batchNum
	u.state.StateRoot = new(big.Int).Set(stateRoot)
	u.state.Stats = common.Stats{
		TotalUsers:          stats.TotalUsers,
		TotalTransactions:   stats.TotalTransactions,
		TotalFlowDeposited:  new(big.Int).Set(stats.TotalFlowDeposited),
		TotalPyusdDeposited: new(big.Int).Set(stats.TotalPyusdDeposited),
	}
	u.state.UpdatedAt = u.now()
	return true
}

// State returns a copy of the current state
func (u *Updater) State() historydb.StateAPI {
	u.rw.RLock()
	defer u.rw.RUnlock()
	return u.state
}
