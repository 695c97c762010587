/*
Package api serves the HTTP interface of the settlement node.

Every mutating request is authenticated by the X-Signature header: an
EIP-191 personal signature over the method, path and raw body of the
request, whose signer is the caller of the operation.  The body carries a
timestamp that must be recent, and a signed request is only accepted once.
*/
package api

import (
	"errors"
	"net/http"
	"time"

	"offgridpay/common"
	"offgridpay/config"
	"offgridpay/coordinator"
	"offgridpay/database/historydb"
	"offgridpay/txselector"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API serves HTTP requests to allow external interaction with the
// settlement node
type API struct {
	coord      *coordinator.Coordinator
	historyDB  *historydb.HistoryDB
	txSelector *txselector.TxSelector
	config     *configAPI
	validate   *validator.Validate
	auth       *authenticator
	maxTxs     int
	now        func() time.Time
}

// Config wraps the parameters needed to start the API
type Config struct {
	Version     string
	Server      *gin.Engine
	Coordinator *coordinator.Coordinator
	// HistoryDB is optional, without it the history endpoints are not
	// served
	HistoryDB  *historydb.HistoryDB
	TxSelector *txselector.TxSelector
	// NodeConfig is optional, served without secrets in GET /config
	NodeConfig *config.Node
	ChainID    uint64
	// MaxTxsPerRequest limits the txs of a batch or pool request
	MaxTxsPerRequest int
	// AllowedOrigins are the origins allowed by CORS.  If empty, every
	// origin is allowed.
	AllowedOrigins []string
	// Now is the clock used to check the request timestamps.  If nil,
	// time.Now is used.
	Now func() time.Time
}

// NewAPI sets the endpoints and the appropriate handlers, but doesn't start the server
func NewAPI(setup Config) (*API, error) {
	// Check input
	if setup.Server == nil || setup.Coordinator == nil {
		return nil, common.Wrap(errors.New("the API needs a Server and a Coordinator"))
	}
	if setup.TxSelector == nil {
		return nil, common.Wrap(errors.New("the API needs a TxSelector"))
	}
	now := setup.Now
	if now == nil {
		now = time.Now
	}
	maxTxs := setup.MaxTxsPerRequest
	if maxTxs == 0 {
		maxTxs = common.MaxBatchSize
	}
	corsHandler, err := newCORS(setup.AllowedOrigins)
	if err != nil {
		return nil, common.Wrap(err)
	}
	cfgAPI, err := newConfigAPI(setup.ChainID, setup.Coordinator, setup.NodeConfig)
	if err != nil {
		return nil, common.Wrap(err)
	}

	a := &API{
		coord:      setup.Coordinator,
		historyDB:  setup.HistoryDB,
		txSelector: setup.TxSelector,
		config:     cfgAPI,
		validate:   validator.New(),
		auth:       newAuthenticator(now),
		maxTxs:     maxTxs,
		now:        now,
	}

	// Setup http interface
	setup.Server.Use(corsHandler, requestID(), measureRequests())
	setup.Server.NoRoute(a.noRoute)
	setup.Server.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := setup.Server.Group("/v1")
	v1.GET("/health", a.health(setup.Version))
	// Accounts
	v1.GET("/accounts/:addr", a.getAccount)
	v1.GET("/accounts/:addr/nonce", a.getNonce)
	v1.GET("/accounts/:addr/proof", a.getAccountProof)
	v1.POST("/accounts", a.auth.middleware(), a.postAccount)
	v1.POST("/accounts/:addr/active", a.auth.middleware(), a.postActive)
	// Deposits
	v1.POST("/deposits", a.auth.middleware(), a.postDeposit)
	v1.POST("/deposits/withdraw", a.auth.middleware(), a.postWithdraw)
	v1.POST("/deposits/promote", a.auth.middleware(), a.postPromote)
	// Settlement
	v1.POST("/batches", a.auth.middleware(), a.postBatch)
	v1.POST("/transactions", a.auth.middleware(), a.postTransactions)
	v1.GET("/transactions/:id/processed", a.getProcessed)
	v1.GET("/txid", a.getTxID)
	// Node
	v1.GET("/stats", a.getStats)
	v1.GET("/state", a.getState)
	v1.GET("/config", a.getConfig)
	// Owner
	admin := v1.Group("/admin", a.auth.middleware())
	admin.POST("/balance", a.postAdminBalance)
	admin.POST("/token", a.postAdminToken)
	admin.POST("/emergency-withdraw", a.postEmergencyWithdraw)
	// History
	if a.historyDB != nil {
		v1.GET("/accounts/:addr/events", a.getAccountEvents)
		v1.GET("/batches/:batchNum", a.getBatch)
		v1.GET("/transactions/:id", a.getTxHistory)
		v1.GET("/events", a.getEvents)
	}

	return a, nil
}

func (a *API) noRoute(c *gin.Context) {
	errorResponse(c, http.StatusNotFound, "Route not found", "the requested route does not exist")
}

func (a *API) health(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		successResponse(c, http.StatusOK, "Node is running", gin.H{
			"version":      version,
			"currentBatch": a.coord.CurrentBatch(),
			"timestamp":    a.now().Unix(),
		})
	}
}
