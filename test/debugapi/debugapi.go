/*
Package debugapi serves the internal state of the ledger for debugging: every
account, the merkle root and the held amounts.  It must not be exposed
publicly.
*/
package debugapi

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"offgridpay/common"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// Ledger is the read access to the ledger needed by the DebugAPI
type Ledger interface {
	GetAccounts() ([]common.Account, error)
	GetAccount(addr ethCommon.Address) (*common.Account, error)
	StateRoot() *big.Int
	CurrentBatch() common.BatchNum
	Stats() (*common.Stats, error)
}

func handleNoRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": "404 page not found",
	})
}

type errorMsg struct {
	Message string
}

func badReq(err error, c *gin.Context) {
	log.Errorw("Bad request", "err", err)
	c.JSON(http.StatusBadRequest, errorMsg{
		Message: err.Error(),
	})
}

// DebugAPI is an http API with debugging endpoints
type DebugAPI struct {
	addr   string
	ledger Ledger
}

// NewDebugAPI creates a new DebugAPI
func NewDebugAPI(addr string, ledger Ledger) *DebugAPI {
	return &DebugAPI{
		addr:   addr,
		ledger: ledger,
	}
}

func (a *DebugAPI) handleAccount(c *gin.Context) {
	addr := c.Param("addr")
	if !ethCommon.IsHexAddress(addr) {
		badReq(fmt.Errorf("invalid address %q", addr), c)
		return
	}
	account, err := a.ledger.GetAccount(ethCommon.HexToAddress(addr))
	if err != nil {
		badReq(err, c)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a *DebugAPI) handleAccounts(c *gin.Context) {
	accounts, err := a.ledger.GetAccounts()
	if err != nil {
		badReq(err, c)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (a *DebugAPI) handleCurrentBatch(c *gin.Context) {
	c.JSON(http.StatusOK, a.ledger.CurrentBatch())
}

func (a *DebugAPI) handleMTRoot(c *gin.Context) {
	c.JSON(http.StatusOK, a.ledger.StateRoot().String())
}

func (a *DebugAPI) handleStats(c *gin.Context) {
	stats, err := a.ledger.Stats()
	if err != nil {
		badReq(err, c)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Handler returns the http.Handler of the DebugAPI
func (a *DebugAPI) Handler() http.Handler {
	api := gin.Default()
	api.NoRoute(handleNoRoute)
	debugAPI := api.Group("/debug")

	debugAPI.GET("statedb/accounts", a.handleAccounts)
	debugAPI.GET("statedb/accounts/:addr", a.handleAccount)
	debugAPI.GET("statedb/currentbatch", a.handleCurrentBatch)
	debugAPI.GET("statedb/mtroot", a.handleMTRoot)
	debugAPI.GET("statedb/stats", a.handleStats)
	return api
}

// Run starts the http server of the DebugAPI.  To stop it, pass a context
// with cancellation.
func (a *DebugAPI) Run(ctx context.Context) error {
	debugAPIServer := &http.Server{
		Handler: a.Handler(),
		// Use some hardcoded numbers that are suitable for testing
		ReadTimeout:    30 * time.Second, //nolint:gomnd
		WriteTimeout:   30 * time.Second, //nolint:gomnd
		MaxHeaderBytes: 1 << 20,          //nolint:gomnd
	}
	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return common.Wrap(err)
	}
	log.Infof("DebugAPI is ready at %v", a.addr)
	go func() {
		if err := debugAPIServer.Serve(listener); err != nil &&
			common.Unwrap(err) != http.ErrServerClosed {
			log.Fatalf("Listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Info("Stopping DebugAPI...")
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:gomnd
	defer cancel()
	if err := debugAPIServer.Shutdown(ctxTimeout); err != nil {
		return common.Wrap(err)
	}
	log.Info("DebugAPI done")
	return nil
}
