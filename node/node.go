/*
Package node does the initialization of all the required objects to run the
settlement node.

The Node contains several goroutines that run in the background: the
notification loop of the Coordinator (which writes the commit log), the
loop that keeps the state served by the API up to date with the committed
batches, the http API server and optionally the debug http API server.
*/
package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"offgridpay/api"
	"offgridpay/api/stateapiupdater"
	"offgridpay/common"
	"offgridpay/config"
	"offgridpay/coordinator"
	dbUtils "offgridpay/database"
	"offgridpay/database/historydb"
	"offgridpay/database/statedb"
	"offgridpay/eth"
	"offgridpay/etherscan"
	"offgridpay/log"
	"offgridpay/test/debugapi"
	"offgridpay/txprocessor"
	"offgridpay/txselector"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
)

const (
	// eventsBuffer is the size of the channel of committed events
	eventsBuffer = 256
	// shutdownTimeout is the time given to the http servers to finish
	// the requests in progress when stopping
	shutdownTimeout = 10 * time.Second
)

// Node is the settlement node
type Node struct {
	nodeAPI         *NodeAPI
	debugAPI        *debugapi.DebugAPI
	stateAPIUpdater *stateapiupdater.Updater
	coord           *coordinator.Coordinator
	stateDB         *statedb.StateDB

	// General
	cfg          *config.Node
	sqlConnRead  *sqlx.DB
	sqlConnWrite *sqlx.DB
	historyDB    *historydb.HistoryDB
	ctx          context.Context
	wg           sync.WaitGroup
	cancel       context.CancelFunc
}

// NodeAPI holds the node http API
type NodeAPI struct { //nolint:golint
	api          *api.API
	engine       *gin.Engine
	addr         string
	readtimeout  time.Duration
	writetimeout time.Duration
}

// NewNodeAPI creates a new NodeAPI (which internally calls api.NewAPI)
func NewNodeAPI(addr string, readtimeout, writetimeout time.Duration,
	apiConfig api.Config) (*NodeAPI, error) {
	_api, err := api.NewAPI(apiConfig)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &NodeAPI{
		addr:         addr,
		api:          _api,
		engine:       apiConfig.Server,
		readtimeout:  readtimeout,
		writetimeout: writetimeout,
	}, nil
}

// Run starts the http server of the NodeAPI.  To stop it, pass a context
// with cancellation.
func (a *NodeAPI) Run(ctx context.Context) error {
	server := &http.Server{
		Handler:        a.engine,
		ReadTimeout:    a.readtimeout,
		WriteTimeout:   a.writetimeout,
		MaxHeaderBytes: 1 << 20, //nolint:gomnd
	}
	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return common.Wrap(err)
	}
	log.Infof("NodeAPI is ready at %v", a.addr)
	go func() {
		if err := server.Serve(listener); err != nil &&
			common.Unwrap(err) != http.ErrServerClosed {
			log.Fatalf("Listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Info("Stopping NodeAPI...")
	ctxTimeout, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctxTimeout); err != nil {
		return common.Wrap(err)
	}
	log.Info("NodeAPI done")
	return nil
}

// Check if a directory exists and is empty
func isDirectoryEmpty(path string) (bool, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil // Directory doesn't exist, treat as empty
		}
		return false, err
	}
	return len(dirEntries) == 0, nil
}

// initSQLDBs opens the write and read connections of the commit log
func initSQLDBs(cfg *config.PostgreSQL) (dbWrite, dbRead *sqlx.DB, err error) {
	dbWrite, err = dbUtils.InitSQLDB(
		cfg.PortWrite,
		cfg.HostWrite,
		cfg.UserWrite,
		cfg.PasswordWrite,
		cfg.NameWrite,
	)
	if err != nil {
		return nil, nil, common.Wrap(fmt.Errorf("dbUtils.InitSQLDB: %w", err))
	}
	if cfg.HostRead == "" {
		return dbWrite, dbWrite, nil
	} else if cfg.HostRead == cfg.HostWrite {
		return nil, nil, common.Wrap(fmt.Errorf(
			"PostgreSQL.HostRead and PostgreSQL.HostWrite must be different",
		))
	}
	dbRead, err = dbUtils.InitSQLDB(
		cfg.PortRead,
		cfg.HostRead,
		cfg.UserRead,
		cfg.PasswordRead,
		cfg.NameRead,
	)
	if err != nil {
		return nil, nil, common.Wrap(fmt.Errorf("dbUtils.InitSQLDB: %w", err))
	}
	return dbWrite, dbRead, nil
}

// unlockCustody opens the keystore and unlocks the custody account
func unlockCustody(cfg *config.Node) (*accounts.Account, *keystore.KeyStore, error) {
	scryptN := keystore.StandardScryptN
	scryptP := keystore.StandardScryptP
	if cfg.Debug.LightScrypt {
		scryptN = keystore.LightScryptN
		scryptP = keystore.LightScryptP
	}
	keyStore := keystore.NewKeyStore(cfg.Web3.Keystore.Path, scryptN, scryptP)

	isEmpty, err := isDirectoryEmpty(cfg.Web3.Keystore.Path)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	if isEmpty {
		// Create a new account if keystore is empty
		account, err := keyStore.NewAccount(cfg.Web3.Keystore.Password)
		if err != nil {
			return nil, nil, common.Wrap(err)
		}
		log.Infof("New account created: %s", account.Address.Hex())
	} else {
		log.Infof("Keystore already initialized, skipping account creation.")
	}

	if !keyStore.HasAddress(cfg.Web3.Custody) {
		return nil, nil, common.Wrap(fmt.Errorf(
			"ethereum keystore doesn't have the key for address %v",
			cfg.Web3.Custody))
	}
	custodyAccount := &accounts.Account{
		Address: cfg.Web3.Custody,
	}
	if err := keyStore.Unlock(*custodyAccount, cfg.Web3.Keystore.Password); err != nil {
		return nil, nil, common.Wrap(err)
	}
	log.Infow("Custody ethereum account unlocked in the keystore", "addr", cfg.Web3.Custody)
	return custodyAccount, keyStore, nil
}

// reconcileHistory makes the commit log consistent with the ledger: the
// commit log can lag behind the ledger, never lead it
func reconcileHistory(historyDB *historydb.HistoryDB, stateDB *statedb.StateDB) error {
	lastBatchNum, err := historyDB.GetLastBatchNum()
	if err != nil {
		return common.Wrap(err)
	}
	currentBatch := stateDB.CurrentBatch()
	if lastBatchNum > currentBatch {
		log.Warnw("Commit log ahead of the ledger, discarding the extra batches",
			"commitLog", lastBatchNum, "ledger", currentBatch)
		return common.Wrap(historyDB.Reset(currentBatch))
	} else if lastBatchNum < currentBatch {
		log.Warnw("Commit log behind the ledger, the missing commits are not in the history",
			"commitLog", lastBatchNum, "ledger", currentBatch)
	}
	return nil
}

// NewNode creates a Node
func NewNode(cfg *config.Node, version string) (*Node, error) {
	meddler.Debug = cfg.Debug.MeddlerLogs
	// Stablish DB connection
	dbWrite, dbRead, err := initSQLDBs(&cfg.PostgreSQL)
	if err != nil {
		return nil, common.Wrap(err)
	}
	apiConnCon := dbUtils.NewAPIConnectionController(
		cfg.API.MaxSQLConnections,
		cfg.API.SQLConnectionTimeout.Duration,
	)
	historyDB := historydb.NewHistoryDB(dbRead, dbWrite, apiConnCon)

	ethClient, err := ethclient.Dial(cfg.Web3.URL)
	if err != nil {
		return nil, common.Wrap(err)
	}
	custodyAccount, keyStore, err := unlockCustody(cfg)
	if err != nil {
		return nil, common.Wrap(err)
	}
	var etherScanService *etherscan.Service
	if cfg.Web3.Etherscan.URL != "" {
		log.Info("EtherScan method detected in cofiguration file")
		etherScanService, err = etherscan.NewEtherscanService(cfg.Web3.Etherscan.URL,
			cfg.Web3.Etherscan.APIKey)
		if err != nil {
			return nil, common.Wrap(err)
		}
	} else {
		log.Info("EtherScan method not configured in config file")
	}
	clientCfg := &eth.ClientConfig{
		Ethereum: eth.EthereumConfig{
			CallGasLimit:        cfg.Web3.CallGasLimit,
			GasPriceDiv:         cfg.Web3.GasPriceDiv,
			ReceiptTimeout:      cfg.Web3.ReceiptTimeout.Duration,
			ReceiptLoopInterval: cfg.Web3.ReceiptLoopInterval.Duration,
		},
	}
	if etherScanService != nil {
		clientCfg.GasOracle = etherScanService
	}
	client, err := eth.NewClient(ethClient, custodyAccount, keyStore, clientCfg)
	if err != nil {
		return nil, common.Wrap(err)
	}

	custodyBalance, err := client.EthBalance(context.TODO(), cfg.Web3.Custody)
	if err != nil {
		return nil, common.Wrap(err)
	}
	minCustodyBalance := cfg.Engine.MinimumCustodyBalance
	if minCustodyBalance != nil && minCustodyBalance.Int != nil &&
		custodyBalance.Cmp(minCustodyBalance.Int) == -1 {
		return nil, common.Wrap(fmt.Errorf(
			"custody account balance is less than cfg.Engine.MinimumCustodyBalance: %v < %v",
			custodyBalance, minCustodyBalance))
	}
	log.Infow("custody ethereum account balance",
		"addr", cfg.Web3.Custody,
		"balance", custodyBalance,
		"minCustodyBalance", minCustodyBalance,
	)

	chainID, err := client.EthChainID()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if !chainID.IsUint64() {
		return nil, common.Wrap(fmt.Errorf("chainID cannot be represented as uint64"))
	}
	chainIDU64 := chainID.Uint64()

	stateDB, err := statedb.NewStateDB(statedb.Config{
		Path:    cfg.StateDB.Path,
		Keep:    cfg.StateDB.Keep,
		NLevels: statedb.MaxNLevels,
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	if err := reconcileHistory(historyDB, stateDB); err != nil {
		return nil, common.Wrap(err)
	}
	hdbConsts := historydb.NewConstants(chainIDU64, cfg.Engine.Owner, cfg.Web3.Custody,
		cfg.Engine.MaxBatchSize)
	if err := historyDB.SetConstants(hdbConsts); err != nil {
		return nil, common.Wrap(err)
	}

	coord, err := coordinator.NewCoordinator(
		coordinator.Config{
			Owner:          cfg.Engine.Owner,
			Custody:        cfg.Web3.Custody,
			CallTimeout:    cfg.Engine.CallTimeout.Duration,
			DebugBatchPath: cfg.Debug.BatchPath,
			TxProcessorConfig: txprocessor.Config{
				MaxBatchSize: cfg.Engine.MaxBatchSize,
			},
		},
		stateDB,
		client.Native,
		client.ERC20,
		historyDB,
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if err := initPyusdToken(coord, cfg); err != nil {
		return nil, common.Wrap(err)
	}

	txSelector := txselector.NewTxSelector(txselector.Config{
		MaxBatchSize: cfg.Engine.MaxBatchSize,
	}, coord)

	stateAPIUpdater := stateapiupdater.NewUpdater(historyDB)

	var nodeAPI *NodeAPI
	if cfg.API.Address != "" {
		if cfg.Log.Level == "debug" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
		server := gin.New()
		server.Use(gin.Recovery())
		nodeAPI, err = NewNodeAPI(cfg.API.Address,
			cfg.API.ReadTimeout.Duration, cfg.API.WriteTimeout.Duration,
			api.Config{
				Version:          version,
				Server:           server,
				Coordinator:      coord,
				HistoryDB:        historyDB,
				TxSelector:       txSelector,
				NodeConfig:       cfg,
				ChainID:          chainIDU64,
				MaxTxsPerRequest: cfg.API.MaxTxsPerRequest,
				AllowedOrigins:   cfg.API.AllowedOrigins,
			})
		if err != nil {
			return nil, common.Wrap(err)
		}
	}
	var debugAPI *debugapi.DebugAPI
	if cfg.Debug.APIAddress != "" {
		debugAPI = debugapi.NewDebugAPI(cfg.Debug.APIAddress, coord)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		nodeAPI:         nodeAPI,
		debugAPI:        debugAPI,
		stateAPIUpdater: stateAPIUpdater,
		coord:           coord,
		stateDB:         stateDB,
		cfg:             cfg,
		sqlConnRead:     dbRead,
		sqlConnWrite:    dbWrite,
		historyDB:       historyDB,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// initPyusdToken applies the configured PYUSD token when the ledger has
// none.  A token already in the ledger is only changed by the owner.
func initPyusdToken(coord *coordinator.Coordinator, cfg *config.Node) error {
	if cfg.Engine.PyusdToken == common.EmptyAddr {
		return nil
	}
	token, ok, err := coord.PyusdToken()
	if err != nil {
		return common.Wrap(err)
	}
	if ok {
		if token != cfg.Engine.PyusdToken {
			log.Warnw("PYUSD token of the ledger differs from the configuration, keeping the ledger one",
				"ledger", token.Hex(), "config", cfg.Engine.PyusdToken.Hex())
		}
		return nil
	}
	return common.Wrap(coord.SetToken(context.Background(), cfg.Engine.Owner, cfg.Engine.PyusdToken))
}

// updateStateAPI stores the state of the last commit for the API
func (n *Node) updateStateAPI() error {
	stats, err := n.coord.Stats()
	if err != nil {
		return common.Wrap(err)
	}
	if !n.stateAPIUpdater.UpdateState(n.coord.CurrentBatch(), n.coord.StateRoot(), stats) {
		return nil
	}
	return common.Wrap(n.stateAPIUpdater.Store())
}

// startStateAPIUpdater keeps the StateAPI up to date with the committed
// events.  The events that arrive together are stored once.
func (n *Node) startStateAPIUpdater() {
	events := make(chan common.Event, eventsBuffer)
	sub := n.coord.SubscribeEvents(events)
	if err := n.updateStateAPI(); err != nil {
		log.Errorw("Node.updateStateAPI", "err", err)
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer sub.Unsubscribe()
		for {
			select {
			case <-n.ctx.Done():
				log.Info("StateAPIUpdater done")
				return
			case err := <-sub.Err():
				if err != nil {
					log.Errorw("Coordinator events subscription", "err", err)
				}
				return
			case e := <-events:
				log.Debugw("Node: committed event", "type", e.Type, "batchNum", e.BatchNum)
			drain:
				for {
					select {
					case <-events:
					default:
						break drain
					}
				}
				if err := n.updateStateAPI(); err != nil {
					log.Errorw("Node.updateStateAPI", "err", err)
				}
			}
		}
	}()
}

// Start the node
func (n *Node) Start() {
	log.Infow("Starting node...")
	n.coord.Start()
	n.startStateAPIUpdater()
	if n.nodeAPI != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.nodeAPI.Run(n.ctx); err != nil {
				log.Fatalw("NodeAPI.Run", "err", err)
			}
		}()
	}
	if n.debugAPI != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.debugAPI.Run(n.ctx); err != nil {
				log.Fatalw("DebugAPI.Run", "err", err)
			}
		}()
	}
}

// Stop the node
func (n *Node) Stop() {
	log.Infow("Stopping node...")
	n.cancel()
	n.wg.Wait()
	log.Info("Stopping Coordinator...")
	// Waits for the commit log to receive every committed batch
	n.coord.Stop()

	// Close kv DBs
	n.stateDB.Close()
	// Close SQL DBs
	if err := n.sqlConnWrite.Close(); err != nil {
		log.Errorw("sqlConnWrite.Close", "err", err)
	}
	if n.sqlConnRead != n.sqlConnWrite {
		if err := n.sqlConnRead.Close(); err != nil {
			log.Errorw("sqlConnRead.Close", "err", err)
		}
	}
}
