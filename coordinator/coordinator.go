/*
Package coordinator is the settlement engine: it owns the ledger state and
serializes every operation that changes it.

Every mutation (account initialization and activation, deposit operations,
batch settlement and owner operations) runs holding the writer lock of the
Coordinator, from its first check to its commit.  The mutation writes to
the StateDB, and when it succeeds the Coordinator makes a checkpoint, which
assigns the next BatchNum: the BatchNums are the strictly increasing order
of the committed mutations.  When it fails the StateDB is reset to the last
checkpoint, so that a failed operation leaves no trace.  Readers take the
read lock, and never observe the writes of a mutation in progress.

After a commit, the Coordinator queues a notification with the events of
the mutation (and the settled batch, if any).  A single goroutine, started
with Start, drains the queue in commit order: it writes the notification to
the CommitLog (when there is one) and sends the events to the subscribers
of SubscribeEvents.  Slow subscribers or a slow CommitLog delay the
notifications, never the commits.
*/
package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"offgridpay/common"
	"offgridpay/database/statedb"
	"offgridpay/log"
	"offgridpay/metric"
	"offgridpay/txprocessor"
	"offgridpay/txvalidator"
	"offgridpay/vault"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

const defaultCallTimout = 30 * time.Second

// Config contains the Coordinator configuration
type Config struct {
	// Owner is the address allowed to run the owner operations:
	// UpdateBalance, SetToken and EmergencyWithdraw
	Owner ethCommon.Address
	// Custody is the address that holds the deposited funds
	Custody ethCommon.Address
	// CallTimeout is the maximum duration of the calls to the token
	// contract and the native payouts of an operation.  If 0, 30s is used.
	CallTimeout time.Duration
	// DebugBatchPath if set, specifies the path where a BatchInfo is
	// stored in JSON for every submitted batch, settled or rejected
	DebugBatchPath    string
	TxProcessorConfig txprocessor.Config
}

// CommitLog stores the history of the committed mutations.  Its methods are
// called from a single goroutine, in commit order.
type CommitLog interface {
	// AddBatch stores a settled batch with its transactions
	AddBatch(batch *common.BatchData) error
	// AddRejectedBatch stores the transactions of a rejected batch, with
	// the reason of the rejection
	AddRejectedBatch(batch *common.TxBatch, reason string) error
	// AddEvents stores the events of a commit
	AddEvents(events []common.Event) error
}

// notification is the information published after a commit, or after a
// batch rejection
type notification struct {
	batch    *common.BatchData
	rejected *common.TxBatch
	reason   string
	events   []common.Event
}

// Coordinator implements the Coordinator type
type Coordinator struct {
	cfg Config

	// rw serializes the mutations of the state
	rw          sync.RWMutex
	state       *statedb.StateDB
	validator   *txvalidator.Validator
	vault       *vault.Vault
	txProcessor *txprocessor.TxProcessor

	commitLog CommitLog
	feed      event.Feed
	scope     event.SubscriptionScope

	queueMu sync.Mutex
	queue   []*notification
	msgCh   chan struct{}
	// runMu guards started, Start and Stop can be called from any goroutine
	runMu   sync.Mutex
	started bool
	ctx     context.Context
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewCoordinator creates a new Coordinator over the given StateDB.  native
// and token move the funds of the deposits; token can be nil when the node
// does not handle PYUSD.  commitLog can be nil.
func NewCoordinator(cfg Config,
	state *statedb.StateDB,
	native vault.Native,
	token vault.Token,
	commitLog CommitLog,
) (*Coordinator, error) {
	if cfg.DebugBatchPath != "" {
		if err := os.MkdirAll(cfg.DebugBatchPath, 0744); err != nil { //nolint:gomnd
			return nil, common.Wrap(err)
		}
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultCallTimout
	}
	validator := txvalidator.NewValidator(state)
	v := vault.NewVault(state, native, token, vault.Config{Custody: cfg.Custody})
	ctx, cancel := context.WithCancel(context.Background())
	c := Coordinator{
		cfg:         cfg,
		state:       state,
		validator:   validator,
		vault:       v,
		txProcessor: txprocessor.NewTxProcessor(state, validator, v, cfg.TxProcessorConfig),
		commitLog:   commitLog,
		msgCh:       make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.rw.RLock()
	err := c.updateMetrics()
	c.rw.RUnlock()
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &c, nil
}

// SetClock replaces the clock used to check the expiration of the
// transactions and to timestamp the commits
func (c *Coordinator) SetClock(now func() time.Time) {
	c.rw.Lock()
	defer c.rw.Unlock()
	c.validator.SetClock(now)
}

// Start the goroutine that publishes the notifications of the commits
func (c *Coordinator) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.started {
		log.Fatal("Coordinator already started")
	}
	c.started = true

	c.wg.Add(1)
	go func() {
		for {
			select {
			case <-c.ctx.Done():
				// publish what was committed before stopping
				c.publish()
				log.Info("Coordinator done")
				c.wg.Done()
				return
			case <-c.msgCh:
				c.publish()
			}
		}
	}()
}

// Stop the coordinator, after publishing the pending notifications
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.started {
		log.Fatal("Coordinator already stopped")
	}
	c.started = false
	log.Infow("Stopping Coordinator...")
	c.cancel()
	c.wg.Wait()
	c.scope.Close()
}

// Running returns true between Start and Stop
func (c *Coordinator) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.started
}

// SubscribeEvents registers ch to receive the events of every commit, in
// commit order.  Events are only delivered while the Coordinator is
// started.
func (c *Coordinator) SubscribeEvents(ch chan<- common.Event) event.Subscription {
	return c.scope.Track(c.feed.Subscribe(ch))
}

func (c *Coordinator) enqueue(n *notification) {
	c.queueMu.Lock()
	c.queue = append(c.queue, n)
	c.queueMu.Unlock()
	select {
	case c.msgCh <- struct{}{}:
	default:
	}
}

// publish drains the notification queue
func (c *Coordinator) publish() {
	for {
		c.queueMu.Lock()
		queue := c.queue
		c.queue = nil
		c.queueMu.Unlock()
		if len(queue) == 0 {
			return
		}
		for _, n := range queue {
			c.handleNotification(n)
		}
	}
}

func (c *Coordinator) handleNotification(n *notification) {
	if c.commitLog != nil {
		if n.batch != nil {
			if err := c.commitLog.AddBatch(n.batch); err != nil {
				log.Errorw("CommitLog.AddBatch", "err", err, "batchNum", n.batch.Batch.BatchNum)
			}
		}
		if n.rejected != nil {
			if err := c.commitLog.AddRejectedBatch(n.rejected, n.reason); err != nil {
				log.Errorw("CommitLog.AddRejectedBatch", "err", err, "batchId", n.rejected.BatchID)
			}
		}
		if len(n.events) > 0 {
			if err := c.commitLog.AddEvents(n.events); err != nil {
				log.Errorw("CommitLog.AddEvents", "err", err)
			}
		}
	}
	for _, e := range n.events {
		c.feed.Send(e)
	}
}

// mutate runs fn holding the writer lock.  fn gets the BatchNum under which
// its writes will be committed.  When fn succeeds the writes are committed;
// when it fails they are discarded.  In both cases the notification returned
// by fn, if any, is queued.
func (c *Coordinator) mutate(op string,
	fn func(batchNum common.BatchNum) (*notification, error)) (common.BatchNum, error) {
	c.rw.Lock()
	defer c.rw.Unlock()

	batchNum := c.state.CurrentBatch() + 1
	n, err := fn(batchNum)
	if err != nil {
		if errDiscard := c.state.Discard(); errDiscard != nil {
			log.Errorw("StateDB.Discard", "err", errDiscard, "op", op)
			return 0, common.Wrap(errDiscard)
		}
		if n != nil {
			c.enqueue(n)
		}
		return 0, err
	}
	if err := c.state.MakeCheckpoint(); err != nil {
		log.Errorw("StateDB.MakeCheckpoint", "err", err, "op", op)
		return 0, common.Wrap(err)
	}
	if c.state.CurrentBatch() != batchNum {
		// the state is written by someone else than the Coordinator
		log.Fatalf("Coordinator: committed batch %d, expected %d", c.state.CurrentBatch(), batchNum)
	}
	metric.Operations.WithLabelValues(op).Inc()
	if err := c.updateMetrics(); err != nil {
		log.Errorw("Coordinator.updateMetrics", "err", err)
	}
	if n != nil {
		c.enqueue(n)
	}
	return batchNum, nil
}

// callCtx returns the context for the external calls of an operation
func (c *Coordinator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

func (c *Coordinator) newEvent(t common.EventType, batchNum common.BatchNum,
	addr ethCommon.Address) common.Event {
	return common.Event{
		Type:      t,
		BatchNum:  batchNum,
		Address:   addr,
		Timestamp: c.validator.Now(),
	}
}

func (c *Coordinator) checkOwner(caller ethCommon.Address) error {
	if caller != c.cfg.Owner {
		return common.Wrap(fmt.Errorf("%w: %s", common.ErrNotOwner, caller.Hex()))
	}
	return nil
}

// updateMetrics mirrors the committed counters in the metrics.  Must be
// called holding the lock.
func (c *Coordinator) updateMetrics() error {
	stats, err := c.state.GetStats()
	if err != nil {
		return common.Wrap(err)
	}
	metric.LastBatchNum.Set(float64(c.state.CurrentBatch()))
	metric.TotalUsers.Set(float64(stats.TotalUsers))
	metric.TotalTransactions.Set(float64(stats.TotalTransactions))
	for _, t := range []common.TokenType{common.TokenFLOW, common.TokenPYUSD} {
		f, _ := common.AmountDecimal(t, stats.TotalDeposited(t)).Float64()
		metric.TotalDeposited.WithLabelValues(t.String()).Set(f)
	}
	return nil
}

// CurrentBatch returns the BatchNum of the last commit
func (c *Coordinator) CurrentBatch() common.BatchNum {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.state.CurrentBatch()
}

// Stats returns the counters at the last commit
func (c *Coordinator) Stats() (*common.Stats, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.state.GetStats()
}

// IsTransactionProcessed returns true if the TxID was settled in a
// committed batch
func (c *Coordinator) IsTransactionProcessed(id common.TxID) (bool, error) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.state.IsProcessed(id)
}

// Owner returns the address of the owner
func (c *Coordinator) Owner() ethCommon.Address {
	return c.cfg.Owner
}
