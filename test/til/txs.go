package til

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
)

// Account contains the data of a til user
type Account struct {
	Name  string
	Sk    *ecdsa.PrivateKey
	Addr  ethCommon.Address
	Nonce common.Nonce
}

// Step is one ledger operation, or a batch of transfers when Batch is set
type Step struct {
	Instruction Instruction
	Batch       *common.TxBatch
}

// Context contains the data of the test
type Context struct {
	instructions []Instruction
	accountNames []string
	Accounts     map[string]*Account // Name -> *Account
	// Timestamp is the creation time of the generated transactions and
	// batches
	Timestamp  int64
	batchCount int
	pending    []common.OfflineTx
}

// NewContext returns a new Context.  The generated transactions and
// batches are created at timestamp.
func NewContext(timestamp int64) *Context {
	return &Context{
		Accounts:  make(map[string]*Account),
		Timestamp: timestamp,
	}
}

// GenerateSteps returns the steps described by a set of type Ledger.  The
// transfers between two '> batch' lines are signed and grouped in a batch
// submitted by the sender of its first transfer.
func (tc *Context) GenerateSteps(set string) ([]Step, error) {
	parser := newParser(strings.NewReader(set))
	parsedSet, err := parser.parse()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if parsedSet.typ != SetTypeLedger {
		return nil, common.Wrap(fmt.Errorf("Expected set type: %s, found: %s",
			SetTypeLedger, parsedSet.typ))
	}
	tc.instructions = parsedSet.instructions
	tc.accountNames = parsedSet.users
	tc.generateKeys(tc.accountNames)

	var steps []Step
	for _, inst := range tc.instructions {
		switch inst.Typ {
		case TypeNewBatch:
			if len(tc.pending) == 0 {
				return nil, common.Wrap(fmt.Errorf("Line %d: empty batch", inst.LineNum))
			}
			steps = append(steps, Step{Batch: tc.closeBatch()})
		case TypeTransfer:
			if err := tc.addTransfer(inst); err != nil {
				return nil, common.Wrap(err)
			}
		default:
			if len(tc.pending) != 0 {
				return nil, common.Wrap(fmt.Errorf("Line %d: %s inside an open batch, "+
					"close it with '> batch'", inst.LineNum, inst.Typ))
			}
			steps = append(steps, Step{Instruction: inst})
		}
	}
	if len(tc.pending) != 0 {
		steps = append(steps, Step{Batch: tc.closeBatch()})
	}
	return steps, nil
}

// GenerateOfflineTxs returns the signed transactions described by a set of
// type Offline
func (tc *Context) GenerateOfflineTxs(set string) ([]common.OfflineTx, error) {
	parser := newParser(strings.NewReader(set))
	parsedSet, err := parser.parse()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if parsedSet.typ != SetTypeOffline {
		return nil, common.Wrap(fmt.Errorf("Expected set type: %s, found: %s",
			SetTypeOffline, parsedSet.typ))
	}
	tc.instructions = parsedSet.instructions
	tc.accountNames = parsedSet.users
	tc.generateKeys(tc.accountNames)
	for _, inst := range tc.instructions {
		if err := tc.addTransfer(inst); err != nil {
			return nil, common.Wrap(err)
		}
	}
	txs := tc.pending
	tc.pending = nil
	return txs, nil
}

func (tc *Context) addTransfer(inst Instruction) error {
	from, to := tc.Accounts[inst.From], tc.Accounts[inst.To]
	from.Nonce++
	tx := common.NewOfflineTx(from.Addr, to.Addr, inst.TokenType, inst.Amount, from.Nonce, tc.Timestamp)
	if err := tx.Sign(from.Sk); err != nil {
		return common.Wrap(fmt.Errorf("Line %d: %w", inst.LineNum, err))
	}
	tc.pending = append(tc.pending, *tx)
	return nil
}

func (tc *Context) closeBatch() *common.TxBatch {
	tc.batchCount++
	txs := tc.pending
	tc.pending = nil
	return &common.TxBatch{
		BatchID:   fmt.Sprintf("til-%d", tc.batchCount),
		Submitter: txs[0].From,
		Txs:       txs,
		Timestamp: tc.Timestamp,
		FlowUsed:  common.CalcBatchFee(len(txs)),
	}
}

// RestartNonces sets all the account nonces to 0
func (tc *Context) RestartNonces() {
	for name := range tc.Accounts {
		tc.Accounts[name].Nonce = 0
	}
}

// generateKeys generates the ethereum keys for the given list of user
// names in a deterministic way. This means, that for the same given
// 'userNames' in a certain order, the keys will be always the same.
func (tc *Context) generateKeys(userNames []string) {
	for i := 1; i < len(userNames)+1; i++ {
		if _, ok := tc.Accounts[userNames[i-1]]; ok {
			// account already created
			continue
		}

		u := NewUser(len(tc.Accounts)+1, userNames[i-1])
		tc.Accounts[userNames[i-1]] = &u
	}
}

// NewUser creates a User deriving its key from keyDerivationIndex
func NewUser(keyDerivationIndex int, name string) Account {
	var key ecdsa.PrivateKey
	key.D = big.NewInt(int64(keyDerivationIndex)) // only for testing
	key.PublicKey.X, key.PublicKey.Y = ethCrypto.S256().ScalarBaseMult(key.D.Bytes())
	key.Curve = ethCrypto.S256()
	addr := ethCrypto.PubkeyToAddress(key.PublicKey)

	return Account{
		Name: name,
		Sk:   &key,
		Addr: addr,
	}
}

// Ledger is the set of operations used to apply the steps
type Ledger interface {
	InitializeAccount(ctx context.Context, addr ethCommon.Address,
		flowDeposit, pyusdDeposit *big.Int, fundingTx ethCommon.Hash) (*common.Account, error)
	AddDeposit(ctx context.Context, t common.TokenType, addr ethCommon.Address,
		amount *big.Int, fundingTx ethCommon.Hash) (*common.Account, error)
	PromoteToBalance(ctx context.Context, t common.TokenType, addr ethCommon.Address,
		amount *big.Int) (*common.Account, error)
	WithdrawDeposit(ctx context.Context, t common.TokenType, addr ethCommon.Address,
		amount *big.Int) (*common.Account, error)
	SubmitBatch(ctx context.Context, batch *common.TxBatch) (*common.BatchData, error)
}

// Apply runs the steps against the ledger in order, stopping at the first
// error.  The deposits are made without funding transaction.  It returns
// the settled batches.
func (tc *Context) Apply(ctx context.Context, ledger Ledger, steps []Step) ([]*common.BatchData, error) {
	var settled []*common.BatchData
	for _, step := range steps {
		if step.Batch != nil {
			data, err := ledger.SubmitBatch(ctx, step.Batch)
			if err != nil {
				return settled, common.Wrap(fmt.Errorf("batch %s: %w", step.Batch.BatchID, err))
			}
			settled = append(settled, data)
			continue
		}
		inst := step.Instruction
		addr := tc.Accounts[inst.From].Addr
		var err error
		switch inst.Typ {
		case TypeInit:
			flowDeposit, pyusdDeposit := big.NewInt(0), big.NewInt(0)
			if inst.TokenType == common.TokenPYUSD {
				pyusdDeposit = inst.Amount
			} else {
				flowDeposit = inst.Amount
			}
			_, err = ledger.InitializeAccount(ctx, addr, flowDeposit, pyusdDeposit, ethCommon.Hash{})
		case TypeDeposit:
			_, err = ledger.AddDeposit(ctx, inst.TokenType, addr, inst.Amount, ethCommon.Hash{})
		case TypePromote:
			_, err = ledger.PromoteToBalance(ctx, inst.TokenType, addr, inst.Amount)
		case TypeWithdraw:
			_, err = ledger.WithdrawDeposit(ctx, inst.TokenType, addr, inst.Amount)
		default:
			err = fmt.Errorf("unexpected instruction type %s", inst.Typ)
		}
		if err != nil {
			return settled, common.Wrap(fmt.Errorf("Line %d: %s: %w", inst.LineNum, inst.raw(), err))
		}
	}
	return settled, nil
}
