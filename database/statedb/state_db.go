package statedb

import (
	"errors"
	"math/big"

	"offgridpay/common"
	"offgridpay/database/kvdb"
	"offgridpay/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db"
	"github.com/iden3/go-merkletree/db/pebble"
)

const (
	// MaxNLevels is the maximum value of NLevels for the merkle tree,
	// which comes from the fact that AccountIdx has 24 bits.
	MaxNLevels = 24
)

// Config of the StateDB
type Config struct {
	// Path where the checkpoints will be stored
	Path string
	// Keep is the number of old checkpoints to keep.  If 0, all
	// checkpoints are kept.
	Keep int
	// NoLast skips having an opened DB with a checkpoint to the last
	// batchNum for thread-safe reads.
	NoLast bool
	// NLevels is the number of merkle tree levels of the account tree.
	// If 0, no merkle tree is kept and StateRoot returns 0.
	NLevels int
	// At every checkpoint, check that there are no gaps between the
	// checkpoints
	noGapsCheck bool
}

var (
	// ErrStateDBWithoutMT is used when a method that requires a MerkleTree
	// is called in a StateDB that does not have a MerkleTree defined
	ErrStateDBWithoutMT = errors.New(
		"cannot call method to use MerkleTree in a StateDB without MerkleTree")
	// ErrInvalidNLevels is used when NLevels is out of range
	ErrInvalidNLevels = errors.New("nLevels must be between 0 and MaxNLevels")

	// PrefixKeyMTAcc is the key prefix for account merkle tree in the db
	PrefixKeyMTAcc = []byte("ma:")
	// PrefixKeyIdx is the key prefix for AccountIdx -> account hash
	PrefixKeyIdx = []byte("i:")
	// PrefixKeyAccHash is the key prefix for account hash -> account bytes
	PrefixKeyAccHash = []byte("h:")
	// PrefixKeyAddr is the key prefix for ethereum address -> AccountIdx
	PrefixKeyAddr = []byte("a:")
	// PrefixKeyProcessed is the key prefix for the processed TxIDs
	PrefixKeyProcessed = []byte("p:")
)

// StateDB is the ledger state of the settlement node: accounts (with a
// merkle tree over them), processed transaction ids, counters and settings.
// It is not thread safe: writes must be serialized by the caller, which
// also decides when they are committed (MakeCheckpoint) or discarded
// (Reset).
type StateDB struct {
	cfg         Config
	db          *kvdb.KVDB
	AccountTree *merkletree.MerkleTree
}

// Last offers reads over the last checkpoint of the StateDB
type Last struct {
	db db.Storage
}

// GetAccount returns the account of the address in the last checkpoint
func (s *Last) GetAccount(addr ethCommon.Address) (*common.Account, error) {
	idx, err := getIdxByEthAddr(s.db, addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return getAccountInTreeDB(s.db, idx)
}

// IsProcessed returns true if the TxID was processed at the last checkpoint
func (s *Last) IsProcessed(id common.TxID) (bool, error) {
	return isProcessed(s.db, id)
}

// GetStats returns the counters at the last checkpoint
func (s *Last) GetStats() (*common.Stats, error) {
	return getStats(s.db)
}

// DB returns the underlying storage of Last
func (s *Last) DB() db.Storage {
	return s.db
}

// NewStateDB creates a new StateDB, or opens the existing one at cfg.Path.
func NewStateDB(cfg Config) (*StateDB, error) {
	if cfg.NLevels < 0 || cfg.NLevels > MaxNLevels {
		return nil, common.Wrap(ErrInvalidNLevels)
	}
	kv, err := kvdb.NewKVDB(kvdb.Config{Path: cfg.Path, Keep: cfg.Keep,
		NoGapsCheck: cfg.noGapsCheck, NoLast: cfg.NoLast})
	if err != nil {
		return nil, common.Wrap(err)
	}

	var mtAccount *merkletree.MerkleTree
	if cfg.NLevels > 0 {
		mtAccount, err = merkletree.NewMerkleTree(kv.StorageWithPrefix(PrefixKeyMTAcc), cfg.NLevels)
		if err != nil {
			return nil, common.Wrap(err)
		}
	}
	return &StateDB{
		cfg:         cfg,
		db:          kv,
		AccountTree: mtAccount,
	}, nil
}

// LastRead is a thread-safe method to query the last checkpoint of the StateDB
// via the Last type methods
func (s *StateDB) LastRead(fn func(sdbLast *Last) error) error {
	return s.db.LastRead(
		func(db *pebble.Storage) error {
			return fn(&Last{
				db: db,
			})
		},
	)
}

// LastGetAccount is a thread-safe method to query an account in the last
// checkpoint of the StateDB.
func (s *StateDB) LastGetAccount(addr ethCommon.Address) (*common.Account, error) {
	var account *common.Account
	if err := s.LastRead(func(sdb *Last) error {
		var err error
		account, err = sdb.GetAccount(addr)
		return err
	}); err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// Close closes the StateDB.
func (s *StateDB) Close() {
	s.db.Close()
}

// Reset resets the StateDB to the checkpoint at the given batchNum. Reset
// does not delete the checkpoints between old current and the new current,
// those checkpoints will remain in the storage, and eventually will be
// deleted when MakeCheckpoint overwrites them.
func (s *StateDB) Reset(batchNum common.BatchNum) error {
	log.Debugw("Making StateDB Reset", "batch", batchNum)
	if err := s.db.Reset(batchNum); err != nil {
		return common.Wrap(err)
	}
	if s.AccountTree != nil {
		// open the Account MT for the current s.db
		accountTree, err := merkletree.NewMerkleTree(s.db.StorageWithPrefix(PrefixKeyMTAcc),
			s.AccountTree.MaxLevels())
		if err != nil {
			return common.Wrap(err)
		}
		s.AccountTree = accountTree
	}
	return nil
}

// Discard drops every write made since the last checkpoint
func (s *StateDB) Discard() error {
	return s.Reset(s.CurrentBatch())
}

// MakeCheckpoint does a checkpoint at the given batchNum in the defined path.
// Internally this advances & stores the current BatchNum, and then stores a
// Checkpoint of the current state of the StateDB.
func (s *StateDB) MakeCheckpoint() error {
	log.Debugw("Making StateDB checkpoint", "batch", s.CurrentBatch()+1)
	return s.db.MakeCheckpoint()
}

// CurrentBatch returns the current in-memory CurrentBatch of the StateDB.db
func (s *StateDB) CurrentBatch() common.BatchNum {
	return s.db.CurrentBatch
}

// CurrentAccountIdx returns the last AccountIdx assigned
func (s *StateDB) CurrentAccountIdx() common.AccountIdx {
	return s.db.CurrentAccountIdx
}

// DeleteOldCheckpoints deletes old checkpoints when there are more than
// `cfg.keep` checkpoints
func (s *StateDB) DeleteOldCheckpoints() error {
	return s.db.DeleteOldCheckpoints()
}

// CheckpointExists returns true if the checkpoint exists
func (s *StateDB) CheckpointExists(batchNum common.BatchNum) (bool, error) {
	return s.db.CheckpointExists(batchNum)
}

// StateRoot returns the root of the account merkle tree, which changes with
// any change of any account.  Returns 0 when the StateDB has no merkle tree.
func (s *StateDB) StateRoot() *big.Int {
	if s.AccountTree == nil {
		return big.NewInt(0)
	}
	return s.AccountTree.Root().BigInt()
}
