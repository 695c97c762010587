package statedb

import (
	"encoding/json"
	"math/big"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree/db"
)

var (
	// keyStats is used as key in the db to store the Stats
	keyStats = []byte("k:stats")
	// keyPyusdToken is used as key in the db to store the PYUSD token address
	keyPyusdToken = []byte("k:pyusdtoken")
	// prefixKeyHeld is the key prefix for the amount held by the node per
	// asset
	prefixKeyHeld = []byte("k:held:")
	// prefixKeyFunding is the key prefix for the credited funding
	// transactions of FLOW deposits
	prefixKeyFunding = []byte("k:fund:")
)

func keyWithPrefix(prefix, k []byte) []byte {
	b := make([]byte, 0, len(prefix)+len(k))
	b = append(b, prefix...)
	return append(b, k...)
}

func put(sto db.Storage, k, v []byte) error {
	tx, err := sto.NewTx()
	if err != nil {
		return common.Wrap(err)
	}
	if err := tx.Put(k, v); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(tx.Commit())
}

// MarkProcessed adds the TxID to the processed set.  The membership is
// permanent: no method removes it.
func (s *StateDB) MarkProcessed(id common.TxID) error {
	// the value is the BatchNum of the commit that will contain the id
	return put(s.db.DB(), keyWithPrefix(PrefixKeyProcessed, []byte(id)), (s.CurrentBatch() + 1).Bytes())
}

// IsProcessed returns true if the TxID is in the processed set
func (s *StateDB) IsProcessed(id common.TxID) (bool, error) {
	return isProcessed(s.db.DB(), id)
}

// GetProcessedBatchNum returns the BatchNum of the commit that settled the
// TxID
func (s *StateDB) GetProcessedBatchNum(id common.TxID) (common.BatchNum, error) {
	b, err := s.db.DB().Get(keyWithPrefix(PrefixKeyProcessed, []byte(id)))
	if err != nil {
		return 0, common.Wrap(err)
	}
	return common.BatchNumFromBytes(b)
}

func isProcessed(sto db.Storage, id common.TxID) (bool, error) {
	_, err := sto.Get(keyWithPrefix(PrefixKeyProcessed, []byte(id)))
	if common.Unwrap(err) == db.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, common.Wrap(err)
	}
	return true, nil
}

// GetStats returns the counters of the node
func (s *StateDB) GetStats() (*common.Stats, error) {
	return getStats(s.db.DB())
}

func getStats(sto db.Storage) (*common.Stats, error) {
	b, err := sto.Get(keyStats)
	if common.Unwrap(err) == db.ErrNotFound {
		return common.NewStats(), nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	stats := common.NewStats()
	if err := json.Unmarshal(b, stats); err != nil {
		return nil, common.Wrap(err)
	}
	return stats, nil
}

// SetStats stores the counters of the node
func (s *StateDB) SetStats(stats *common.Stats) error {
	b, err := json.Marshal(stats)
	if err != nil {
		return common.Wrap(err)
	}
	return put(s.db.DB(), keyStats, b)
}

// GetPyusdToken returns the address of the PYUSD token, or false if it has
// not been set
func (s *StateDB) GetPyusdToken() (ethCommon.Address, bool, error) {
	b, err := s.db.DB().Get(keyPyusdToken)
	if common.Unwrap(err) == db.ErrNotFound {
		return common.EmptyAddr, false, nil
	} else if err != nil {
		return common.EmptyAddr, false, common.Wrap(err)
	}
	return ethCommon.BytesToAddress(b), true, nil
}

// SetPyusdToken stores the address of the PYUSD token
func (s *StateDB) SetPyusdToken(addr ethCommon.Address) error {
	return put(s.db.DB(), keyPyusdToken, addr.Bytes())
}

// GetHeld returns the amount of the asset held by the node: deposits and
// balances of all the accounts, plus fees collected, minus withdrawals and
// sweeps.
func (s *StateDB) GetHeld(t common.TokenType) (*big.Int, error) {
	b, err := s.db.DB().Get(keyWithPrefix(prefixKeyHeld, []byte(t.String())))
	if common.Unwrap(err) == db.ErrNotFound {
		return big.NewInt(0), nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	return new(big.Int).SetBytes(b), nil
}

// SetHeld stores the amount of the asset held by the node
func (s *StateDB) SetHeld(t common.TokenType, amount *big.Int) error {
	if amount.Sign() < 0 {
		return common.Wrap(common.ErrInvalidAmount)
	}
	return put(s.db.DB(), keyWithPrefix(prefixKeyHeld, []byte(t.String())), amount.Bytes())
}

// AddHeld adds delta (which can be negative) to the amount of the asset
// held by the node
func (s *StateDB) AddHeld(t common.TokenType, delta *big.Int) error {
	held, err := s.GetHeld(t)
	if err != nil {
		return common.Wrap(err)
	}
	return s.SetHeld(t, held.Add(held, delta))
}

// MarkFunding records the hash of a credited funding transaction
func (s *StateDB) MarkFunding(h ethCommon.Hash) error {
	return put(s.db.DB(), keyWithPrefix(prefixKeyFunding, h.Bytes()), (s.CurrentBatch() + 1).Bytes())
}

// IsFundingUsed returns true if the funding transaction was already
// credited
func (s *StateDB) IsFundingUsed(h ethCommon.Hash) (bool, error) {
	_, err := s.db.DB().Get(keyWithPrefix(prefixKeyFunding, h.Bytes()))
	if common.Unwrap(err) == db.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, common.Wrap(err)
	}
	return true, nil
}
