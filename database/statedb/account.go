package statedb

import (
	"fmt"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db"
)

// CreateAccount stores a new Account under the next AccountIdx, which is
// set in account.Idx.  Fails with common.ErrAlreadyInitialized if the
// address already has an account.  If StateDB.AccountTree==nil, MerkleTree
// is not affected, otherwise updates the MerkleTree, returning a
// CircomProcessorProof.
func (s *StateDB) CreateAccount(account *common.Account) (
	*merkletree.CircomProcessorProof, error) {
	if _, err := getIdxByEthAddr(s.db.DB(), account.EthAddr); err == nil {
		return nil, common.Wrap(common.ErrAlreadyInitialized)
	} else if common.Unwrap(err) != common.ErrAccountNotFound {
		return nil, common.Wrap(err)
	}
	idx := s.db.CurrentAccountIdx + 1
	account.Idx = idx
	cpp, err := createAccountInTreeDB(s.db.DB(), s.AccountTree, idx, account)
	if err != nil {
		return cpp, common.Wrap(err)
	}
	if err := s.db.SetCurrentAccountIdx(idx); err != nil {
		return cpp, common.Wrap(err)
	}
	// store idx by EthAddr
	err = s.setIdxByEthAddr(idx, account.EthAddr)
	return cpp, common.Wrap(err)
}

// createAccountInTreeDB creates a new Account in the given storage for the
// given Idx.  If mt==nil, MerkleTree is not affected, otherwise updates the
// MerkleTree, returning a CircomProcessorProof.
func createAccountInTreeDB(sto db.Storage, mt *merkletree.MerkleTree, idx common.AccountIdx,
	account *common.Account) (*merkletree.CircomProcessorProof, error) {
	// store at the DB the key: v, and value: leaf.Bytes()
	v, err := account.HashValue()
	if err != nil {
		return nil, common.Wrap(err)
	}
	accountBytes, err := account.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}

	// store the Leaf value
	tx, err := sto.NewTx()
	if err != nil {
		return nil, common.Wrap(err)
	}

	idxBytes, err := idx.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}
	_, err = tx.Get(keyWithPrefix(PrefixKeyIdx, idxBytes[:]))
	if common.Unwrap(err) != db.ErrNotFound {
		return nil, common.Wrap(common.ErrAlreadyInitialized)
	}

	err = tx.Put(keyWithPrefix(PrefixKeyAccHash, v.Bytes()), accountBytes[:])
	if err != nil {
		return nil, common.Wrap(err)
	}
	err = tx.Put(keyWithPrefix(PrefixKeyIdx, idxBytes[:]), v.Bytes())
	if err != nil {
		return nil, common.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, common.Wrap(err)
	}

	if mt != nil {
		return mt.AddAndGetCircomProof(idx.BigInt(), v)
	}

	return nil, nil
}

// GetAccount returns the account of the given address.  Fails with
// common.ErrAccountNotFound if there is none.
func (s *StateDB) GetAccount(addr ethCommon.Address) (*common.Account, error) {
	idx, err := getIdxByEthAddr(s.db.DB(), addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return getAccountInTreeDB(s.db.DB(), idx)
}

// GetAccountByIdx returns the account for the given Idx
func (s *StateDB) GetAccountByIdx(idx common.AccountIdx) (*common.Account, error) {
	return getAccountInTreeDB(s.db.DB(), idx)
}

// getAccountInTreeDB is abstracted from StateDB to be used from StateDB and
// from Last.  Returns the Account from the storage by the given Idx.
func getAccountInTreeDB(sto db.Storage, idx common.AccountIdx) (*common.Account, error) {
	idxBytes, err := idx.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}
	vBytes, err := sto.Get(keyWithPrefix(PrefixKeyIdx, idxBytes[:]))
	if common.Unwrap(err) == db.ErrNotFound {
		return nil, common.Wrap(common.ErrAccountNotFound)
	}
	if err != nil {
		return nil, common.Wrap(err)
	}
	accBytes, err := sto.Get(keyWithPrefix(PrefixKeyAccHash, vBytes))
	if err != nil {
		return nil, common.Wrap(err)
	}
	var b [32 * common.NLeafElems]byte
	copy(b[:], accBytes)
	account, err := common.AccountFromBytes(b)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// UpdateAccount updates the Account in the StateDB for its Idx.  If
// StateDB.AccountTree==nil, MerkleTree is not affected, otherwise updates the
// MerkleTree, returning a CircomProcessorProof.
func (s *StateDB) UpdateAccount(account *common.Account) (
	*merkletree.CircomProcessorProof, error) {
	return updateAccountInTreeDB(s.db.DB(), s.AccountTree, account.Idx, account)
}

// updateAccountInTreeDB is abstracted from StateDB to be used from StateDB.
// Updates the Account in the storage for the given Idx.  If mt==nil,
// MerkleTree is not affected, otherwise updates the MerkleTree, returning a
// CircomProcessorProof.
func updateAccountInTreeDB(sto db.Storage, mt *merkletree.MerkleTree, idx common.AccountIdx,
	account *common.Account) (*merkletree.CircomProcessorProof, error) {
	// store at the DB the key: v, and value: account.Bytes()
	v, err := account.HashValue()
	if err != nil {
		return nil, common.Wrap(err)
	}
	accountBytes, err := account.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}

	tx, err := sto.NewTx()
	if err != nil {
		return nil, common.Wrap(err)
	}
	idxBytes, err := idx.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if _, err := tx.Get(keyWithPrefix(PrefixKeyIdx, idxBytes[:])); common.Unwrap(err) == db.ErrNotFound {
		return nil, common.Wrap(common.ErrAccountNotFound)
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	err = tx.Put(keyWithPrefix(PrefixKeyAccHash, v.Bytes()), accountBytes[:])
	if err != nil {
		return nil, common.Wrap(err)
	}
	err = tx.Put(keyWithPrefix(PrefixKeyIdx, idxBytes[:]), v.Bytes())
	if err != nil {
		return nil, common.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, common.Wrap(err)
	}

	if mt != nil {
		proof, err := mt.Update(idx.BigInt(), v)
		return proof, common.Wrap(err)
	}
	return nil, nil
}

// GetAccounts returns all the accounts, ordered by Idx
func (s *StateDB) GetAccounts() ([]common.Account, error) {
	var accounts []common.Account
	for idx := common.AccountIdxUserThreshold; idx <= s.db.CurrentAccountIdx; idx++ {
		account, err := s.GetAccountByIdx(idx)
		if err != nil {
			return nil, common.Wrap(err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}

// MTGetAccountProof returns the CircomVerifierProof of the account of the
// given address
func (s *StateDB) MTGetAccountProof(addr ethCommon.Address) (*merkletree.CircomVerifierProof, error) {
	if s.AccountTree == nil {
		return nil, common.Wrap(ErrStateDBWithoutMT)
	}
	idx, err := getIdxByEthAddr(s.db.DB(), addr)
	if err != nil {
		return nil, common.Wrap(err)
	}
	p, err := s.AccountTree.GenerateSCVerifierProof(idx.BigInt(), s.AccountTree.Root())
	if err != nil {
		return nil, common.Wrap(err)
	}
	return p, nil
}

// setIdxByEthAddr stores the given Idx in the StateDB as follows:
// - key: Eth Address, value: idx
func (s *StateDB) setIdxByEthAddr(idx common.AccountIdx, addr ethCommon.Address) error {
	idxBytes, err := idx.Bytes()
	if err != nil {
		return common.Wrap(err)
	}
	tx, err := s.db.DB().NewTx()
	if err != nil {
		return common.Wrap(err)
	}
	if err := tx.Put(keyWithPrefix(PrefixKeyAddr, addr.Bytes()), idxBytes[:]); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(tx.Commit())
}

// GetIdxByEthAddr returns the Idx of the account of the given address.
// Fails with common.ErrAccountNotFound if there is none.
func (s *StateDB) GetIdxByEthAddr(addr ethCommon.Address) (common.AccountIdx, error) {
	return getIdxByEthAddr(s.db.DB(), addr)
}

func getIdxByEthAddr(sto db.Storage, addr ethCommon.Address) (common.AccountIdx, error) {
	b, err := sto.Get(keyWithPrefix(PrefixKeyAddr, addr.Bytes()))
	if common.Unwrap(err) == db.ErrNotFound {
		return 0, common.Wrap(common.ErrAccountNotFound)
	} else if err != nil {
		return 0, common.Wrap(fmt.Errorf("GetIdxByEthAddr: %w: EthAddr: %s", err, addr.Hex()))
	}
	idx, err := common.AccountIdxFromBytes(b)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("GetIdxByEthAddr: %w: EthAddr: %s", err, addr.Hex()))
	}
	return idx, nil
}
