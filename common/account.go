package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/poseidon"
	cryptoUtils "github.com/iden3/go-iden3-crypto/utils"
)

const (
	// NLeafElems is the number of elements for a leaf
	NLeafElems = 6

	// maxBalanceBytes is the maximum bytes that can use each balance or
	// deposit *big.Int of the Account
	maxBalanceBytes = 24

	// AccountIdxBytesLen idx bytes
	AccountIdxBytesLen = 3

	// maxAccountIdxValue is the maximum value that AccountIdx can have
	// (24 bits: maxAccountIdxValue=2**24-1)
	maxAccountIdxValue = 0xffffff

	// UserThreshold determines the threshold from the User Idxs can be
	UserThreshold = 256
	// AccountIdxUserThreshold is the first AccountIdx assigned to a user
	AccountIdxUserThreshold = AccountIdx(UserThreshold)
	// ReservedAccountIdx is the last reserved AccountIdx, the next one
	// created is the first user account
	ReservedAccountIdx = AccountIdx(UserThreshold - 1)

	// MaxNonceValue is the maximum value that the Account.Nonce can have
	// (40 bits: MaxNonceValue=2**40-1)
	MaxNonceValue = 0xffffffffff
)

var (
	// EmptyAddr is used to check if an ethereum address is 0
	EmptyAddr = ethCommon.HexToAddress("0x0000000000000000000000000000000000000000")
)

// AccountIdx is the position of an Account in the account MerkleTree.  It is
// assigned sequentially when the account is initialized.
type AccountIdx uint32

// Bytes returns a byte array representing the AccountIdx
func (idx AccountIdx) Bytes() ([AccountIdxBytesLen]byte, error) {
	if idx > maxAccountIdxValue {
		return [AccountIdxBytesLen]byte{}, Wrap(ErrIdxOverflow)
	}
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], uint32(idx))
	var b [AccountIdxBytesLen]byte
	copy(b[:], idxBytes[1:])
	return b, nil
}

// BigInt returns a *big.Int representing the AccountIdx
func (idx AccountIdx) BigInt() *big.Int {
	return big.NewInt(int64(idx))
}

// AccountIdxFromBytes returns AccountIdx from a byte array
func AccountIdxFromBytes(b []byte) (AccountIdx, error) {
	if len(b) != AccountIdxBytesLen {
		return 0, Wrap(fmt.Errorf("can not parse AccountIdx, bytes len %d, expected %d",
			len(b), AccountIdxBytesLen))
	}
	var idxBytes [4]byte
	copy(idxBytes[1:], b[:])
	return AccountIdx(binary.BigEndian.Uint32(idxBytes[:])), nil
}

// Nonce represents the nonce value in a uint64, which has the method Bytes
// that returns a byte array of length 5 (40 bits).
type Nonce uint64

// Bytes returns a byte array of length 5 representing the Nonce
func (n Nonce) Bytes() ([5]byte, error) {
	if n > MaxNonceValue {
		return [5]byte{}, Wrap(ErrNonceOverflow)
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(n))
	var b [5]byte
	copy(b[:], nonceBytes[3:])
	return b, nil
}

// NonceFromBytes returns Nonce from a [5]byte
func NonceFromBytes(b [5]byte) Nonce {
	var nonceBytes [8]byte
	copy(nonceBytes[3:], b[:])
	return Nonce(binary.BigEndian.Uint64(nonceBytes[:]))
}

// Account holds the two asset pairs (spendable balance and collateral
// deposit) of a participant, together with its nonce and activation flag.
// Is the data structure that generates the Value stored in the leaf of the
// MerkleTree.
type Account struct {
	Idx          AccountIdx        `json:"idx"`
	EthAddr      ethCommon.Address `json:"address"`
	FlowBalance  *big.Int          `json:"flowBalance"`
	PyusdBalance *big.Int          `json:"pyusdBalance"`
	FlowDeposit  *big.Int          `json:"flowDeposit"`
	PyusdDeposit *big.Int          `json:"pyusdDeposit"`
	Nonce        Nonce             `json:"nonce"`
	IsActive     bool              `json:"isActive"`
	LastSyncTime int64             `json:"lastSyncTime"`
}

// NewAccount returns an active Account with zero balances and the given
// deposits
func NewAccount(addr ethCommon.Address, flowDeposit, pyusdDeposit *big.Int) *Account {
	return &Account{
		EthAddr:      addr,
		FlowBalance:  big.NewInt(0),
		PyusdBalance: big.NewInt(0),
		FlowDeposit:  new(big.Int).Set(flowDeposit),
		PyusdDeposit: new(big.Int).Set(pyusdDeposit),
		IsActive:     true,
	}
}

// Balance returns the spendable balance of the given asset.  The returned
// *big.Int is the field of the Account, so it can be mutated in place.
func (a *Account) Balance(t TokenType) *big.Int {
	if t == TokenPYUSD {
		return a.PyusdBalance
	}
	return a.FlowBalance
}

// Deposit returns the collateral deposit of the given asset.  The returned
// *big.Int is the field of the Account, so it can be mutated in place.
func (a *Account) Deposit(t TokenType) *big.Int {
	if t == TokenPYUSD {
		return a.PyusdDeposit
	}
	return a.FlowDeposit
}

// Copy returns a deep copy of the Account
func (a *Account) Copy() *Account {
	c := *a
	c.FlowBalance = new(big.Int).Set(a.FlowBalance)
	c.PyusdBalance = new(big.Int).Set(a.PyusdBalance)
	c.FlowDeposit = new(big.Int).Set(a.FlowDeposit)
	c.PyusdDeposit = new(big.Int).Set(a.PyusdDeposit)
	return &c
}

// Bytes returns the bytes representing the Account, in a way that each BigInt
// is represented by 32 bytes, in spite of the BigInt could be represented in
// less bytes (due a small big.Int), so in this way each BigInt is always 32
// bytes and can be automatically parsed from a byte array.
//
// Layout:
//
//	[0:32]    idx [11:14] | lastSyncTime [14:22] | active [22] | nonce [23:28]
//	[32:64]   flowBalance (max 24 bytes)
//	[64:96]   pyusdBalance
//	[96:128]  flowDeposit
//	[128:160] pyusdDeposit
//	[172:192] ethAddr
func (a *Account) Bytes() ([32 * NLeafElems]byte, error) {
	var b [32 * NLeafElems]byte

	if a.Nonce > MaxNonceValue {
		return b, Wrap(fmt.Errorf("%s Nonce", ErrNumOverflow))
	}
	if a.LastSyncTime < 0 {
		return b, Wrap(fmt.Errorf("%s LastSyncTime", ErrNumOverflow))
	}
	idxBytes, err := a.Idx.Bytes()
	if err != nil {
		return b, Wrap(err)
	}
	nonceBytes, err := a.Nonce.Bytes()
	if err != nil {
		return b, Wrap(err)
	}
	copy(b[11:14], idxBytes[:])
	binary.BigEndian.PutUint64(b[14:22], uint64(a.LastSyncTime))
	if a.IsActive {
		b[22] = 1
	}
	copy(b[23:28], nonceBytes[:])

	amounts := []struct {
		name string
		v    *big.Int
	}{
		{"FlowBalance", a.FlowBalance},
		{"PyusdBalance", a.PyusdBalance},
		{"FlowDeposit", a.FlowDeposit},
		{"PyusdDeposit", a.PyusdDeposit},
	}
	for i, amount := range amounts {
		if amount.v == nil || amount.v.Sign() < 0 {
			return b, Wrap(fmt.Errorf("%w: %s", ErrInvalidAmount, amount.name))
		}
		vBytes := amount.v.Bytes()
		if len(vBytes) > maxBalanceBytes {
			return b, Wrap(fmt.Errorf("%s %s", ErrNumOverflow, amount.name))
		}
		end := 32 * (i + 2) //nolint:gomnd
		copy(b[end-len(vBytes):end], vBytes)
	}
	copy(b[172:192], a.EthAddr.Bytes())
	return b, nil
}

// HashValue returns the value of the Account, which is the Poseidon hash of its
// *big.Int representation
func (a *Account) HashValue() (*big.Int, error) {
	bi, err := a.BigInts()
	if err != nil {
		return nil, Wrap(err)
	}
	return poseidon.Hash(bi[:])
}

// BigInts returns the [NLeafElems]*big.Int, where each *big.Int is inside the
// Finite Field
func (a *Account) BigInts() ([NLeafElems]*big.Int, error) {
	e := [NLeafElems]*big.Int{}

	b, err := a.Bytes()
	if err != nil {
		return e, Wrap(err)
	}
	for i := 0; i < NLeafElems; i++ {
		e[i] = new(big.Int).SetBytes(b[32*i : 32*(i+1)])
	}
	return e, nil
}

// AccountFromBytes returns a Account from a byte array
func AccountFromBytes(b [32 * NLeafElems]byte) (*Account, error) {
	idx, err := AccountIdxFromBytes(b[11:14])
	if err != nil {
		return nil, Wrap(err)
	}
	var nonceBytes5 [5]byte
	copy(nonceBytes5[:], b[23:28])

	var amounts [4]*big.Int
	for i := range amounts {
		start := 32 * (i + 1) //nolint:gomnd
		// each amount is max of 192 bits (24 bytes)
		if !bytes.Equal(b[start:start+8], make([]byte, 8)) { //nolint:gomnd
			return nil, Wrap(fmt.Errorf("%s amount %d", ErrNumOverflow, i))
		}
		amounts[i] = new(big.Int).SetBytes(b[start+8 : start+32])
		if amounts[i].Sign() == 0 {
			amounts[i] = big.NewInt(0)
		}
		if !cryptoUtils.CheckBigIntInField(amounts[i]) {
			return nil, Wrap(ErrNotInFF)
		}
	}

	a := Account{
		Idx:          idx,
		EthAddr:      ethCommon.BytesToAddress(b[172:192]),
		FlowBalance:  amounts[0],
		PyusdBalance: amounts[1],
		FlowDeposit:  amounts[2],
		PyusdDeposit: amounts[3],
		Nonce:        NonceFromBytes(nonceBytes5),
		IsActive:     b[22] == 1,
		LastSyncTime: int64(binary.BigEndian.Uint64(b[14:22])),
	}
	return &a, nil
}
