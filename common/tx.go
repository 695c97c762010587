package common

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxID is the identifier of an offline transaction.  It is generated from
// the sender, receiver, nonce and timestamp, and keeps them readable:
// "<from>-<to>-<nonce>-<timestamp>" with the addresses in lowercase hex
// without the 0x prefix.
type TxID string

// GenerateTxID returns the TxID of the transaction with the given fields.
// The same inputs always return the same TxID.
func GenerateTxID(from, to ethCommon.Address, nonce Nonce, timestamp int64) TxID {
	return TxID(fmt.Sprintf("%s-%s-%d-%d",
		hex.EncodeToString(from.Bytes()), hex.EncodeToString(to.Bytes()), nonce, timestamp))
}

// TxStatus is the settlement status of an offline transaction
type TxStatus string

const (
	// TxStatusPending marks a transaction not yet settled
	TxStatusPending TxStatus = "pending"
	// TxStatusSettled marks a transaction applied in a committed batch
	TxStatusSettled TxStatus = "settled"
	// TxStatusRejected marks a transaction of a rejected batch
	TxStatusRejected TxStatus = "rejected"
)

// OfflineTx is a transfer signed by the sender without contacting the
// settlement node.
type OfflineTx struct {
	ID        TxID              `json:"id"`
	From      ethCommon.Address `json:"from"`
	To        ethCommon.Address `json:"to"`
	Amount    *big.Int          `json:"amount"`
	Timestamp int64             `json:"timestamp"`
	Nonce     Nonce             `json:"nonce"`
	Signature Signature         `json:"signature"`
	Status    TxStatus          `json:"status"`
	TokenType TokenType         `json:"tokenType"`
}

// NewOfflineTx returns a pending OfflineTx with its ID generated from the
// fields.  The transaction still has to be signed.
func NewOfflineTx(from, to ethCommon.Address, tokenType TokenType, amount *big.Int,
	nonce Nonce, timestamp int64) *OfflineTx {
	return &OfflineTx{
		ID:        GenerateTxID(from, to, nonce, timestamp),
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: timestamp,
		Nonce:     nonce,
		Status:    TxStatusPending,
		TokenType: tokenType,
	}
}

// MessageHash returns the hash authorized by the signature of the
// transaction:
//
//	keccak256(id || from || to || uint256(amount) || uint256(timestamp) || uint256(nonce))
//
// which is the tight packing of (string, address, address, uint256,
// uint256, uint256).
func (tx *OfflineTx) MessageHash() (ethCommon.Hash, error) {
	if tx.Amount == nil || tx.Amount.Sign() < 0 || tx.Amount.BitLen() > 256 { //nolint:gomnd
		return ethCommon.Hash{}, Wrap(ErrInvalidAmount)
	}
	if tx.Timestamp < 0 {
		return ethCommon.Hash{}, Wrap(fmt.Errorf("%s Timestamp", ErrNumOverflow))
	}
	var b []byte
	b = append(b, []byte(tx.ID)...)
	b = append(b, tx.From.Bytes()...)
	b = append(b, tx.To.Bytes()...)
	b = append(b, math.U256Bytes(new(big.Int).Set(tx.Amount))...)
	b = append(b, math.U256Bytes(big.NewInt(tx.Timestamp))...)
	b = append(b, math.U256Bytes(new(big.Int).SetUint64(uint64(tx.Nonce)))...)
	return crypto.Keccak256Hash(b), nil
}

// Signature is a 65 bytes [R || S || V] secp256k1 signature.  V can be 0/1
// or 27/28.
type Signature []byte

// MarshalJSON encodes the Signature as 0x prefixed hex
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(s))
}

// UnmarshalJSON decodes a 0x prefixed hex Signature
func (s *Signature) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return Wrap(err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(str, "0x"))
	if err != nil {
		return Wrap(fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}
	*s = raw
	return nil
}
