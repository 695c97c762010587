package common

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLen is the length of a Signature
const SignatureLen = 65

// SignHash signs the personal message (EIP-191) of hash with sk, returning
// a signature with V in {27, 28} as produced by wallets.
func SignHash(sk *ecdsa.PrivateKey, hash []byte) (Signature, error) {
	sig, err := crypto.Sign(accounts.TextHash(hash), sk)
	if err != nil {
		return nil, Wrap(err)
	}
	sig[64] += 27 //nolint:gomnd
	return sig, nil
}

// RecoverSigner returns the address that signed the personal message
// (EIP-191) of hash.  Signatures with a high s value are rejected.
func RecoverSigner(hash []byte, sig Signature) (ethCommon.Address, error) {
	if len(sig) != SignatureLen {
		return EmptyAddr, Wrap(fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig)))
	}
	s := make([]byte, SignatureLen)
	copy(s, sig)
	if s[64] >= 27 { //nolint:gomnd
		s[64] -= 27
	}
	// only the low-s form is accepted so that a signature can not be
	// malleated into a second valid one
	r, ss := new(big.Int).SetBytes(s[:32]), new(big.Int).SetBytes(s[32:64])
	if !crypto.ValidateSignatureValues(s[64], r, ss, true) {
		return EmptyAddr, Wrap(fmt.Errorf("%w: values out of range", ErrInvalidSignature))
	}
	pk, err := crypto.SigToPub(accounts.TextHash(hash), s)
	if err != nil {
		return EmptyAddr, Wrap(fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}
	return crypto.PubkeyToAddress(*pk), nil
}

// RequestMessage returns the message signed to authenticate an HTTP
// request: the method and path of the request followed by its body
func RequestMessage(method, path string, body []byte) []byte {
	msg := make([]byte, 0, len(method)+len(path)+len(body)+2) //nolint:gomnd
	msg = append(msg, method...)
	msg = append(msg, ' ')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	return append(msg, body...)
}

// Sign sets the signature of the transaction made with sk
func (tx *OfflineTx) Sign(sk *ecdsa.PrivateKey) error {
	h, err := tx.MessageHash()
	if err != nil {
		return Wrap(err)
	}
	sig, err := SignHash(sk, h.Bytes())
	if err != nil {
		return Wrap(err)
	}
	tx.Signature = sig
	return nil
}

// Signer returns the address recovered from the signature of the
// transaction
func (tx *OfflineTx) Signer() (ethCommon.Address, error) {
	h, err := tx.MessageHash()
	if err != nil {
		return EmptyAddr, Wrap(err)
	}
	return RecoverSigner(h.Bytes(), tx.Signature)
}
