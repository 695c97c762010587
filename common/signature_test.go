package common

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverSigner(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(sk.PublicKey)
	msg := RequestMessage("POST", "/v1/deposits", []byte(`{"timestamp":1}`))
	assert.Equal(t, "POST /v1/deposits\n{\"timestamp\":1}", string(msg))

	sig, err := SignHash(sk, msg)
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig[64])
	signer, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, signer)

	// V in {0, 1}
	raw := append(Signature{}, sig...)
	raw[64] -= 27
	signer, err = RecoverSigner(msg, raw)
	require.NoError(t, err)
	assert.Equal(t, addr, signer)

	// the high-s twin of a valid signature
	high := append(Signature{}, sig...)
	n := crypto.S256().Params().N
	new(big.Int).Sub(n, new(big.Int).SetBytes(sig[32:64])).FillBytes(high[32:64])
	high[64] = 55 - sig[64]
	_, err = RecoverSigner(msg, high)
	assert.ErrorIs(t, Unwrap(err), ErrInvalidSignature)

	bad := append(Signature{}, sig...)
	bad[64] = 29
	_, err = RecoverSigner(msg, bad)
	assert.ErrorIs(t, Unwrap(err), ErrInvalidSignature)
	_, err = RecoverSigner(msg, sig[:64])
	assert.ErrorIs(t, Unwrap(err), ErrInvalidSignature)

	// a signature of another path recovers another address
	signer, err = RecoverSigner(RequestMessage("POST", "/v1/deposits/withdraw",
		[]byte(`{"timestamp":1}`)), sig)
	require.NoError(t, err)
	assert.NotEqual(t, addr, signer)
}
