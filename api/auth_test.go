package api

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"offgridpay/common"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// malleate turns sig into the other valid signature of the same message:
// s becomes n - s and the recovery id is flipped
func malleate(sig []byte) {
	n := ethCrypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	new(big.Int).Sub(n, s).FillBytes(sig[32:64])
	sig[64] = 55 - sig[64]
}

func signedBody(t *testing.T, u user, path string) ([]byte, []byte) {
	raw, err := json.Marshal(map[string]interface{}{"address": u.addr, "timestamp": now})
	require.NoError(t, err)
	sigHex, err := SignRequest(u.sk, http.MethodPost, path, raw)
	require.NoError(t, err)
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	require.NoError(t, err)
	return raw, sig
}

func TestAuthenticate(t *testing.T) {
	au := newAuthenticator(func() time.Time { return time.Unix(now, 0) })
	u := newUser(t)
	raw, sig := signedBody(t, u, "/v1/deposits")

	signer, err := au.authenticate(http.MethodPost, "/v1/deposits", raw, hex.EncodeToString(sig))
	require.NoError(t, err)
	assert.Equal(t, u.addr, signer)

	// replayed as is
	_, err = au.authenticate(http.MethodPost, "/v1/deposits", raw, hex.EncodeToString(sig))
	assert.Equal(t, errReplayedRequest, common.Unwrap(err))

	// replayed with the high-s form of the signature
	malleated := append([]byte{}, sig...)
	malleate(malleated)
	_, err = au.authenticate(http.MethodPost, "/v1/deposits", raw, hex.EncodeToString(malleated))
	assert.ErrorIs(t, common.Unwrap(err), common.ErrInvalidSignature)

	// replayed to another route the signature recovers another address
	signer, err = au.authenticate(http.MethodPost, "/v1/deposits/withdraw", raw,
		hex.EncodeToString(sig))
	require.NoError(t, err)
	assert.NotEqual(t, u.addr, signer)

	// the same request of another signer is not a replay
	v := newUser(t)
	raw, sig = signedBody(t, v, "/v1/deposits")
	signer, err = au.authenticate(http.MethodPost, "/v1/deposits", raw, hex.EncodeToString(sig))
	require.NoError(t, err)
	assert.Equal(t, v.addr, signer)
}

func TestAuthenticateConcurrent(t *testing.T) {
	au := newAuthenticator(func() time.Time { return time.Unix(now, 0) })
	raw, sig := signedBody(t, newUser(t), "/v1/accounts")
	sigHex := hex.EncodeToString(sig)

	const workers = 32
	var accepted int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := au.authenticate(http.MethodPost, "/v1/accounts", raw, sigHex); err == nil {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), accepted)
}
