package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
)

const (
	// signatureHeader carries the EIP-191 signature of the method, path and
	// body of the request
	signatureHeader = "X-Signature"
	// callerKey is the gin context key of the authenticated caller
	callerKey = "caller"
	// requestWindow is the maximum distance between the timestamp of a
	// signed request and the clock of the node
	requestWindow = 300 * time.Second
	// seenRequests is the number of accepted requests kept to reject
	// replays
	seenRequests = 1 << 16
	// maxBodySize limits the signed bodies
	maxBodySize = 4 << 20
)

var (
	errMissingSignature = fmt.Errorf("missing %s header", signatureHeader)
	errStaleRequest     = fmt.Errorf("request timestamp out of the %v window", requestWindow)
	errReplayedRequest  = fmt.Errorf("request already accepted")
)

// signedRequest is the part of a signed body read by the authenticator
type signedRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// authenticator checks the signature of the mutating requests
type authenticator struct {
	now func() time.Time
	// seenMu makes the replay check and the insertion of a request atomic
	seenMu sync.Mutex
	seen   *lru.BasicLRU[ethCommon.Hash, int64]
}

func newAuthenticator(now func() time.Time) *authenticator {
	seen := lru.NewBasicLRU[ethCommon.Hash, int64](seenRequests)
	return &authenticator{
		now:  now,
		seen: &seen,
	}
}

// authenticate returns the signer of the request, checking its freshness
// and that the same signer did not send the same request before
func (au *authenticator) authenticate(method, path string, body []byte,
	sigHex string) (ethCommon.Address, error) {
	if sigHex == "" {
		return common.EmptyAddr, common.Wrap(errMissingSignature)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.EmptyAddr, common.Wrap(fmt.Errorf("%w: %v", common.ErrInvalidSignature, err))
	}
	var req signedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return common.EmptyAddr, common.Wrap(err)
	}
	delta := au.now().Sub(time.Unix(req.Timestamp, 0))
	if delta > requestWindow || delta < -requestWindow {
		return common.EmptyAddr, common.Wrap(errStaleRequest)
	}
	msg := common.RequestMessage(method, path, body)
	signer, err := common.RecoverSigner(msg, sig)
	if err != nil {
		return common.EmptyAddr, common.Wrap(err)
	}
	// the key does not depend on the signature bytes, so a second signature
	// of the same request is a replay too
	key := ethCrypto.Keccak256Hash(signer.Bytes(), msg)
	au.seenMu.Lock()
	defer au.seenMu.Unlock()
	if au.seen.Contains(key) {
		return common.EmptyAddr, common.Wrap(errReplayedRequest)
	}
	au.seen.Add(key, req.Timestamp)
	return signer, nil
}

// middleware authenticates the request and stores the caller in the
// context.  The body is restored so that the handler can bind it.
func (au *authenticator) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
		caller, err := au.authenticate(c.Request.Method, c.Request.URL.Path, body,
			c.GetHeader(signatureHeader))
		if err != nil {
			errorResponse(c, http.StatusUnauthorized, "Request not authenticated",
				common.Unwrap(err).Error())
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(callerKey, caller)
		c.Next()
	}
}

// caller returns the authenticated caller of the request
func caller(c *gin.Context) ethCommon.Address {
	return c.MustGet(callerKey).(ethCommon.Address)
}

// SignRequest returns the X-Signature header value of a request to path
// signed with sk.  body must carry a recent "timestamp".
func SignRequest(sk *ecdsa.PrivateKey, method, path string, body []byte) (string, error) {
	sig, err := common.SignHash(sk, common.RequestMessage(method, path, body))
	if err != nil {
		return "", common.Wrap(err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}
