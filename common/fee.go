package common

import (
	"math/big"
)

var (
	// MinimumFlowDeposit is the minimum FLOW deposit to initialize an
	// account: 10 FLOW
	MinimumFlowDeposit = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)) //nolint:gomnd
	// MinimumPyusdDeposit is the minimum PYUSD deposit to initialize an
	// account: 10 PYUSD
	MinimumPyusdDeposit = big.NewInt(10 * 1e6) //nolint:gomnd
	// BaseTransactionFee is the FLOW fee charged to the submitter deposit
	// for every transaction of a batch: 0.001 FLOW
	BaseTransactionFee = big.NewInt(1e15) //nolint:gomnd
)

const (
	// MaxNonceSkip is the maximum distance between the current nonce of an
	// account and the nonce of its next transaction
	MaxNonceSkip = 10
	// TransactionTTL is the time in seconds after which an offline
	// transaction can no longer be settled
	TransactionTTL = 86400
	// MaxBatchSize is the maximum number of transactions in a batch
	MaxBatchSize = 100
)

// MinimumDeposit returns the minimum initialization deposit of the asset
func MinimumDeposit(t TokenType) *big.Int {
	if t == TokenPYUSD {
		return MinimumPyusdDeposit
	}
	return MinimumFlowDeposit
}

// CalcBatchFee returns the FLOW fee of a batch with numTxs transactions.
// The fee claimed by the submitter in TxBatch.FlowUsed is not used.
func CalcBatchFee(numTxs int) *big.Int {
	return new(big.Int).Mul(BaseTransactionFee, big.NewInt(int64(numTxs)))
}
