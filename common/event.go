package common

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// EventType is the kind of notification emitted after a commit
type EventType string

const (
	// EventAccountInitialized is emitted when an account is created
	EventAccountInitialized EventType = "AccountInitialized"
	// EventFlowDepositAdded is emitted when FLOW is added to a deposit
	EventFlowDepositAdded EventType = "FlowDepositAdded"
	// EventFlowDepositWithdrawn is emitted when FLOW is withdrawn from a
	// deposit
	EventFlowDepositWithdrawn EventType = "FlowDepositWithdrawn"
	// EventPyusdDepositAdded is emitted when PYUSD is added to a deposit
	EventPyusdDepositAdded EventType = "PyusdDepositAdded"
	// EventPyusdDepositWithdrawn is emitted when PYUSD is withdrawn from a
	// deposit
	EventPyusdDepositWithdrawn EventType = "PyusdDepositWithdrawn"
	// EventAccountDeactivated is emitted when an account is deactivated
	EventAccountDeactivated EventType = "AccountDeactivated"
	// EventAccountReactivated is emitted when an account is reactivated
	EventAccountReactivated EventType = "AccountReactivated"
	// EventPyusdTokenSet is emitted when the owner sets the token address
	EventPyusdTokenSet EventType = "PyusdTokenSet"
	// EventBatchSettled is emitted when a batch is committed
	EventBatchSettled EventType = "BatchSettled"
	// EventBalanceOverridden is emitted when the owner overrides a balance
	EventBalanceOverridden EventType = "BalanceOverridden"
	// EventEmergencyWithdrawal is emitted when the owner sweeps the held
	// FLOW
	EventEmergencyWithdrawal EventType = "EmergencyWithdrawal"
)

// DepositAddedEvent returns the EventType of a deposit added in the asset
func DepositAddedEvent(t TokenType) EventType {
	if t == TokenPYUSD {
		return EventPyusdDepositAdded
	}
	return EventFlowDepositAdded
}

// DepositWithdrawnEvent returns the EventType of a deposit withdrawn in the
// asset
func DepositWithdrawnEvent(t TokenType) EventType {
	if t == TokenPYUSD {
		return EventPyusdDepositWithdrawn
	}
	return EventFlowDepositWithdrawn
}

// Event is a notification of a committed state transition.  Only the
// fields relevant to the Type are set.
type Event struct {
	Type     EventType         `json:"type" meddler:"type"`
	BatchNum BatchNum          `json:"batchNum" meddler:"batch_num"`
	Address  ethCommon.Address `json:"address" meddler:"address"`
	// Amount is the deposit amount for deposit events, the new balance
	// for BalanceOverridden and the swept amount for EmergencyWithdrawal
	Amount *big.Int `json:"amount,omitempty" meddler:"amount,bigintnull"`
	// PyusdAmount is only used by AccountInitialized, where Amount is
	// the FLOW deposit
	PyusdAmount *big.Int   `json:"pyusdAmount,omitempty" meddler:"pyusd_amount,bigintnull"`
	TokenType   *TokenType `json:"tokenType,omitempty" meddler:"token_type"`
	// BatchID is set for BatchSettled
	BatchID string `json:"batchId,omitempty" meddler:"batch_id,zeroisnull"`
	// Token is set for PyusdTokenSet
	Token     *ethCommon.Address `json:"token,omitempty" meddler:"token"`
	Timestamp int64              `json:"timestamp" meddler:"timestamp"`
}
