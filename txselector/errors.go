package txselector

const (
	// ErrDuplicatedTx error message returned when a tx with the same id was
	// already selected
	ErrDuplicatedTx = "Tx not selected because another tx with the same id is in the selection"
	// ErrDuplicatedTxCode error code
	ErrDuplicatedTxCode int = 1
	// ErrDuplicatedTxType error type
	ErrDuplicatedTxType string = "ErrDuplicatedTx"

	// ErrTxAlreadyProcessed error message returned when the tx id was settled
	// in a previous batch
	ErrTxAlreadyProcessed = "Tx not selected because it has already been settled"
	// ErrTxAlreadyProcessedCode error code
	ErrTxAlreadyProcessedCode int = 2
	// ErrTxAlreadyProcessedType error type
	ErrTxAlreadyProcessedType string = "ErrTxAlreadyProcessed"

	// ErrInvalidTx error message returned when the tx fails a stateless check
	// (token, amount, signature, id or expiration)
	ErrInvalidTx = "Tx not selected because it is not valid"
	// ErrInvalidTxCode error code
	ErrInvalidTxCode int = 3
	// ErrInvalidTxType error type
	ErrInvalidTxType string = "ErrInvalidTx"

	// ErrSenderNotFound error message returned when the sender has no account
	ErrSenderNotFound = "Tx not selected because the sender account does not exist"
	// ErrSenderNotFoundCode error code
	ErrSenderNotFoundCode int = 4
	// ErrSenderNotFoundType error type
	ErrSenderNotFoundType string = "ErrSenderNotFound"

	// ErrReceiverNotFound error message returned when the receiver has no
	// account
	ErrReceiverNotFound = "Tx not selected because the receiver account does not exist"
	// ErrReceiverNotFoundCode error code
	ErrReceiverNotFoundCode int = 5
	// ErrReceiverNotFoundType error type
	ErrReceiverNotFoundType string = "ErrReceiverNotFound"

	// ErrAccountInactive error message returned when the sender or the
	// receiver account is not active
	ErrAccountInactive = "Tx not selected because the sender or receiver account is not active"
	// ErrAccountInactiveCode error code
	ErrAccountInactiveCode int = 6
	// ErrAccountInactiveType error type
	ErrAccountInactiveType string = "ErrAccountInactive"

	// ErrNoncesOutOfWindow error message returned when the nonce can not
	// follow the nonce of the sender after the selected txs
	ErrNoncesOutOfWindow = "Tx not selected due to nonce out of the valid window"
	// ErrNoncesOutOfWindowCode error code
	ErrNoncesOutOfWindowCode int = 7
	// ErrNoncesOutOfWindowType error type
	ErrNoncesOutOfWindowType string = "ErrNoncesOutOfWindow"

	// ErrSenderNotEnoughBalance error message returned if the sender
	// doesn't have enough balance after the selected txs
	ErrSenderNotEnoughBalance = "Tx not selected due to not enough Balance at the sender"
	// ErrSenderNotEnoughBalanceCode error code
	ErrSenderNotEnoughBalanceCode int = 8
	// ErrSenderNotEnoughBalanceType error type
	ErrSenderNotEnoughBalanceType string = "ErrSenderNotEnoughBalance"

	// ErrFeeNotCovered error message returned when the deposit of the
	// submitter can not pay the fee of one more tx
	ErrFeeNotCovered = "Tx not selected because the FLOW deposit of the submitter can not cover its fee"
	// ErrFeeNotCoveredCode error code
	ErrFeeNotCoveredCode int = 9
	// ErrFeeNotCoveredType error type
	ErrFeeNotCoveredType string = "ErrFeeNotCovered"
)
