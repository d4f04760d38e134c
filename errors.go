package solanapay

import (
	"errors"
	"fmt"
)

// ErrReferenceNotFound is returned by LedgerClient.FindReference while no
// transaction carrying the reference has been observed. It is an expected
// outcome, not a failure.
var ErrReferenceNotFound = errors.New("reference not found")

// ReferenceNotFoundError carries the reference that was searched for.
// It matches ErrReferenceNotFound with errors.Is.
type ReferenceNotFoundError struct {
	Reference string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrReferenceNotFound.Error(), e.Reference)
}

func (e *ReferenceNotFoundError) Is(target error) bool {
	return target == ErrReferenceNotFound
}

// SessionError represents a rejected PaymentSession operation
type SessionError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Session error codes
const (
	ErrCodeSessionNotEditable = "session_not_editable"
	ErrCodeInvalidAmount      = "invalid_amount"
	ErrCodeInvalidMemo        = "invalid_memo"
	ErrCodeInvalidRequest     = "invalid_payment_request"
	ErrCodeSessionNotFound    = "session_not_found"
)

// NewSessionError creates a new session error
func NewSessionError(code, message string, details map[string]interface{}) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// RejectReason explains why a transaction was excluded from the reconciled
// list. Rejections are not errors: the transaction is simply not a matching payment.
type RejectReason string

const (
	RejectNone                  RejectReason = ""
	RejectMissingMeta           RejectReason = "missing_meta"
	RejectMissingTimestamp      RejectReason = "missing_timestamp"
	RejectMissingStatus         RejectReason = "missing_status"
	RejectInstructionCount      RejectReason = "instruction_count"
	RejectWrongInstruction      RejectReason = "wrong_instruction"
	RejectWrongDestination      RejectReason = "wrong_destination"
	RejectSelfTransfer          RejectReason = "self_transfer"
	RejectAccountNotFound       RejectReason = "account_not_found"
	RejectBalanceNotFound       RejectReason = "balance_not_found"
	RejectUndisplayableAmount   RejectReason = "undisplayable_amount"
	RejectNegativeAmount        RejectReason = "negative_amount"
	RejectInsufficientAmount    RejectReason = "insufficient_amount"
	RejectTransactionNotVisible RejectReason = "transaction_not_visible"
)
