package rpc

import "fmt"

// JSON-RPC 2.0 standard codes plus the negotiation-specific range.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeNotNegotiable = -32007
	CodeUnknownJob    = -32008
	CodeFixedUnderbid = -32017
	CodeRejected      = -32018
	CodeExpired       = -32019
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func errMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "method not found: " + method}
}

func errInvalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func errInternal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

func errNotNegotiable() *Error {
	return &Error{Code: CodeNotNegotiable, Message: "pricing not negotiable"}
}

func errUnknownJob(jobID string) *Error {
	return &Error{Code: CodeUnknownJob, Message: "unknown job_id: " + jobID}
}

func errFixedUnderbid(amount, currency string) *Error {
	return &Error{Code: CodeFixedUnderbid, Message: fmt.Sprintf("price below fixed price: %s %s required", amount, currency)}
}

func errRejected() *Error {
	return &Error{Code: CodeRejected, Message: "offer rejected"}
}

func errExpired() *Error {
	return &Error{Code: CodeExpired, Message: "negotiation expired"}
}
