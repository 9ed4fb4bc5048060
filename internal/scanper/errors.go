package scanper

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failed API call.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindValidation
	KindNotFound
	KindStatus
	KindNetwork
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStatus:
		return "status"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	MsgAuthFailed      = "Authentication failed. Please try logging in again."
	MsgConnectFailed   = "Failed to connect to server"
	MsgInvalidRequest  = "Invalid request"
	MsgInvalidResponse = "Invalid response from server"
	MsgUserNotFound    = "User not found. Please chat with the ScanPer LINE bot first."
)

// Error is returned by every Client method. Message is safe to show to the user.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func statusError(status int) *Error {
	return &Error{Kind: KindStatus, Status: status, Message: fmt.Sprintf("Error: %d", status)}
}

// validationMessage extracts a FastAPI style "detail" from a 400 body. Detail
// may be a plain string or a list of {"msg": ...} objects.
func validationMessage(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return MsgInvalidRequest
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
		return detail
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
		return items[0].Msg
	}
	return MsgInvalidRequest
}
