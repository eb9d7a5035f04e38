package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tommygebru/kiekky-engagement/internal/common"
)

// Kind classifies gateway failures
type Kind int

const (
	KindServer Kind = iota
	KindNetwork
	KindAuthorization
	KindValidation
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "server"
	}
}

// Error is a classified gateway failure
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s (%s): %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s (%s): %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// KindOf classifies any error returned from a gateway call
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	return KindServer
}

// IsAuthorization reports whether the gateway refused the action for the acting user
func IsAuthorization(err error) bool {
	return err != nil && KindOf(err) == KindAuthorization
}

// IsRetryable reports whether a manual retry could succeed. Authorization and
// validation failures will fail the same way again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// StatusCode maps a gateway error onto the HTTP status this service answers with
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// UserMessage is the text shown to the user for a failed action
func UserMessage(err error) string {
	var gerr *Error
	switch KindOf(err) {
	case KindNetwork:
		return "Something went wrong. Check your connection and try again."
	case KindAuthorization:
		if errors.As(err, &gerr) && gerr.Message != "" {
			return gerr.Message
		}
		return "You are not allowed to do that."
	case KindValidation, KindNotFound, KindConflict:
		if errors.As(err, &gerr) && gerr.Message != "" {
			return gerr.Message
		}
		return "The request could not be completed."
	default:
		return "Something went wrong. Please try again."
	}
}

// WriteError answers a request that failed on err. Errors that did not come
// from the gateway are reported as internal errors with fallback.
func WriteError(w http.ResponseWriter, err error, fallback string) {
	var gerr *Error
	if !errors.As(err, &gerr) && KindOf(err) == KindServer {
		common.InternalError(w, fallback)
		return
	}
	common.Error(w, StatusCode(err), UserMessage(err))
}
