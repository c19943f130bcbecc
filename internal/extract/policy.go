package extract

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/hurttlocker/linewatch/internal/llm"
	"github.com/hurttlocker/linewatch/internal/store"
)

// ErrorClass groups model-call failures by how they are handled.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassTransient   ErrorClass = "transient"
	ClassTimeout     ErrorClass = "timeout"
	ClassSchema      ErrorClass = "schema"
	ClassUnavailable ErrorClass = "unavailable"
	ClassCanceled    ErrorClass = "canceled"
)

// Action is what the orchestrator does for a failure class.
type Action int

const (
	ActionRetry Action = iota
	ActionFallback
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFallback:
		return "fallback"
	case ActionFail:
		return "fail"
	}
	return "unknown"
}

// Decision is one row of the failure policy.
type Decision struct {
	Action Action
	Code   store.NotificationCode // empty = no notification
}

var decisions = map[ErrorClass]Decision{
	ClassTransient:   {Action: ActionRetry},
	ClassTimeout:     {Action: ActionFallback, Code: store.CodeLLMTimeout},
	ClassSchema:      {Action: ActionFallback, Code: store.CodeLLMBadJSON},
	ClassUnavailable: {Action: ActionFallback, Code: store.CodeLLMUnavailable},
	ClassCanceled:    {Action: ActionFail},
}

// Decide returns the policy row for class. Unknown classes fall back.
func Decide(class ErrorClass) Decision {
	if d, ok := decisions[class]; ok {
		return d
	}
	return Decision{Action: ActionFallback, Code: store.CodeLLMUnavailable}
}

// ExhaustedCode is the notification for a transient failure that ran out of
// attempts: a timeout if the last error was one, otherwise unavailable.
func ExhaustedCode(lastErr error) store.NotificationCode {
	if isTimeout(lastErr) {
		return store.CodeLLMTimeout
	}
	return store.CodeLLMUnavailable
}

// Classify maps a model-call error to its class. parent is the caller's
// context and overall the context bounding the whole model call.
func Classify(err error, parent, overall context.Context) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if parent != nil && parent.Err() != nil {
		return ClassCanceled
	}
	if overall != nil && overall.Err() != nil {
		return ClassTimeout
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return ClassSchema
	}
	if errors.Is(err, llm.ErrNotConfigured) {
		return ClassUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// only the per-attempt deadline is left at this point
		return ClassTransient
	}

	var httpErr *llm.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Temporary() {
			return ClassTransient
		}
		return ClassUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}
	return ClassUnavailable
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
