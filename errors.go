package crmflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wanmail/crmflow/webdriver"
)

// Kind classifies why a step or the setup failed.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	// KindConfig is a missing or invalid configuration value.
	KindConfig
	// KindEnvironment is a driver or browser that could not be started or
	// stopped answering.
	KindEnvironment
	// KindElementNotFound is a locator that matched nothing when an action
	// needed it.
	KindElementNotFound
	// KindTimeout is a bounded wait that expired.
	KindTimeout
	// KindAssertion is a page state that differs from the expected one.
	KindAssertion
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindEnvironment:
		return "environment error"
	case KindElementNotFound:
		return "element not found"
	case KindTimeout:
		return "timeout"
	case KindAssertion:
		return "assertion failed"
	}
	return "unknown error"
}

// Error is the failure of a step, or of SetUp when Step is empty.
type Error struct {
	Kind    Kind
	Step    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Step != "" {
		b.WriteString(e.Step)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels to compare against with errors.Is.
var (
	ErrConfig          = &Error{Kind: KindConfig}
	ErrEnvironment     = &Error{Kind: KindEnvironment}
	ErrElementNotFound = &Error{Kind: KindElementNotFound}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrAssertion       = &Error{Kind: KindAssertion}
)

func configErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func environmentError(message string, cause error) *Error {
	return &Error{Kind: KindEnvironment, Message: message, Cause: cause}
}

func assertionf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAssertion, Message: fmt.Sprintf(format, args...)}
}

// driverError classifies an error returned by the webdriver package while
// acting on what.
func driverError(what string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case webdriver.IsNoSuchElement(err):
		return &Error{Kind: KindElementNotFound, Message: what + " not found", Cause: err}
	case webdriver.IsTimeout(err):
		return &Error{Kind: KindTimeout, Message: what, Cause: err}
	}
	return &Error{Kind: KindEnvironment, Message: what, Cause: err}
}

// inStep stamps err with the step it happened in.
func inStep(step string, err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindUnknown, Cause: err}
	}
	if e.Step == "" {
		stamped := *e
		stamped.Step = step
		e = &stamped
	}
	return e
}
