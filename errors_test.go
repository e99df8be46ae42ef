package crmflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/wanmail/crmflow/webdriver"
)

func TestErrorString(t *testing.T) {
	for _, tc := range []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindConfig, Message: "base URL is required"}, "config error: base URL is required"},
		{&Error{Kind: KindTimeout, Step: StepRecordCall, Message: "heading"}, "recordCall: timeout: heading"},
		{
			&Error{Kind: KindElementNotFound, Step: StepLogIn, Message: `id "password" not found`, Cause: errors.New("gone")},
			`logIn: element not found: id "password" not found: gone`,
		},
	} {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}

func TestErrorIs(t *testing.T) {
	cause := &webdriver.Error{Err: webdriver.ErrCodeNoSuchElement, Message: "no element"}
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindAssertion, Cause: cause})

	if !errors.Is(err, ErrAssertion) {
		t.Errorf("errors.Is(%v, ErrAssertion) = false", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(%v, ErrTimeout) = true", err)
	}
	var wdErr *webdriver.Error
	if !errors.As(err, &wdErr) || wdErr != cause {
		t.Errorf("errors.As did not reach the webdriver error")
	}
}

func TestDriverError(t *testing.T) {
	for _, tc := range []struct {
		desc string
		err  error
		want Kind
	}{
		{"no such element", &webdriver.Error{Err: webdriver.ErrCodeNoSuchElement}, KindElementNotFound},
		{"no such frame", &webdriver.Error{Err: webdriver.ErrCodeNoSuchFrame}, KindElementNotFound},
		{"wait expired", fmt.Errorf("%w after 1s", webdriver.ErrWaitTimeout), KindTimeout},
		{"script timeout", &webdriver.Error{Err: webdriver.ErrCodeTimeout}, KindTimeout},
		{"not interactable", &webdriver.Error{Err: "element not interactable"}, KindEnvironment},
		{"connection refused", errors.New("dial tcp: connection refused"), KindEnvironment},
		{"already classified", assertionf("mismatch"), KindAssertion},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			if got := driverError("thing", tc.err).Kind; got != tc.want {
				t.Errorf("driverError(%v).Kind = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestInStep(t *testing.T) {
	orig := assertionf("mismatch")
	got := inStep(StepLogOut, orig)
	if got.Step != StepLogOut {
		t.Errorf("Step = %q, want %q", got.Step, StepLogOut)
	}
	if orig.Step != "" {
		t.Errorf("inStep modified its argument")
	}
	if again := inStep(StepLogIn, got); again.Step != StepLogOut {
		t.Errorf("inStep replaced step %q with %q", StepLogOut, again.Step)
	}
	if plain := inStep(StepLogIn, errors.New("x")); plain.Kind != KindUnknown {
		t.Errorf("Kind of an unclassified error = %s, want %s", plain.Kind, KindUnknown)
	}
}
