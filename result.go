package crmflow

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a step.
type Status string

// Step outcomes.
const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Skipped Status = "skipped"
)

// Step names, in the order Run executes them.
const (
	StepLogIn           = "logIn"
	StepRecordCall      = "recordCall"
	StepBuildCallReport = "buildCallReport"
	StepLogOut          = "logOut"
)

// Steps lists the step names in execution order.
var Steps = []string{StepLogIn, StepRecordCall, StepBuildCallReport, StepLogOut}

// StepResult is the outcome of one step.
type StepResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	// Err is the *Error of a failed step.
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Screenshot is the path of the page captured when the step failed.
	Screenshot string `json:"screenshot,omitempty"`
	// NetworkFailures are the failed requests the browser logged before the
	// step failed.
	NetworkFailures []NetworkFailure `json:"network_failures,omitempty"`
}

// Kind returns the failure kind, or KindUnknown for a step that did not fail.
func (r StepResult) Kind() Kind {
	if e, ok := r.Err.(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}

func skipped(name, reason string) StepResult {
	return StepResult{Name: name, Status: Skipped, Message: reason}
}

// Report is the outcome of a run.
type Report struct {
	RunID          uuid.UUID     `json:"run_id"`
	BaseURL        string        `json:"base_url"`
	Browser        string        `json:"browser"`
	BrowserVersion string        `json:"browser_version,omitempty"`
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	Steps          []StepResult  `json:"steps"`

	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	SetupError    string `json:"setup_error,omitempty"`
	TeardownError string `json:"teardown_error,omitempty"`
}

func newReport(cfg Config) *Report {
	return &Report{
		RunID:     uuid.New(),
		BaseURL:   cfg.BaseURL,
		Browser:   cfg.Browser.Name,
		StartTime: time.Now(),
	}
}

func (r *Report) add(res StepResult) {
	r.Steps = append(r.Steps, res)
	switch res.Status {
	case Passed:
		r.Passed++
	case Failed:
		r.Failed++
	case Skipped:
		r.Skipped++
	}
}

// Success reports whether the session came up and every step passed.
func (r *Report) Success() bool {
	return r.SetupError == "" && r.Failed == 0 && r.Skipped == 0 && r.Passed == len(Steps)
}
