package crmflow

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// Run sets up a session, runs the steps in order and tears the session down.
// A step that fails, or a ctx that is done, makes the remaining steps
// skipped. Step failures are recorded in the report; the returned error is
// only set when the session could not be set up or ctx was cancelled.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	report := newReport(cfg)
	defer func() { report.Duration = time.Since(report.StartTime) }()
	glog.Infof("run %s: %s", report.RunID, cfg)

	if err := ctx.Err(); err != nil {
		skipAll(report, "cancelled before setup")
		return report, err
	}
	s, err := SetUp(cfg)
	if err != nil {
		report.SetupError = err.Error()
		skipAll(report, "setup failed")
		return report, err
	}
	if v := s.BrowserVersion(); v.Major > 0 {
		report.BrowserVersion = v.String()
	}
	defer func() {
		if err := s.TearDown(); err != nil {
			report.TeardownError = err.Error()
			glog.Warningf("run %s: tearing down: %v", report.RunID, err)
		}
	}()

	steps := []struct {
		name string
		run  func(*Session) StepResult
	}{
		{StepLogIn, func(s *Session) StepResult { return LogIn(s, cfg.Credentials) }},
		{StepRecordCall, RecordCall},
		{StepBuildCallReport, BuildCallReport},
		{StepLogOut, LogOut},
	}
	var reason string
	for _, st := range steps {
		if reason == "" && ctx.Err() != nil {
			reason = "cancelled: " + ctx.Err().Error()
		}
		if reason != "" {
			report.add(skipped(st.name, reason))
			continue
		}
		res := st.run(s)
		report.add(res)
		if res.Status == Failed {
			reason = st.name + " failed"
		}
	}
	glog.Infof("run %s: %d passed, %d failed, %d skipped", report.RunID, report.Passed, report.Failed, report.Skipped)
	return report, ctx.Err()
}

func skipAll(r *Report, reason string) {
	for _, name := range Steps {
		r.add(skipped(name, reason))
	}
}
