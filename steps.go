package crmflow

import (
	"errors"
	"strings"
	"time"

	"github.com/golang/glog"
)

// step runs fn as the named step and turns its error into a failed result
// with diagnostics attached.
func (s *Session) step(name string, fn func() error) StepResult {
	if s == nil || s.wd == nil {
		err := &Error{Kind: KindEnvironment, Step: name, Message: "no browser session"}
		return StepResult{Name: name, Status: Failed, Message: err.Error(), Err: err}
	}

	glog.V(1).Infof("%s: started", name)
	start := time.Now()
	err := fn()
	res := StepResult{Name: name, Duration: time.Since(start)}
	if err == nil {
		res.Status = Passed
		glog.Infof("%s: passed in %v", name, res.Duration)
		return res
	}

	e := inStep(name, err)
	res.Status = Failed
	res.Err = e
	res.Message = strings.TrimPrefix(e.Error(), name+": ")
	glog.Warningf("%v", e)
	s.collectDiagnostics(&res)
	return res
}

// LogIn signs in with creds and expects the user menu to show up.
func LogIn(s *Session, creds Credentials) StepResult {
	return s.step(StepLogIn, func() error {
		loc := s.cfg.Locators
		if err := s.typeInto(loc.Username, creds.Username, false); err != nil {
			return err
		}
		if err := s.typeInto(loc.Password, creds.Password, false); err != nil {
			return err
		}
		if err := s.click(loc.LoginButton); err != nil {
			return err
		}
		err := s.expectDisplayed(loc.UserMenu, "user menu")
		var e *Error
		if errors.As(err, &e) && e.Kind == KindAssertion {
			e.Message = "not signed in as " + creds.Username + ": " + e.Message
		}
		return err
	})
}

// RecordCall opens the account from the accounts tab and starts a call
// report. The report heading must become clickable within the wait timeout.
func RecordCall(s *Session) StepResult {
	return s.step(StepRecordCall, func() error {
		loc, sc := s.cfg.Locators, s.cfg.Scenario
		if err := s.click(loc.AccountsTab); err != nil {
			return err
		}
		if err := s.withinFrame(loc.AccountFrame, func() error {
			return s.click(loc.AccountLink)
		}); err != nil {
			return err
		}

		name, err := s.text(loc.AccountName, "account name")
		if err != nil {
			return err
		}
		if !containsFold(name, sc.AccountName) {
			return assertionf("account name is %q, want it to contain %q", name, sc.AccountName)
		}

		if err := s.expectDisplayed(loc.RecordCall, "record a call button"); err != nil {
			return err
		}
		if err := s.click(loc.RecordCall); err != nil {
			return err
		}
		if err := s.waitClickable(loc.ReportHeading); err != nil {
			return err
		}
		return s.expectText(loc.ReportHeading, "report heading", sc.ReportTitle)
	})
}

// BuildCallReport switches the report to the promo record type, adds the
// products and the promo item and saves the report.
func BuildCallReport(s *Session) StepResult {
	return s.step(StepBuildCallReport, func() error {
		loc, sc := s.cfg.Locators, s.cfg.Scenario
		if err := s.waitClickable(loc.RecordType); err != nil {
			return err
		}
		if err := s.selectByText(loc.RecordType, sc.RecordType); err != nil {
			return err
		}
		// Selecting a record type reloads the form.
		if err := s.waitClickable(loc.RecordType); err != nil {
			return err
		}
		if err := s.expectText(loc.ReportHeading, "report heading", sc.RecordType); err != nil {
			return err
		}

		for _, p := range sc.Products {
			if err := s.check(ByName(p), p+" checkbox"); err != nil {
				return err
			}
		}
		for i, p := range sc.Products {
			got, err := s.selectedText(loc.ProductSelect[i], p+" dropdown")
			if err != nil {
				return err
			}
			// The first dropdown lists the product alone; later ones append
			// the detail group to the label.
			if i == 0 && got != p {
				return assertionf("product dropdown %d shows %q, want %q", i+1, got, p)
			}
			if i > 0 && !containsFold(got, p) {
				return assertionf("product dropdown %d shows %q, want it to contain %q", i+1, got, p)
			}
		}

		if err := s.check(loc.PromoItem, "promo item"); err != nil {
			return err
		}
		if err := s.typeInto(loc.PromoQuantity, sc.Quantity, true); err != nil {
			return err
		}
		if err := s.click(loc.Save); err != nil {
			return err
		}

		if err := s.expectText(loc.CallStatus, "call status", sc.SavedStatus); err != nil {
			return err
		}
		return s.expectText(loc.SavedQuantity, "saved quantity", sc.Quantity)
	})
}

// LogOut signs out through the user menu and expects the login button to
// show up.
func LogOut(s *Session) StepResult {
	return s.step(StepLogOut, func() error {
		loc := s.cfg.Locators
		if err := s.click(loc.UserMenu); err != nil {
			return err
		}
		if err := s.click(loc.LogoutLink); err != nil {
			return err
		}
		return s.expectDisplayed(loc.LoginButton, "login button")
	})
}
