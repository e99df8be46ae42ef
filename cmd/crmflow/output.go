package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/wanmail/crmflow"
)

var statusLabel = map[crmflow.Status]string{
	crmflow.Passed:  "PASS",
	crmflow.Failed:  "FAIL",
	crmflow.Skipped: "SKIP",
}

func renderPretty(w io.Writer, r *crmflow.Report) error {
	browser := r.Browser
	if r.BrowserVersion != "" {
		browser += " " + r.BrowserVersion
	}
	fmt.Fprintf(w, "run %s against %s (%s)\n", r.RunID, r.BaseURL, browser)
	if r.SetupError != "" {
		fmt.Fprintf(w, "setup failed: %s\n", r.SetupError)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range r.Steps {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", statusLabel[s.Status], s.Name, s.Duration.Round(time.Millisecond), s.Message)
		if s.Screenshot != "" {
			fmt.Fprintf(tw, "\t\t\tscreenshot: %s\n", s.Screenshot)
		}
		for _, f := range s.NetworkFailures {
			fmt.Fprintf(tw, "\t\t\trequest failed: %s\n", f)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.TeardownError != "" {
		fmt.Fprintf(w, "teardown: %s\n", r.TeardownError)
	}
	_, err := fmt.Fprintf(w, "%d steps: %d passed, %d failed, %d skipped in %s\n",
		len(r.Steps), r.Passed, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
	return err
}

func renderJSON(w io.Writer, r *crmflow.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
