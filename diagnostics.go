package crmflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/golang/glog"
	"github.com/mailru/easyjson"

	"github.com/wanmail/crmflow/webdriver/log"
)

// NetworkFailure is a request that failed in the browser.
type NetworkFailure struct {
	URL        string `json:"url,omitempty"`
	Status     int64  `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`
	// Error is set for requests that got no response at all.
	Error string `json:"error,omitempty"`
}

func (f NetworkFailure) String() string {
	if f.Error != "" {
		return fmt.Sprintf("%s: %s", f.URL, f.Error)
	}
	return fmt.Sprintf("%s: %d %s", f.URL, f.Status, f.StatusText)
}

// collectDiagnostics attaches what the browser can tell about a failed
// step. Failures to collect are only logged.
func (s *Session) collectDiagnostics(res *StepResult) {
	d := s.cfg.Diagnostics
	if d.Screenshots {
		path, err := s.saveScreenshot(res.Name)
		if err != nil {
			glog.Warningf("%s: screenshot: %v", res.Name, err)
		} else {
			res.Screenshot = path
		}
	}
	if d.NetworkLog && s.cfg.Browser.Name == Chrome {
		msgs, err := s.wd.Log(log.Performance)
		if err != nil {
			glog.Warningf("%s: performance log: %v", res.Name, err)
			return
		}
		res.NetworkFailures = networkFailures(msgs)
		for _, f := range res.NetworkFailures {
			glog.Warningf("%s: request failed: %s", res.Name, f)
		}
	}
}

func (s *Session) saveScreenshot(step string) (string, error) {
	png, err := s.wd.Screenshot()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.cfg.Diagnostics.ArtifactsDir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.png", step, time.Now().Format("20060102-150405.000"))
	path := filepath.Join(s.cfg.Diagnostics.ArtifactsDir, name)
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", err
	}
	glog.Infof("%s: saved screenshot %s", step, path)
	return path, nil
}

// perfLogEntry is the envelope ChromeDriver wraps DevTools events in.
type perfLogEntry struct {
	Message struct {
		Method string              `json:"method"`
		Params easyjson.RawMessage `json:"params"`
	} `json:"message"`
}

// networkFailures extracts the responses with an error status and the
// requests that failed to load from Chrome performance log messages.
// Cancelled requests are left out.
func networkFailures(msgs []log.Message) []NetworkFailure {
	urls := make(map[network.RequestID]string)
	var failures []NetworkFailure
	for _, m := range msgs {
		var entry perfLogEntry
		if err := json.Unmarshal([]byte(m.Message), &entry); err != nil {
			glog.V(2).Infof("skipping performance log entry: %v", err)
			continue
		}
		ev, err := cdproto.UnmarshalMessage(&cdproto.Message{
			Method: cdproto.MethodType(entry.Message.Method),
			Params: entry.Message.Params,
		})
		if err != nil {
			continue
		}
		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			if ev.Request != nil {
				urls[ev.RequestID] = ev.Request.URL
			}
		case *network.EventResponseReceived:
			if ev.Response != nil && ev.Response.Status >= 400 {
				failures = append(failures, NetworkFailure{
					URL:        ev.Response.URL,
					Status:     ev.Response.Status,
					StatusText: ev.Response.StatusText,
				})
			}
		case *network.EventLoadingFailed:
			if ev.Canceled {
				continue
			}
			failures = append(failures, NetworkFailure{
				URL:   urls[ev.RequestID],
				Error: ev.ErrorText,
			})
		}
	}
	return failures
}
