package crmflow

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wanmail/crmflow/internal/fakedriver"
	"github.com/wanmail/crmflow/webdriver/log"
)

var perfLog = []string{
	`{"message":{"method":"Network.requestWillBeSent","params":{"requestId":"1","request":{"url":"https://crm.example.com/home","method":"GET"}}},"webview":"w"}`,
	`{"message":{"method":"Network.responseReceived","params":{"requestId":"1","response":{"url":"https://crm.example.com/home","status":200,"statusText":"OK"}}},"webview":"w"}`,
	`{"message":{"method":"Network.requestWillBeSent","params":{"requestId":"2","request":{"url":"https://cdn.example.com/app.js","method":"GET"}}},"webview":"w"}`,
	`{"message":{"method":"Network.loadingFailed","params":{"requestId":"2","errorText":"net::ERR_CONNECTION_REFUSED","canceled":false}},"webview":"w"}`,
	`{"message":{"method":"Network.responseReceived","params":{"requestId":"3","response":{"url":"https://crm.example.com/api/accounts","status":503,"statusText":"Service Unavailable"}}},"webview":"w"}`,
	`{"message":{"method":"Network.loadingFailed","params":{"requestId":"4","errorText":"net::ERR_ABORTED","canceled":true}},"webview":"w"}`,
	`{"message":{"method":"Vendor.madeUpEvent","params":{}},"webview":"w"}`,
	`not json`,
}

var wantFailures = []NetworkFailure{
	{URL: "https://cdn.example.com/app.js", Error: "net::ERR_CONNECTION_REFUSED"},
	{URL: "https://crm.example.com/api/accounts", Status: 503, StatusText: "Service Unavailable"},
}

func TestNetworkFailures(t *testing.T) {
	var msgs []log.Message
	for _, m := range perfLog {
		msgs = append(msgs, log.Message{Timestamp: time.Now(), Level: log.Info, Message: m})
	}
	if diff := cmp.Diff(wantFailures, networkFailures(msgs)); diff != "" {
		t.Errorf("networkFailures() differs, -want +got:\n%s", diff)
	}
	if got := networkFailures(nil); got != nil {
		t.Errorf("networkFailures(nil) = %v, want nil", got)
	}
}

func TestNetworkFailuresAttachedToStep(t *testing.T) {
	var entries []fakedriver.LogEntry
	for i, m := range perfLog {
		entries = append(entries, fakedriver.LogEntry{Level: "INFO", Message: m, Timestamp: int64(1700000000000 + i)})
	}
	srv := newCRM(t, fakedriver.CRMOptions{}, fakedriver.WithLog(string(log.Performance), entries...))
	cfg := testConfig(t, srv)
	cfg.Diagnostics.NetworkLog = true
	cfg.Diagnostics.Screenshots = false
	s := setUp(t, cfg)

	res := LogIn(s, Credentials{Username: "mike", Password: "nope"})
	expectFailure(t, res, ErrAssertion)
	if diff := cmp.Diff(wantFailures, res.NetworkFailures); diff != "" {
		t.Errorf("NetworkFailures differ, -want +got:\n%s", diff)
	}
	if res.Screenshot != "" {
		t.Errorf("Screenshot = %q with screenshots disabled", res.Screenshot)
	}
}

func TestNetworkFailureString(t *testing.T) {
	for _, tc := range []struct {
		f    NetworkFailure
		want string
	}{
		{wantFailures[0], "https://cdn.example.com/app.js: net::ERR_CONNECTION_REFUSED"},
		{wantFailures[1], "https://crm.example.com/api/accounts: 503 Service Unavailable"},
	} {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
