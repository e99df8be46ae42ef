package webdriver

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/blang/semver"
	"github.com/google/go-cmp/cmp"

	"github.com/wanmail/crmflow/internal/fakedriver"
	"github.com/wanmail/crmflow/webdriver/chrome"
	"github.com/wanmail/crmflow/webdriver/log"
)

var (
	chromeDriverPath = flag.String("chrome_driver_path", "", "The path to the ChromeDriver binary. If empty or the file is not present, the Chrome test will not be run.")
	chromeBinary     = flag.String("chrome_binary", "", "The Chrome binary to launch. If empty, ChromeDriver picks one.")
)

const testBaseURL = "https://crm.example.test/"

func newFakeRemote(t *testing.T, opts fakedriver.CRMOptions, serverOpts ...fakedriver.Option) (*fakedriver.Server, WebDriver) {
	t.Helper()
	srv := fakedriver.NewCRMServer(opts, serverOpts...)
	t.Cleanup(srv.Close)

	wd, err := NewRemote(Capabilities{"browserName": "chrome"}, srv.URL)
	if err != nil {
		t.Fatalf("NewRemote(_, %q) returned error: %v", srv.URL, err)
	}
	t.Cleanup(func() {
		if err := wd.Quit(); err != nil {
			t.Errorf("wd.Quit() returned error: %v", err)
		}
	})
	return srv, wd
}

func find(t *testing.T, wd WebDriver, by, value string) WebElement {
	t.Helper()
	el, err := wd.FindElement(by, value)
	if err != nil {
		t.Fatalf("wd.FindElement(%q, %q) returned error: %v", by, value, err)
	}
	return el
}

func click(t *testing.T, wd WebDriver, by, value string) {
	t.Helper()
	if err := find(t, wd, by, value).Click(); err != nil {
		t.Fatalf("Click() on %s %q returned error: %v", by, value, err)
	}
}

func signIn(t *testing.T, wd WebDriver) {
	t.Helper()
	if err := wd.Get(testBaseURL); err != nil {
		t.Fatalf("wd.Get(%q) returned error: %v", testBaseURL, err)
	}
	if err := find(t, wd, ByID, "username").SendKeys("mike"); err != nil {
		t.Fatalf("SendKeys(username) returned error: %v", err)
	}
	if err := find(t, wd, ByID, "password").SendKeys("secret"); err != nil {
		t.Fatalf("SendKeys(password) returned error: %v", err)
	}
	click(t, wd, ByID, "Login")
}

var testCRM = fakedriver.CRMOptions{Username: "mike", Password: "secret"}

func TestNewSession(t *testing.T) {
	srv, wd := newFakeRemote(t, testCRM)

	if wd.SessionID() == "" {
		t.Error("wd.SessionID() is empty")
	}
	if !wd.(*remoteWD).w3cCompatible {
		t.Error("session was not detected as W3C")
	}
	if diff := cmp.Diff(semver.MustParse("120.0.6099"), wd.BrowserVersion()); diff != "" {
		t.Errorf("wd.BrowserVersion() returned diff (-want/+got):\n%s", diff)
	}
	if got := srv.Capabilities()["browserName"]; got != "chrome" {
		t.Errorf("alwaysMatch browserName = %v, want chrome", got)
	}
	if got := wd.Capabilities()["browserName"]; got != "chrome" {
		t.Errorf("wd.Capabilities()[browserName] = %v, want chrome", got)
	}
}

func TestNewSessionError(t *testing.T) {
	srv := fakedriver.NewCRMServer(testCRM, fakedriver.WithSessionError("Chrome failed to start: exited abnormally"))
	defer srv.Close()

	_, err := NewRemote(nil, srv.URL)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("NewRemote() returned %v, want an *Error", err)
	}
	if e.Err != "session not created" || e.HTTPCode != http.StatusInternalServerError {
		t.Errorf("NewRemote() error = %+v, want session not created / 500", e)
	}
}

func TestDeleteSession(t *testing.T) {
	srv := fakedriver.NewCRMServer(testCRM)
	defer srv.Close()

	wd, err := NewRemote(nil, srv.URL)
	if err != nil {
		t.Fatalf("NewRemote() returned error: %v", err)
	}
	if err := DeleteSession(srv.URL, wd.SessionID()); err != nil {
		t.Fatalf("DeleteSession(%s, %s) returned error: %v", srv.URL, wd.SessionID(), err)
	}
	if !srv.SessionDeleted() {
		t.Error("session was not deleted")
	}
}

func TestDebug(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)
	if !Debug() {
		t.Fatal("Debug() = false after SetDebug(true)")
	}

	// Every command goes through the dump path while debugging is on.
	_, wd := newFakeRemote(t, testCRM)
	if _, err := wd.Title(); err != nil {
		t.Fatalf("wd.Title() with debugging on returned error: %v", err)
	}
}

func TestStatus(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	status, err := wd.Status()
	if err != nil {
		t.Fatalf("wd.Status() returned error: %v", err)
	}
	if !status.Ready {
		t.Errorf("status.Ready = false, want true")
	}
}

func TestError(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	signIn(t, wd)

	_, err := wd.FindElement(ByID, "no-such-element")
	if err == nil {
		t.Fatal("wd.FindElement(ByID, 'no-such-element') did not return an error as expected")
	}
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("wd.FindElement(ByID, 'no-such-element') returned an error that is not an *Error: %v", err)
	}
	if want := "no such element"; e.Err != want {
		t.Errorf("err.Err = %q, want %q", e.Err, want)
	}
	if e.HTTPCode != http.StatusNotFound {
		t.Errorf("err.HTTPCode = %d, want %d", e.HTTPCode, http.StatusNotFound)
	}
	if e.LegacyCode != 0 {
		t.Errorf("err.LegacyCode = %d, want 0", e.LegacyCode)
	}
	if !IsNoSuchElement(err) {
		t.Errorf("IsNoSuchElement(%v) = false, want true", err)
	}
	if !strings.HasPrefix(err.Error(), "no such element: ") {
		t.Errorf("err.Error() = %q, want a no such element prefix", err.Error())
	}
}

// legacyHandler answers in the JSON wire dialect.
func legacyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", JSONType)
	switch {
	case r.URL.Path == "/session":
		fmt.Fprint(w, `{"sessionId":"legacy-1","status":0,"value":{"browserName":"chrome","version":"2.9"}}`)
	case strings.HasSuffix(r.URL.Path, "/element"):
		fmt.Fprint(w, `{"sessionId":"legacy-1","status":7,"value":{"message":"Unable to locate element"}}`)
	case strings.HasSuffix(r.URL.Path, "/title"):
		fmt.Fprint(w, "{\"sessionId\":\"legacy-1\",\"status\":0,\"value\":\"Home\x00\"}")
	default:
		fmt.Fprint(w, `{"sessionId":"legacy-1","status":0,"value":null}`)
	}
}

func TestLegacyDialect(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(legacyHandler))
	defer s.Close()

	wd, err := NewRemote(nil, s.URL)
	if err != nil {
		t.Fatalf("NewRemote() returned error: %v", err)
	}
	if wd.(*remoteWD).w3cCompatible {
		t.Error("legacy session was detected as W3C")
	}
	if diff := cmp.Diff(semver.MustParse("2.9.0"), wd.BrowserVersion()); diff != "" {
		t.Errorf("wd.BrowserVersion() returned diff (-want/+got):\n%s", diff)
	}

	_, err = wd.FindElement(ByID, "missing")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("wd.FindElement() returned %v, want an *Error", err)
	}
	want := &Error{Err: "no such element", Message: "Unable to locate element", HTTPCode: http.StatusOK, LegacyCode: 7}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Errorf("wd.FindElement() error returned diff (-want/+got):\n%s", diff)
	}

	title, err := wd.Title()
	if err != nil {
		t.Fatalf("wd.Title() returned error: %v", err)
	}
	if title != "Home " {
		t.Errorf("wd.Title() = %q, want NUL replaced by a space", title)
	}
}

func TestTimeoutsAndWindow(t *testing.T) {
	srv, wd := newFakeRemote(t, testCRM)

	if err := wd.SetImplicitWaitTimeout(30 * time.Second); err != nil {
		t.Fatalf("wd.SetImplicitWaitTimeout() returned error: %v", err)
	}
	if err := wd.SetPageLoadTimeout(20 * time.Second); err != nil {
		t.Fatalf("wd.SetPageLoadTimeout() returned error: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"implicit": 30000, "pageLoad": 20000}, srv.Timeouts()); diff != "" {
		t.Errorf("timeouts returned diff (-want/+got):\n%s", diff)
	}

	if err := wd.MaximizeWindow(""); err != nil {
		t.Fatalf("wd.MaximizeWindow() returned error: %v", err)
	}
	if !srv.Maximized() {
		t.Error("window was not maximized")
	}
}

func TestNavigationAndInput(t *testing.T) {
	srv, wd := newFakeRemote(t, testCRM)

	if err := wd.Get(testBaseURL); err != nil {
		t.Fatalf("wd.Get() returned error: %v", err)
	}
	u, err := wd.CurrentURL()
	if err != nil {
		t.Fatalf("wd.CurrentURL() returned error: %v", err)
	}
	if u != testBaseURL || srv.NavigatedURL() != testBaseURL {
		t.Errorf("wd.CurrentURL() = %q, want %q", u, testBaseURL)
	}

	user := find(t, wd, ByID, "username")
	if err := user.SendKeys("mike"); err != nil {
		t.Fatalf("SendKeys() returned error: %v", err)
	}
	if v, err := user.GetAttribute("value"); err != nil || v != "mike" {
		t.Errorf("GetAttribute(value) = %q, %v; want mike", v, err)
	}
	if err := user.Clear(); err != nil {
		t.Fatalf("Clear() returned error: %v", err)
	}
	if v, _ := user.GetAttribute("value"); v != "" {
		t.Errorf("GetAttribute(value) after Clear() = %q, want empty", v)
	}
	if v, err := user.GetAttribute("data-missing"); err != nil || v != "" {
		t.Errorf("GetAttribute(data-missing) = %q, %v; want empty", v, err)
	}

	signIn(t, wd)
	title, err := wd.Title()
	if err != nil {
		t.Fatalf("wd.Title() returned error: %v", err)
	}
	if title != "Home" {
		t.Errorf("wd.Title() = %q, want Home", title)
	}

	menu := find(t, wd, ByID, "userNavButton")
	for _, q := range []struct {
		name string
		f    func() (bool, error)
		want bool
	}{
		{"IsDisplayed", menu.IsDisplayed, true},
		{"IsEnabled", menu.IsEnabled, true},
		{"IsSelected", menu.IsSelected, false},
	} {
		got, err := q.f()
		if err != nil {
			t.Fatalf("%s() returned error: %v", q.name, err)
		}
		if got != q.want {
			t.Errorf("%s() = %t, want %t", q.name, got, q.want)
		}
	}
	if tag, err := menu.TagName(); err != nil || tag != "span" {
		t.Errorf("TagName() = %q, %v; want span", tag, err)
	}
}

func TestFindElements(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	signIn(t, wd)

	links, err := wd.FindElements(ByTagName, "a")
	if err != nil {
		t.Fatalf("wd.FindElements() returned error: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	none, err := wd.FindElements(ByID, "nothing")
	if err != nil {
		t.Fatalf("wd.FindElements(nothing) returned error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("wd.FindElements(nothing) = %d elements, want 0", len(none))
	}
}

func TestSwitchFrame(t *testing.T) {
	srv, wd := newFakeRemote(t, testCRM)
	signIn(t, wd)
	click(t, wd, ByLinkText, "My Accounts")

	if _, err := wd.FindElement(ByLinkText, "Adams, Bob"); !IsNoSuchElement(err) {
		t.Fatalf("account link found outside its frame, err = %v", err)
	}
	if err := wd.SwitchFrame("itarget"); err != nil {
		t.Fatalf("wd.SwitchFrame(itarget) returned error: %v", err)
	}
	if srv.Frame() != "itarget" {
		t.Errorf("frame = %q, want itarget", srv.Frame())
	}
	find(t, wd, ByLinkText, "Adams, Bob")

	if err := wd.SwitchFrame(nil); err != nil {
		t.Fatalf("wd.SwitchFrame(nil) returned error: %v", err)
	}
	if srv.Frame() != "" {
		t.Errorf("frame = %q after SwitchFrame(nil), want top-level", srv.Frame())
	}

	if err := wd.SwitchFrame("nowhere"); !IsNoSuchElement(err) {
		t.Errorf("wd.SwitchFrame(nowhere) = %v, want no such element", err)
	}
	if err := wd.SwitchFrame(1.5); err == nil {
		t.Error("wd.SwitchFrame(1.5) returned nil error")
	}
}

func TestStaleElement(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	signIn(t, wd)

	tab := find(t, wd, ByLinkText, "My Accounts")
	if err := tab.Click(); err != nil {
		t.Fatalf("Click() returned error: %v", err)
	}
	if _, err := tab.Text(); !IsStaleElement(err) {
		t.Errorf("Text() on a replaced page = %v, want stale element reference", err)
	}
}

func TestWait(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)

	calls := 0
	err := wd.WaitWithTimeoutAndInterval(func(WebDriver) (bool, error) {
		calls++
		return calls == 3, nil
	}, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitWithTimeoutAndInterval() returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("condition evaluated %d times, want 3", calls)
	}

	err = wd.WaitWithTimeoutAndInterval(func(WebDriver) (bool, error) { return false, nil }, 20*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) || !IsTimeout(err) {
		t.Errorf("WaitWithTimeoutAndInterval(never) = %v, want ErrWaitTimeout", err)
	}

	boom := errors.New("boom")
	err = wd.WaitWithTimeout(func(WebDriver) (bool, error) { return false, boom }, time.Second)
	if !errors.Is(err, boom) {
		t.Errorf("WaitWithTimeout(failing) = %v, want %v", err, boom)
	}
}

func TestScreenshot(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	data, err := wd.Screenshot()
	if err != nil {
		t.Fatalf("wd.Screenshot() returned error: %v", err)
	}
	if !strings.HasPrefix(string(data), "\x89PNG") {
		t.Errorf("wd.Screenshot() = %q, want PNG data", data)
	}
}

func TestLog(t *testing.T) {
	entry := fakedriver.LogEntry{Level: "SEVERE", Message: "https://crm.example.test/app.js 0:0 Uncaught TypeError", Timestamp: 1700000000123}
	_, wd := newFakeRemote(t, testCRM, fakedriver.WithLog(string(log.Browser), entry))

	msgs, err := wd.Log(log.Browser)
	if err != nil {
		t.Fatalf("wd.Log(browser) returned error: %v", err)
	}
	want := []log.Message{{
		Timestamp: time.Unix(0, 1700000000123*int64(time.Millisecond)),
		Level:     log.Severe,
		Message:   entry.Message,
	}}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("wd.Log(browser) returned diff (-want/+got):\n%s", diff)
	}

	msgs, err = wd.Log(log.Browser)
	if err != nil {
		t.Fatalf("second wd.Log(browser) returned error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("second wd.Log(browser) = %v, want the buffer drained", msgs)
	}
}

func TestParseBrowserVersion(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want semver.Version
	}{
		{"120.0.6099.109", semver.MustParse("120.0.6099")},
		{"115.0", semver.MustParse("115.0.0")},
		{"2.9", semver.MustParse("2.9.0")},
		{" 121.0.1 ", semver.MustParse("121.0.1")},
	} {
		got, err := parseBrowserVersion(tc.in)
		if err != nil {
			t.Errorf("parseBrowserVersion(%q) returned error: %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("parseBrowserVersion(%q) returned diff (-want/+got):\n%s", tc.in, diff)
		}
	}
	if _, err := parseBrowserVersion("nightly"); err == nil {
		t.Error(`parseBrowserVersion("nightly") returned nil error`)
	}
}

func TestChrome(t *testing.T) {
	if *chromeDriverPath == "" {
		t.Skip("Skipping Chrome tests because --chrome_driver_path was not set.")
	}
	if _, err := os.Stat(*chromeDriverPath); err != nil {
		t.Skipf("Skipping Chrome tests because ChromeDriver not found at path %q", *chromeDriverPath)
	}

	s, err := NewChromeDriverService(*chromeDriverPath, 0)
	if err != nil {
		t.Fatalf("NewChromeDriverService() returned error: %v", err)
	}
	defer s.Stop()

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Frames</title></head><body>
<select id="kind"><option>Call Report</option><option>Mass Add Promo Call</option></select>
<iframe name="inner" srcdoc="<a href='#'>Inner link</a>"></iframe>
</body></html>`)
	}))
	defer page.Close()

	caps := Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{
		Path: *chromeBinary,
		Args: []string{"--headless=new", "--no-sandbox"},
	})
	wd, err := NewRemote(caps, s.Addr())
	if err != nil {
		t.Fatalf("NewRemote() returned error: %v", err)
	}
	defer wd.Quit()

	if err := wd.Get(page.URL); err != nil {
		t.Fatalf("wd.Get() returned error: %v", err)
	}
	sel, err := Select(find(t, wd, ByID, "kind"))
	if err != nil {
		t.Fatalf("Select() returned error: %v", err)
	}
	if err := sel.SelectByVisibleText("Mass Add Promo Call"); err != nil {
		t.Fatalf("SelectByVisibleText() returned error: %v", err)
	}
	if err := wd.SwitchFrame("inner"); err != nil {
		t.Fatalf("wd.SwitchFrame(inner) returned error: %v", err)
	}
	find(t, wd, ByLinkText, "Inner link")
}
