package crmflow

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blang/semver"
	"github.com/golang/glog"

	"github.com/wanmail/crmflow/webdriver"
	"github.com/wanmail/crmflow/webdriver/chrome"
	"github.com/wanmail/crmflow/webdriver/firefox"
	"github.com/wanmail/crmflow/webdriver/log"
)

// Session is a browser session prepared for the workflow. It is created by
// SetUp and must be released with TearDown.
type Session struct {
	cfg     Config
	wd      webdriver.WebDriver
	service *webdriver.Service
}

// SetUp validates cfg, starts the driver unless a remote URL is configured,
// opens a maximized browser session with the configured timeouts and
// navigates to the base URL. Whatever was started is released again when
// SetUp fails.
func SetUp(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg}
	if err := s.start(); err != nil {
		glog.Errorf("setting up %s: %v", cfg, err)
		if terr := s.TearDown(); terr != nil {
			glog.Warningf("releasing partial session: %v", terr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Session) start() error {
	caps, err := newCapabilities(s.cfg)
	if err != nil {
		return err
	}

	urlPrefix := s.cfg.Driver.RemoteURL
	if urlPrefix == "" {
		if s.service, err = startService(s.cfg); err != nil {
			return environmentError("starting "+s.cfg.Driver.Path, err)
		}
		urlPrefix = s.service.Addr()
	}

	if s.wd, err = webdriver.NewRemote(caps, urlPrefix); err != nil {
		return environmentError("creating browser session", err)
	}
	version := s.wd.BrowserVersion()
	glog.Infof("started %s %s session %s on %s", s.cfg.Browser.Name, version, s.wd.SessionID(), urlPrefix)

	if min := s.cfg.Browser.MinVersion; min != "" {
		want, err := semver.ParseTolerant(min)
		if err != nil {
			return configErrorf("min version %q: %v", min, err)
		}
		if version.Equals(semver.Version{}) {
			return environmentError(fmt.Sprintf("browser did not report its version, need %s or later", want), nil)
		}
		if version.LT(want) {
			return environmentError(fmt.Sprintf("browser version %s is older than %s", version, want), nil)
		}
	}

	if err := s.wd.MaximizeWindow(""); err != nil {
		return environmentError("maximizing window", err)
	}
	if err := s.wd.SetImplicitWaitTimeout(s.cfg.Timeouts.Implicit); err != nil {
		return environmentError("setting implicit wait", err)
	}
	if err := s.wd.SetPageLoadTimeout(s.cfg.Timeouts.PageLoad); err != nil {
		return environmentError("setting page load timeout", err)
	}
	if err := s.wd.Get(s.cfg.BaseURL); err != nil {
		e := driverError("opening "+s.cfg.BaseURL, err)
		if e.Kind != KindTimeout {
			e.Kind = KindEnvironment
		}
		return e
	}
	return nil
}

func startService(cfg Config) (*webdriver.Service, error) {
	var opts []webdriver.ServiceOption
	if cfg.Driver.StartTimeout > 0 {
		opts = append(opts, webdriver.StartTimeout(cfg.Driver.StartTimeout))
	}
	if cfg.Driver.FrameBuffer {
		opts = append(opts, webdriver.StartFrameBufferWithOptions(webdriver.FrameBufferOptions{
			ScreenSize: cfg.Driver.ScreenSize,
		}))
	}
	if cfg.Driver.Verbose {
		opts = append(opts, webdriver.Output(os.Stderr))
	}
	if cfg.Browser.Name == Firefox {
		return webdriver.NewGeckoDriverService(cfg.Driver.Path, cfg.Driver.Port, opts...)
	}
	return webdriver.NewChromeDriverService(cfg.Driver.Path, cfg.Driver.Port, opts...)
}

// newCapabilities translates the browser section of cfg.
func newCapabilities(cfg Config) (webdriver.Capabilities, error) {
	b := cfg.Browser
	caps := webdriver.Capabilities{"browserName": b.Name}

	switch b.Name {
	case Chrome:
		cc := chrome.Capabilities{
			Path: b.Binary,
			Args: append([]string(nil), b.Args...),
		}
		if b.Headless {
			cc.Args = append(cc.Args, "--headless=new")
		}
		for _, path := range b.Extensions {
			info, err := os.Stat(path)
			if err != nil {
				return nil, &Error{Kind: KindConfig, Message: "extension", Cause: err}
			}
			if info.IsDir() {
				err = cc.AddUnpackedExtension(path)
			} else {
				err = cc.AddExtension(path)
			}
			if err != nil {
				return nil, &Error{Kind: KindConfig, Message: "extension", Cause: err}
			}
		}
		if cfg.Diagnostics.NetworkLog {
			enable := true
			cc.PerfLoggingPrefs = &chrome.PerfLoggingPreferences{EnableNetwork: &enable}
			caps.SetLogLevel(log.Performance, log.All)
		}
		caps.AddChrome(cc)

	case Firefox:
		if len(b.Extensions) > 0 {
			return nil, configErrorf("extensions are only supported with %s", Chrome)
		}
		fc := firefox.Capabilities{
			Binary: b.Binary,
			Args:   append([]string(nil), b.Args...),
		}
		if b.Headless {
			fc.Args = append(fc.Args, "-headless")
		}
		if b.Proxy != "" {
			fc.AllowLocalhostProxy()
		}
		caps.AddFirefox(fc)
	}

	if b.Proxy != "" {
		caps.AddProxy(webdriver.Proxy{
			Type:         webdriver.Manual,
			SOCKS:        b.Proxy,
			SOCKSVersion: 5,
		})
	}
	return caps, nil
}

// TearDown ends the browser session and stops the driver and frame buffer
// the session started. It is safe on a nil or partially set up session and
// on a session that was already torn down.
func (s *Session) TearDown() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.wd != nil {
		id := s.wd.SessionID()
		if err := s.wd.Quit(); err != nil {
			errs = append(errs, fmt.Errorf("ending session %s: %w", id, err))
		} else {
			glog.Infof("ended session %s", id)
		}
		s.wd = nil
	}
	if s.service != nil {
		if err := s.service.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping driver: %w", err))
		}
		s.service = nil
	}
	return errors.Join(errs...)
}

// WebDriver returns the underlying session, or nil after TearDown.
func (s *Session) WebDriver() webdriver.WebDriver {
	return s.wd
}

// Config returns the configuration the session was set up with.
func (s *Session) Config() Config {
	return s.cfg
}

// BrowserVersion returns the version the browser reported.
func (s *Session) BrowserVersion() semver.Version {
	if s.wd == nil {
		return semver.Version{}
	}
	return s.wd.BrowserVersion()
}

func (s *Session) find(loc Locator) (webdriver.WebElement, error) {
	el, err := s.wd.FindElement(loc.By, loc.Value)
	if err != nil {
		return nil, driverError(loc.String(), err)
	}
	return el, nil
}

func (s *Session) click(loc Locator) error {
	el, err := s.find(loc)
	if err != nil {
		return err
	}
	if err := el.Click(); err != nil {
		return driverError("clicking "+loc.String(), err)
	}
	return nil
}

// typeInto types text into the element at loc. With clear set, the current
// value is removed first.
func (s *Session) typeInto(loc Locator, text string, clear bool) error {
	el, err := s.find(loc)
	if err != nil {
		return err
	}
	if clear {
		if err := el.Clear(); err != nil {
			return driverError("clearing "+loc.String(), err)
		}
	}
	if err := el.SendKeys(text); err != nil {
		return driverError("typing into "+loc.String(), err)
	}
	return nil
}

// expectFound looks up an element whose presence is the assertion itself.
func (s *Session) expectFound(loc Locator, what string) (webdriver.WebElement, error) {
	el, err := s.wd.FindElement(loc.By, loc.Value)
	if webdriver.IsNoSuchElement(err) {
		return nil, &Error{Kind: KindAssertion, Message: fmt.Sprintf("%s (%s) is missing", what, loc), Cause: err}
	}
	if err != nil {
		return nil, driverError(loc.String(), err)
	}
	return el, nil
}

func (s *Session) expectDisplayed(loc Locator, what string) error {
	el, err := s.expectFound(loc, what)
	if err != nil {
		return err
	}
	ok, err := el.IsDisplayed()
	if err != nil {
		return driverError(loc.String(), err)
	}
	if !ok {
		return assertionf("%s (%s) is not displayed", what, loc)
	}
	return nil
}

func (s *Session) text(loc Locator, what string) (string, error) {
	el, err := s.expectFound(loc, what)
	if err != nil {
		return "", err
	}
	t, err := el.Text()
	if err != nil {
		return "", driverError("reading "+loc.String(), err)
	}
	return t, nil
}

func (s *Session) expectText(loc Locator, what, want string) error {
	got, err := s.text(loc, what)
	if err != nil {
		return err
	}
	if got != want {
		return assertionf("%s is %q, want %q", what, got, want)
	}
	return nil
}

// check clicks a checkbox and expects it to end up selected.
func (s *Session) check(loc Locator, what string) error {
	if err := s.click(loc); err != nil {
		return err
	}
	el, err := s.find(loc)
	if err != nil {
		return err
	}
	ok, err := el.IsSelected()
	if err != nil {
		return driverError(loc.String(), err)
	}
	if !ok {
		return assertionf("%s (%s) is not selected after clicking it", what, loc)
	}
	return nil
}

// waitClickable polls until the element at loc is displayed and enabled.
// Expiry is a KindTimeout error. The implicit wait is off while polling so
// an absent element cannot hold a single poll past the bounded wait.
func (s *Session) waitClickable(loc Locator) (err error) {
	timeout := s.cfg.Timeouts.Wait
	if implicit := s.cfg.Timeouts.Implicit; implicit > 0 {
		if err := s.wd.SetImplicitWaitTimeout(0); err != nil {
			return environmentError("disabling the implicit wait", err)
		}
		defer func() {
			if rerr := s.wd.SetImplicitWaitTimeout(implicit); rerr != nil && err == nil {
				err = environmentError("restoring the implicit wait", rerr)
			}
		}()
	}
	err = s.wd.WaitWithTimeoutAndInterval(func(wd webdriver.WebDriver) (bool, error) {
		el, err := wd.FindElement(loc.By, loc.Value)
		if webdriver.IsNoSuchElement(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		shown, err := el.IsDisplayed()
		if err != nil || !shown {
			return false, ignoreStale(err)
		}
		enabled, err := el.IsEnabled()
		return enabled, ignoreStale(err)
	}, timeout, s.cfg.Timeouts.PollInterval)
	if errors.Is(err, webdriver.ErrWaitTimeout) {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("%s not clickable within %v", loc, timeout), Cause: err}
	}
	if err != nil {
		return driverError("waiting for "+loc.String(), err)
	}
	return nil
}

// ignoreStale lets a wait poll again when the page was replaced between the
// lookup and the state query.
func ignoreStale(err error) error {
	if webdriver.IsStaleElement(err) {
		return nil
	}
	return err
}

func (s *Session) selectByText(loc Locator, text string) error {
	el, err := s.find(loc)
	if err != nil {
		return err
	}
	sel, err := webdriver.Select(el)
	if err != nil {
		return driverError(loc.String(), err)
	}
	if err := sel.SelectByVisibleText(text); err != nil {
		return driverError(fmt.Sprintf("option %q of %s", text, loc), err)
	}
	return nil
}

// selectedText returns the text of the first selected option of the
// dropdown at loc.
func (s *Session) selectedText(loc Locator, what string) (string, error) {
	el, err := s.expectFound(loc, what)
	if err != nil {
		return "", err
	}
	sel, err := webdriver.Select(el)
	if err != nil {
		return "", driverError(loc.String(), err)
	}
	opt, err := sel.FirstSelectedOption()
	if webdriver.IsNoSuchElement(err) {
		return "", assertionf("%s (%s) has no selected option", what, loc)
	}
	if err != nil {
		return "", driverError(loc.String(), err)
	}
	t, err := opt.Text()
	if err != nil {
		return "", driverError(loc.String(), err)
	}
	return t, nil
}

// EnterFrame switches into the named frame. The returned restore switches
// back to the top-level document and must be called on every path.
func (s *Session) EnterFrame(name string) (restore func() error, err error) {
	if err := s.wd.SwitchFrame(name); err != nil {
		return nil, driverError("frame "+name, err)
	}
	return func() error {
		if err := s.wd.SwitchFrame(nil); err != nil {
			return driverError("leaving frame "+name, err)
		}
		return nil
	}, nil
}

// withinFrame runs fn inside the named frame and always returns to the
// top-level document.
func (s *Session) withinFrame(name string, fn func() error) (err error) {
	restore, err := s.EnterFrame(name)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			if err == nil {
				err = rerr
				return
			}
			glog.Warningf("%v", rerr)
		}
	}()
	return fn()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
