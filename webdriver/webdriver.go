package webdriver

import (
	"time"

	"github.com/blang/semver"

	"github.com/wanmail/crmflow/webdriver/chrome"
	"github.com/wanmail/crmflow/webdriver/firefox"
	"github.com/wanmail/crmflow/webdriver/log"
)

// Methods by which to find elements.
const (
	ByID              = "id"
	ByXPATH           = "xpath"
	ByLinkText        = "link text"
	ByPartialLinkText = "partial link text"
	ByName            = "name"
	ByTagName         = "tag name"
	ByClassName       = "class name"
	ByCSSSelector     = "css selector"
)

// Capabilities configures both the driver and the browser of a new session.
type Capabilities map[string]interface{}

// AddChrome adds Chrome-specific capabilities.
func (c Capabilities) AddChrome(f chrome.Capabilities) {
	c[chrome.CapabilitiesKey] = f
}

// AddFirefox adds Firefox-specific capabilities.
func (c Capabilities) AddFirefox(f firefox.Capabilities) {
	c[firefox.CapabilitiesKey] = f
}

// AddProxy adds proxy configuration to the capabilities.
func (c Capabilities) AddProxy(p Proxy) {
	c["proxy"] = p
}

// AddLogging adds logging configuration to the capabilities.
func (c Capabilities) AddLogging(l log.Capabilities) {
	c[log.CapabilitiesKey] = l
}

// SetLogLevel sets the level of a single log buffer, creating the logging
// preferences when needed.
func (c Capabilities) SetLogLevel(typ log.Type, level log.Level) {
	m, ok := c[log.CapabilitiesKey].(log.Capabilities)
	if !ok {
		m = make(log.Capabilities)
		c[log.CapabilitiesKey] = m
	}
	m[typ] = level
}

// Proxy is the W3C proxy capability.
type Proxy struct {
	// Type is required.
	Type ProxyType `json:"proxyType"`

	// AutoconfigURL is required when Type is PAC.
	AutoconfigURL string `json:"proxyAutoconfigUrl,omitempty"`

	// Used when Type is Manual.
	HTTP         string   `json:"httpProxy,omitempty"`
	SSL          string   `json:"sslProxy,omitempty"`
	SOCKS        string   `json:"socksProxy,omitempty"`
	SOCKSVersion int      `json:"socksVersion,omitempty"`
	NoProxy      []string `json:"noProxy,omitempty"`
}

// ProxyType is an enumeration of the types of proxies available.
type ProxyType string

// Proxy types.
const (
	Direct     ProxyType = "direct"
	Manual     ProxyType = "manual"
	Autodetect ProxyType = "autodetect"
	System     ProxyType = "system"
	PAC        ProxyType = "pac"
)

// Status is the reply of the /status endpoint.
type Status struct {
	// W3C fields.
	Ready   bool
	Message string

	// ChromeDriver extras.
	Build struct {
		Version string
	}
	OS struct {
		Arch, Name, Version string
	}
}

// Condition is polled by the Wait methods until it returns true or an error.
type Condition func(wd WebDriver) (bool, error)

// WebDriver is a session with a remote end.
type WebDriver interface {
	// Status returns information about the remote end.
	Status() (*Status, error)

	// NewSession starts a new session and returns the session ID.
	NewSession() (string, error)
	// SessionID returns the current session ID.
	SessionID() string
	// Capabilities returns the capabilities the remote end granted.
	Capabilities() Capabilities
	// BrowserVersion returns the browser version reported at session
	// creation, reduced to major.minor.patch.
	BrowserVersion() semver.Version

	// SetImplicitWaitTimeout sets how long element lookups keep retrying.
	// The timeout is rounded to the nearest millisecond.
	SetImplicitWaitTimeout(timeout time.Duration) error
	// SetPageLoadTimeout sets how long navigation waits for a page to load.
	SetPageLoadTimeout(timeout time.Duration) error

	// Quit ends the session. The browser instance will be closed.
	Quit() error

	// MaximizeWindow maximizes a window. If the name is empty, the current
	// window is maximized.
	MaximizeWindow(name string) error
	// Get navigates the browser to the provided URL.
	Get(url string) error
	// CurrentURL returns the browser's current URL.
	CurrentURL() (string, error)
	// Title returns the current page's title.
	Title() (string, error)

	// SwitchFrame switches to the given frame. The frame parameter can be
	// the frame's name or ID as a string, its WebElement, its index as an
	// int, or nil to switch back to the top-level browsing context.
	SwitchFrame(frame interface{}) error

	// FindElement finds exactly one element in the current browsing context.
	FindElement(by, value string) (WebElement, error)
	// FindElements finds all matching elements in the current browsing
	// context.
	FindElements(by, value string) ([]WebElement, error)

	// Screenshot returns a PNG of the current window.
	Screenshot() ([]byte, error)
	// Log drains the given log buffer. The buffer must have been enabled in
	// the capabilities.
	Log(typ log.Type) ([]log.Message, error)

	// WaitWithTimeoutAndInterval polls condition every interval until it
	// holds, fails, or timeout elapses. Expiry yields an error wrapping
	// ErrWaitTimeout.
	WaitWithTimeoutAndInterval(condition Condition, timeout, interval time.Duration) error
	// WaitWithTimeout works like WaitWithTimeoutAndInterval with
	// DefaultWaitInterval.
	WaitWithTimeout(condition Condition, timeout time.Duration) error
	// Wait works like WaitWithTimeoutAndInterval with DefaultWaitTimeout and
	// DefaultWaitInterval.
	Wait(condition Condition) error
}

// WebElement is an element reference in the session that found it. It goes
// stale when the page that held it is replaced.
type WebElement interface {
	Click() error
	// SendKeys types into the element.
	SendKeys(keys string) error
	Clear() error

	// FindElement finds a descendant element.
	FindElement(by, value string) (WebElement, error)
	// FindElements finds all matching descendant elements.
	FindElements(by, value string) ([]WebElement, error)

	TagName() (string, error)
	// Text returns the rendered text of the element.
	Text() (string, error)
	IsSelected() (bool, error)
	IsEnabled() (bool, error)
	IsDisplayed() (bool, error)
	// GetAttribute returns the named attribute, or "" when it is absent.
	GetAttribute(name string) (string, error)
}
