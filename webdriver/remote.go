// Remote WebDriver client implementation.
// See https://www.w3.org/TR/webdriver for the protocol.

package webdriver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blang/semver"

	"github.com/wanmail/crmflow/webdriver/log"
)

// Errors returned by JSON wire remote ends, keyed by their legacy status.
var remoteErrors = map[int]string{
	6:  "invalid session id",
	7:  "no such element",
	8:  "no such frame",
	9:  "unknown command",
	10: "stale element reference",
	11: "element not interactable",
	12: "invalid element state",
	13: "unknown error",
	15: "element not selectable",
	17: "javascript error",
	19: "invalid selector",
	21: "timeout",
	23: "no such window",
	26: "unexpected alert open",
	28: "script timeout",
	32: "invalid selector",
}

// W3C error codes the rest of the module branches on.
const (
	ErrCodeNoSuchElement = "no such element"
	ErrCodeNoSuchFrame   = "no such frame"
	ErrCodeStaleElement  = "stale element reference"
	ErrCodeTimeout       = "timeout"
)

const (
	// Success is the legacy status of a successful command.
	Success = 0
	// DefaultURLPrefix is the default HTTP endpoint of a remote end.
	DefaultURLPrefix = "http://127.0.0.1:4444/wd/hub"
	// JSONType is JSON content type.
	JSONType = "application/json"
	// MaxRedirects is the maximum number of redirects to follow.
	MaxRedirects = 10
	// DefaultWaitInterval is the polling interval of Wait and WaitWithTimeout.
	DefaultWaitInterval = 100 * time.Millisecond
	// DefaultWaitTimeout is the timeout of Wait.
	DefaultWaitTimeout = 60 * time.Second
)

// webElementIdentifier is the key of a W3C element reference.
const webElementIdentifier = "element-6066-11e4-a52e-4f735466cecf"

// ErrWaitTimeout is wrapped by the error a Wait method returns when the
// condition did not hold in time.
var ErrWaitTimeout = errors.New("wait timeout")

// Error is a failure reported by the remote end.
type Error struct {
	// Err is the W3C error code, e.g. "no such element".
	Err        string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace"`
	// HTTPCode is the status of the HTTP reply.
	HTTPCode int `json:"-"`
	// LegacyCode is the JSON wire status; 0 for W3C replies.
	LegacyCode int `json:"-"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Err
	}
	return e.Err + ": " + e.Message
}

// hasCode reports whether err is an *Error with the given W3C code.
func hasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Err == code
}

// IsNoSuchElement reports whether err means a lookup matched nothing.
func IsNoSuchElement(err error) bool {
	return hasCode(err, ErrCodeNoSuchElement) || hasCode(err, ErrCodeNoSuchFrame)
}

// IsStaleElement reports whether err means an element reference outlived
// its page.
func IsStaleElement(err error) bool {
	return hasCode(err, ErrCodeStaleElement)
}

// IsTimeout reports whether err is a remote timeout or an expired Wait.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout) || hasCode(err, ErrCodeTimeout)
}

// HTTPClient is used for all requests to the remote end. It re-adds the
// Accept header on redirects, which http.Client drops.
var HTTPClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) > MaxRedirects {
			return fmt.Errorf("too many redirects (%d)", len(via))
		}
		req.Header.Add("Accept", JSONType)
		return nil
	},
}

type remoteWD struct {
	id, urlPrefix  string
	capabilities   Capabilities
	w3cCompatible  bool
	browser        string
	browserVersion semver.Version
}

func newRequest(method string, url string, data []byte) (*http.Request, error) {
	request, err := http.NewRequest(method, url, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	request.Header.Add("Accept", JSONType)
	if data != nil {
		request.Header.Add("Content-Type", JSONType+";charset=utf-8")
	}
	return request, nil
}

// cleanNils replaces NUL bytes some remote ends leave in replies.
func cleanNils(buf []byte) {
	for i, b := range buf {
		if b == 0 {
			buf[i] = ' '
		}
	}
}

func (wd *remoteWD) requestURL(template string, args ...interface{}) string {
	return wd.urlPrefix + fmt.Sprintf(template, args...)
}

type serverReply struct {
	SessionID string          `json:"sessionId"`
	Status    int             `json:"status"`
	Value     json.RawMessage `json:"value"`
}

func (wd *remoteWD) execute(method, url string, data []byte) ([]byte, error) {
	return executeCommand(method, url, data)
}

func executeCommand(method, url string, data []byte) ([]byte, error) {
	debugLog("-> %s %s\n%s", method, url, data)
	request, err := newRequest(method, url, data)
	if err != nil {
		return nil, err
	}

	response, err := HTTPClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	buf, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading reply to %s %s: %w", method, url, err)
	}
	debugLog("<- %s [%s]\n%s", response.Status, response.Header.Get("Content-Type"), buf)

	cleanNils(buf)
	reply := new(serverReply)
	if err := json.Unmarshal(buf, reply); err != nil {
		if response.StatusCode >= 400 {
			return nil, &Error{
				Err:      "unknown error",
				Message:  fmt.Sprintf("bad server reply status: %s", response.Status),
				HTTPCode: response.StatusCode,
			}
		}
		// Nothing was returned, this is OK for some commands.
		return buf, nil
	}
	if response.StatusCode < 400 && reply.Status == Success {
		return buf, nil
	}

	e := &Error{HTTPCode: response.StatusCode, LegacyCode: reply.Status}
	// Both dialects put the details in an object under "value"; the legacy
	// one carries only a message.
	_ = json.Unmarshal(reply.Value, e)
	if e.Err == "" {
		if msg, ok := remoteErrors[reply.Status]; ok {
			e.Err = msg
		} else {
			e.Err = "unknown error"
		}
	}
	return nil, e
}

// decodeValue unmarshals the "value" member of a reply into v.
func decodeValue(data []byte, v interface{}) error {
	reply := struct {
		Value interface{} `json:"value"`
	}{Value: v}
	return json.Unmarshal(data, &reply)
}

func marshalParams(params interface{}) ([]byte, error) {
	if params == nil {
		// W3C requires a JSON object body on every POST.
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}

// NewRemote starts a session on the remote end at urlPrefix, which must
// include the scheme. An empty urlPrefix means DefaultURLPrefix.
func NewRemote(capabilities Capabilities, urlPrefix string) (WebDriver, error) {
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	if capabilities == nil {
		capabilities = Capabilities{}
	}

	wd := &remoteWD{
		urlPrefix:    strings.TrimSuffix(urlPrefix, "/"),
		capabilities: capabilities,
	}
	if b, ok := capabilities["browserName"].(string); ok {
		wd.browser = b
	}
	if _, err := wd.NewSession(); err != nil {
		return nil, err
	}
	return wd, nil
}

// DeleteSession ends the session id on the remote end at urlPrefix, for
// sessions whose WebDriver value is gone.
func DeleteSession(urlPrefix, id string) error {
	_, err := executeCommand("DELETE", strings.TrimSuffix(urlPrefix, "/")+"/session/"+id, nil)
	return err
}

func (wd *remoteWD) stringCommand(urlTemplate string) (string, error) {
	response, err := wd.execute("GET", wd.requestURL(urlTemplate, wd.id), nil)
	if err != nil {
		return "", err
	}

	var value *string
	if err := decodeValue(response, &value); err != nil {
		return "", err
	}
	if value == nil {
		return "", fmt.Errorf("nil return value")
	}
	return *value, nil
}

func (wd *remoteWD) voidCommand(urlTemplate string, params interface{}) error {
	data, err := marshalParams(params)
	if err != nil {
		return err
	}
	_, err = wd.execute("POST", wd.requestURL(urlTemplate, wd.id), data)
	return err
}

func (wd *remoteWD) boolCommand(urlTemplate string) (bool, error) {
	response, err := wd.execute("GET", wd.requestURL(urlTemplate, wd.id), nil)
	if err != nil {
		return false, err
	}

	var value bool
	if err := decodeValue(response, &value); err != nil {
		return false, err
	}
	return value, nil
}

func (wd *remoteWD) Status() (*Status, error) {
	reply, err := wd.execute("GET", wd.requestURL("/status"), nil)
	if err != nil {
		return nil, err
	}

	status := new(Status)
	if err := decodeValue(reply, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (wd *remoteWD) NewSession() (string, error) {
	data, err := json.Marshal(map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": wd.capabilities,
		},
		"desiredCapabilities": wd.capabilities,
	})
	if err != nil {
		return "", err
	}

	response, err := wd.execute("POST", wd.requestURL("/session"), data)
	if err != nil {
		return "", err
	}

	reply := new(serverReply)
	if err := json.Unmarshal(response, reply); err != nil {
		return "", err
	}

	var w3c struct {
		SessionID    string       `json:"sessionId"`
		Capabilities Capabilities `json:"capabilities"`
	}
	switch {
	case json.Unmarshal(reply.Value, &w3c) == nil && w3c.SessionID != "":
		wd.id = w3c.SessionID
		wd.capabilities = w3c.Capabilities
		wd.w3cCompatible = true
	case reply.SessionID != "":
		wd.id = reply.SessionID
		var caps Capabilities
		if err := json.Unmarshal(reply.Value, &caps); err == nil && caps != nil {
			wd.capabilities = caps
		}
	default:
		return "", fmt.Errorf("new session reply carries no session ID: %s", response)
	}

	if b, ok := wd.capabilities["browserName"].(string); ok {
		wd.browser = b
	}
	for _, key := range []string{"browserVersion", "version"} {
		if v, ok := wd.capabilities[key].(string); ok && v != "" {
			version, err := parseBrowserVersion(v)
			if err != nil {
				return wd.id, fmt.Errorf("parsing browser version %q: %w", v, err)
			}
			wd.browserVersion = version
			break
		}
	}
	return wd.id, nil
}

// parseBrowserVersion accepts Chrome's four-part versions by dropping
// everything past the patch number.
func parseBrowserVersion(v string) (semver.Version, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return semver.ParseTolerant(strings.Join(parts, "."))
}

func (wd *remoteWD) SessionID() string {
	return wd.id
}

func (wd *remoteWD) Capabilities() Capabilities {
	return wd.capabilities
}

func (wd *remoteWD) BrowserVersion() semver.Version {
	return wd.browserVersion
}

func (wd *remoteWD) setTimeout(w3cName, legacyName string, timeout time.Duration) error {
	ms := uint(timeout / time.Millisecond)
	if wd.w3cCompatible {
		return wd.voidCommand("/session/%s/timeouts", map[string]uint{w3cName: ms})
	}
	return wd.voidCommand("/session/%s/timeouts", map[string]interface{}{
		"type": legacyName,
		"ms":   ms,
	})
}

func (wd *remoteWD) SetImplicitWaitTimeout(timeout time.Duration) error {
	return wd.setTimeout("implicit", "implicit", timeout)
}

func (wd *remoteWD) SetPageLoadTimeout(timeout time.Duration) error {
	return wd.setTimeout("pageLoad", "page load", timeout)
}

func (wd *remoteWD) Quit() error {
	if wd.id == "" {
		return nil
	}
	_, err := wd.execute("DELETE", wd.requestURL("/session/%s", wd.id), nil)
	if err == nil {
		wd.id = ""
	}
	return err
}

func (wd *remoteWD) CurrentURL() (string, error) {
	return wd.stringCommand("/session/%s/url")
}

func (wd *remoteWD) Get(url string) error {
	return wd.voidCommand("/session/%s/url", map[string]string{"url": url})
}

func (wd *remoteWD) Title() (string, error) {
	return wd.stringCommand("/session/%s/title")
}

func (wd *remoteWD) MaximizeWindow(name string) error {
	if !wd.w3cCompatible {
		if name == "" {
			name = "current"
		}
		return wd.voidCommand(fmt.Sprintf("/session/%%s/window/%s/maximize", name), nil)
	}
	if name != "" {
		if err := wd.voidCommand("/session/%s/window", map[string]string{"handle": name}); err != nil {
			return err
		}
	}
	return wd.voidCommand("/session/%s/window/maximize", nil)
}

func (wd *remoteWD) find(by, value, suffix, url string) ([]byte, error) {
	params := map[string]string{
		"using": by,
		"value": value,
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	if url == "" {
		url = "/session/%s/element"
	}
	return wd.execute("POST", wd.requestURL(url+suffix, wd.id), data)
}

// elementRef holds an element reference in either dialect.
type elementRef struct {
	Element string `json:"ELEMENT"`
	W3C     string `json:"element-6066-11e4-a52e-4f735466cecf"`
}

func (e elementRef) id() string {
	if e.W3C != "" {
		return e.W3C
	}
	return e.Element
}

func (wd *remoteWD) decodeElement(data []byte) (WebElement, error) {
	var ref elementRef
	if err := decodeValue(data, &ref); err != nil {
		return nil, err
	}
	if ref.id() == "" {
		return nil, fmt.Errorf("reply carries no element reference: %s", data)
	}
	return &remoteWE{wd, ref.id()}, nil
}

func (wd *remoteWD) decodeElements(data []byte) ([]WebElement, error) {
	var refs []elementRef
	if err := decodeValue(data, &refs); err != nil {
		return nil, err
	}

	elems := make([]WebElement, len(refs))
	for i, ref := range refs {
		elems[i] = &remoteWE{wd, ref.id()}
	}
	return elems, nil
}

func (wd *remoteWD) FindElement(by, value string) (WebElement, error) {
	response, err := wd.find(by, value, "", "")
	if err != nil {
		return nil, err
	}
	return wd.decodeElement(response)
}

func (wd *remoteWD) FindElements(by, value string) ([]WebElement, error) {
	response, err := wd.find(by, value, "s", "")
	if err != nil {
		return nil, err
	}
	return wd.decodeElements(response)
}

func (wd *remoteWD) SwitchFrame(frame interface{}) error {
	params := map[string]interface{}{}
	switch f := frame.(type) {
	case nil:
		params["id"] = nil
	case WebElement, int:
		params["id"] = f
	case string:
		if f == "" {
			params["id"] = nil
			break
		}
		if !wd.w3cCompatible {
			params["id"] = f
			break
		}
		// W3C dropped switching by name or ID; resolve the element first.
		el, err := wd.findFrame(f)
		if err != nil {
			return err
		}
		params["id"] = el
	default:
		return fmt.Errorf("invalid frame type %T", frame)
	}
	return wd.voidCommand("/session/%s/frame", params)
}

func (wd *remoteWD) findFrame(name string) (WebElement, error) {
	selector := fmt.Sprintf("frame[name=%q],iframe[name=%q]", name, name)
	frames, err := wd.FindElements(ByCSSSelector, selector)
	if err != nil {
		return nil, err
	}
	if len(frames) > 0 {
		return frames[0], nil
	}
	return wd.FindElement(ByID, name)
}

func (wd *remoteWD) Screenshot() ([]byte, error) {
	data, err := wd.stringCommand("/session/%s/screenshot")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(data)
}

func (wd *remoteWD) Log(typ log.Type) ([]log.Message, error) {
	data, err := json.Marshal(map[string]log.Type{"type": typ})
	if err != nil {
		return nil, err
	}
	response, err := wd.execute("POST", wd.requestURL("/session/%s/log", wd.id), data)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Timestamp float64   `json:"timestamp"`
		Level     log.Level `json:"level"`
		Message   string    `json:"message"`
	}
	if err := decodeValue(response, &entries); err != nil {
		return nil, err
	}

	msgs := make([]log.Message, len(entries))
	for i, e := range entries {
		msgs[i] = log.Message{
			Timestamp: time.Unix(0, int64(e.Timestamp)*int64(time.Millisecond)),
			Level:     e.Level,
			Message:   e.Message,
		}
	}
	return msgs, nil
}

func (wd *remoteWD) WaitWithTimeoutAndInterval(condition Condition, timeout, interval time.Duration) error {
	start := time.Now()
	for {
		done, err := condition(wd)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if elapsed := time.Since(start); elapsed > timeout {
			return fmt.Errorf("%w after %v", ErrWaitTimeout, elapsed)
		}
		time.Sleep(interval)
	}
}

func (wd *remoteWD) WaitWithTimeout(condition Condition, timeout time.Duration) error {
	return wd.WaitWithTimeoutAndInterval(condition, timeout, DefaultWaitInterval)
}

func (wd *remoteWD) Wait(condition Condition) error {
	return wd.WaitWithTimeoutAndInterval(condition, DefaultWaitTimeout, DefaultWaitInterval)
}

type remoteWE struct {
	parent *remoteWD
	id     string
}

func (elem *remoteWE) command(suffix string) string {
	return fmt.Sprintf("/session/%%s/element/%s/%s", elem.id, suffix)
}

func (elem *remoteWE) Click() error {
	return elem.parent.voidCommand(elem.command("click"), nil)
}

func (elem *remoteWE) SendKeys(keys string) error {
	return elem.parent.voidCommand(elem.command("value"), processKeyString(keys))
}

// processKeyString fills both the W3C "text" and the legacy "value" form.
func processKeyString(keys string) interface{} {
	chars := make([]string, 0, len(keys))
	for _, c := range keys {
		chars = append(chars, string(c))
	}
	return map[string]interface{}{
		"text":  keys,
		"value": chars,
	}
}

func (elem *remoteWE) Clear() error {
	return elem.parent.voidCommand(elem.command("clear"), nil)
}

func (elem *remoteWE) TagName() (string, error) {
	return elem.parent.stringCommand(elem.command("name"))
}

func (elem *remoteWE) Text() (string, error) {
	return elem.parent.stringCommand(elem.command("text"))
}

func (elem *remoteWE) FindElement(by, value string) (WebElement, error) {
	response, err := elem.parent.find(by, value, "", fmt.Sprintf("/session/%%s/element/%s/element", elem.id))
	if err != nil {
		return nil, err
	}
	return elem.parent.decodeElement(response)
}

func (elem *remoteWE) FindElements(by, value string) ([]WebElement, error) {
	response, err := elem.parent.find(by, value, "s", fmt.Sprintf("/session/%%s/element/%s/element", elem.id))
	if err != nil {
		return nil, err
	}
	return elem.parent.decodeElements(response)
}

func (elem *remoteWE) IsSelected() (bool, error) {
	return elem.parent.boolCommand(elem.command("selected"))
}

func (elem *remoteWE) IsEnabled() (bool, error) {
	return elem.parent.boolCommand(elem.command("enabled"))
}

func (elem *remoteWE) IsDisplayed() (bool, error) {
	return elem.parent.boolCommand(elem.command("displayed"))
}

func (elem *remoteWE) GetAttribute(name string) (string, error) {
	wd := elem.parent
	response, err := wd.execute("GET", wd.requestURL(elem.command("attribute/"+name), wd.id), nil)
	if err != nil {
		return "", err
	}
	var value *string
	if err := decodeValue(response, &value); err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

func (elem *remoteWE) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"ELEMENT":            elem.id,
		webElementIdentifier: elem.id,
	})
}
