// Package fakedriver is an in-process W3C WebDriver remote end that serves a
// scripted application instead of a browser. It implements the endpoints
// package webdriver uses and records every request for assertions.
package fakedriver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
)

const webElementIdentifier = "element-6066-11e4-a52e-4f735466cecf"

// Application produces the pages the fake browser shows.
type Application interface {
	// Open returns the page shown after navigating to url.
	Open(url string) *Page
}

// Page is a document made of a flat list of elements.
type Page struct {
	Title    string
	Elements []*Element
}

// Element is a node of a fake page. Lookups match it through its tag,
// attributes, link text and XPath.
type Element struct {
	Tag   string
	Attrs map[string]string
	Text  string
	Value string
	// XPath is matched verbatim by xpath lookups, in addition to the
	// //*[@id="..."] form.
	XPath string
	// Label names the element in recorded requests.
	Label string

	Hidden   bool
	Disabled bool
	Selected bool
	// Frame is the name of the frame holding the element; "" is the
	// top-level document.
	Frame string
	// Options are the children of a <select>.
	Options []*Element

	// OnClick runs after the default click behavior.
	OnClick func(s *Server)
	// OnChange runs on a <select> after one of its options was clicked.
	OnChange func(s *Server, option *Element)

	id     string
	page   *Page
	parent *Element
}

// SelectedOption returns the first selected option of a <select>.
func (e *Element) SelectedOption() *Element {
	for _, o := range e.Options {
		if o.Selected {
			return o
		}
	}
	return nil
}

// Choose selects option i of a <select> and clears the others.
func (e *Element) Choose(i int) {
	for j, o := range e.Options {
		o.Selected = i == j
	}
}

// Request is a recorded call to a session endpoint.
type Request struct {
	Method string
	// Command is the last fixed path segment, e.g. "click", "url", "frame".
	Command string
	Path    string
	Body    string
	// Element is the element the command targeted, if any.
	Element *Element
}

// LogEntry is one entry of a browser log buffer.
type LogEntry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Option configures a Server.
type Option func(*Server)

// WithBrowser sets the browser name and version reported for new sessions.
func WithBrowser(name, version string) Option {
	return func(s *Server) {
		s.browserName = name
		s.browserVersion = version
	}
}

// WithSessionError makes every new session request fail with message.
func WithSessionError(message string) Option {
	return func(s *Server) {
		s.sessionError = message
	}
}

// WithLog preloads a log buffer.
func WithLog(typ string, entries ...LogEntry) Option {
	return func(s *Server) {
		s.logs[typ] = append(s.logs[typ], entries...)
	}
}

// Server is the fake remote end. Its URL is the prefix to pass to
// webdriver.NewRemote.
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	app            Application
	browserName    string
	browserVersion string
	sessionError   string

	sessions     int
	sessionID    string
	deleted      bool
	capabilities map[string]interface{}
	timeouts     map[string]int
	maximized    bool
	url          string
	page         *Page
	frame        string
	elements     map[string]*Element
	nextID       int
	logs         map[string][]LogEntry
	requests     []Request
}

// New starts a fake remote end serving app.
func New(app Application, opts ...Option) *Server {
	s := &Server{
		app:            app,
		browserName:    "chrome",
		browserVersion: "120.0.6099.109",
		timeouts:       make(map[string]int),
		elements:       make(map[string]*Element),
		logs:           make(map[string][]LogEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Show replaces the current page and resets the frame context. It must only
// be called from element handlers or Application.Open.
func (s *Server) Show(p *Page) {
	s.page = p
	s.frame = ""
	var register func(el *Element, parent *Element)
	register = func(el *Element, parent *Element) {
		el.page = p
		el.parent = parent
		if parent != nil {
			el.Frame = parent.Frame
		}
		if el.id == "" {
			s.nextID++
			el.id = fmt.Sprintf("el-%d", s.nextID)
		}
		s.elements[el.id] = el
		for _, o := range el.Options {
			register(o, el)
		}
	}
	for _, el := range p.Elements {
		register(el, nil)
	}
}

// Requests returns the session requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Capabilities returns the alwaysMatch capabilities of the last session.
func (s *Server) Capabilities() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// SessionDeleted reports whether the last session was ended.
func (s *Server) SessionDeleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != "" && s.deleted
}

// Timeouts returns the timeouts set on the session, in milliseconds.
func (s *Server) Timeouts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.timeouts))
	for k, v := range s.timeouts {
		out[k] = v
	}
	return out
}

// Maximized reports whether the window was maximized.
func (s *Server) Maximized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maximized
}

// NavigatedURL returns the last URL navigated to.
func (s *Server) NavigatedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Frame returns the name of the current frame; "" is the top-level document.
func (s *Server) Frame() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Page returns the page currently shown.
func (s *Server) Page() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// AddLog appends entries to a log buffer.
func (s *Server) AddLog(typ string, entries ...LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[typ] = append(s.logs[typ], entries...)
}

type remoteError struct {
	status  int
	code    string
	message string
}

func errorf(status int, code, format string, args ...interface{}) *remoteError {
	return &remoteError{status, code, fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"value": value})
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid argument", "message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, rerr := s.route(r.Method, strings.Split(strings.Trim(r.URL.Path, "/"), "/"), body)
	if rerr != nil {
		writeJSON(w, rerr.status, map[string]string{
			"error":      rerr.code,
			"message":    rerr.message,
			"stacktrace": "",
		})
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) route(method string, parts []string, body []byte) (interface{}, *remoteError) {
	switch {
	case len(parts) == 1 && parts[0] == "status":
		return map[string]interface{}{"ready": true, "message": "fakedriver ready"}, nil
	case len(parts) == 1 && parts[0] == "session" && method == http.MethodPost:
		return s.newSession(body)
	case len(parts) < 2 || parts[0] != "session":
		return nil, errorf(http.StatusNotFound, "unknown command", "unknown path /%s", strings.Join(parts, "/"))
	}

	if parts[1] != s.sessionID || s.deleted {
		return nil, errorf(http.StatusNotFound, "invalid session id", "session %s does not exist", parts[1])
	}
	rest := parts[2:]
	req := Request{Method: method, Path: "/" + strings.Join(rest, "/"), Body: string(body)}
	if len(rest) > 0 {
		req.Command = rest[len(rest)-1]
	}
	if len(rest) >= 3 && rest[0] == "element" {
		req.Element = s.elements[rest[1]]
		req.Command = rest[2]
	}
	s.requests = append(s.requests, req)

	switch {
	case len(rest) == 0 && method == http.MethodDelete:
		s.deleted = true
		return nil, nil
	case len(rest) == 1 && rest[0] == "timeouts":
		var t map[string]int
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, errorf(http.StatusBadRequest, "invalid argument", "timeouts: %v", err)
		}
		for k, v := range t {
			s.timeouts[k] = v
		}
		return nil, nil
	case len(rest) == 2 && rest[0] == "window" && rest[1] == "maximize":
		s.maximized = true
		return map[string]int{"x": 0, "y": 0, "width": 1920, "height": 1080}, nil
	case len(rest) == 1 && rest[0] == "url" && method == http.MethodPost:
		var p struct{ URL string }
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errorf(http.StatusBadRequest, "invalid argument", "url: %v", err)
		}
		s.url = p.URL
		s.Show(s.app.Open(p.URL))
		return nil, nil
	case len(rest) == 1 && rest[0] == "url":
		return s.url, nil
	case len(rest) == 1 && rest[0] == "title":
		if s.page == nil {
			return "", nil
		}
		return s.page.Title, nil
	case len(rest) == 1 && (rest[0] == "element" || rest[0] == "elements"):
		return s.find(s.visible(), rest[0] == "elements", body)
	case len(rest) == 1 && rest[0] == "frame":
		return s.switchFrame(body)
	case len(rest) == 1 && rest[0] == "screenshot":
		return base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfakedriver")), nil
	case len(rest) == 1 && rest[0] == "log":
		var p struct{ Type string }
		json.Unmarshal(body, &p)
		entries := s.logs[p.Type]
		delete(s.logs, p.Type)
		if entries == nil {
			entries = []LogEntry{}
		}
		return entries, nil
	case len(rest) >= 3 && rest[0] == "element":
		return s.elementCommand(method, rest[1], rest[2:], body)
	}
	return nil, errorf(http.StatusNotFound, "unknown command", "unknown command %s %s", method, req.Path)
}

func (s *Server) newSession(body []byte) (interface{}, *remoteError) {
	if s.sessionError != "" {
		return nil, errorf(http.StatusInternalServerError, "session not created", "%s", s.sessionError)
	}
	var p struct {
		Capabilities struct {
			AlwaysMatch map[string]interface{} `json:"alwaysMatch"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errorf(http.StatusBadRequest, "invalid argument", "new session: %v", err)
	}
	s.sessions++
	s.sessionID = fmt.Sprintf("fake-session-%d", s.sessions)
	s.deleted = false
	s.capabilities = p.Capabilities.AlwaysMatch
	return map[string]interface{}{
		"sessionId": s.sessionID,
		"capabilities": map[string]interface{}{
			"browserName":    s.browserName,
			"browserVersion": s.browserVersion,
		},
	}, nil
}

// visible returns the elements of the current frame.
func (s *Server) visible() []*Element {
	if s.page == nil {
		return nil
	}
	var out []*Element
	var walk func(els []*Element)
	walk = func(els []*Element) {
		for _, el := range els {
			if el.Frame == s.frame {
				out = append(out, el)
			}
			walk(el.Options)
		}
	}
	walk(s.page.Elements)
	return out
}

func elementRef(el *Element) map[string]string {
	return map[string]string{webElementIdentifier: el.id}
}

func (s *Server) find(candidates []*Element, multiple bool, body []byte) (interface{}, *remoteError) {
	var p struct{ Using, Value string }
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errorf(http.StatusBadRequest, "invalid argument", "find: %v", err)
	}
	refs := []map[string]string{}
	for _, el := range candidates {
		if matches(el, p.Using, p.Value) {
			refs = append(refs, elementRef(el))
		}
	}
	if multiple {
		return refs, nil
	}
	if len(refs) == 0 {
		return nil, errorf(http.StatusNotFound, "no such element", "no element matches %s %q", p.Using, p.Value)
	}
	return refs[0], nil
}

func (s *Server) lookup(id string) (*Element, *remoteError) {
	el, ok := s.elements[id]
	if !ok || el.page != s.page {
		return nil, errorf(http.StatusNotFound, "stale element reference", "element %s is not attached to the page", id)
	}
	return el, nil
}

func (s *Server) switchFrame(body []byte) (interface{}, *remoteError) {
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errorf(http.StatusBadRequest, "invalid argument", "frame: %v", err)
	}
	if len(p.ID) == 0 || string(p.ID) == "null" {
		s.frame = ""
		return nil, nil
	}
	var ref map[string]string
	if err := json.Unmarshal(p.ID, &ref); err != nil || ref[webElementIdentifier] == "" {
		return nil, errorf(http.StatusNotFound, "no such frame", "unsupported frame reference %s", p.ID)
	}
	el, rerr := s.lookup(ref[webElementIdentifier])
	if rerr != nil {
		return nil, rerr
	}
	if el.Tag != "iframe" && el.Tag != "frame" {
		return nil, errorf(http.StatusNotFound, "no such frame", "element %s is a <%s>", el.id, el.Tag)
	}
	s.frame = el.Attrs["name"]
	return nil, nil
}

func (s *Server) elementCommand(method, id string, cmd []string, body []byte) (interface{}, *remoteError) {
	el, rerr := s.lookup(id)
	if rerr != nil {
		return nil, rerr
	}
	switch {
	case cmd[0] == "element" || cmd[0] == "elements":
		var children []*Element
		var walk func(els []*Element)
		walk = func(els []*Element) {
			for _, c := range els {
				children = append(children, c)
				walk(c.Options)
			}
		}
		walk(el.Options)
		return s.find(children, cmd[0] == "elements", body)
	case cmd[0] == "click":
		return nil, s.click(el)
	case cmd[0] == "value":
		if el.Hidden || el.Disabled {
			return nil, errorf(http.StatusBadRequest, "element not interactable", "element %s cannot take input", el.id)
		}
		var p struct{ Text string }
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errorf(http.StatusBadRequest, "invalid argument", "value: %v", err)
		}
		el.Value += p.Text
		return nil, nil
	case cmd[0] == "clear":
		el.Value = ""
		return nil, nil
	case cmd[0] == "text":
		if el.Hidden {
			return "", nil
		}
		return el.Text, nil
	case cmd[0] == "name":
		return el.Tag, nil
	case cmd[0] == "selected":
		return el.Selected, nil
	case cmd[0] == "enabled":
		return !el.Disabled, nil
	case cmd[0] == "displayed":
		return !el.Hidden, nil
	case cmd[0] == "attribute" && len(cmd) == 2:
		if v, ok := el.Attrs[cmd[1]]; ok {
			return v, nil
		}
		if cmd[1] == "value" && el.Tag == "input" {
			return el.Value, nil
		}
		return nil, nil
	}
	return nil, errorf(http.StatusNotFound, "unknown command", "unknown element command %s %s", method, strings.Join(cmd, "/"))
}

func (s *Server) click(el *Element) *remoteError {
	if el.Hidden || el.Disabled {
		return errorf(http.StatusBadRequest, "element not interactable", "element %s is not clickable", el.id)
	}
	switch {
	case el.Tag == "option" && el.parent != nil:
		sel := el.parent
		if _, multi := sel.Attrs["multiple"]; multi {
			el.Selected = !el.Selected
		} else {
			for _, o := range sel.Options {
				o.Selected = o == el
			}
		}
		if sel.OnChange != nil {
			sel.OnChange(s, el)
		}
	case el.Tag == "input" && el.Attrs["type"] == "checkbox":
		el.Selected = !el.Selected
	}
	if el.OnClick != nil {
		el.OnClick(s)
	}
	return nil
}

var (
	idXPath          = regexp.MustCompile(`^//\*\[@id="([^"]+)"\]$`)
	optionTextXPath  = regexp.MustCompile(`^\.//option\[normalize-space\(\.\) = "([^"]*)"\]$`)
	optionValueXPath = regexp.MustCompile(`^\.//option\[@value = "([^"]*)"\]$`)
	cssPart          = regexp.MustCompile(`^([a-z0-9]*)(?:#([\w-]+))?(?:\[([\w-]+)="([^"]*)"\])?$`)
)

func matches(el *Element, using, value string) bool {
	switch using {
	case "id":
		return el.Attrs["id"] == value
	case "name":
		return el.Attrs["name"] == value
	case "link text":
		return el.Tag == "a" && strings.TrimSpace(el.Text) == value
	case "partial link text":
		return el.Tag == "a" && strings.Contains(el.Text, value)
	case "tag name":
		return el.Tag == value
	case "class name":
		for _, c := range strings.Fields(el.Attrs["class"]) {
			if c == value {
				return true
			}
		}
		return false
	case "css selector":
		for _, part := range strings.Split(value, ",") {
			m := cssPart.FindStringSubmatch(strings.TrimSpace(part))
			if m == nil {
				continue
			}
			if (m[1] == "" || m[1] == el.Tag) &&
				(m[2] == "" || m[2] == el.Attrs["id"]) &&
				(m[3] == "" || el.Attrs[m[3]] == m[4]) &&
				m[0] != "" {
				return true
			}
		}
		return false
	case "xpath":
		if el.XPath != "" && el.XPath == value {
			return true
		}
		if m := idXPath.FindStringSubmatch(value); m != nil {
			return el.Attrs["id"] == m[1]
		}
		if m := optionTextXPath.FindStringSubmatch(value); m != nil {
			return el.Tag == "option" && strings.Join(strings.Fields(el.Text), " ") == m[1]
		}
		if m := optionValueXPath.FindStringSubmatch(value); m != nil {
			return el.Tag == "option" && el.Attrs["value"] == m[1]
		}
	}
	return false
}
