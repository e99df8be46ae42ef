package webdriver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// newExecCommand is replaced in tests.
var newExecCommand = exec.Command

// DefaultStartTimeout bounds how long a new Service may take to answer
// /status.
const DefaultStartTimeout = 30 * time.Second

// ServiceOption configures a Service instance.
type ServiceOption func(*Service) error

// Display specifies the value to which set the DISPLAY environment variable,
// as well as the path to the Xauthority file containing credentials needed to
// write to that X server.
func Display(d, xauthPath string) ServiceOption {
	return func(s *Service) error {
		if s.display != "" {
			return fmt.Errorf("service display already set: %v", s.display)
		}
		if s.xauthPath != "" {
			return fmt.Errorf("service xauth path already set: %v", s.xauthPath)
		}
		if !isDisplay(d) {
			return fmt.Errorf("supplied display %q must be of the format 'x' or 'x.y' where x and y are integers", d)
		}
		s.display = d
		s.xauthPath = xauthPath
		return nil
	}
}

// isDisplay validates that the given disp is in the format "x" or "x.y", where
// x and y are both integers.
func isDisplay(disp string) bool {
	ds := strings.Split(disp, ".")
	if len(ds) > 2 {
		return false
	}

	for _, d := range ds {
		if _, err := strconv.Atoi(d); err != nil {
			return false
		}
	}
	return true
}

// StartFrameBuffer starts an X virtual frame buffer before the driver. It
// is stopped together with the service.
func StartFrameBuffer() ServiceOption {
	return StartFrameBufferWithOptions(FrameBufferOptions{})
}

// FrameBufferOptions describes the options that can be used to create a frame buffer.
type FrameBufferOptions struct {
	// ScreenSize is of the form "{width}x{height}[x{depth}]", e.g.
	// "1920x1080x24".
	ScreenSize string
}

// StartFrameBufferWithOptions is StartFrameBuffer with a configured screen.
func StartFrameBufferWithOptions(options FrameBufferOptions) ServiceOption {
	return func(s *Service) error {
		if s.display != "" {
			return fmt.Errorf("service display already set: %v", s.display)
		}
		if s.xauthPath != "" {
			return fmt.Errorf("service xauth path already set: %v", s.xauthPath)
		}
		if s.xvfb != nil {
			return fmt.Errorf("service Xvfb instance already running")
		}
		fb, err := NewFrameBufferWithOptions(options)
		if err != nil {
			return fmt.Errorf("error starting frame buffer: %w", err)
		}
		s.xvfb = fb
		return Display(fb.Display, fb.AuthPath)(s)
	}
}

// Output specifies that the WebDriver service should log to the provided
// writer.
func Output(w io.Writer) ServiceOption {
	return func(s *Service) error {
		s.output = w
		return nil
	}
}

// StartTimeout overrides DefaultStartTimeout.
func StartTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("start timeout must be positive, got %v", d)
		}
		s.startTimeout = d
		return nil
	}
}

// Service controls a locally running driver subprocess.
type Service struct {
	port            int
	addr            string
	cmd             *exec.Cmd
	shutdownURLPath string
	startTimeout    time.Duration

	display, xauthPath string
	xvfb               *FrameBuffer

	output io.Writer
	exited chan error
}

// FrameBuffer returns the FrameBuffer if one was started by the service and nil otherwise.
func (s *Service) FrameBuffer() *FrameBuffer {
	return s.xvfb
}

// Addr is the URL prefix to pass to NewRemote.
func (s *Service) Addr() string {
	return s.addr
}

// NewChromeDriverService starts ChromeDriver at path in the background. A
// zero port picks a free one.
func NewChromeDriverService(path string, port int, opts ...ServiceOption) (*Service, error) {
	port, err := portOrFree(port)
	if err != nil {
		return nil, err
	}
	cmd := newExecCommand(path, "--port="+strconv.Itoa(port), "--url-base=wd/hub", "--verbose")
	s, err := newService(cmd, "/wd/hub", port, opts...)
	if err != nil {
		return nil, err
	}
	s.shutdownURLPath = "/shutdown"
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewGeckoDriverService starts GeckoDriver at path in the background. A zero
// port picks a free one.
func NewGeckoDriverService(path string, port int, opts ...ServiceOption) (*Service, error) {
	port, err := portOrFree(port)
	if err != nil {
		return nil, err
	}
	cmd := newExecCommand(path, "--port", strconv.Itoa(port))
	s, err := newService(cmd, "", port, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func portOrFree(port int) (int, error) {
	if port != 0 {
		return port, nil
	}
	return PickUnusedPort()
}

// PickUnusedPort returns a TCP port that was free when it was checked.
func PickUnusedPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}

func newService(cmd *exec.Cmd, urlPrefix string, port int, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		port:         port,
		addr:         fmt.Sprintf("http://localhost:%d%s", port, urlPrefix),
		startTimeout: DefaultStartTimeout,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.stopFrameBuffer()
			return nil, err
		}
	}
	cmd.Stderr = s.output
	cmd.Stdout = s.output
	cmd.Env = append(os.Environ(), cmd.Env...)
	if s.display != "" {
		cmd.Env = append(cmd.Env, "DISPLAY=:"+s.display)
	}
	if s.xauthPath != "" {
		cmd.Env = append(cmd.Env, "XAUTHORITY="+s.xauthPath)
	}
	s.cmd = cmd
	return s, nil
}

func (s *Service) start() error {
	if err := s.cmd.Start(); err != nil {
		s.stopFrameBuffer()
		return err
	}

	s.exited = make(chan error, 1)
	go func() { s.exited <- s.cmd.Wait() }()

	deadline := time.Now().Add(s.startTimeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-s.exited:
			s.stopFrameBuffer()
			return fmt.Errorf("%s exited before serving on port %d: %v", s.cmd.Path, s.port, err)
		default:
		}
		resp, err := http.Get(s.addr + "/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				glog.V(1).Infof("driver %s serving at %s", s.cmd.Path, s.addr)
				return nil
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	s.cmd.Process.Kill()
	<-s.exited
	s.stopFrameBuffer()
	return fmt.Errorf("server did not respond on port %d within %v", s.port, s.startTimeout)
}

// shutdownGrace is how long Stop waits for a driver to exit after asking it
// to shut down before killing it.
const shutdownGrace = 5 * time.Second

// Stop shuts down the driver, and the X virtual frame buffer if one was
// started.
func (s *Service) Stop() error {
	if s.shutdownURLPath != "" {
		if resp, err := http.Get(s.addr + s.shutdownURLPath); err == nil {
			resp.Body.Close()
		} else {
			glog.Warningf("requesting driver shutdown: %v", err)
		}
	} else if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	var err error
	select {
	case err = <-s.exited:
	case <-time.After(shutdownGrace):
		s.cmd.Process.Kill()
		err = <-s.exited
	}
	if err != nil && !isKilled(err) {
		s.stopFrameBuffer()
		return err
	}
	if s.xvfb != nil {
		return s.xvfb.Stop()
	}
	return nil
}

func (s *Service) stopFrameBuffer() {
	if s.xvfb == nil {
		return
	}
	if err := s.xvfb.Stop(); err != nil {
		glog.Warningf("stopping frame buffer: %v", err)
	}
	s.xvfb = nil
}

func isKilled(err error) bool {
	return err != nil && err.Error() == "signal: killed"
}

// FrameBuffer controls an X virtual frame buffer running as a background
// process.
type FrameBuffer struct {
	// Display is the X11 display number that the Xvfb process is hosting
	// (without the preceding colon).
	Display string
	// AuthPath is the X11 authorization file clients pass in XAUTHORITY.
	AuthPath string

	cmd *exec.Cmd
}

// NewFrameBuffer starts an X virtual frame buffer with the default screen.
func NewFrameBuffer() (*FrameBuffer, error) {
	return NewFrameBufferWithOptions(FrameBufferOptions{})
}

var screenSizeExpression = regexp.MustCompile(`^\d+x\d+(?:x\d+)?$`)

// NewFrameBufferWithOptions starts an X virtual frame buffer running in the
// background and authorizes local clients to use it.
func NewFrameBufferWithOptions(options FrameBufferOptions) (*FrameBuffer, error) {
	// Xvfb will print the display on which it is listening to file descriptor 3,
	// for which we provide a pipe.
	arguments := []string{"-displayfd", "3", "-nolisten", "tcp"}
	if options.ScreenSize != "" {
		if !screenSizeExpression.MatchString(options.ScreenSize) {
			return nil, fmt.Errorf("invalid screen size: expected 'WxH[xD]', got %q", options.ScreenSize)
		}
		arguments = append(arguments, "-screen", "0", options.ScreenSize)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	auth, err := os.CreateTemp("", "crmflow-xvfb")
	if err != nil {
		w.Close()
		return nil, err
	}
	authPath := auth.Name()
	if err := auth.Close(); err != nil {
		w.Close()
		return nil, err
	}

	xvfb := newExecCommand("Xvfb", arguments...)
	xvfb.ExtraFiles = []*os.File{w}
	xvfb.Env = append(xvfb.Env, "XAUTHORITY="+authPath)
	if err := xvfb.Start(); err != nil {
		w.Close()
		os.Remove(authPath)
		return nil, err
	}
	w.Close()

	type resp struct {
		display string
		err     error
	}
	ch := make(chan resp, 1)
	go func() {
		bufr := bufio.NewReader(r)
		s, err := bufr.ReadString('\n')
		ch <- resp{s, err}
	}()

	fb := &FrameBuffer{AuthPath: authPath, cmd: xvfb}
	select {
	case resp := <-ch:
		if resp.err != nil {
			fb.Stop()
			return nil, resp.err
		}
		fb.Display = strings.TrimSpace(resp.display)
		if _, err := strconv.Atoi(fb.Display); err != nil {
			fb.Stop()
			return nil, errors.New("Xvfb did not print the display number")
		}
	case <-time.After(3 * time.Second):
		fb.Stop()
		return nil, errors.New("timeout waiting for Xvfb")
	}

	xauth := newExecCommand("xauth", "generate", ":"+fb.Display, ".", "trusted")
	xauth.Env = append(xauth.Env, "XAUTHORITY="+authPath)
	if out, err := xauth.CombinedOutput(); err != nil {
		fb.Stop()
		return nil, fmt.Errorf("xauth: %v: %s", err, out)
	}
	glog.V(1).Infof("Xvfb serving display :%s", fb.Display)
	return fb, nil
}

// Stop kills the background frame buffer process and removes the X
// authorization file.
func (f *FrameBuffer) Stop() error {
	defer os.Remove(f.AuthPath)
	if err := f.cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			f.cmd.Wait()
			return nil
		}
		return err
	}
	if err := f.cmd.Wait(); err != nil && !isKilled(err) {
		return err
	}
	return nil
}
