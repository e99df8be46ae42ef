package crmflow

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/blang/semver"
	"gopkg.in/yaml.v3"
)

// Browsers a session can drive.
const (
	Chrome  = "chrome"
	Firefox = "firefox"
)

// Environment variables read by ApplyEnv.
const (
	EnvBaseURL    = "CRM_BASE_URL"
	EnvUsername   = "CRM_USERNAME"
	EnvPassword   = "CRM_PASSWORD"
	EnvDriverPath = "CRM_DRIVER_PATH"
	EnvRemoteURL  = "CRM_REMOTE_URL"
	EnvBrowser    = "CRM_BROWSER"
	EnvHeadless   = "CRM_HEADLESS"
)

// Credentials sign in to the CRM.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// String redacts the password.
func (c Credentials) String() string {
	if c.Password == "" {
		return c.Username
	}
	return c.Username + ":********"
}

// DriverConfig selects the WebDriver remote end.
type DriverConfig struct {
	// Path is the chromedriver or geckodriver binary started for the run.
	Path string `yaml:"path"`
	// Port of the started driver; 0 picks a free one.
	Port int `yaml:"port"`
	// RemoteURL is an already running remote end. When set, no driver is
	// started and Path is ignored.
	RemoteURL string `yaml:"remote_url"`
	// FrameBuffer runs the driver inside an Xvfb display.
	FrameBuffer  bool          `yaml:"frame_buffer"`
	ScreenSize   string        `yaml:"screen_size"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	// Verbose copies the driver output to stderr.
	Verbose bool `yaml:"verbose"`
}

// BrowserConfig describes the browser the session launches.
type BrowserConfig struct {
	Name     string   `yaml:"name"`
	Binary   string   `yaml:"binary"`
	Headless bool     `yaml:"headless"`
	Args     []string `yaml:"args"`
	// Extensions are paths of packed (.crx) or unpacked Chrome extensions.
	Extensions []string `yaml:"extensions"`
	// Proxy is a SOCKS5 proxy address, host:port.
	Proxy string `yaml:"proxy"`
	// MinVersion rejects older browsers during SetUp.
	MinVersion string `yaml:"min_version"`
}

// Timeouts bound the waits of a run.
type Timeouts struct {
	Implicit time.Duration `yaml:"implicit"`
	PageLoad time.Duration `yaml:"page_load"`
	// Wait bounds the explicit waits before acting on late elements.
	Wait         time.Duration `yaml:"wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Scenario holds the texts the steps enter and expect.
type Scenario struct {
	AccountName string `yaml:"account_name"`
	ReportTitle string `yaml:"report_title"`
	RecordType  string `yaml:"record_type"`
	// Products are clicked in order, and product i is expected in the
	// i-th product dropdown.
	Products    []string `yaml:"products"`
	Quantity    string   `yaml:"quantity"`
	SavedStatus string   `yaml:"saved_status"`
}

// Diagnostics controls what is collected when a step fails.
type Diagnostics struct {
	Screenshots bool `yaml:"screenshots"`
	// NetworkLog records Chrome's performance log and attaches failed
	// network requests to the failed step.
	NetworkLog   bool   `yaml:"network_log"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// Config is everything a run needs. Use Default as the starting point.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Credentials Credentials   `yaml:"credentials"`
	Driver      DriverConfig  `yaml:"driver"`
	Browser     BrowserConfig `yaml:"browser"`
	Timeouts    Timeouts      `yaml:"timeouts"`
	Scenario    Scenario      `yaml:"scenario"`
	Locators    Locators      `yaml:"locators"`
	Diagnostics Diagnostics   `yaml:"diagnostics"`
}

// Default returns the reference timeouts, scenario and locators. BaseURL,
// Credentials and the driver are left for the caller.
func Default() Config {
	return Config{
		Driver: DriverConfig{
			ScreenSize:   "1920x1080x24",
			StartTimeout: 30 * time.Second,
		},
		Browser: BrowserConfig{Name: Chrome},
		Timeouts: Timeouts{
			Implicit:     30 * time.Second,
			PageLoad:     30 * time.Second,
			Wait:         15 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Scenario: Scenario{
			AccountName: "Bob Adams",
			ReportTitle: "Call Report",
			RecordType:  "Mass Add Promo Call",
			Products:    []string{"Cholecap", "Labrinone"},
			Quantity:    "2",
			SavedStatus: "Saved",
		},
		Locators: DefaultLocators(),
		Diagnostics: Diagnostics{
			Screenshots:  true,
			ArtifactsDir: "artifacts",
		},
	}
}

// Load reads a YAML config file over Default. Keys missing from the file
// keep their default, unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, &Error{Kind: KindConfig, Message: "reading config", Cause: err}
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, &Error{Kind: KindConfig, Message: "parsing " + path, Cause: err}
	}
	return cfg, nil
}

// ApplyEnv overrides the config with the CRM_* environment variables that
// are set.
func (c *Config) ApplyEnv() error {
	for name, dst := range map[string]*string{
		EnvBaseURL:    &c.BaseURL,
		EnvUsername:   &c.Credentials.Username,
		EnvPassword:   &c.Credentials.Password,
		EnvDriverPath: &c.Driver.Path,
		EnvRemoteURL:  &c.Driver.RemoteURL,
		EnvBrowser:    &c.Browser.Name,
	} {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(EnvHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Kind: KindConfig, Message: EnvHeadless, Cause: err}
		}
		c.Browser.Headless = b
	}
	return nil
}

var screenSize = regexp.MustCompile(`^\d+x\d+(?:x\d+)?$`)

// Validate reports the first missing or malformed setting as an ErrConfig.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return configErrorf("base URL is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return configErrorf("base URL %q is not an absolute URL", c.BaseURL)
	}
	if c.Credentials.Username == "" {
		return configErrorf("username is required")
	}
	if c.Driver.Path == "" && c.Driver.RemoteURL == "" {
		return configErrorf("either a driver path or a remote URL is required")
	}
	if c.Driver.RemoteURL != "" {
		if u, err := url.Parse(c.Driver.RemoteURL); err != nil || u.Scheme == "" {
			return configErrorf("remote URL %q is not an absolute URL", c.Driver.RemoteURL)
		}
	}
	if c.Driver.FrameBuffer && c.Driver.ScreenSize != "" && !screenSize.MatchString(c.Driver.ScreenSize) {
		return configErrorf("screen size %q must be WIDTHxHEIGHT or WIDTHxHEIGHTxDEPTH", c.Driver.ScreenSize)
	}
	switch c.Browser.Name {
	case Chrome, Firefox:
	default:
		return configErrorf("unsupported browser %q", c.Browser.Name)
	}
	if c.Browser.MinVersion != "" {
		if _, err := semver.ParseTolerant(c.Browser.MinVersion); err != nil {
			return configErrorf("min version %q: %v", c.Browser.MinVersion, err)
		}
	}
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"implicit wait", c.Timeouts.Implicit},
		{"page load", c.Timeouts.PageLoad},
		{"wait", c.Timeouts.Wait},
		{"poll interval", c.Timeouts.PollInterval},
	} {
		if t.d <= 0 {
			return configErrorf("%s timeout must be positive, got %v", t.name, t.d)
		}
	}
	if n, want := len(c.Locators.ProductSelect), len(c.Scenario.Products); n != want {
		return configErrorf("%d product dropdown locators for %d products", n, want)
	}
	if c.Locators.AccountFrame == "" {
		return configErrorf("account frame name is required")
	}
	if c.Diagnostics.Screenshots && c.Diagnostics.ArtifactsDir == "" {
		return configErrorf("screenshots need an artifacts directory")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s as %s (%s)", c.BaseURL, c.Credentials, c.Browser.Name)
}
