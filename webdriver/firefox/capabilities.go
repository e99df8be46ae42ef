// Package firefox provides the moz:firefoxOptions capabilities understood by
// GeckoDriver.
package firefox

// CapabilitiesKey is the name of the Firefox-specific key in the capabilities
// map.
const CapabilitiesKey = "moz:firefoxOptions"

// Capabilities are the Firefox-specific options of a new session.
type Capabilities struct {
	// Binary selects a Firefox binary other than the one GeckoDriver finds.
	Binary string `json:"binary,omitempty"`
	// Args are passed to Firefox as is, e.g. "-headless".
	Args []string `json:"args,omitempty"`
	Log  *Log     `json:"log,omitempty"`
	// Prefs maps preference names to string, boolean or integer values.
	Prefs map[string]interface{} `json:"prefs,omitempty"`
}

// LogLevel is the verbosity of Gecko's own log.
type LogLevel string

// Gecko log levels.
const (
	Trace LogLevel = "trace"
	Debug LogLevel = "debug"
	Info  LogLevel = "info"
	Warn  LogLevel = "warn"
	Error LogLevel = "error"
)

// Log configures Gecko logging.
type Log struct {
	Level LogLevel `json:"level"`
}

// AllowLocalhostProxy makes Firefox send loopback traffic through the
// configured proxy, which it bypasses by default.
func (c *Capabilities) AllowLocalhostProxy() {
	if c.Prefs == nil {
		c.Prefs = make(map[string]interface{})
	}
	c.Prefs["network.proxy.allow_hijacking_localhost"] = true
}
