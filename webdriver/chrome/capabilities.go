// Package chrome provides the goog:chromeOptions capabilities understood by
// ChromeDriver.
package chrome

import (
	"fmt"
	"os"
	"path/filepath"

	crx3 "github.com/mediabuyerbot/go-crx3"
)

// CapabilitiesKey is the key in the top-level capabilities map under which
// ChromeDriver expects the Chrome-specific options.
const CapabilitiesKey = "goog:chromeOptions"

// Capabilities are the Chrome-specific options of a new session. See
// https://chromedriver.chromium.org/capabilities
type Capabilities struct {
	// Path is the Chrome binary to launch instead of the default one.
	Path string `json:"binary,omitempty"`
	// Args are extra command-line switches, e.g. "--headless=new".
	Args []string `json:"args,omitempty"`
	// ExcludeSwitches removes ChromeDriver default switches (without the
	// leading "--").
	ExcludeSwitches []string `json:"excludeSwitches,omitempty"`
	// Extensions are base64 encoded packed extensions (.crx). Use
	// AddExtension or AddUnpackedExtension to fill it.
	Extensions []string `json:"extensions,omitempty"`
	// Prefs are applied to the user profile.
	Prefs map[string]interface{} `json:"prefs,omitempty"`
	// Detach keeps the browser alive after ChromeDriver exits.
	Detach *bool `json:"detach,omitempty"`
	// PerfLoggingPrefs controls what ends up in the performance log.
	PerfLoggingPrefs *PerfLoggingPreferences `json:"perfLoggingPrefs,omitempty"`
	// W3C forces the protocol dialect. Left unset, ChromeDriver speaks W3C.
	W3C *bool `json:"w3c,omitempty"`
}

// PerfLoggingPreferences selects the DevTools domains recorded in the
// performance log.
type PerfLoggingPreferences struct {
	EnableNetwork *bool `json:"enableNetwork,omitempty"`
	EnablePage    *bool `json:"enablePage,omitempty"`
	// TraceCategories is a comma-separated list of tracing categories. Empty
	// disables tracing.
	TraceCategories string `json:"traceCategories,omitempty"`
	// BufferUsageReportingIntervalMillis must be positive when set.
	BufferUsageReportingIntervalMillis uint `json:"bufferUsageReportingInterval,omitempty"`
}

// AddExtension appends the packed extension (.crx) at path.
func (c *Capabilities) AddExtension(path string) error {
	data, err := crx3.Extension(path).Base64()
	if err != nil {
		return fmt.Errorf("encoding extension %q: %w", path, err)
	}
	c.Extensions = append(c.Extensions, string(data))
	return nil
}

// AddUnpackedExtension packs the extension directory (or .zip) at path with
// a throwaway key and appends the result.
func (c *Capabilities) AddUnpackedExtension(path string) error {
	dir, err := os.MkdirTemp("", "crmflow-crx")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(path)
	name = name[:len(name)-len(filepath.Ext(name))] + ".crx"
	dst := filepath.Join(dir, name)
	if err := crx3.Extension(path).PackTo(dst, nil); err != nil {
		return fmt.Errorf("packing extension %q: %w", path, err)
	}
	return c.AddExtension(dst)
}
