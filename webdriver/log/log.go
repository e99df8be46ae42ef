// Package log holds the browser log types and levels that can be requested
// through WebDriver capabilities and read back with WebDriver.Log.
package log

import "time"

// Type names a log buffer kept by the browser or the driver.
type Type string

// Log buffers understood by ChromeDriver. Firefox only exposes Browser.
const (
	Browser     Type = "browser"
	Driver      Type = "driver"
	Performance Type = "performance"
)

// Level is the minimum severity a log buffer records.
type Level string

// Levels accepted in the logging preferences.
const (
	Off     Level = "OFF"
	Severe  Level = "SEVERE"
	Warning Level = "WARNING"
	Info    Level = "INFO"
	Debug   Level = "DEBUG"
	All     Level = "ALL"
)

// CapabilitiesKey is where logging preferences go in the capabilities map.
// ChromeDriver 75 and later only read the vendor-prefixed key.
const CapabilitiesKey = "goog:loggingPrefs"

// Capabilities maps each log buffer to the level it should record.
type Capabilities map[Type]Level

// Message is one entry returned by WebDriver.Log. For the performance log,
// Message holds a JSON encoded DevTools event.
type Message struct {
	Timestamp time.Time
	Level     Level
	Message   string
}
