package webdriver

import (
	"fmt"

	"github.com/golang/glog"
)

var debugFlag = false

// SetDebug turns request and reply dumps on or off. Dumps are also written
// at glog verbosity 2.
func SetDebug(debug bool) {
	debugFlag = debug
}

// Debug reports whether SetDebug turned dumps on.
func Debug() bool {
	return debugFlag
}

func debugLog(format string, args ...interface{}) {
	if !debugFlag && !bool(glog.V(2)) {
		return
	}
	glog.InfoDepth(1, "webdriver: "+fmt.Sprintf(format, args...))
}
