// Command crmflow runs the CRM call-report workflow against a browser and
// fetches the WebDriver binaries it needs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/wanmail/crmflow"
)

func main() {
	// Log to stderr unless -log_dir or -logtostderr=false says otherwise.
	flag.Set("logtostderr", "true")

	err := newRootCmd().Execute()
	glog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, "crmflow:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, crmflow.ErrConfig) {
		return 2
	}
	return 1
}
