package main

import (
	"fmt"
	"runtime"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/wanmail/crmflow/internal/download"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "fetch chromedriver|geckodriver...",
		Short:     "Download WebDriver binaries",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"chromedriver", "geckodriver"},
		RunE:      fetchDrivers,
	}
	flags := cmd.Flags()
	flags.String("dir", ".", "directory to download into")
	flags.String("chrome-version", "", "Chrome version to match, e.g. 120.0.6099.109 (default latest stable)")
	flags.String("platform", defaultPlatform(), "platform of the binaries (linux64|mac-x64|mac-arm64|win32|win64)")
	return cmd
}

func defaultPlatform() string {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "darwin/arm64":
		return download.MacArm64
	case "darwin/amd64":
		return download.MacX64
	case "windows/386":
		return download.Win32
	case "windows/amd64":
		return download.Win64
	}
	return download.Linux64
}

func fetchDrivers(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	dir, err := flags.GetString("dir")
	if err != nil {
		return fmt.Errorf("parse --dir: %w", err)
	}
	version, err := flags.GetString("chrome-version")
	if err != nil {
		return fmt.Errorf("parse --chrome-version: %w", err)
	}
	platform, err := flags.GetString("platform")
	if err != nil {
		return fmt.Errorf("parse --platform: %w", err)
	}

	ctx := cmd.Context()
	var files []download.File
	for _, name := range args {
		var f download.File
		switch name {
		case "chromedriver":
			f, err = download.ChromeDriverFile(ctx, version, platform)
		case "geckodriver":
			f, err = download.LatestGeckoDriverFile(ctx, platform, nil)
		default:
			return fmt.Errorf("unknown driver %q, want chromedriver or geckodriver", name)
		}
		if err != nil {
			return fmt.Errorf("resolving %s: %w", name, err)
		}
		glog.V(1).Infof("%s: %s", name, f.URL)
		files = append(files, f)
	}

	if err := download.DownloadAll(ctx, dir, files...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d file(s) into %s\n", len(files), dir)
	return nil
}
