package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wanmail/crmflow"
	"github.com/wanmail/crmflow/webdriver"
)

// Output formats of the run command.
const (
	formatPretty = "pretty"
	formatJSON   = "json"
)

var errRunFailed = errors.New("workflow failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow and print a report",
		Long: `Run logs in, records a call on the configured account, builds and saves a
call report and logs out. Settings come from the config file, then the CRM_*
environment variables, then flags. The password is only read from the config
file or CRM_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: runWorkflow,
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "YAML config file")
	flags.String("base-url", "", "CRM login URL")
	flags.String("username", "", "CRM user name")
	flags.String("driver", "", "chromedriver or geckodriver binary to start")
	flags.String("remote-url", "", "already running WebDriver remote end; no driver is started")
	flags.String("browser", "", "browser to drive (chrome|firefox)")
	flags.Bool("headless", false, "run the browser without a window")
	flags.Bool("frame-buffer", false, "start the driver inside an Xvfb display")
	flags.String("proxy", "", "SOCKS5 proxy host:port for the browser")
	flags.String("min-version", "", "oldest browser version accepted")
	flags.Duration("wait", 0, "how long to wait for late elements")
	flags.String("artifacts", "", "directory for failure screenshots")
	flags.Bool("network-log", false, "attach failed network requests to failed steps (chrome)")
	flags.String("format", formatPretty, "output format (pretty|json)")
	flags.Bool("debug", false, "dump WebDriver requests and replies to the log")
	return cmd
}

func loadConfig(cmd *cobra.Command) (crmflow.Config, error) {
	flags := cmd.Flags()
	cfg := crmflow.Default()

	path, err := flags.GetString("config")
	if err != nil {
		return cfg, fmt.Errorf("parse --config: %w", err)
	}
	if path != "" {
		if cfg, err = crmflow.Load(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	for name, dst := range map[string]*string{
		"base-url":    &cfg.BaseURL,
		"username":    &cfg.Credentials.Username,
		"driver":      &cfg.Driver.Path,
		"remote-url":  &cfg.Driver.RemoteURL,
		"browser":     &cfg.Browser.Name,
		"proxy":       &cfg.Browser.Proxy,
		"min-version": &cfg.Browser.MinVersion,
		"artifacts":   &cfg.Diagnostics.ArtifactsDir,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return cfg, fmt.Errorf("parse --%s: %w", name, err)
		}
		*dst = v
	}

	for name, dst := range map[string]*bool{
		"headless":     &cfg.Browser.Headless,
		"frame-buffer": &cfg.Driver.FrameBuffer,
		"network-log":  &cfg.Diagnostics.NetworkLog,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return cfg, fmt.Errorf("parse --%s: %w", name, err)
		}
		*dst = v
	}

	if flags.Changed("wait") {
		v, err := flags.GetDuration("wait")
		if err != nil {
			return cfg, fmt.Errorf("parse --wait: %w", err)
		}
		cfg.Timeouts.Wait = v
	}
	return cfg, nil
}

func runWorkflow(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("parse --format: %w", err)
	}
	format = strings.ToLower(format)
	if format != formatPretty && format != formatJSON {
		return &crmflow.Error{Kind: crmflow.KindConfig, Message: fmt.Sprintf("unknown format %q", format)}
	}

	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return fmt.Errorf("parse --debug: %w", err)
	}
	webdriver.SetDebug(debug)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := crmflow.Run(ctx, cfg)
	if report == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		err = renderJSON(out, report)
	default:
		err = renderPretty(out, report)
	}
	if err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if !report.Success() {
		return errRunFailed
	}
	return nil
}
