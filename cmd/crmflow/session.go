package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/wanmail/crmflow"
	"github.com/wanmail/crmflow/webdriver"
)

func newEndSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "end-session SESSION_ID...",
		Short: "End browser sessions left open on a remote end",
		Long: `end-session deletes sessions that a killed run left behind on a grid or a
long running driver. Every run logs the id of the session it starts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: endSessions,
	}
	cmd.Flags().String("remote-url", "", "WebDriver remote end holding the sessions (default $"+crmflow.EnvRemoteURL+")")
	return cmd
}

func endSessions(cmd *cobra.Command, ids []string) error {
	remote, err := cmd.Flags().GetString("remote-url")
	if err != nil {
		return fmt.Errorf("parse --remote-url: %w", err)
	}
	if remote == "" {
		remote = os.Getenv(crmflow.EnvRemoteURL)
	}
	if remote == "" {
		return &crmflow.Error{Kind: crmflow.KindConfig, Message: "--remote-url or " + crmflow.EnvRemoteURL + " is required"}
	}

	var errs []error
	for _, id := range ids {
		if err := webdriver.DeleteSession(remote, id); err != nil {
			errs = append(errs, fmt.Errorf("end session %s: %w", id, err))
			continue
		}
		glog.Infof("ended session %s on %s", id, remote)
		fmt.Fprintf(cmd.OutOrStdout(), "ended %s\n", id)
	}
	return errors.Join(errs...)
}
