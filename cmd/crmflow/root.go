package main

import (
	"flag"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crmflow",
		Short:         "crmflow drives a browser through the CRM call report workflow",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// glog complains when logging before its flag set was parsed.
			// cobra already parsed the values into it.
			return flag.CommandLine.Parse(nil)
		},
	}

	// glog flags: -v, -vmodule, -logtostderr, -log_dir, ...
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newEndSessionCmd())
	return cmd
}
