/*
Package crmflow drives a browser through a call-reporting workflow of a CRM
web application and reports each step: log in, open an account and record a
call, build and save a call report, log out.

Each step takes the *Session created by SetUp and returns a StepResult.
Run executes them in order, skips the remaining steps after a failure or a
cancelled context, and always tears the session down.

Example usage:

	cfg, err := crmflow.Load("crmflow.yaml")
	if err != nil {
		glog.Exit(err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		glog.Exit(err)
	}

	report, err := crmflow.Run(ctx, cfg)
	if err != nil {
		glog.Exit(err)
	}
	for _, step := range report.Steps {
		fmt.Printf("%-16s %s %s\n", step.Name, step.Status, step.Message)
	}

Expected texts and element locators default to the reference scenario and
can be overridden from the scenario and locators sections of the config.
*/
package crmflow
