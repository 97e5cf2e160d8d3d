package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c360/batchsync/errors"
)

// mode selects which half of the pipeline a command runs
type mode int

const (
	modeConfigured  mode = iota // whatever cache.only / cache.from_cache say
	modeReconstruct             // rebuild the cache, never publish
	modePublish                 // publish an existing cache
)

// newRootCmd builds the command tree. Output goes to stdout (dry-run
// payloads, version) and stderr (logs).
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Rebuild bot batch completions from ad storage and publish them to NATS",
		Long: `batchsync walks the legacy ad storage tree
(<location>/<hostHostname>#<hostname>/<runId>/), rebuilds one batch_synced
event per completed run, writes them to a line-delimited cache and publishes
them to NATS.

Runs that cannot be reconstructed are logged and skipped. Publishing stops
at the first failure and reports the index to resume from with --start.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, modeConfigured)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate(fmt.Sprintf("%s version {{.Version}} (build %s)\n", appName, BuildTime))
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.WrapInvalid(err, "cli", "parseFlags", "parse flags")
	})

	a.bindFlags(root)

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Reconstruct, cache and publish (the default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.execute(cmd, modeConfigured)
			},
		},
		&cobra.Command{
			Use:   "reconstruct",
			Short: "Rebuild the cache from the source tree without publishing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.execute(cmd, modeReconstruct)
			},
		},
		&cobra.Command{
			Use:   "publish",
			Short: "Publish events from an existing cache",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.execute(cmd, modePublish)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return root
}
