package main

import (
	"fmt"
	"io"

	"github.com/openmined/cardsync/internal/reconcile"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPublishCmd())
}

func addPublishFlags(cmd *cobra.Command) {
	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("snapshot", "s", "", "source snapshot file (yaml)")
	cmd.Flags().StringP("repo", "r", "", "target repository as owner/name")
	cmd.Flags().StringP("branch", "b", "", "target branch")
	cmd.Flags().String("root", "", "directory in the repository that holds the collections")
	cmd.Flags().StringP("metadata", "m", "", "metadata store (.json for a file, anything else for sqlite)")
	cmd.Flags().Bool("dry-run", false, "read the remote but do not change it or the metadata")
	cmd.Flags().Bool("publish-unverified", false, "publish cards that are not verified")
}

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Mirror a snapshot into the repository once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireSnapshot(); err != nil {
				return err
			}
			showBanner(cmd)

			p, err := newPublisher(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			report, err := p.Publish(cmd.Context())
			if report != nil {
				printSummary(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	addPublishFlags(cmd)
	return cmd
}

func printSummary(w io.Writer, report *reconcile.Report) {
	mode := "published"
	if report.DryRun {
		mode = "planned (dry run)"
	}
	fmt.Fprintf(w, "%s %s in %s\n", green("✔"), mode, report.Duration.Round(1e6))
	for _, action := range []reconcile.Action{
		reconcile.ActionCreated,
		reconcile.ActionUpdated,
		reconcile.ActionRenamed,
		reconcile.ActionAdopted,
		reconcile.ActionDeleted,
		reconcile.ActionSkipped,
	} {
		if n := report.Count(action); n > 0 {
			fmt.Fprintf(w, "  %-8s %s\n", action, cyan(n))
		}
	}
	for _, failure := range report.Failures {
		fmt.Fprintf(w, "%s %s\n", red("✘"), failure)
	}
}
