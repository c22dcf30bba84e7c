package main

import (
	"github.com/openmined/cardsync/internal/watch"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var (
		interval = watch.DefaultInterval
		listen   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Publish on every snapshot change and on a fixed interval",
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

			runner := watch.NewRunner(p.Publish, watch.Options{
				SnapshotPath: cfg.SnapshotPath,
				Interval:     interval,
				Listen:       listen,
			})
			return runner.Run(cmd.Context())
		},
	}
	addPublishFlags(cmd)
	cmd.Flags().DurationVarP(&interval, "interval", "i", interval, "time between passes when the snapshot is unchanged (0 disables)")
	cmd.Flags().StringVarP(&listen, "listen", "l", "localhost:7939", "address of the status server (empty disables)")
	return cmd
}
