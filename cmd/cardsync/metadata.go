package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/openmined/cardsync/internal/config"
	"github.com/openmined/cardsync/internal/metastore"
	"github.com/openmined/cardsync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newMetadataCmd())
}

func newMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Inspect or edit the metadata store",
	}
	cmd.PersistentFlags().StringP("metadata", "m", config.DefaultMetadataPath, "metadata store (.json for a file, anything else for sqlite)")
	cmd.AddCommand(newMetadataListCmd(), newMetadataForgetCmd())
	return cmd
}

// openMetadata opens the configured store without requiring repository
// settings; these commands never talk to the remote.
func openMetadata(cmd *cobra.Command) (metastore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.MetadataPath == "" {
		cfg.MetadataPath = config.DefaultMetadataPath
	}
	path, err := utils.ResolvePath(cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata path: %w", err)
	}
	cmd.SilenceUsage = true
	return metastore.Open(path)
}

func newMetadataListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked entities grouped by collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMetadata(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.All()
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func printRecords(w io.Writer, records []*metastore.Record) {
	groups := make(map[string][]*metastore.Record)
	var collections []string
	for _, rec := range records {
		if _, ok := groups[rec.CollectionID]; !ok {
			collections = append(collections, rec.CollectionID)
		}
		groups[rec.CollectionID] = append(groups[rec.CollectionID], rec)
	}
	sort.Strings(collections)

	for _, id := range collections {
		name := id
		if name == "" {
			name = "(unknown collection)"
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("KIND", "SOURCE ID", "PATH", "EXTERNAL ID")
		for _, rec := range groups[id] {
			t.Row(rec.Kind, rec.SourceID, rec.ExternalPath, rec.ExternalID)
		}
		fmt.Fprintf(w, "%s\n%s\n", cyan(name), t.Render())
	}
	fmt.Fprintf(w, "%s records\n", humanize.Comma(int64(len(records))))
}

func newMetadataForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <source-id|external-id>",
		Short: "Drop a record so the next publish adopts or recreates the entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMetadata(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(args[0])
			if err == nil && rec == nil {
				rec, err = store.FindByExternalID(args[0])
			}
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no record for %q", args[0])
			}
			if err := store.Delete(rec.SourceID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s forgot %s %s (%s)\n", green("✔"), rec.Kind, rec.SourceID, rec.ExternalPath)
			return nil
		},
	}
}
