package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetraminz/slotner/internal/config"
	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/spans"
	"github.com/tetraminz/slotner/internal/store"
)

func (a *app) migrateCmd() *cobra.Command {
	var in, dbPath string
	var reset bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import labeled JSONL with its violations into SQLite",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in = orDefault(in, a.settings.Paths.Labeled)
			dbPath = orDefault(dbPath, a.settings.Paths.DB)

			records, err := a.loadRecords("migrate", in)
			if err != nil {
				return err
			}
			for i := range records {
				if records[i].Entities == nil {
					records[i].Entities, _ = spans.GenerateEntities(records[i].Text, records[i].Slots)
				}
			}
			violations, err := a.pipe.Validate(cmd.Context(), records)
			if err != nil {
				return err
			}

			open := store.Open
			if reset {
				open = store.OpenReset
			}
			st, err := open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.Import(cmd.Context(), "migrate", in, records, violations)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated_rows=%d violations=%d run=%s db=%s\n",
				run.RecordCount, len(violations), run.ID, dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "labeled JSONL input (default paths.labeled)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path (default paths.db)")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop existing tables before import")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	var dbPath, runID, markdownPath string
	var listRuns bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize an import run stored in SQLite",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath = orDefault(dbPath, a.settings.Paths.DB)
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			if listRuns {
				runs, err := st.Runs(cmd.Context())
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.StartedUTC, r.Command, r.RecordCount, r.SourcePath)
				}
				return nil
			}

			report, err := st.BuildReport(cmd.Context(), runID)
			if err != nil {
				return err
			}
			fmt.Fprint(w, store.FormatReport(report))

			if markdownPath == "" {
				return nil
			}
			if err := dataset.EnsureParentDir(markdownPath); err != nil {
				return err
			}
			if err := os.WriteFile(markdownPath, []byte(store.BuildMarkdown(report)), 0o644); err != nil {
				return fmt.Errorf("write report %q: %w", markdownPath, err)
			}
			fmt.Fprintf(w, "markdown=%s\n", markdownPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path (default paths.db)")
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	cmd.Flags().StringVar(&markdownPath, "markdown", "", "also write a markdown report to this path")
	cmd.Flags().BoolVar(&listRuns, "list", false, "list stored runs instead of reporting")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", config.DefaultFile, "config file to write")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
