package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/pipeline"
)

func (a *app) cleanEmailCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "clean-email",
		Short: "Rewrite EMAIL slot values to the bare address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in = orDefault(in, a.settings.Paths.Raw)
			out = orDefault(out, cleanPath(in))
			if samePath(in, out) {
				return fmt.Errorf("--in and --out both point to %q", in)
			}

			records, err := a.loadRecords("clean-email", in)
			if err != nil {
				return err
			}
			cleaned, changes := pipeline.CleanEmails(records)
			if _, err := writeRecords(out, cleaned); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, c := range changes {
				fmt.Fprintf(w, "%s: %q -> %q\n", c.RecordID, c.Before, c.After)
			}
			fmt.Fprintf(w, "cleaned=%d out=%s\n", len(changes), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "JSONL input (default paths.raw)")
	cmd.Flags().StringVar(&out, "out", "", "JSONL output (default <in>_clean.jsonl)")
	return cmd
}

func (a *app) mergeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "merge --out FILE SHARD...",
		Short: "Concatenate JSONL shards, dropping blank lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			for _, path := range args {
				if samePath(path, out) {
					return fmt.Errorf("--out %q is also an input", out)
				}
			}

			f, err := dataset.CreateFile(out)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := dataset.Merge(f, args)
			if err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %q: %w", out, err)
			}
			for _, path := range res.Missing {
				a.log.Warn("shard not found, skipped", "path", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged_lines=%d shards=%d missing=%d out=%s\n",
				res.Lines, len(args)-len(res.Missing), len(res.Missing), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "merged JSONL output")
	return cmd
}

func (a *app) tagGroupCmd() *cobra.Command {
	var in, out, group string
	cmd := &cobra.Command{
		Use:   "tag-group",
		Short: "Stamp a group on every record of a shard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if group == "" {
				return errors.New("--group is required")
			}
			n, err := a.rewriteFile("tag-group", in, out, func(r io.Reader, w io.Writer) (int, []dataset.LineError, error) {
				return dataset.TagGroup(r, w, group)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tagged=%d group=%s out=%s\n", n, group, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "JSONL input")
	cmd.Flags().StringVar(&out, "out", "", "JSONL output")
	cmd.Flags().StringVar(&group, "group", "", "group value, e.g. L3")
	return cmd
}

func (a *app) renumberCmd() *cobra.Command {
	var in, out, prefix string
	cmd := &cobra.Command{
		Use:   "renumber",
		Short: "Rewrite conv_id as <prefix><n> in file order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.rewriteFile("renumber", in, out, func(r io.Reader, w io.Writer) (int, []dataset.LineError, error) {
				return dataset.Renumber(r, w, prefix)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renumbered=%d prefix=%s out=%s\n", n, prefix, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "JSONL input")
	cmd.Flags().StringVar(&out, "out", "", "JSONL output")
	cmd.Flags().StringVar(&prefix, "prefix", "conv_", "conv_id prefix")
	return cmd
}

// rewriteFile streams in through fn into out. in and out must differ.
func (a *app) rewriteFile(stage, in, out string, fn func(io.Reader, io.Writer) (int, []dataset.LineError, error)) (int, error) {
	if in == "" || out == "" {
		return 0, errors.New("--in and --out are required")
	}
	if samePath(in, out) {
		return 0, fmt.Errorf("--in and --out both point to %q", in)
	}

	src, err := os.Open(in)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", in, err)
	}
	defer src.Close()

	dst, err := dataset.CreateFile(out)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, skipped, err := fn(dataset.NewReader(src), dst)
	if err != nil {
		return n, fmt.Errorf("%s %q: %w", stage, in, err)
	}
	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("close %q: %w", out, err)
	}
	a.pipe.ReportSkipped(stage, in, skipped)
	return n, nil
}

func (a *app) checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Report the JSON syntax status of every line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %q: %w", path, err)
			}
			defer f.Close()

			reports, err := dataset.Check(dataset.NewReader(f))
			if err != nil {
				return fmt.Errorf("check %q: %w", path, err)
			}

			w := cmd.OutOrStdout()
			var ok, blank, invalid int
			for _, r := range reports {
				switch r.Status {
				case dataset.LineOK:
					ok++
				case dataset.LineBlank:
					blank++
					fmt.Fprintf(w, "line %d: blank\n", r.Line)
				case dataset.LineInvalid:
					invalid++
					fmt.Fprintf(w, "line %d: invalid: %v\n", r.Line, r.Err)
				}
			}
			fmt.Fprintf(w, "ok=%d blank=%d invalid=%d\n", ok, blank, invalid)
			if invalid > 0 {
				return fmt.Errorf("%s: %d invalid lines", path, invalid)
			}
			return nil
		},
	}
	return cmd
}

// cleanPath returns the sibling output path for in, e.g. raw.jsonl becomes
// raw_clean.jsonl.
func cleanPath(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_clean" + ext
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
