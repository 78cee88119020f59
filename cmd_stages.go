package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tetraminz/slotner/internal/align"
	"github.com/tetraminz/slotner/internal/compute"
	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/pipeline"
	"github.com/tetraminz/slotner/internal/store"
)

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (a *app) prepareCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Locate slot values in the text and write records with entities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in = orDefault(in, a.settings.Paths.Raw)
			out = orDefault(out, a.settings.Paths.Labeled)

			records, err := a.loadRecords("prepare", in)
			if err != nil {
				return err
			}
			labeled, err := a.pipe.Prepare(cmd.Context(), records)
			if err != nil {
				return err
			}
			n, err := writeRecords(out, labeled)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "prepared=%d out=%s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "raw JSONL input (default paths.raw)")
	cmd.Flags().StringVar(&out, "out", "", "labeled JSONL output (default paths.labeled)")
	return cmd
}

func (a *app) alignCmd() *cobra.Command {
	var in, outDir, tokenizerFile, offsetUnit, labelsPath string
	var maxLength, statsRecords int
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Tokenize labeled records and write BIO labels split by group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in = orDefault(in, a.settings.Paths.Labeled)
			outDir = orDefault(outDir, a.settings.Paths.Aligned)
			if tokenizerFile != "" {
				a.settings.Tokenizer.File = tokenizerFile
			}
			if offsetUnit != "" {
				a.settings.Tokenizer.OffsetUnit = offsetUnit
			}
			if maxLength > 0 {
				a.settings.Tokenizer.MaxLength = maxLength
			}

			tk, err := a.tokenizer()
			if err != nil {
				return err
			}
			var labels *align.LabelSet
			if labelsPath != "" {
				if labels, err = readLabelSet(labelsPath); err != nil {
					return err
				}
			}
			records, err := a.loadRecords("align", in)
			if err != nil {
				return err
			}
			res, err := a.pipe.Align(cmd.Context(), records, pipeline.AlignOptions{
				Tokenizer: tk,
				MaxLength: a.settings.Tokenizer.MaxLength,
				Splitter: pipeline.Splitter{
					TrainGroups: a.settings.Split.TrainGroups,
					EvalGroups:  a.settings.Split.EvalGroups,
				},
				LabelSet: labels,
			})
			if err != nil {
				return err
			}
			if err := writeAligned(outDir, res); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			dist := compute.LabelDistribution(pipeline.LabelSequences(res.Records), statsRecords, 10)
			fmt.Fprintf(w, "label_distribution_top (first %d records, ignored tokens excluded):\n", statsRecords)
			for _, row := range dist {
				fmt.Fprintf(w, "  %s=%d\n", row.Label, row.Count)
			}
			fmt.Fprintf(w, "labels=%d dropped_entities=%d\n", res.LabelSet.Len(), res.Dropped)
			for _, split := range []string{pipeline.SplitTrain, pipeline.SplitEval, pipeline.SplitUnassigned} {
				fmt.Fprintf(w, "%s_size=%d\n", split, res.SplitSizes[split])
			}
			fmt.Fprintf(w, "out=%s\n", outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "labeled JSONL input (default paths.labeled)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "output directory (default paths.aligned)")
	cmd.Flags().StringVar(&tokenizerFile, "tokenizer", "", "tokenizer.json path (default tokenizer.file)")
	cmd.Flags().StringVar(&offsetUnit, "offset-unit", "", "offset unit of the tokenizer: byte or rune")
	cmd.Flags().StringVar(&labelsPath, "labels", "", "reuse the vocabulary of an existing labels.json")
	cmd.Flags().IntVar(&maxLength, "max-length", 0, "max tokens per record (default tokenizer.max_length)")
	cmd.Flags().IntVar(&statsRecords, "stats-records", 10, "records sampled for the label distribution")
	return cmd
}

// alignStats is the stats.json document written next to the splits.
type alignStats struct {
	Tokens          compute.Metrics `json:"tokens"`
	DroppedEntities int             `json:"dropped_entities"`
	SplitSizes      map[string]int  `json:"split_sizes"`
}

// writeAligned writes one JSONL file per split, empty splits included so
// no file from an earlier run survives, plus labels.json and stats.json.
func writeAligned(dir string, res pipeline.AlignResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %q: %w", dir, err)
	}

	bySplit := make(map[string][]pipeline.AlignedRecord)
	for _, rec := range res.Records {
		bySplit[rec.Split] = append(bySplit[rec.Split], rec)
	}
	for _, split := range []string{pipeline.SplitTrain, pipeline.SplitEval, pipeline.SplitUnassigned} {
		path := filepath.Join(dir, split+".jsonl")
		f, err := dataset.CreateFile(path)
		if err != nil {
			return err
		}
		w := dataset.NewWriter(f)
		for _, rec := range bySplit[split] {
			if err := w.Write(rec); err != nil {
				f.Close()
				return fmt.Errorf("write %q: %w", path, err)
			}
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %q: %w", path, err)
		}
	}

	if err := writeJSON(filepath.Join(dir, "labels.json"), pipeline.NewVocabulary(res.LabelSet)); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "stats.json"), alignStats{
		Tokens:          res.Metrics,
		DroppedEntities: res.Dropped,
		SplitSizes:      res.SplitSizes,
	})
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %q: %w", path, err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}

// readLabelSet loads a labels.json written by an earlier align run.
func readLabelSet(path string) (*align.LabelSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels %q: %w", path, err)
	}
	var vocab pipeline.Vocabulary
	if err := json.Unmarshal(raw, &vocab); err != nil {
		return nil, fmt.Errorf("decode labels %q: %w", path, err)
	}
	ls, err := vocab.LabelSet()
	if err != nil {
		return nil, fmt.Errorf("labels %q: %w", path, err)
	}
	return ls, nil
}

func (a *app) validateCmd() *cobra.Command {
	var in, dbPath string
	var persist bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check records against the annotation schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in = orDefault(in, a.settings.Paths.Raw)

			records, err := a.loadRecords("validate", in)
			if err != nil {
				return err
			}
			violations, err := a.pipe.Validate(cmd.Context(), records)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(violations) == 0 {
				fmt.Fprintf(w, "all %d records valid\n", len(records))
			} else {
				fmt.Fprintln(w, "violations:")
				for _, v := range violations {
					fmt.Fprintln(w, v.String())
				}
			}

			if !persist {
				return nil
			}
			st, err := store.Open(orDefault(dbPath, a.settings.Paths.DB))
			if err != nil {
				return err
			}
			defer st.Close()
			run, err := st.Import(cmd.Context(), "validate", in, records, violations)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "stored run=%s\n", run.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "JSONL input (default paths.raw)")
	cmd.Flags().BoolVar(&persist, "store", false, "persist records and violations to SQLite")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path (default paths.db)")
	return cmd
}
