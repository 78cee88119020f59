package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tetraminz/slotner/internal/config"
	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/logging"
	"github.com/tetraminz/slotner/internal/pipeline"
	"github.com/tetraminz/slotner/internal/tokenize"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	v          *viper.Viper
	configFile string

	settings config.Settings
	log      *slog.Logger
	metrics  *pipeline.Metrics
	pipe     *pipeline.Pipeline
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "slotner",
		Short:         "Slot-grounded NER dataset preparation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.Int("workers", 0, "worker goroutines (0 = one per CPU)")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file after the command")
	bindFlags(a.v, flags, map[string]string{
		"log.level":        "log-level",
		"log.format":       "log-format",
		"workers":          "workers",
		"metrics.textfile": "metrics-textfile",
	})

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd.ErrOrStderr())
	}
	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return a.flushMetrics()
	}

	rootCmd.AddCommand(
		a.prepareCmd(),
		a.alignCmd(),
		a.validateCmd(),
		a.cleanEmailCmd(),
		a.mergeCmd(),
		a.tagGroupCmd(),
		a.renumberCmd(),
		a.checkCmd(),
		a.migrateCmd(),
		a.reportCmd(),
		a.configCmd(),
	)
	return rootCmd
}

// bindFlags binds viper keys to flags by name. A flag overrides the config
// only when set on the command line.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func (a *app) setup(stderr io.Writer) error {
	settings, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.settings = settings

	a.log, err = logging.New(stderr, settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}
	a.metrics, err = pipeline.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	a.pipe = pipeline.New(pipeline.Options{
		Logger:  a.log,
		Metrics: a.metrics,
		Workers: settings.Workers,
	})
	return nil
}

func (a *app) flushMetrics() error {
	if a.metrics == nil || a.settings.Metrics.Textfile == "" {
		return nil
	}
	if err := dataset.EnsureParentDir(a.settings.Metrics.Textfile); err != nil {
		return err
	}
	return a.metrics.WriteTextfile(a.settings.Metrics.Textfile)
}

// loadRecords reads a JSONL file, logging and counting malformed lines.
func (a *app) loadRecords(stage, path string) ([]dataset.Record, error) {
	records, skipped, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}
	a.pipe.ReportSkipped(stage, path, skipped)
	a.log.Info("loaded records", "stage", stage, "path", path, "records", len(records), "skipped", len(skipped))
	return records, nil
}

// writeRecords writes records to path as JSONL.
func writeRecords(path string, records []dataset.Record) (int, error) {
	f, err := dataset.CreateFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := dataset.NewWriter(f)
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return w.Count(), fmt.Errorf("write %q: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return w.Count(), fmt.Errorf("close %q: %w", path, err)
	}
	return w.Count(), nil
}

// tokenizer returns the configured tokenizer, falling back to the rune
// tokenizer when no file is set.
func (a *app) tokenizer() (tokenize.Tokenizer, error) {
	unit, err := tokenize.ParseUnit(a.settings.Tokenizer.OffsetUnit)
	if err != nil {
		return nil, err
	}
	if a.settings.Tokenizer.File == "" {
		a.log.Info("no tokenizer file configured, using rune tokenizer")
		return tokenize.Rune{}, nil
	}
	tk, err := tokenize.LoadHuggingFace(a.settings.Tokenizer.File, unit)
	if err != nil {
		return nil, err
	}
	a.log.Info("loaded tokenizer", "file", a.settings.Tokenizer.File, "offset_unit", unit)
	return tk, nil
}
