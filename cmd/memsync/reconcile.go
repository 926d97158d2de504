package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/config"
	"github.com/fyrsmithlabs/memsync/internal/metastore"
	"github.com/fyrsmithlabs/memsync/internal/reconcile"
	"github.com/fyrsmithlabs/memsync/internal/vectorstore"
)

// runFlags are the store and policy flags shared by reconcile and check.
// Unset flags leave the configured value alone.
type runFlags struct {
	metadata       string
	metadataFormat string
	index          string
	indexProvider  string
	collection     string
	subjectCap     int
	minConfidence  float64
	dropExact      []string
	dryRun         bool
	noBackup       bool
	backupDir      string
	output         string
	metricsFile    string
}

func (f *runFlags) register(cmd *cobra.Command, mutating bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.metadata, "metadata", "", "metadata store path (JSON array file or SQLite database)")
	flags.StringVar(&f.metadataFormat, "metadata-format", "", "metadata format: json or sqlite (default: from file extension)")
	flags.StringVar(&f.index, "index", "", "chromem-go database directory")
	flags.StringVar(&f.indexProvider, "index-provider", "", "index provider: chromem or qdrant")
	flags.StringVar(&f.collection, "collection", "", "index collection name")
	flags.IntVar(&f.subjectCap, "subject-cap", reconcile.DefaultSubjectCap, "records kept per subject (0 disables the cap)")
	flags.Float64Var(&f.minConfidence, "min-confidence", 0, "drop records with confidence below this value")
	flags.StringArrayVar(&f.dropExact, "drop-exact", nil, "drop records whose normalized text equals this value (repeatable)")
	flags.StringVarP(&f.output, "output", "o", "text", "report format: text or json")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "write the report as Prometheus metrics to this file")

	if mutating {
		flags.BoolVar(&f.dryRun, "dry-run", false, "report what would change without writing")
		flags.BoolVar(&f.noBackup, "no-backup", false, "skip backing up both stores before writing")
		flags.StringVar(&f.backupDir, "backup-dir", "", "directory for backups (default: next to each store)")
	}
}

// apply overrides cfg with every flag set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if f.metadata != "" {
		cfg.Metadata.Path = f.metadata
	}
	if f.metadataFormat != "" {
		cfg.Metadata.Format = f.metadataFormat
	}
	if f.indexProvider != "" {
		cfg.Index.Provider = f.indexProvider
	}
	if f.index != "" {
		cfg.Index.Chromem.Path = f.index
	}
	if f.collection != "" {
		cfg.Index.Chromem.Collection = f.collection
		cfg.Index.Qdrant.Collection = f.collection
	}
	if flags.Changed("subject-cap") {
		cfg.Reconcile.SubjectCap = f.subjectCap
	}
	if flags.Changed("min-confidence") {
		cfg.Reconcile.MinConfidence = f.minConfidence
	}
	if flags.Changed("drop-exact") {
		cfg.Reconcile.DropExact = append(cfg.Reconcile.DropExact, f.dropExact...)
	}
	if f.noBackup {
		cfg.Backup.Enabled = false
	}
	if f.backupDir != "" {
		cfg.Backup.Dir = f.backupDir
	}
	if f.metricsFile != "" {
		cfg.Metrics.Textfile = f.metricsFile
	}

	switch f.output {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported output format %q (supported: text, json)", f.output)
	}
	return cfg.Validate()
}

func newReconcileCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Clean the metadata store and trim the index to match",
		Long: `Reconcile loads the metadata records and the index identifiers, then:

  1. drops records with low confidence, an invalid vector id, or no vector
  2. drops records whose text matches a --drop-exact value
  3. keeps one record per normalized text
  4. keeps at most --subject-cap records per subject
  5. removes index ids with no surviving record

Both stores are backed up before anything is written.

Examples:
  # Preview a run against the default stores
  memsync reconcile --dry-run

  # Reconcile a JSON store with a chromem-go index
  memsync reconcile --metadata ./memory/longterm.json --index ./memory/vectorstore

  # Reconcile against Qdrant, keeping 5 records per subject
  memsync reconcile --index-provider qdrant --collection memories --subject-cap 5

  # Emit the report as JSON and Prometheus metrics
  memsync reconcile -o json --metrics-file /var/lib/node_exporter/memsync.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := execute(cmd, g, f, false)
			return err
		},
	}
	f.register(cmd, true)
	return cmd
}

// execute runs one reconcile with the merged configuration and writes the
// report. forceDryRun overrides --dry-run.
func execute(cmd *cobra.Command, g *globalFlags, f *runFlags, forceDryRun bool) (*reconcile.Report, error) {
	ctx := cmd.Context()

	cfg, err := g.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := f.apply(cmd, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Close()
	}()

	tel, err := initTelemetry(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	zl := logger.Underlying()

	meta, err := metastore.Open(ctx, cfg.Metadata.Format, cfg.Metadata.Path, zl)
	if err != nil {
		return nil, fmt.Errorf("%w: opening metadata store: %w", reconcile.ErrPrecondition, err)
	}
	defer meta.Close()

	idx, err := vectorstore.OpenIndex(ctx, cfg.Index, zl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", reconcile.ErrPrecondition, err)
	}
	defer idx.Close()

	backups := backup.New(backup.Options{Dir: cfg.Backup.Dir, Compress: cfg.Backup.Compress}, zl)

	opts := reconcile.OptionsFromConfig(cfg)
	opts.DryRun = f.dryRun || forceDryRun

	engine := reconcile.NewEngine(meta, idx, backups, logger.With(zap.String("command", cmd.Name())))
	report, err := engine.Run(ctx, opts)
	if err != nil {
		logger.Error(ctx, "reconcile failed", zap.Error(err))
		return nil, err
	}

	if cfg.Metrics.Textfile != "" {
		if err := reconcile.WriteMetrics(cfg.Metrics.Textfile, report); err != nil {
			return report, err
		}
		logger.Debug(ctx, "wrote metrics textfile", zap.String("path", cfg.Metrics.Textfile))
	}

	if err := writeReport(cmd.OutOrStdout(), report, f.output); err != nil {
		return report, fmt.Errorf("writing report: %w", err)
	}
	return report, nil
}

func writeReport(w io.Writer, report *reconcile.Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.Render(w)
}

// errOutOfSync is returned by check when a run would change either store.
var errOutOfSync = errors.New("stores are out of sync")
