// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/mobilecheck/archive"
	"github.com/forensicanalysis/mobilecheck/backup"
	"github.com/forensicanalysis/mobilecheck/config"
	"github.com/forensicanalysis/mobilecheck/indicators"
	"github.com/forensicanalysis/mobilecheck/module"
	"github.com/forensicanalysis/mobilecheck/modules"
	"github.com/forensicanalysis/mobilecheck/results"
)

// ResultsDatabase is the name of the results store in the output directory.
const ResultsDatabase = "mobilecheck.db"

// CheckBackup is the check-backup commandline subcommand.
func CheckBackup() *cobra.Command {
	return scanCommand(backup.Backup, "check-backup <backup folder>", "Extract and check records from an iTunes backup")
}

// CheckFS is the check-fs commandline subcommand.
func CheckFS() *cobra.Command {
	return scanCommand(backup.FilesystemDump, "check-fs <dump folder>", "Extract and check records from a full filesystem dump")
}

func scanCommand(mode backup.Mode, use, short string) *cobra.Command {
	var configPath string
	cfg := config.Default()

	command := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg, loaded); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			level, _ := loaded.Level()
			logger := &log.Logger{Handler: cli.New(cmd.ErrOrStderr()), Level: level}
			_, err = scan(cmd.Context(), mode, args[0], loaded, logger)
			return err
		},
	}

	flags := command.Flags()
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.StringSliceVarP(&cfg.Indicators, "iocs", "i", nil, "STIX2 indicator files")
	flags.BoolVar(&cfg.ValidateSTIX, "validate-iocs", false, "skip indicators that are not valid STIX 2.1")
	flags.StringVarP(&cfg.Output, "output", "o", "", "directory for JSON and CSV results and the results database")
	flags.StringVar(&cfg.Archive, "archive", "", "sqlite archive for copies of all parsed artifacts")
	flags.StringVar(&cfg.MetricsFile, "metrics-file", "", "write scan metrics in the Prometheus text format")
	flags.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "number of modules that run at once")
	flags.DurationVar(&cfg.ArtifactTimeout, "timeout", cfg.ArtifactTimeout, "maximum parse time of a single artifact")
	flags.StringSliceVarP(&cfg.Modules, "modules", "m", nil, "run only these modules")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	return command
}

// applyFlags copies the flags that were set on the command line into cfg.
func applyFlags(cmd *cobra.Command, flags, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("iocs") {
		cfg.Indicators = flags.Indicators
	}
	if changed("validate-iocs") {
		cfg.ValidateSTIX = flags.ValidateSTIX
	}
	if changed("output") {
		cfg.Output = flags.Output
	}
	if changed("archive") {
		cfg.Archive = flags.Archive
	}
	if changed("metrics-file") {
		cfg.MetricsFile = flags.MetricsFile
	}
	if changed("concurrency") {
		cfg.Concurrency = flags.Concurrency
	}
	if changed("timeout") {
		cfg.ArtifactTimeout = flags.ArtifactTimeout
	}
	if changed("modules") {
		cfg.Modules = flags.Modules
	}
	if changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	return cfg.Validate()
}

func openStore(mode backup.Mode, root string, cfg *config.Config, logger log.Interface) (*backup.Store, error) {
	opts := []backup.Option{
		backup.WithLogger(logger),
		backup.WithOpenAttempts(cfg.OpenAttempts),
		backup.WithRecoveryCacheSize(cfg.RecoveryCacheSize),
	}
	if mode == backup.Backup {
		return backup.NewBackup(root, opts...)
	}
	return backup.NewFilesystemDump(root, opts...)
}

func loadIndicators(cfg *config.Config, logger log.Interface) *indicators.Set {
	if len(cfg.Indicators) == 0 {
		return nil
	}
	set, err := indicators.LoadSTIX2Files(cfg.Indicators, indicators.Options{Validate: cfg.ValidateSTIX, Logger: logger})
	if err != nil {
		logger.WithError(err).Warn("indicators could not be loaded, checks are disabled")
		return nil
	}
	return set
}

// scan runs the selected modules against the acquisition in root and writes
// the configured outputs. Only configuration errors stop a scan before the
// modules ran.
func scan(ctx context.Context, mode backup.Mode, root string, cfg *config.Config, logger log.Interface) (*module.Runner, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	selected, err := modules.ByName(cfg.Modules)
	if err != nil {
		return nil, err
	}

	store, err := openStore(mode, root, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	sc := &module.ScanContext{
		Store:           store,
		Indicators:      loadIndicators(cfg, logger),
		Log:             logger,
		ArtifactTimeout: cfg.ArtifactTimeout,
	}
	logger.WithField("root", store.Root()).WithField("mode", mode).WithField("modules", len(selected)).Info("starting scan")

	start := time.Now()
	runner := module.NewRunner(sc, module.WithConcurrency(cfg.Concurrency))
	outcomes := runner.RunAll(ctx, selected)

	for _, o := range outcomes {
		for _, d := range o.Detected {
			logger.WithField("module", o.Module).WithField("indicator", d.Indicator.Name).Warn("detected potential indicator of compromise")
		}
	}

	if cfg.Output != "" {
		if err := writeResults(cfg.Output, runner, outcomes); err != nil {
			logger.WithError(err).Error("could not write results")
		}
	}
	if cfg.Archive != "" {
		if err := archiveArtifacts(cfg.Archive, outcomes, logger); err != nil {
			logger.WithError(err).Error("could not archive artifacts")
		}
	}
	if cfg.MetricsFile != "" {
		if err := runner.WriteMetrics(cfg.MetricsFile); err != nil {
			logger.WithError(err).Error("could not write metrics")
		}
	}

	summary := runner.Summary()
	logger.WithFields(log.Fields{
		"modules":    summary.Modules,
		"errored":    summary.Errored,
		"artifacts":  summary.Parsed,
		"records":    summary.Records,
		"detections": summary.Detections,
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("scan finished")
	return runner, nil
}

func writeResults(dir string, runner *module.Runner, outcomes []*module.Outcome) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	store, err := openResults(filepath.Join(dir, ResultsDatabase))
	if err != nil {
		return err
	}

	for _, o := range outcomes {
		if o.State != module.Finished {
			continue
		}
		if err := results.SaveJSON(dir, o); err != nil {
			store.Close() // nolint:errcheck
			return err
		}
		if err := store.InsertOutcome(o); err != nil {
			store.Close() // nolint:errcheck
			return err
		}
	}
	if err := store.Close(); err != nil {
		return err
	}

	if err := results.SaveTimelineCSV(filepath.Join(dir, "timeline.csv"), runner.Timeline()); err != nil {
		return err
	}
	if detected := runner.DetectedTimeline(); len(detected) > 0 {
		return results.SaveTimelineCSV(filepath.Join(dir, "timeline_detected.csv"), detected)
	}
	return nil
}

func openResults(path string) (*results.Store, error) {
	store, err := results.New(path)
	if errors.Cause(err) == results.ErrStoreExists {
		return results.Open(path)
	}
	return store, err
}

func archiveArtifacts(path string, outcomes []*module.Outcome, logger log.Interface) error {
	a, err := archive.New(path)
	if err != nil {
		return err
	}
	osFs := afero.NewOsFs()
	for _, o := range outcomes {
		for _, artifact := range o.Artifacts {
			if err := a.AddFile(osFs, artifact.Path, artifact.Logical); err != nil {
				logger.WithError(err).WithField("module", o.Module).WithField("path", artifact.Path).Warn("could not archive artifact")
			}
		}
	}
	return a.Close()
}
