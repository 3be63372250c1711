// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/pmslice/internal/chain"
	"github.com/AleutianAI/pmslice/internal/config"
	"github.com/AleutianAI/pmslice/internal/targets"
	"github.com/AleutianAI/pmslice/pkg/logging"
	"github.com/AleutianAI/pmslice/pkg/ux"
)

// newRootCmd builds the command tree. Each call returns fresh commands and
// flags so tests can execute it repeatedly.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pmslice",
		Short:         "Pseudo-marginal slice sampling on demo targets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newTargetsCmd(),
		newConfigCmd(&configPath),
	)
	return root
}

// printerFor renders to the command's stdout, styled only on terminals.
func printerFor(cmd *cobra.Command) *ux.Printer {
	out := cmd.OutOrStdout()
	level := ux.PersonalityMachine
	if f, ok := out.(*os.File); ok {
		level = ux.DetectPersonality(f)
	}
	return ux.NewPrinter(out, level)
}

// =============================================================================
// run
// =============================================================================

// runFlags are the command-line overrides of the loaded config.
type runFlags struct {
	target       string
	mode         string
	iterations   int
	burnin       int
	chains       int
	seed         uint64
	dimensions   int
	width        float64
	maxDoublings int
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.target, "target", "", "target name (see 'pmslice targets')")
	fs.StringVar(&f.mode, "mode", "", "pseudo-marginal, clamped or exact")
	fs.IntVar(&f.iterations, "iterations", 0, "retained sweeps per chain")
	fs.IntVar(&f.burnin, "burnin", 0, "discarded sweeps per chain")
	fs.IntVar(&f.chains, "chains", 0, "number of concurrent chains")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed")
	fs.IntVar(&f.dimensions, "dimensions", 0, "target dimensions")
	fs.Float64Var(&f.width, "width", 0, "initial bracket width")
	fs.IntVar(&f.maxDoublings, "max-doublings", 0, "bracket doubling budget per end")
}

// apply overwrites cfg with every flag the user set.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("target") {
		cfg.Target = f.target
	}
	if fs.Changed("mode") {
		cfg.Mode = config.Mode(f.mode)
	}
	if fs.Changed("iterations") {
		cfg.Iterations = f.iterations
	}
	if fs.Changed("burnin") {
		cfg.Burnin = f.burnin
	}
	if fs.Changed("chains") {
		cfg.Chains = f.chains
	}
	if fs.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fs.Changed("dimensions") {
		cfg.Dimensions = f.dimensions
	}
	if fs.Changed("width") {
		cfg.Step.Width = f.width
	}
	if fs.Changed("max-doublings") {
		cfg.Step.MaxDoublings = f.maxDoublings
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run chains and print per-dimension moments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd.Flags(), &cfg)
			return runChains(cmd, cfg)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func runChains(cmd *cobra.Command, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Observability.LogDir,
		Service: serviceName,
		JSON:    cfg.Observability.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	defer logger.Close()

	tel, err := setupTelemetry(cfg.Observability, cmd.ErrOrStderr(), logger.Slog())
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.shutdown(cmd.Context()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err.Error())
		}
	}()

	opts := []chain.RunnerOption{
		chain.WithLogger(logger.With("component", "chain_runner").Slog()),
		chain.WithMetrics(tel.metrics),
	}
	if tel.tp != nil {
		opts = append(opts, chain.WithTracerProvider(tel.tp))
	}

	runner, err := chain.NewRunner(cfg, opts...)
	if err != nil {
		return err
	}
	res, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}

	printResult(printerFor(cmd), res)
	return nil
}

func printResult(p *ux.Printer, res *chain.Result) {
	pooled := res.Pooled()

	p.Title("Run summary")
	p.KeyValue("run_id", res.RunID)
	p.KeyValue("target", res.Target)
	p.KeyValue("mode", string(res.Mode))
	p.KeyValue("chains", strconv.Itoa(len(res.Chains)))
	p.KeyValue("evaluations", strconv.Itoa(pooled.Evaluations))
	p.KeyValue("elapsed", res.Elapsed.Round(time.Millisecond).String())

	rows := make([][]string, len(pooled.Mean))
	for d := range pooled.Mean {
		rows[d] = []string{
			strconv.Itoa(d),
			strconv.FormatFloat(pooled.Mean[d], 'f', 4, 64),
			strconv.FormatFloat(pooled.Variance[d], 'f', 4, 64),
		}
	}
	p.Table([]string{"dim", "mean", "variance"}, rows)
	p.Success(fmt.Sprintf("%d chains finished", len(res.Chains)))
}

// =============================================================================
// targets
// =============================================================================

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the available targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := targets.Names()
			rows := make([][]string, len(names))
			for i, name := range names {
				rows[i] = []string{name, targets.Describe(name)}
			}
			printerFor(cmd).Table([]string{"name", "description"}, rows)
			return nil
		},
	}
}

// =============================================================================
// config
// =============================================================================

func newConfigCmd(configPath *string) *cobra.Command {
	var writePath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if writePath != "" {
				created, err := config.WriteDefault(writePath)
				if err != nil {
					return err
				}
				p := printerFor(cmd)
				if created {
					p.Success("wrote default config to " + writePath)
				} else {
					p.Warning(writePath + " already exists, left untouched")
				}
				return nil
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&writePath, "write", "", "write the default config to this path instead")
	return cmd
}
