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
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRollout/services/rollout"
	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/assign"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

// cli carries global flags and the lazily opened app.
type cli struct {
	configPath string
	jsonOutput bool
	app        *app
}

// open builds the app on first use so --help never touches disk.
func (c *cli) open(cmd *cobra.Command) (*app, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := openApp(c.configPath, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

func (c *cli) printer(cmd *cobra.Command) *printer {
	return newPrinter(cmd.OutOrStdout(), c.jsonOutput)
}

// newRootCmd assembles the command tree.
func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:   "rollout",
		Short: "Split traffic between a baseline and a candidate and decide when to ship",
		Long: `rollout manages A/B experiments on a local machine: it routes requests
to a baseline or candidate variant, records outcome metrics, and recommends
ROLLBACK, ROLLOUT, EXPAND, or CONTINUE once enough data has accumulated.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "",
		"settings file (default $ROLLOUT_CONFIG or ~/.aleutian/rollout/rollout.yaml)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newExperimentCmd(c),
		newDecideCmd(c),
		newRecordCmd(c),
		newAnalyzeCmd(c),
		newServeCmd(c),
	)
	return root, c
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root, c := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if cerr := c.close(); cerr != nil && err == nil {
		fmt.Fprintf(stderr, "Error: %v\n", cerr)
		return 1
	}
	if err != nil {
		return 1
	}
	return 0
}

// =============================================================================
// experiment
// =============================================================================

func newExperimentCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Short:   "Create, pause, resume, force, and inspect experiments",
		Aliases: []string{"exp"},
	}
	cmd.AddCommand(
		newCreateCmd(c),
		newToggleCmd(c, "pause", "Disable an experiment; its target falls back to baseline", pause),
		newToggleCmd(c, "resume", "Re-enable a paused experiment", resume),
		newForceCmd(c),
		newListCmd(c),
		newStatusCmd(c),
	)
	return cmd
}

func newCreateCmd(c *cli) *cobra.Command {
	var (
		rolloutPct   float64
		durationDays float64
		minSamples   int
		confidence   float64
		metrics      []string
	)
	defaults := experiment.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "create NAME TARGET",
		Short: "Create an experiment, replacing any experiment with the same name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			opts := experiment.Apply(
				experiment.WithRolloutPercentage(rolloutPct),
				experiment.WithDuration(time.Duration(durationDays*float64(24*time.Hour))),
				experiment.WithMinSamples(minSamples),
				experiment.WithConfidenceLevel(confidence),
				experiment.WithTrackedMetrics(metrics...),
			)
			cfg, err := a.ctrl.Create(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			return c.showStatus(cmd, a, cfg.Name)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&rolloutPct, "rollout", defaults.RolloutPercentage, "candidate fraction in [0, 1]")
	f.Float64Var(&durationDays, "duration-days", defaults.Duration.Hours()/24, "active window in days; 0 leaves it open")
	f.IntVar(&minSamples, "min-samples", defaults.MinSamples, "observations per variant before analysis")
	f.Float64Var(&confidence, "confidence", defaults.ConfidenceLevel, "confidence level reported with results")
	f.StringSliceVar(&metrics, "metrics", nil, "tracked metric names (informational)")
	return cmd
}

type toggleFunc func(cmd *cobra.Command, a *app, name string) error

func pause(cmd *cobra.Command, a *app, name string) error {
	return a.ctrl.Pause(cmd.Context(), name)
}

func resume(cmd *cobra.Command, a *app, name string) error {
	return a.ctrl.Resume(cmd.Context(), name)
}

func newToggleCmd(c *cli, use, short string, fn toggleFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			if err := fn(cmd, a, args[0]); err != nil {
				return err
			}
			return c.showStatus(cmd, a, args[0])
		},
	}
}

func newForceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "force NAME baseline|candidate|none",
		Short: "Pin every request for the experiment to one variant, or clear the pin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := experiment.ParseForceVariant(args[1])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			if err := a.ctrl.SetForceVariant(cmd.Context(), args[0], v); err != nil {
				return err
			}
			return c.showStatus(cmd, a, args[0])
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List experiments with their progress",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			list, err := a.ctrl.List(cmd.Context())
			if err != nil {
				return err
			}
			return c.printer(cmd).statusList(list)
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show one experiment's configuration and sample counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			return c.showStatus(cmd, a, args[0])
		},
	}
}

func (c *cli) showStatus(cmd *cobra.Command, a *app, name string) error {
	st, err := a.ctrl.Status(cmd.Context(), name)
	if err != nil {
		return err
	}
	return c.printer(cmd).status(st)
}

// =============================================================================
// decide / record / analyze
// =============================================================================

func newDecideCmd(c *cli) *cobra.Command {
	var req assign.Request
	cmd := &cobra.Command{
		Use:   "decide TARGET",
		Short: "Route one request for TARGET and log the assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			req.Target = args[0]
			return c.printer(cmd).decision(a.ctrl.Decide(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "user identifier used for sticky bucketing")
	cmd.Flags().StringVar(&req.SessionID, "session", "", "session identifier used when --user is empty")
	return cmd
}

func newRecordCmd(c *cli) *cobra.Command {
	var meta map[string]string
	cmd := &cobra.Command{
		Use:   "record EXPERIMENT baseline|candidate METRIC VALUE",
		Short: "Record one outcome observation",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := experiment.ParseVariant(args[1])
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("value %q: %w", args[3], err)
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}

			var metadata map[string]any
			if len(meta) > 0 {
				metadata = make(map[string]any, len(meta))
				for k, val := range meta {
					metadata[k] = val
				}
			}
			res := a.ctrl.Record(cmd.Context(), args[0], v, args[2], value, metadata)
			if !res.OK() {
				return res.Err
			}
			return c.printer(cmd).recorded(res.ID)
		},
	}
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata as key=value pairs")
	return cmd
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze NAME",
		Short: "Compare variants and recommend ROLLBACK, ROLLOUT, EXPAND, or CONTINUE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			res, err := a.ctrl.Analyze(cmd.Context(), args[0])
			var short *analysis.InsufficientDataError
			switch {
			case errors.As(err, &short):
				return c.printer(cmd).shortfall(short)
			case errors.Is(err, rollout.ErrUnknownExperiment):
				return fmt.Errorf("experiment %q not found", args[0])
			case err != nil:
				return err
			}
			return c.printer(cmd).result(res)
		},
	}
}
