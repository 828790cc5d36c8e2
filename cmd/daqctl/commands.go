package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-daq/daq"
	"github.com/arloliu/go-daq/lifecycle"
	"github.com/arloliu/go-daq/metrics"
)

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Connect to the daq and print its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, _, err := a.newController(cmd.Context())
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.Connect(); err != nil {
				return err
			}

			state, err := ctrl.State()
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", state)

			return nil
		},
	}
}

// runFlags are the run configuration overrides shared by configure, begin and scan.
type runFlags struct {
	events   int
	duration time.Duration
	record   bool
	l3t      bool
	alwaysOn bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.events, "events", 0, "number of events per acquisition")
	flags.DurationVar(&f.duration, "duration", 0, "length of each acquisition, at least 1s")
	flags.BoolVar(&f.record, "record", false, "record the data to disk")
	flags.BoolVar(&f.l3t, "l3t", false, "count events passing the level 3 trigger")
	flags.BoolVar(&f.alwaysOn, "always-on", false, "record from the beginning to the end of the run")
}

// apply overrides the run section of a.cfg with the flags set on cmd and validates the result.
func (f *runFlags) apply(cmd *cobra.Command, a *app) error {
	flags := cmd.Flags()
	run := &a.cfg.Run
	if flags.Changed("events") {
		run.Events = &f.events
	}
	if flags.Changed("duration") {
		run.Duration = &f.duration
	}
	if flags.Changed("record") {
		run.Record = f.record
	}
	if flags.Changed("l3t") {
		run.UseL3T = f.l3t
	}
	if flags.Changed("always-on") {
		run.AlwaysOn = f.alwaysOn
	}

	return a.cfg.Validate()
}

func newConfigureCmd(a *app) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Configure the daq and print the old and new configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rf.apply(cmd, a); err != nil {
				return err
			}

			ctrl, _, err := a.newController(cmd.Context())
			if err != nil {
				return err
			}
			defer ctrl.Close()

			oldCfg, newCfg, err := ctrl.Configure(a.cfg.ConfigOptions()...)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(map[string]daq.Config{"old": oldCfg, "new": newCfg})
		},
	}
	rf.register(cmd)

	return cmd
}

func newBeginCmd(a *app) *cobra.Command {
	var (
		rf   runFlags
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Configure the daq and start an acquisition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rf.apply(cmd, a); err != nil {
				return err
			}

			ctrl, _, err := a.newController(cmd.Context())
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if _, _, err := ctrl.Configure(a.cfg.ConfigOptions()...); err != nil {
				return err
			}

			start := time.Now()
			if err := ctrl.Begin(wait); err != nil {
				return err
			}

			state, err := ctrl.State()
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s after %v\n", state, time.Since(start).Round(time.Millisecond))

			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the end of the acquisition")

	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var (
		rf    runFlags
		steps int
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a step scan driven by lifecycle messages",
		Long: "Run a step scan: configure, open a run, kickoff, then one create/save " +
			"measurement window per step, and finally close the run and complete.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("steps must be at least 1, got %d", steps)
			}
			if err := rf.apply(cmd, a); err != nil {
				return err
			}

			ctrl, _, err := a.newController(cmd.Context())
			if err != nil {
				return err
			}
			defer ctrl.Close()

			return runScan(cmd, a, ctrl, steps)
		},
	}
	rf.register(cmd)
	cmd.Flags().IntVar(&steps, "steps", 3, "number of measurement windows")

	return cmd
}

func runScan(cmd *cobra.Command, a *app, ctrl *daq.Controller, steps int) error {
	out := cmd.OutOrStdout()

	if _, _, err := ctrl.Configure(a.cfg.ConfigOptions()...); err != nil {
		return err
	}

	adapter := lifecycle.NewAdapter(ctrl, a.logger)
	defer adapter.Close()

	if err := adapter.Consume(lifecycle.Message{Command: lifecycle.OpenRun}); err != nil {
		return err
	}
	if err := ctrl.Kickoff().Wait(2 * a.cfg.DAQ.BeginTimeout); err != nil {
		return err
	}

	for step := range steps {
		if err := cmd.Context().Err(); err != nil {
			return err
		}

		for _, command := range []lifecycle.Command{lifecycle.Create, lifecycle.Save} {
			if err := adapter.Consume(lifecycle.Message{Command: command, Args: map[string]any{"step": step}}); err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
		}

		state, err := ctrl.State()
		if err != nil {
			return err
		}
		printf(out, "step %d: %s\n", step+1, state)
	}

	if err := adapter.Consume(lifecycle.Message{Command: lifecycle.CloseRun}); err != nil {
		return err
	}
	if err := ctrl.Complete().Wait(a.cfg.DAQ.CloseTimeout); err != nil {
		return err
	}

	m := ctrl.Metrics()
	printf(out, "scan finished: %d steps, %d begins, %d stops\n", steps, m.BeginCount.Load(), m.StopCount.Load())

	return nil
}

func newServeMetricsCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Connect to the daq and serve its controller metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.Metrics.Addr = addr
			}

			ctx := cmd.Context()
			ctrl, _, err := a.newController(ctx)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.Connect(); err != nil {
				return err
			}

			reg, err := metrics.NewRegistry(ctrl)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(reg))
			srv := &http.Server{
				Addr:              a.cfg.Metrics.Addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "metrics-addr", "", "listen address of the metrics endpoint (default from config, :9090)")

	return cmd
}
