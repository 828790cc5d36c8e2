// Command daqctl drives a simulated DAQ control process through the go-daq controller.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/daq"
	"github.com/arloliu/go-daq/internal/config"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/sim"
)

// app holds the state shared by all commands, filled in by the root PersistentPreRunE.
type app struct {
	configPath string
	logLevel   string
	console    bool
	host       string
	platform   int

	cfg    *config.Config
	logger logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "daqctl",
		Short:         "Control a simulated DAQ through the go-daq controller",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path of the YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&a.console, "console", false, "write human readable logs instead of JSON")
	flags.StringVar(&a.host, "host", "", "host the daq is allocated to (default: the configured host or the local hostname)")
	flags.IntVar(&a.platform, "platform", 0, "daq platform number")

	rootCmd.AddCommand(
		newStateCmd(a),
		newConfigureCmd(a),
		newBeginCmd(a),
		newScanCmd(a),
		newServeMetricsCmd(a),
	)

	return rootCmd
}

// init loads the configuration, applies the flag overrides and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		if _, ok := logger.ParseLevel(a.logLevel); !ok {
			return fmt.Errorf("unknown log level %q", a.logLevel)
		}
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("console") {
		cfg.Log.Console = a.console
	}
	if flags.Changed("host") {
		cfg.DAQ.Host = a.host
	}
	if flags.Changed("platform") {
		cfg.DAQ.Platform = a.platform
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := []logger.SlogOption{logger.WithOutput(cmd.ErrOrStderr())}
	if cfg.Log.Console {
		opts = append(opts, logger.WithConsole())
	}
	a.logger = logger.NewSlog(cfg.LogLevel(), opts...)
	logger.SetLogger(a.logger)
	a.cfg = cfg

	return nil
}

// newController creates a controller driving a fresh simulated control process.
func (a *app) newController(ctx context.Context) (*daq.Controller, *sim.Link, error) {
	lnk := sim.NewLink(a.cfg.SimOptions(a.logger)...)
	lnk.AddStateChangeHandler(func(prev, cur control.State) {
		a.logger.Info("daq state changed", "prev_state", prev, "new_state", cur)
	})

	ctrl, err := daq.New(ctx, lnk.Factory(), a.cfg.ControllerOptions(a.logger)...)
	if err != nil {
		return nil, nil, err
	}

	return ctrl, lnk, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
