// Package config loads the YAML configuration of the daqctl command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-daq/daq"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/sim"
)

// Config is the file configuration of daqctl.
type Config struct {
	DAQ     DAQConfig     `yaml:"daq"`
	Sim     SimConfig     `yaml:"sim"`
	Run     RunConfig     `yaml:"run"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DAQConfig holds the controller options.
type DAQConfig struct {
	Host         string        `yaml:"host"`
	Platform     int           `yaml:"platform" validate:"gte=0"`
	BeginTimeout time.Duration `yaml:"begin_timeout" validate:"gt=0,gtefield=PollInterval"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	CloseTimeout time.Duration `yaml:"close_timeout" validate:"gt=0"`
}

// SimConfig holds the options of the simulated control process.
type SimConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay" validate:"gte=0"`
	EventRate   int           `yaml:"event_rate" validate:"gt=0"`
}

// RunConfig is the daq configuration applied by the configure, begin and scan commands.
type RunConfig struct {
	Events   *int           `yaml:"events" validate:"omitempty,gte=0"`
	Duration *time.Duration `yaml:"duration" validate:"omitempty,gte=1s"`
	UseL3T   bool           `yaml:"use_l3t"`
	Record   bool           `yaml:"record"`
	AlwaysOn bool           `yaml:"always_on"`
}

// LogConfig holds the logging options.
type LogConfig struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error fatal"`
	Console bool   `yaml:"console"`
}

// MetricsConfig holds the options of the serve-metrics command.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DAQ: DAQConfig{
			BeginTimeout: daq.DefaultBeginTimeout,
			PollInterval: daq.DefaultPollInterval,
			CloseTimeout: daq.DefaultCloseTimeout,
		},
		Sim: SimConfig{
			EventRate: sim.DefaultEventRate,
		},
		Log: LogConfig{
			Level: logger.InfoLevel.String(),
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the field constraints of cfg.
func (cfg *Config) Validate() error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed on %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}

	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

// LogLevel returns the parsed log level.
func (cfg *Config) LogLevel() logger.Level {
	level, ok := logger.ParseLevel(cfg.Log.Level)
	if !ok {
		return logger.InfoLevel
	}

	return level
}

// ControllerOptions converts the daq section into controller options.
func (cfg *Config) ControllerOptions(l logger.Logger) []daq.Option {
	opts := []daq.Option{
		daq.WithPlatform(cfg.DAQ.Platform),
		daq.WithBeginTimeout(cfg.DAQ.BeginTimeout),
		daq.WithPollInterval(cfg.DAQ.PollInterval),
		daq.WithCloseTimeout(cfg.DAQ.CloseTimeout),
	}
	if cfg.DAQ.Host != "" {
		opts = append(opts, daq.WithHost(cfg.DAQ.Host))
	}
	if l != nil {
		opts = append(opts, daq.WithLogger(l))
	}

	return opts
}

// SimOptions converts the sim section into options of the simulated control process.
func (cfg *Config) SimOptions(l logger.Logger) []sim.Option {
	opts := []sim.Option{
		sim.WithSettleDelay(cfg.Sim.SettleDelay),
		sim.WithEventRate(cfg.Sim.EventRate),
	}
	if l != nil {
		opts = append(opts, sim.WithLogger(l))
	}

	return opts
}

// ConfigOptions converts the run section into daq configure options.
func (cfg *Config) ConfigOptions() []daq.ConfigOption {
	opts := []daq.ConfigOption{
		daq.WithL3T(cfg.Run.UseL3T),
		daq.WithRecord(cfg.Run.Record),
		daq.WithAlwaysOn(cfg.Run.AlwaysOn),
	}
	if cfg.Run.Events != nil {
		opts = append(opts, daq.WithEvents(*cfg.Run.Events))
	}
	if cfg.Run.Duration != nil {
		opts = append(opts, daq.WithDuration(*cfg.Run.Duration))
	}

	return opts
}
