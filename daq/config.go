package daq

import (
	"fmt"
	"maps"
	"time"

	"github.com/arloliu/go-daq/control"
)

// MinDuration is the shortest run duration the daq handles reliably. Shorter runs must be
// requested with an event count.
const MinDuration = time.Second

// Config is the user facing configuration of the daq.
//
// It holds exactly the values given to Configure, which differ from the keyword set sent to
// the control process (see configArgs).
type Config struct {
	// Events is the number of events per acquisition, nil if not limited by events.
	Events *int `json:"events"`
	// Duration is the length of each acquisition, nil if not limited by time.
	// Events takes precedence when both are set.
	Duration *time.Duration `json:"duration"`
	// UseL3T reinterprets event counts as counts of events passing the level 3 trigger.
	UseL3T bool `json:"use_l3t"`
	// Record writes the data to disk.
	Record bool `json:"record"`
	// Controls maps a label to a device whose reading is recorded at each begin.
	// Each device implements control.Positioner or control.Valuer.
	Controls map[string]any `json:"-"`
	// AlwaysOn disables run control from lifecycle messages: the daq records from the
	// opening to the closing of a run.
	AlwaysOn bool `json:"always_on"`
}

// DefaultConfig returns the implicit configuration used before the first successful
// Configure: no limits and everything off.
func DefaultConfig() Config {
	return Config{}
}

// clone returns a copy of cfg that shares no mutable state with it.
func (cfg Config) clone() Config {
	out := cfg
	if cfg.Events != nil {
		n := *cfg.Events
		out.Events = &n
	}
	if cfg.Duration != nil {
		d := *cfg.Duration
		out.Duration = &d
	}
	if cfg.Controls != nil {
		out.Controls = maps.Clone(cfg.Controls)
	}

	return out
}

// HasLimit reports whether the configuration bounds each acquisition by a positive event count
// or duration.
func (cfg Config) HasLimit() bool {
	return (cfg.Events != nil && *cfg.Events > 0) || (cfg.Duration != nil && *cfg.Duration > 0)
}

// ConfigOption sets one field of the configuration passed to Controller.Configure.
// Fields not set keep their DefaultConfig value.
type ConfigOption func(*Config)

// WithEvents limits each acquisition to n events.
func WithEvents(n int) ConfigOption {
	return func(cfg *Config) { cfg.Events = &n }
}

// WithDuration limits each acquisition to d. Durations below MinDuration are rejected by
// Configure.
func WithDuration(d time.Duration) ConfigOption {
	return func(cfg *Config) { cfg.Duration = &d }
}

// WithL3T enables or disables level 3 trigger event counting.
func WithL3T(enabled bool) ConfigOption {
	return func(cfg *Config) { cfg.UseL3T = enabled }
}

// WithRecord enables or disables recording to disk.
func WithRecord(enabled bool) ConfigOption {
	return func(cfg *Config) { cfg.Record = enabled }
}

// WithControls sets the devices recorded at each begin.
func WithControls(controls map[string]any) ConfigOption {
	return func(cfg *Config) { cfg.Controls = controls }
}

// WithAlwaysOn enables or disables always-on run control.
func WithAlwaysOn(enabled bool) ConfigOption {
	return func(cfg *Config) { cfg.AlwaysOn = enabled }
}

// FromConfig replaces every field with the values of cfg.
func FromConfig(cfg Config) ConfigOption {
	return func(dst *Config) { *dst = cfg.clone() }
}

// FieldDescription describes one configuration or collect field for introspection layers.
type FieldDescription struct {
	Source string `json:"source"`
	DType  string `json:"dtype"`
	// Shape is nil when the shape is unknown or scalar.
	Shape []int `json:"shape"`
}

func describeConfig(cfg Config) map[string]FieldDescription {
	var controlsShape []int
	if cfg.Controls != nil {
		controlsShape = []int{len(cfg.Controls), 2}
	}

	return map[string]FieldDescription{
		"events":    {Source: "daq_events_in_run", DType: "number"},
		"duration":  {Source: "daq_run_duration", DType: "number"},
		"use_l3t":   {Source: "daq_use_l3trigger", DType: "number"},
		"record":    {Source: "daq_record_run", DType: "number"},
		"controls":  {Source: "daq_control_vars", DType: "array", Shape: controlsShape},
		"always_on": {Source: "daq_always_on", DType: "number"},
	}
}

func checkDuration(d *time.Duration) error {
	if d != nil && *d < MinDuration {
		return fmt.Errorf("%w: duration %v is less than %v and unreliable, "+
			"use an event count to specify very short runs", ErrInvalidArgument, *d, MinDuration)
	}

	return nil
}

func checkControls(controls map[string]any) error {
	for name, dev := range controls {
		if !control.IsDevice(dev) {
			return fmt.Errorf("%w: control %q (%T) has neither a position nor a value",
				ErrInvalidArgument, name, dev)
		}
	}

	return nil
}
