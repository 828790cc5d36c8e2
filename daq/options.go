package daq

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arloliu/go-daq/logger"
)

const (
	// DefaultBeginTimeout is how long a kickoff waits for the daq to be ready for begin.
	DefaultBeginTimeout = 2 * time.Second
	// DefaultPollInterval is the readiness polling interval used by kickoff and wait.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultCloseTimeout bounds how long Close waits for background operations.
	DefaultCloseTimeout = 3 * time.Second
)

// controllerConfig holds the construction parameters of a Controller.
type controllerConfig struct {
	// host identifies the machine the control process is allocated to.
	// Defaults to the local hostname.
	host string

	// platform is the DAQ platform (partition) number. Defaults to 0.
	platform int

	// beginTimeout bounds the readiness poll of kickoff and the wait of Begin.
	beginTimeout time.Duration

	// pollInterval is the sleep between two state reads while polling.
	pollInterval time.Duration

	// closeTimeout bounds how long Close waits for background tasks.
	closeTimeout time.Duration

	logger logger.Logger
}

func newControllerConfig(opts ...Option) (*controllerConfig, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	cfg := &controllerConfig{
		host:         host,
		beginTimeout: DefaultBeginTimeout,
		pollInterval: DefaultPollInterval,
		closeTimeout: DefaultCloseTimeout,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.pollInterval > cfg.beginTimeout {
		return nil, fmt.Errorf("%w: poll interval %v exceeds begin timeout %v",
			ErrInvalidArgument, cfg.pollInterval, cfg.beginTimeout)
	}

	return cfg, nil
}

// Option configures a Controller.
type Option interface {
	apply(*controllerConfig) error
}

type optFunc func(*controllerConfig) error

func (f optFunc) apply(cfg *controllerConfig) error { return f(cfg) }

// WithHost sets the host the control process is allocated to.
func WithHost(host string) Option {
	return optFunc(func(cfg *controllerConfig) error {
		if host == "" {
			return fmt.Errorf("%w: host must not be empty", ErrInvalidArgument)
		}
		cfg.host = host

		return nil
	})
}

// WithPlatform sets the DAQ platform number. Must be >= 0.
func WithPlatform(platform int) Option {
	return optFunc(func(cfg *controllerConfig) error {
		if platform < 0 {
			return fmt.Errorf("%w: platform %d must be >= 0", ErrInvalidArgument, platform)
		}
		cfg.platform = platform

		return nil
	})
}

// WithBeginTimeout sets how long kickoff polls for readiness and Begin waits for the kickoff.
func WithBeginTimeout(d time.Duration) Option {
	return optFunc(func(cfg *controllerConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: begin timeout must be positive", ErrInvalidArgument)
		}
		cfg.beginTimeout = d

		return nil
	})
}

// WithPollInterval sets the state polling interval. Must not exceed the begin timeout.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *controllerConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval must be positive", ErrInvalidArgument)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithCloseTimeout bounds how long Close waits for background operations.
func WithCloseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *controllerConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: close timeout must be positive", ErrInvalidArgument)
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithLogger sets the logger of the controller.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *controllerConfig) error {
		if l == nil {
			return errors.New("daq: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
