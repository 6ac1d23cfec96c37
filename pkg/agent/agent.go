package agent

import (
	"context"
	"fmt"

	"github.com/neuroplastio/neio-remote/internal/delivery"
	"github.com/neuroplastio/neio-remote/internal/inputdev"
	"github.com/neuroplastio/neio-remote/internal/pipeline"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

type Agent struct {
	config Config

	log    *zap.Logger
	client *delivery.Client
	driver *pipeline.Driver
}

type agentOptions struct {
	logger *zap.Logger
	opener inputdev.Opener
}

type Option func(*agentOptions)

// WithLogger replaces the logger built from the config.
func WithLogger(log *zap.Logger) Option {
	return func(o *agentOptions) {
		o.logger = log
	}
}

// WithOpener replaces the evdev device opener.
func WithOpener(open inputdev.Opener) Option {
	return func(o *agentOptions) {
		o.opener = open
	}
}

func NewAgent(config Config, opts ...Option) (*Agent, error) {
	var options agentOptions
	for _, opt := range opts {
		opt(&options)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := dig.New()
	providers := []any{
		func() Config {
			return config
		},
		func(cfg Config) (*zap.Logger, error) {
			if options.logger != nil {
				return options.logger, nil
			}
			return NewLogger(cfg.LogLevel, cfg.LogFormat)
		},
		func(log *zap.Logger) inputdev.Opener {
			if options.opener != nil {
				return options.opener
			}
			return inputdev.NewOpener(log.Named("device"))
		},
		func(cfg Config, log *zap.Logger) *delivery.Client {
			return delivery.New(log.Named("delivery"), delivery.WithTimeout(cfg.RequestTimeout.Duration))
		},
		newDriver,
	}
	for _, provider := range providers {
		if err := c.Provide(provider); err != nil {
			return nil, fmt.Errorf("failed to provide dependency: %w", err)
		}
	}

	a := &Agent{config: config}
	err := c.Invoke(func(log *zap.Logger, client *delivery.Client, driver *pipeline.Driver) {
		a.log = log
		a.client = client
		a.driver = driver
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}
	return a, nil
}

func newDriver(cfg Config, log *zap.Logger, open inputdev.Opener, client *delivery.Client) *pipeline.Driver {
	return pipeline.New(log.Named("pipeline"), pipeline.Config{
		DevicePath:    cfg.DevicePath(),
		Grab:          cfg.GrabDevice,
		WaitForDevice: cfg.WaitForDevice.Duration,
		EventName:     cfg.EventName,
		Endpoint:      delivery.EventURL(cfg.EndpointBaseURL, cfg.EventName),
		APIKey:        cfg.APIKey,
		ShutdownGrace: cfg.ShutdownGrace.Duration,
		QueueSize:     cfg.QueueSize,
		DryRun:        cfg.DryRun,
	}, open, client)
}

// Run forwards device events until the context is cancelled.
// It returns an error if the device cannot be opened or fails while running.
func (a *Agent) Run(ctx context.Context) error {
	err := a.driver.Run(ctx)
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) Pipeline() *pipeline.Driver {
	return a.driver
}

func (a *Agent) Close() error {
	a.client.Close()
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.log.Sync()
	return nil
}
