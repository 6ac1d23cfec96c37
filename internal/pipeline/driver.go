// Package pipeline forwards key commands read from an input device to the event sink.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neuroplastio/neio-remote/internal/command"
	"github.com/neuroplastio/neio-remote/internal/delivery"
	"github.com/neuroplastio/neio-remote/internal/inputdev"
	"github.com/neuroplastio/neio-remote/internal/payload"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deliverer posts one payload to endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, p payload.Payload) error
}

type Config struct {
	DevicePath    string
	Grab          bool
	WaitForDevice time.Duration

	EventName string
	Endpoint  string
	APIKey    string

	// ShutdownGrace bounds how long an in-flight delivery may run after shutdown starts.
	ShutdownGrace time.Duration
	// QueueSize is the number of commands the reader may run ahead of delivery.
	QueueSize int
	DryRun    bool
}

// Driver reads events from a single device and delivers them one at a time, in read order.
type Driver struct {
	log       *zap.Logger
	config    Config
	open      inputdev.Opener
	deliverer Deliverer

	state atomic.Int32
	stats *Stats
}

func New(log *zap.Logger, config Config, open inputdev.Opener, deliverer Deliverer) *Driver {
	return &Driver{
		log:       log,
		config:    config,
		open:      open,
		deliverer: deliverer,
		stats:     newStats(),
	}
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) Stats() *Stats {
	return d.stats
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	d.log.Debug("pipeline state changed", zap.Stringer("state", s))
}

// transition sets the state to "to" only if it currently is "from".
func (d *Driver) transition(from, to State) bool {
	if !d.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	d.log.Debug("pipeline state changed", zap.Stringer("state", to))
	return true
}

// Run opens the device and forwards its key events until ctx is cancelled.
// It returns nil after an orderly shutdown and an error if the device could not be
// opened or failed while running.
func (d *Driver) Run(ctx context.Context) error {
	d.setState(StateStarting)
	dev, err := d.start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			d.setState(StateStopped)
			return nil
		}
		d.setState(StateCrashed)
		d.log.Error("Failed to start pipeline", zap.String("device", d.config.DevicePath), zap.Error(err))
		return err
	}

	var closeOnce sync.Once
	closeDevice := func() {
		closeOnce.Do(func() {
			if err := dev.Close(); err != nil {
				d.log.Debug("failed to close device", zap.String("device", dev.Path()), zap.Error(err))
			}
		})
	}
	defer closeDevice()

	d.setState(StateRunning)
	d.log.Info("Using device",
		zap.String("device", dev.Path()),
		zap.String("name", dev.Name()),
		zap.Bool("grabbed", d.config.Grab),
		zap.String("endpoint", d.config.Endpoint),
	)

	// Deliveries outlive ctx by at most the shutdown grace period.
	deliverCtx, cancelDeliver := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDeliver()
	stopShutdown := context.AfterFunc(ctx, func() {
		// Run may have stopped already.
		d.transition(StateRunning, StateShuttingDown)
		closeDevice()
		timer := time.NewTimer(d.config.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelDeliver()
		case <-deliverCtx.Done():
		}
	})
	defer stopShutdown()

	commands := make(chan command.Command, d.config.QueueSize)
	var group errgroup.Group
	group.Go(func() error {
		return d.readLoop(ctx, dev, commands)
	})
	group.Go(func() error {
		d.deliverLoop(ctx, deliverCtx, commands)
		return nil
	})
	err = group.Wait()

	totals := d.stats.Totals()
	fields := []zap.Field{
		zap.Uint64("delivered", totals.Delivered),
		zap.Uint64("failed", totals.Failed),
		zap.Uint64("dropped", d.stats.Dropped()),
		zap.Any("keys", d.stats.Snapshot()),
	}
	if err != nil {
		d.setState(StateCrashed)
		d.log.Error("Pipeline crashed", append(fields, zap.Error(err))...)
		return fmt.Errorf("pipeline failed: %w", err)
	}
	d.setState(StateStopped)
	d.log.Info("Pipeline stopped", fields...)
	return nil
}

func (d *Driver) start(ctx context.Context) (inputdev.Device, error) {
	if d.config.WaitForDevice > 0 {
		if err := inputdev.WaitForNode(ctx, d.log, d.config.DevicePath, d.config.WaitForDevice); err != nil {
			return nil, err
		}
	}
	dev, err := d.open(d.config.DevicePath)
	if err != nil {
		return nil, err
	}
	if d.config.Grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return nil, err
		}
	}
	return dev, nil
}

func (d *Driver) readLoop(ctx context.Context, dev inputdev.Device, out chan<- command.Command) error {
	defer close(out)
	for {
		ev, err := dev.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		cmd, ok := command.Classify(ev)
		if !ok {
			continue
		}
		if !cmd.Known() {
			d.log.Warn("Unrecognized key event",
				zap.String("cmd", cmd.KeyName),
				zap.String("cmd_type", string(cmd.Phase)),
				zap.String("cmd_num", cmd.KeyCode),
				zap.Int32("value", ev.Value),
			)
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			d.stats.drop()
			return nil
		}
	}
}

func (d *Driver) deliverLoop(ctx, deliverCtx context.Context, in <-chan command.Command) {
	for cmd := range in {
		if ctx.Err() != nil {
			d.stats.drop()
			continue
		}
		d.forward(deliverCtx, cmd)
	}
}

func (d *Driver) forward(ctx context.Context, cmd command.Command) {
	log := d.log.With(
		zap.String("event", d.config.EventName),
		zap.String("cmd", cmd.KeyName),
		zap.String("cmd_type", string(cmd.Phase)),
		zap.String("cmd_num", cmd.KeyCode),
	)
	p, err := payload.Encode(cmd, d.config.APIKey)
	if err != nil {
		d.stats.failed(cmd.KeyName)
		log.Error("Failed to encode payload", zap.Error(err))
		return
	}
	if d.config.DryRun {
		log.Info("Dry run, event not fired", zap.ByteString("payload", p.Body))
		return
	}
	err = d.deliverer.Deliver(ctx, d.config.Endpoint, p)
	if err != nil {
		d.stats.failed(cmd.KeyName)
		kind, _ := delivery.KindOf(err)
		log.Error("Failed to fire event", zap.Stringer("kind", kind), zap.Error(err))
		return
	}
	d.stats.delivered(cmd.KeyName)
	log.Info("Fired event", zap.ByteString("payload", p.Body))
}
