// Package inputdev provides access to Linux input event device nodes (/dev/input/event*).
package inputdev

import (
	"errors"
	"fmt"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrGrabFailed        = errors.New("device grab failed")
	ErrDeviceRead        = errors.New("device read failed")
)

// Event is a single raw input event as reported by the kernel.
type Event struct {
	Time  time.Time
	Type  evdev.EvType
	Code  evdev.EvCode
	Value int32
}

func (e Event) String() string {
	return fmt.Sprintf("type=%d code=%d value=%d", e.Type, e.Code, e.Value)
}

// Device is an opened input device.
// ReadEvent blocks until the next event is available. Closing the device from another goroutine
// unblocks a pending ReadEvent, which then returns an error wrapping os.ErrClosed.
type Device interface {
	Path() string
	Name() string
	Grab() error
	ReadEvent() (Event, error)
	Close() error
}

// Opener opens the device node at path.
type Opener func(path string) (Device, error)

// handle is the part of *evdev.InputDevice used here.
type handle interface {
	Name() (string, error)
	CapableEvents(t evdev.EvType) []evdev.EvCode
	Grab() error
	NonBlock() error
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

type evdevDevice struct {
	log  *zap.Logger
	dev  handle
	path string
	name string
}

// Open opens an evdev device node. The node must report EV_KEY events.
func Open(log *zap.Logger, path string) (Device, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, path, err)
	}
	return newDevice(log, path, dev)
}

// NewOpener returns an Opener bound to the logger.
func NewOpener(log *zap.Logger) Opener {
	return func(path string) (Device, error) {
		return Open(log, path)
	}
}

func newDevice(log *zap.Logger, path string, dev handle) (*evdevDevice, error) {
	if len(dev.CapableEvents(evdev.EV_KEY)) == 0 {
		dev.Close()
		return nil, fmt.Errorf("%w: %s does not report key events", ErrDeviceUnavailable, path)
	}
	name, err := dev.Name()
	if err != nil {
		log.Debug("failed to read device name", zap.String("path", path), zap.Error(err))
	}
	// Every ioctl puts the fd back into blocking mode, and Close only interrupts
	// a pending ReadOne on a non-blocking fd.
	if err := dev.NonBlock(); err != nil {
		err = multierr.Append(err, dev.Close())
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, path, err)
	}
	return &evdevDevice{
		log:  log,
		dev:  dev,
		path: path,
		name: name,
	}, nil
}

func (d *evdevDevice) Path() string {
	return d.path
}

func (d *evdevDevice) Name() string {
	return d.name
}

func (d *evdevDevice) Grab() error {
	if err := d.dev.Grab(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrGrabFailed, d.path, err)
	}
	if err := d.dev.NonBlock(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrGrabFailed, d.path, err)
	}
	d.log.Debug("device grabbed", zap.String("path", d.path))
	return nil
}

func (d *evdevDevice) ReadEvent() (Event, error) {
	ev, err := d.dev.ReadOne()
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s: %w", ErrDeviceRead, d.path, err)
	}
	return Event{
		Time:  time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*1000),
		Type:  ev.Type,
		Code:  ev.Code,
		Value: ev.Value,
	}, nil
}

// Close releases the device. The kernel drops a grab together with the fd.
func (d *evdevDevice) Close() error {
	return d.dev.Close()
}
