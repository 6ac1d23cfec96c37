// Package inputdevtest provides an in-memory inputdev.Device for tests.
package inputdevtest

import (
	"fmt"
	"os"
	"sync"

	evdev "github.com/holoplot/go-evdev"
	"github.com/neuroplastio/neio-remote/internal/inputdev"
	"go.uber.org/atomic"
)

type item struct {
	event inputdev.Event
	err   error
}

// Device replays pushed events. ReadEvent blocks until an event is pushed or the device is closed.
type Device struct {
	path    string
	GrabErr error

	items     chan item
	closed    chan struct{}
	closeOnce sync.Once
	grabbed   atomic.Bool
	reads     atomic.Int64
}

func New(path string) *Device {
	return &Device{
		path:   path,
		items:  make(chan item, 1024),
		closed: make(chan struct{}),
	}
}

// Opener returns an inputdev.Opener that hands out d for its own path and fails otherwise.
func (d *Device) Opener() inputdev.Opener {
	return func(path string) (inputdev.Device, error) {
		if path != d.path {
			return nil, fmt.Errorf("%w: %s: %w", inputdev.ErrDeviceUnavailable, path, os.ErrNotExist)
		}
		return d, nil
	}
}

// Push queues events for ReadEvent.
func (d *Device) Push(events ...inputdev.Event) {
	for _, ev := range events {
		d.items <- item{event: ev}
	}
}

// Key queues a key event followed by a SYN_REPORT, as the kernel does.
func (d *Device) Key(code evdev.EvCode, value int32) {
	d.Push(
		inputdev.Event{Type: evdev.EV_KEY, Code: code, Value: value},
		inputdev.Event{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT},
	)
}

// Fail makes ReadEvent return err once all previously pushed events were read.
func (d *Device) Fail(err error) {
	d.items <- item{err: err}
}

func (d *Device) Path() string {
	return d.path
}

func (d *Device) Name() string {
	return "Test Remote"
}

func (d *Device) Grab() error {
	if d.GrabErr != nil {
		return fmt.Errorf("%w: %s: %w", inputdev.ErrGrabFailed, d.path, d.GrabErr)
	}
	d.grabbed.Store(true)
	return nil
}

func (d *Device) Grabbed() bool {
	return d.grabbed.Load()
}

// Reads returns the number of ReadEvent calls that returned an event.
func (d *Device) Reads() int64 {
	return d.reads.Load()
}

func (d *Device) ReadEvent() (inputdev.Event, error) {
	select {
	case <-d.closed:
		return inputdev.Event{}, fmt.Errorf("%w: %s: %w", inputdev.ErrDeviceRead, d.path, os.ErrClosed)
	default:
	}
	select {
	case <-d.closed:
		return inputdev.Event{}, fmt.Errorf("%w: %s: %w", inputdev.ErrDeviceRead, d.path, os.ErrClosed)
	case it := <-d.items:
		if it.err != nil {
			return inputdev.Event{}, fmt.Errorf("%w: %s: %w", inputdev.ErrDeviceRead, d.path, it.err)
		}
		d.reads.Inc()
		return it.event, nil
	}
}

func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.grabbed.Store(false)
		close(d.closed)
	})
	return nil
}

func (d *Device) Closed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}
