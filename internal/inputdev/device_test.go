package inputdev

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fifoHandle reads input events from a named pipe. Like *evdev.InputDevice, every
// method but ReadOne goes through Fd, which switches the fd to blocking mode.
type fifoHandle struct {
	file *os.File
}

func newFifoHandle(t *testing.T) (*fifoHandle, *os.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event0")
	require.NoError(t, syscall.Mkfifo(path, 0o600))
	// O_RDWR keeps the pipe open without a writer, so reads block instead of hitting EOF.
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	writer, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		writer.Close()
		file.Close()
	})
	return &fifoHandle{file: file}, writer
}

func (h *fifoHandle) Name() (string, error) {
	h.file.Fd()
	return "Test Remote", nil
}

func (h *fifoHandle) CapableEvents(t evdev.EvType) []evdev.EvCode {
	h.file.Fd()
	if t != evdev.EV_KEY {
		return nil
	}
	return []evdev.EvCode{evdev.KEY_ENTER, evdev.KEY_PLAY}
}

func (h *fifoHandle) Grab() error {
	h.file.Fd()
	return nil
}

func (h *fifoHandle) NonBlock() error {
	return syscall.SetNonblock(int(h.file.Fd()), true)
}

func (h *fifoHandle) ReadOne() (*evdev.InputEvent, error) {
	var ev evdev.InputEvent
	if err := binary.Read(h.file, binary.LittleEndian, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (h *fifoHandle) Close() error {
	return h.file.Close()
}

func readAsync(dev Device) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := dev.ReadEvent()
		done <- err
	}()
	return done
}

func TestReadEvent(t *testing.T) {
	h, writer := newFifoHandle(t)
	dev, err := newDevice(zaptest.NewLogger(t), "/dev/remote_tv", h)
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, "Test Remote", dev.Name())

	raw := evdev.InputEvent{
		Time:  syscall.Timeval{Sec: 1700000000, Usec: 250},
		Type:  evdev.EV_KEY,
		Code:  evdev.KEY_PLAY,
		Value: 1,
	}
	require.NoError(t, binary.Write(writer, binary.LittleEndian, &raw))

	ev, err := dev.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, Event{
		Time:  time.Unix(1700000000, 250000),
		Type:  evdev.EV_KEY,
		Code:  evdev.KEY_PLAY,
		Value: 1,
	}, ev)
}

func TestCloseUnblocksPendingRead(t *testing.T) {
	h, _ := newFifoHandle(t)
	dev, err := newDevice(zaptest.NewLogger(t), "/dev/remote_tv", h)
	require.NoError(t, err)
	require.NoError(t, dev.Grab())

	done := readAsync(dev)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, dev.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeviceRead)
		assert.ErrorIs(t, err, os.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("read still blocked after close")
	}
}

func TestCloseUnblocksPendingReadWithoutGrab(t *testing.T) {
	h, _ := newFifoHandle(t)
	dev, err := newDevice(zaptest.NewLogger(t), "/dev/remote_tv", h)
	require.NoError(t, err)

	done := readAsync(dev)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, dev.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("read still blocked after close")
	}
}

func TestNewDeviceWithoutKeys(t *testing.T) {
	h, _ := newFifoHandle(t)
	_, err := newDevice(zaptest.NewLogger(t), "/dev/remote_mouse", noKeys{h})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

type noKeys struct {
	*fifoHandle
}

func (noKeys) CapableEvents(evdev.EvType) []evdev.EvCode {
	return nil
}
