package inputdev

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWaitForNodeExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote_tv")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	err := WaitForNode(context.Background(), zaptest.NewLogger(t), path, time.Second)
	assert.NoError(t, err)
}

func TestWaitForNodeCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote_tv")
	time.AfterFunc(50*time.Millisecond, func() {
		os.WriteFile(path, nil, 0o600)
	})
	err := WaitForNode(context.Background(), zaptest.NewLogger(t), path, 5*time.Second)
	assert.NoError(t, err)
}

func TestWaitForNodeTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote_tv")
	err := WaitForNode(context.Background(), zaptest.NewLogger(t), path, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestWaitForNodeCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote_tv")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := WaitForNode(ctx, zaptest.NewLogger(t), path, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "event99"))
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
