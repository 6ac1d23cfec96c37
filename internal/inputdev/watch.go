package inputdev

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WaitForNode blocks until path exists, the timeout elapses or ctx is cancelled.
// Paired Bluetooth devices get their node (or udev symlink) only after they connect.
func WaitForNode(ctx context.Context, log *zap.Logger, path string, timeout time.Duration) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	if nodeExists(absPath) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to add path to watcher %s: %w", path, err)
	}
	// The node may have appeared between the first check and the watch.
	if nodeExists(absPath) {
		return nil
	}

	log.Info("Waiting for device", zap.String("path", absPath), zap.Duration("timeout", timeout))
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s did not appear within %s", ErrDeviceUnavailable, absPath, timeout)
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrDeviceUnavailable)
			}
			if event.Name == absPath && event.Has(fsnotify.Create) {
				log.Debug("device node created", zap.String("path", absPath))
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrDeviceUnavailable)
			}
			log.Error("Watcher error", zap.Error(err))
		}
	}
}

func nodeExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
