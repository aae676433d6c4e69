package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var ErrAlreadyRunning = errors.New("stocklisten is already listening")

const socketName = "stocklisten.sock"

// RuntimeSocketPath prefers XDG_RUNTIME_DIR and falls back to a per-user
// socket in the temp dir on systems without one.
func RuntimeSocketPath() (string, error) {
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, socketName), nil
	}
	tmp := os.TempDir()
	if tmp == "" {
		return "", errors.New("no runtime or temp directory for the control socket")
	}
	return filepath.Join(tmp, fmt.Sprintf("stocklisten-%d.sock", os.Getuid())), nil
}

// Acquire makes the caller the single owner of path. A socket file left by a
// dead owner is removed and the bind retried; a live owner yields
// ErrAlreadyRunning. An owner that neither answers nor refuses is left alone.
func Acquire(ctx context.Context, path string, pingTimeout time.Duration, retries int) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	backoff := 25 * time.Millisecond
	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		if err := clearStale(ctx, path, pingTimeout); err != nil {
			return nil, err
		}
		if attempt >= retries {
			return nil, fmt.Errorf("acquire socket %s: still in use after %d retries", path, retries)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
}

// clearStale removes path when nothing answers on it.
func clearStale(ctx context.Context, path string, pingTimeout time.Duration) error {
	alive, err := Ping(ctx, path, pingTimeout)
	if alive {
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("ping existing socket %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}
