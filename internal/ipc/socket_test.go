package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireRecoversStaleSocket(t *testing.T) {
	path := socketPathForTest(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	listener, err := Acquire(context.Background(), path, 50*time.Millisecond, 2)
	require.NoError(t, err)
	defer listener.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.ModeSocket, info.Mode().Type())
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAcquireCreatesRuntimeDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run", "stocklisten.sock")

	listener, err := Acquire(context.Background(), path, 50*time.Millisecond, 0)
	require.NoError(t, err)
	require.NoError(t, listener.Close())
}

func TestAcquireReturnsAlreadyRunningWhenSocketResponsive(t *testing.T) {
	path := socketPathForTest(t)
	serveForTest(t, path, func(context.Context, Request) Response {
		return Response{OK: true, State: "running"}
	})

	_, err := Acquire(context.Background(), path, 80*time.Millisecond, 1)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestAcquireDoesNotUnlinkWhenPingInconclusive(t *testing.T) {
	path := socketPathForTest(t)

	listener, err := net.Listen("unix", path)
	require.NoError(t, err)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(250 * time.Millisecond)
			}(conn)
		}
	}()

	_, err = Acquire(context.Background(), path, 30*time.Millisecond, 0)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyRunning)
	require.ErrorContains(t, err, "ping existing socket")

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
	<-acceptDone
}

func TestRuntimeSocketPathUsesXDGRuntimeDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	path, err := RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "stocklisten.sock"), path)
}

func TestRuntimeSocketPathFallsBackToTempDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("TMPDIR", tmp)

	path, err := RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, tmp, filepath.Dir(path))
	require.Contains(t, filepath.Base(path), "stocklisten-")
}
