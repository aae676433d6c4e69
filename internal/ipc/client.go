package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// Send performs one request/response roundtrip bounded by timeout.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Response{}, fmt.Errorf("set deadline: %w", err)
		}
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	var resp Response
	readErr := json.NewDecoder(conn).Decode(&resp)
	switch {
	case readErr == nil:
		return resp, nil
	case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF), isTimeout(readErr):
		return Response{}, fmt.Errorf("read response: %w", readErr)
	default:
		return Response{}, fmt.Errorf("decode response: %w", readErr)
	}
}

// Ping reports whether a live owner answers on path. A missing socket or a
// refused connection is a definite "no"; anything else is inconclusive.
func Ping(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: CommandStatus}, timeout)
	switch {
	case err == nil:
		return true, nil
	case IsNoListener(err):
		return false, nil
	default:
		return false, fmt.Errorf("ping socket: %w", err)
	}
}

// IsNoListener reports dial failures meaning nobody owns the socket: the file
// is absent or nothing accepts on it.
func IsNoListener(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
