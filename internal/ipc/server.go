package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve answers clients on listener until ctx is cancelled or the listener
// closes. It returns after every in-flight connection has been answered.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var conns sync.WaitGroup
	defer conns.Wait()

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) || (err != nil && ctx.Err() != nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		conns.Add(1)
		go func() {
			defer conns.Done()
			serveConn(ctx, conn, handler)
		}()
	}
}

func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	var req Request
	readErr := json.NewDecoder(conn).Decode(&req)
	var resp Response
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case readErr == nil:
		resp = handler.Handle(ctx, req)
	case errors.As(readErr, &syntaxErr), errors.As(readErr, &typeErr):
		resp = failure("decode request: %v", readErr)
	default:
		// Client hung up or stalled; nobody is left to answer.
		return
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
