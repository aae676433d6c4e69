// Package ipc carries control commands between a running listener and other
// stocklisten invocations over a unix socket. Each connection carries exactly
// one newline-delimited JSON request and one response.
package ipc

import (
	"fmt"
	"time"
)

const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

// connDeadline bounds how long the server waits on a silent client.
const connDeadline = 2 * time.Second

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK       bool   `json:"ok"`
	State    string `json:"state,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Segments int    `json:"segments,omitempty"`
}

func failure(format string, args ...any) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}
