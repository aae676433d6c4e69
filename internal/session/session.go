// Package session coordinates the listening-run lifecycle: start, stop
// signalling, drain, and analysis of the collected transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otumarastudio/youtube-summarizer/internal/dispatch"
	"github.com/otumarastudio/youtube-summarizer/internal/extract"
	"github.com/otumarastudio/youtube-summarizer/internal/fsm"
	"github.com/otumarastudio/youtube-summarizer/internal/ipc"
)

// StopReason records which trigger ended capture.
type StopReason string

const (
	StopSignal         StopReason = "signal"
	StopRequested      StopReason = "ipc"
	StopCaptureFailure StopReason = "capture_failure"
)

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	RunID      string
	State      fsm.State
	StopReason StopReason

	Transcript    string
	Segments      []dispatch.Segment
	Records       []extract.Record
	RawExtraction string

	Stats         dispatch.Stats
	Chunks        int
	AudioDevice   string
	BytesCaptured int64

	// Err is fatal: the run produced nothing worth reporting.
	Err error
	// CaptureErr is set when the device failed mid-run. Partial audio is still analyzed.
	CaptureErr error
	// DrainErr is set when queued transcription outlived the drain deadline.
	DrainErr error
	// AnalysisErr is ErrEmptyTranscript or an extraction failure.
	AnalysisErr error
	// RecordErr is set when the finished run could not be archived.
	RecordErr error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Options bounds the stop-side phases of a run.
type Options struct {
	RunID          string
	DrainTimeout   time.Duration
	ExtractTimeout time.Duration
}

// Controller orchestrates session state transitions and side effects.
type Controller struct {
	logger    *slog.Logger
	pipeline  Pipeline
	extractor extract.Extractor
	recorder  Recorder
	opts      Options

	mu    sync.RWMutex
	state fsm.State

	stopCh   chan struct{}
	stopOnce sync.Once
	segments atomic.Int64
}

// NewController constructs a session controller. A nil extractor disables
// analysis; a nil recorder disables archiving.
func NewController(
	logger *slog.Logger,
	pipeline Pipeline,
	extractor extract.Extractor,
	recorder Recorder,
	opts Options,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if pipeline == nil {
		pipeline = placeholderPipeline{}
	}

	return &Controller{
		logger:    logger,
		pipeline:  pipeline,
		extractor: extractor,
		recorder:  recorder,
		opts:      opts,
		state:     fsm.StateIdle,
		stopCh:    make(chan struct{}),
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Observe counts a delivered segment for status reporting.
func (c *Controller) Observe(dispatch.Segment) {
	c.segments.Add(1)
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Run executes one listening run from start through drain and analysis.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{RunID: c.opts.RunID, StartedAt: time.Now()}

	if err := c.transition(fsm.EventStart); err != nil {
		result.Err = err
		return c.finish(result)
	}

	if err := c.pipeline.Start(ctx); err != nil {
		_ = c.transition(fsm.EventAbort)
		result.Err = err
		return c.finish(result)
	}
	c.logger.Info("listening", "run_id", result.RunID)

	select {
	case <-ctx.Done():
		result.StopReason = StopSignal
	case <-c.stopCh:
		result.StopReason = StopRequested
	case err := <-c.pipeline.Failures():
		result.StopReason = StopCaptureFailure
		result.CaptureErr = err
		c.logger.Error("capture aborted; draining partial audio", "run_id", result.RunID, "error", errString(err))
	}

	if err := c.transition(fsm.EventStop); err != nil {
		_ = c.transition(fsm.EventAbort)
		result.Err = err
		return c.finish(result)
	}
	c.logger.Info("stopping", "run_id", result.RunID, "reason", string(result.StopReason))

	// The stop signal may have cancelled ctx; draining runs on its own deadline.
	drainCtx, cancel := withOptionalTimeout(context.WithoutCancel(ctx), c.opts.DrainTimeout)
	drained, err := c.pipeline.Drain(drainCtx)
	cancel()

	result.Transcript = drained.Transcript
	result.Segments = drained.Segments
	result.Stats = drained.Stats
	result.Chunks = drained.Chunks
	result.AudioDevice = drained.AudioDevice
	result.BytesCaptured = drained.BytesCaptured

	if err != nil {
		if !errors.Is(err, dispatch.ErrDrainTimeout) {
			_ = c.transition(fsm.EventAbort)
			result.Err = err
			return c.finish(result)
		}
		result.DrainErr = err
		c.logger.Warn("drain timed out; continuing with partial transcript",
			"run_id", result.RunID,
			"dropped", drained.Stats.Dropped,
		)
	}

	c.analyze(ctx, &result)

	if err := c.transition(fsm.EventDrained); err != nil {
		result.Err = err
	}
	result = c.finish(result)

	if c.recorder != nil && result.Err == nil {
		if err := c.recorder.Record(context.WithoutCancel(ctx), result); err != nil {
			result.RecordErr = err
			c.logger.Warn("archive run failed", "run_id", result.RunID, "error", err.Error())
		}
	}
	return result
}

// analyze runs extraction on the joined transcript. Failures are kept on the
// result so the caller can still print the raw response.
func (c *Controller) analyze(ctx context.Context, result *Result) {
	if strings.TrimSpace(result.Transcript) == "" {
		result.AnalysisErr = ErrEmptyTranscript
		c.logger.Info("nothing to analyze", "run_id", result.RunID)
		return
	}
	if c.extractor == nil {
		return
	}

	extractCtx, cancel := withOptionalTimeout(context.WithoutCancel(ctx), c.opts.ExtractTimeout)
	defer cancel()

	started := time.Now()
	extracted, err := c.extractor.Extract(extractCtx, result.Transcript)
	result.Records = extracted.Records
	result.RawExtraction = extracted.Raw
	if err != nil {
		result.AnalysisErr = err
		c.logger.Warn("extraction failed", "run_id", result.RunID, "error", err.Error())
		return
	}
	c.logger.Info("extraction complete",
		"run_id", result.RunID,
		"records", len(extracted.Records),
		"latency_ms", time.Since(started).Milliseconds(),
	)
}

func (c *Controller) finish(result Result) Result {
	result.State = c.State()
	result.FinishedAt = time.Now()
	return result
}

// Handle serves IPC commands for the active run.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.response(ipc.Response{OK: true, Message: "status"})
	case ipc.CommandStop:
		return c.requestStop()
	default:
		return c.response(ipc.Response{OK: false, Error: fmt.Sprintf("unknown command: %s", req.Command)})
	}
}

// Stop requests the same shutdown as an IPC stop.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// requestStop signals the run loop once; repeats are acknowledged and ignored.
func (c *Controller) requestStop() ipc.Response {
	state := c.State()
	switch state {
	case fsm.StateStopping, fsm.StateStopped:
		return c.response(ipc.Response{OK: true, Message: "already stopping"})
	case fsm.StateRunning:
	default:
		return c.response(ipc.Response{OK: false, Error: fmt.Sprintf("cannot stop from state %s", state)})
	}

	select {
	case <-c.stopCh:
		return c.response(ipc.Response{OK: true, Message: "stop already requested"})
	default:
	}
	c.Stop()
	return c.response(ipc.Response{OK: true, Message: "stop requested"})
}

func (c *Controller) response(resp ipc.Response) ipc.Response {
	resp.State = string(c.State())
	resp.RunID = c.opts.RunID
	resp.Segments = int(c.segments.Load())
	return resp
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsPipelineUnavailable reports whether an error represents missing pipeline wiring.
func IsPipelineUnavailable(err error) bool {
	return errors.Is(err, ErrPipelineUnavailable)
}
