// Package app wires CLI commands to configuration, capture, and the session runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/otumarastudio/youtube-summarizer/internal/archive"
	"github.com/otumarastudio/youtube-summarizer/internal/audio"
	"github.com/otumarastudio/youtube-summarizer/internal/cli"
	"github.com/otumarastudio/youtube-summarizer/internal/config"
	"github.com/otumarastudio/youtube-summarizer/internal/dispatch"
	"github.com/otumarastudio/youtube-summarizer/internal/display"
	"github.com/otumarastudio/youtube-summarizer/internal/doctor"
	"github.com/otumarastudio/youtube-summarizer/internal/extract"
	"github.com/otumarastudio/youtube-summarizer/internal/ipc"
	"github.com/otumarastudio/youtube-summarizer/internal/logging"
	"github.com/otumarastudio/youtube-summarizer/internal/metrics"
	"github.com/otumarastudio/youtube-summarizer/internal/pipeline"
	"github.com/otumarastudio/youtube-summarizer/internal/session"
	"github.com/otumarastudio/youtube-summarizer/internal/stt"
	"github.com/otumarastudio/youtube-summarizer/internal/version"
)

const binaryName = "stocklisten"

// PipelineFactory builds the capture pipeline for one listen run.
type PipelineFactory func(pipeline.Options) (session.Pipeline, error)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// NewPipeline overrides the live capture pipeline.
	NewPipeline PipelineFactory
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	// A .env next to the working directory may carry the API key.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(r.Stderr, "warning: load .env: %v\n", err)
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.LogLevel)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	if phrases, _, err := config.BuildPromptPhrases(cfgLoaded.Config); err == nil {
		logger.Debug("transcription prompt plan", "phrase_count", len(phrases))
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx, cfgLoaded.Config)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandHistory:
		return r.commandHistory(ctx, cfgLoaded.Config, parsed.Limit)
	case cli.CommandListen:
		return r.commandListen(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context, cfg config.Config) int {
	backend, err := audio.ParseBackend(cfg.Audio.Backend)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	devices, err := audio.ListDevices(ctx, backend)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	display.New(r.Stdout).Devices(devices)
	if len(devices) == 0 {
		return 1
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		if resp.RunID == "" {
			fmt.Fprintln(r.Stdout, resp.State)
			return 0
		}
		fmt.Fprintf(r.Stdout, "%s (run %s, %d segments)\n", resp.State, resp.RunID, resp.Segments)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active %s session\n", binaryName)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Config, limit int) int {
	if !cfg.Archive.Enable {
		fmt.Fprintln(r.Stderr, "error: archive is disabled (archive.enable = false)")
		return 1
	}
	path, err := archive.ResolvePath(cfg.Archive.Path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	store, err := archive.Open(ctx, path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	records := make(map[string][]extract.Record, len(runs))
	for _, run := range runs {
		recs, err := store.Records(ctx, run.ID)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		records[run.ID] = recs
	}

	display.New(r.Stdout).History(runs, records)
	return 0
}

// startMetrics binds the Prometheus endpoint. A bind failure only disables
// metrics. The returned func blocks until the server has shut down.
func (r Runner) startMetrics(ctx context.Context, addr string, logger *slog.Logger) (*metrics.Collector, func()) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		display.New(r.Stderr).Warn(fmt.Sprintf("metrics disabled: %v", err))
		logger.Warn("metrics listen failed", "addr", addr, "error", err.Error())
		return nil, func() {}
	}

	collector := metrics.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Serve(ctx, listener); err != nil {
			logger.Error("metrics server failed", "error", err.Error())
		}
	}()
	logger.Info("metrics listening", "addr", listener.Addr().String())
	return collector, func() { <-done }
}

func (r Runner) commandListen(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	apiKey := strings.TrimSpace(os.Getenv(cfg.OpenAI.APIKeyEnv))
	if apiKey == "" {
		fmt.Fprintf(r.Stderr, "error: %s is not set\n", cfg.OpenAI.APIKeyEnv)
		return 1
	}

	printer := display.New(r.Stdout)
	errPrinter := display.New(r.Stderr)

	listener, socketPath, err := r.acquireSocket(ctx, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if listener != nil {
		defer func() {
			_ = listener.Close()
			_ = os.Remove(socketPath)
		}()
	}

	client := stt.NewOpenAIClient(apiKey, cfg.OpenAI.BaseURL)
	transcriber := stt.NewWhisper(client, cfg.Transcription.Model)

	var extractor extract.Extractor
	if cfg.Extraction.Enable {
		extractor = extract.NewOpenAI(client, cfg.Extraction.Model)
	}

	var recorder session.Recorder
	if cfg.Archive.Enable {
		store, err := openArchive(ctx, cfg.Archive.Path)
		if err != nil {
			errPrinter.Warn(fmt.Sprintf("archive unavailable: %v", err))
			logger.Warn("archive unavailable", "error", err.Error())
		} else {
			defer func() { _ = store.Close() }()
			recorder = store
		}
	}

	// Metrics outlive a stop signal so the drain phase stays observable.
	metricsCtx, metricsCancel := context.WithCancel(context.WithoutCancel(ctx))
	var collector *metrics.Collector
	var observer dispatch.Observer
	waitMetrics := func() {}
	if cfg.Metrics.Listen != "" {
		collector, waitMetrics = r.startMetrics(metricsCtx, cfg.Metrics.Listen, logger)
		if collector != nil {
			observer = collector
		}
	}
	defer func() {
		metricsCancel()
		waitMetrics()
	}()

	runID := uuid.NewString()
	var controller *session.Controller

	newPipeline := r.NewPipeline
	if newPipeline == nil {
		newPipeline = func(opts pipeline.Options) (session.Pipeline, error) {
			return pipeline.New(opts)
		}
	}
	p, err := newPipeline(pipeline.Options{
		Config:      cfg,
		Transcriber: transcriber,
		Logger:      logger.With("run_id", runID),
		Observer:    observer,
		OnSegment: func(segment dispatch.Segment) {
			printer.Segment(segment)
			controller.Observe(segment)
			if collector != nil {
				collector.SegmentReleased()
			}
		},
		OnStarted: func(selection audio.Selection) {
			if selection.Warning != "" {
				errPrinter.Warn(selection.Warning)
			}
			printer.Listening(selection.Device.Describe(), listener != nil)
		},
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	controller = session.NewController(logger, p, extractor, recorder, session.Options{
		RunID:          runID,
		DrainTimeout:   cfg.Transcription.DrainTimeout(),
		ExtractTimeout: cfg.Extraction.Timeout(),
	})

	// IPC keeps answering status while a signalled run drains.
	serverCtx, serverCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	if listener != nil {
		go func() {
			serverErrCh <- ipc.Serve(serverCtx, listener, controller)
		}()
	} else {
		serverErrCh <- nil
	}

	result := controller.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		logger.Error("ipc server failed", "error", serverErr.Error())
	}

	logSessionResult(logger, result)

	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		var captureErr *audio.CaptureError
		if errors.As(result.Err, &captureErr) {
			r.printDeviceDiagnostics(ctx, cfg)
		}
		return 1
	}

	printer.Report(result)
	if result.RecordErr != nil {
		errPrinter.Warn(fmt.Sprintf("run was not archived: %v", result.RecordErr))
	}
	if result.CaptureErr != nil {
		r.printDeviceDiagnostics(ctx, cfg)
		return 1
	}
	return 0
}

// printDeviceDiagnostics lists the backend's inputs after a capture failure.
func (r Runner) printDeviceDiagnostics(ctx context.Context, cfg config.Config) {
	ctx = context.WithoutCancel(ctx)
	backend, err := audio.ParseBackend(cfg.Audio.Backend)
	if err != nil {
		return
	}
	devices, err := audio.ListDevices(ctx, backend)
	if err != nil {
		fmt.Fprintf(r.Stderr, "device listing failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.Stderr, "available %s inputs:\n", backend)
	display.New(r.Stderr).Devices(devices)
}

// acquireSocket claims the runtime socket. A missing runtime dir disables
// remote stop but does not prevent listening.
func (r Runner) acquireSocket(ctx context.Context, logger *slog.Logger) (net.Listener, string, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		logger.Warn("ipc disabled", "error", err.Error())
		return nil, "", nil
	}
	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return nil, "", err
		}
		logger.Warn("ipc disabled", "socket", socketPath, "error", err.Error())
		return nil, "", nil
	}
	return listener, socketPath, nil
}

func openArchive(ctx context.Context, configured string) (*archive.Store, error) {
	path, err := archive.ResolvePath(configured)
	if err != nil {
		return nil, err
	}
	return archive.Open(ctx, path)
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"run_id", result.RunID,
		"state", result.State,
		"stop_reason", string(result.StopReason),
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"audio_device", result.AudioDevice,
		"bytes_captured", result.BytesCaptured,
		"chunks", result.Chunks,
		"segments", len(result.Segments),
		"dropped", result.Stats.Dropped,
		"skipped", result.Stats.Skipped,
		"transcript_length", len(result.Transcript),
		"records", len(result.Records),
	}
	if result.CaptureErr != nil {
		fields = append(fields, "capture_error", result.CaptureErr.Error())
	}
	if result.AnalysisErr != nil {
		fields = append(fields, "analysis_error", result.AnalysisErr.Error())
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.IsNoListener(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
