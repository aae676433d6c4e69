// Package dispatch hands buffered audio chunks to transcription workers and
// releases their results in capture order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/otumarastudio/youtube-summarizer/internal/audio"
	"github.com/otumarastudio/youtube-summarizer/internal/stt"
	"github.com/otumarastudio/youtube-summarizer/internal/wav"
)

// ErrDrainTimeout is returned by Close when queued work outlives the drain deadline.
var ErrDrainTimeout = errors.New("dispatch: drain timed out")

// cancelGrace is how long Close waits for cancelled calls to return before
// abandoning them.
const cancelGrace = 500 * time.Millisecond

// Gate decides whether a chunk holds speech worth transcribing.
type Gate interface {
	Speech(samples []int16, channels int) (bool, error)
}

// Segment is one non-empty transcription result, delivered in Seq order.
type Segment struct {
	Seq     int
	Text    string
	Final   bool
	Latency time.Duration
}

// Observer is told about every chunk outcome, under the dispatcher lock.
type Observer interface {
	ChunkCompleted(outcome string, latency time.Duration)
}

// SegmentSink receives segments in emission order. It is called with the
// dispatcher's completion lock held.
type SegmentSink func(Segment)

// Options configures encoding, transcription, and queueing.
type Options struct {
	SampleRate int
	Channels   int
	Language   string
	Prompt     string
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	Gate       Gate
	Observer   Observer
}

// Stats counts chunk outcomes.
type Stats struct {
	Submitted   int
	Transcribed int
	Empty       int
	Failed      int
	Skipped     int
	Dropped     int
}

type outcomeKind int

const (
	outcomeDelivered outcomeKind = iota
	outcomeEmpty
	outcomeFailed
	outcomeSkipped
	outcomeDropped
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeDelivered:
		return "transcribed"
	case outcomeEmpty:
		return "empty"
	case outcomeFailed:
		return "failed"
	case outcomeSkipped:
		return "skipped"
	case outcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type outcome struct {
	kind    outcomeKind
	text    string
	final   bool
	latency time.Duration
}

// Dispatcher owns a bounded chunk queue and its worker pool.
type Dispatcher struct {
	opts        Options
	transcriber stt.Transcriber
	sink        SegmentSink
	logger      *slog.Logger

	queue      chan audio.Chunk
	closing    chan struct{}
	senders    sync.WaitGroup
	workCtx    context.Context
	cancelWork context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	started   bool
	closed    bool
	abandoned bool
	inflight  map[int]struct{}
	pending   map[int]outcome
	next      int
	stats     Stats
}

// New validates options and builds an unstarted dispatcher.
func New(opts Options, transcriber stt.Transcriber, sink SegmentSink, logger *slog.Logger) (*Dispatcher, error) {
	if transcriber == nil {
		return nil, errors.New("dispatch: transcriber is required")
	}
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("dispatch: invalid audio format rate=%d channels=%d", opts.SampleRate, opts.Channels)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if sink == nil {
		sink = func(Segment) {}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Dispatcher{
		opts:        opts,
		transcriber: transcriber,
		sink:        sink,
		logger:      logger,
		queue:       make(chan audio.Chunk, opts.QueueSize),
		closing:     make(chan struct{}),
		inflight:    make(map[int]struct{}),
		pending:     make(map[int]outcome),
	}, nil
}

// Start launches workers. Their context survives cancellation of ctx so a
// stop signal never aborts in-flight transcription; only Close's deadline does.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatch: already started")
	}
	if d.closed {
		return errors.New("dispatch: already closed")
	}
	d.workCtx, d.cancelWork = context.WithCancel(context.WithoutCancel(ctx))
	d.started = true

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return nil
}

// Submit enqueues a chunk without blocking. A full queue or a closed
// dispatcher drops the chunk and records it as skipped so later results are
// not held back.
func (d *Dispatcher) Submit(chunk audio.Chunk) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Submitted++
	if d.closed {
		d.logger.Warn("chunk submitted after close; dropping", "seq", chunk.Seq)
		d.completeLocked(chunk.Seq, outcome{kind: outcomeSkipped})
		return false
	}

	select {
	case d.queue <- chunk:
		return true
	default:
		d.logger.Warn("transcription queue full; dropping chunk",
			"seq", chunk.Seq,
			"queue_size", d.opts.QueueSize,
		)
		d.completeLocked(chunk.Seq, outcome{kind: outcomeSkipped})
		return false
	}
}

// SubmitWait enqueues a chunk, waiting for queue space until ctx ends. It is
// for callers off the capture path, such as the final chunk of a drain. A
// chunk that never reaches the queue is recorded as dropped.
func (d *Dispatcher) SubmitWait(ctx context.Context, chunk audio.Chunk) bool {
	d.mu.Lock()
	d.stats.Submitted++
	if d.closed {
		d.logger.Warn("chunk submitted after close; dropping", "seq", chunk.Seq)
		d.completeLocked(chunk.Seq, outcome{kind: outcomeSkipped})
		d.mu.Unlock()
		return false
	}
	d.senders.Add(1)
	d.mu.Unlock()
	defer d.senders.Done()

	select {
	case d.queue <- chunk:
		return true
	case <-ctx.Done():
		d.logger.Warn("drain deadline passed before chunk was queued; dropping", "seq", chunk.Seq)
	case <-d.closing:
		d.logger.Warn("dispatcher closed while chunk waited for queue space; dropping", "seq", chunk.Seq)
	}

	d.mu.Lock()
	d.completeLocked(chunk.Seq, outcome{kind: outcomeDropped})
	d.mu.Unlock()
	return false
}

// Close stops intake and waits for queued and in-flight chunks. When ctx ends
// first, remaining work is cancelled and ErrDrainTimeout is returned. Calls
// that ignore cancellation are abandoned after a short grace period and
// counted as dropped; their late results are discarded.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.closing)
	d.mu.Unlock()

	// The queue may only close once no SubmitWait can still send on it.
	d.senders.Wait()

	d.mu.Lock()
	close(d.queue)
	started := d.started
	if !started {
		for chunk := range d.queue {
			d.logger.Warn("dispatcher never started; dropping chunk", "seq", chunk.Seq)
			d.completeLocked(chunk.Seq, outcome{kind: outcomeDropped})
		}
	}
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelWork()
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			d.cancelWork()
			return nil
		default:
		}
	}

	d.cancelWork()
	grace := time.NewTimer(cancelGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		d.abandon()
	}
	return ErrDrainTimeout
}

// abandon gives up on chunks whose workers have not returned. In-flight and
// still-queued chunks are recorded as dropped and every result already
// waiting for an earlier sequence number is released.
func (d *Dispatcher) abandon() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.abandoned = true
	for seq := range d.inflight {
		d.logger.Warn("transcription ignored cancellation; abandoning chunk", "seq", seq)
		delete(d.inflight, seq)
		d.completeLocked(seq, outcome{kind: outcomeDropped})
	}
	for chunk := range d.queue {
		d.logger.Warn("drain deadline passed; dropping queued chunk", "seq", chunk.Seq)
		d.completeLocked(chunk.Seq, outcome{kind: outcomeDropped})
	}

	// A chunk a worker received but has not registered yet leaves a gap.
	seqs := make([]int, 0, len(d.pending))
	for seq := range d.pending {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for _, seq := range seqs {
		next := d.pending[seq]
		delete(d.pending, seq)
		if next.kind == outcomeDelivered {
			d.sink(Segment{Seq: seq, Text: next.text, Final: next.final, Latency: next.latency})
		}
		d.next = seq + 1
	}
}

// Stats returns a snapshot of outcome counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for chunk := range d.queue {
		d.mu.Lock()
		if d.abandoned {
			d.completeLocked(chunk.Seq, outcome{kind: outcomeDropped})
			d.mu.Unlock()
			continue
		}
		d.inflight[chunk.Seq] = struct{}{}
		d.mu.Unlock()

		result := d.process(chunk)

		d.mu.Lock()
		// abandon already accounted for this chunk
		if _, ok := d.inflight[chunk.Seq]; ok {
			delete(d.inflight, chunk.Seq)
			d.completeLocked(chunk.Seq, result)
		}
		d.mu.Unlock()
	}
}

func (d *Dispatcher) process(chunk audio.Chunk) outcome {
	if d.workCtx.Err() != nil {
		d.logger.Warn("drain deadline passed; dropping queued chunk", "seq", chunk.Seq)
		return outcome{kind: outcomeDropped}
	}

	if d.opts.Gate != nil {
		speech, err := d.opts.Gate.Speech(chunk.Samples, chunk.Channels)
		switch {
		case err != nil:
			d.logger.Warn("voice activity check failed; transcribing anyway", "seq", chunk.Seq, "error", err.Error())
		case !speech:
			d.logger.Debug("no speech in chunk; skipping", "seq", chunk.Seq)
			return outcome{kind: outcomeSkipped}
		}
	}

	payload, err := wav.Bytes(chunk.Samples, d.opts.SampleRate, chunk.Channels)
	if err != nil {
		d.logger.Warn("encode chunk failed", "seq", chunk.Seq, "error", err.Error())
		return outcome{kind: outcomeFailed}
	}

	callCtx := d.workCtx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(d.workCtx, d.opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	text, err := d.transcriber.Transcribe(callCtx, stt.Request{
		Seq:      chunk.Seq,
		Audio:    payload,
		Language: d.opts.Language,
		Prompt:   d.opts.Prompt,
	})
	latency := time.Since(started)
	if err != nil {
		if d.workCtx.Err() != nil {
			d.logger.Warn("drain deadline passed; dropping in-flight chunk", "seq", chunk.Seq, "error", err.Error())
			return outcome{kind: outcomeDropped}
		}
		d.logger.Warn("chunk transcription failed", "seq", chunk.Seq, "error", err.Error())
		return outcome{kind: outcomeFailed}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		d.logger.Debug("empty transcription discarded", "seq", chunk.Seq)
		return outcome{kind: outcomeEmpty}
	}

	d.logger.Debug("chunk transcribed",
		"seq", chunk.Seq,
		"chars", len(text),
		"latency_ms", latency.Milliseconds(),
	)
	return outcome{kind: outcomeDelivered, text: text, final: chunk.Final, latency: latency}
}

// completeLocked records an outcome and releases every contiguous result
// starting at the next expected sequence number.
func (d *Dispatcher) completeLocked(seq int, result outcome) {
	switch result.kind {
	case outcomeDelivered:
		d.stats.Transcribed++
	case outcomeEmpty:
		d.stats.Empty++
	case outcomeFailed:
		d.stats.Failed++
	case outcomeSkipped:
		d.stats.Skipped++
	case outcomeDropped:
		d.stats.Dropped++
	}
	if d.opts.Observer != nil {
		d.opts.Observer.ChunkCompleted(result.kind.String(), result.latency)
	}

	if seq < d.next {
		return
	}
	d.pending[seq] = result
	for {
		next, ok := d.pending[d.next]
		if !ok {
			return
		}
		delete(d.pending, d.next)
		if next.kind == outcomeDelivered {
			d.sink(Segment{Seq: d.next, Text: next.text, Final: next.final, Latency: next.latency})
		}
		d.next++
	}
}
