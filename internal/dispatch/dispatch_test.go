package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/otumarastudio/youtube-summarizer/internal/audio"
	"github.com/otumarastudio/youtube-summarizer/internal/stt"
	"github.com/stretchr/testify/require"
)

type reply struct {
	text  string
	err   error
	delay time.Duration
	block bool // wait for ctx cancellation
	deaf  bool // sleep through cancellation
}

type fakeTranscriber struct {
	mu      sync.Mutex
	replies map[int]reply
	calls   []stt.Request
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	r := f.replies[req.Seq]
	f.mu.Unlock()

	if r.deaf {
		time.Sleep(r.delay)
		return r.text, nil
	}
	if r.block {
		<-ctx.Done()
		return "", &stt.TranscriptionError{Seq: req.Seq, Err: ctx.Err()}
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", &stt.TranscriptionError{Seq: req.Seq, Err: ctx.Err()}
		}
	}
	if r.err != nil {
		return "", &stt.TranscriptionError{Seq: req.Seq, Err: r.err}
	}
	return r.text, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type segmentRecorder struct {
	mu       sync.Mutex
	segments []Segment
}

func (r *segmentRecorder) sink(s Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, s)
}

func (r *segmentRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.segments))
	for _, s := range r.segments {
		out = append(out, s.Text)
	}
	return out
}

func chunk(seq int) audio.Chunk {
	return audio.Chunk{Seq: seq, Samples: []int16{int16(seq), 1, 2, 3}, Channels: 1}
}

func newTestDispatcher(t *testing.T, opts Options, tr stt.Transcriber) (*Dispatcher, *segmentRecorder) {
	t.Helper()
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels == 0 {
		opts.Channels = 1
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 16
	}
	rec := &segmentRecorder{}
	d, err := New(opts, tr, rec.sink, nil)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	return d, rec
}

func TestDispatcherDiscardsEmptyText(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{
		0: {text: "hello"},
		1: {text: ""},
		2: {text: "   "},
		3: {text: "world"},
	}}
	d, rec := newTestDispatcher(t, Options{}, tr)

	for i := 0; i < 4; i++ {
		require.True(t, d.Submit(chunk(i)))
	}
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, []string{"hello", "world"}, rec.texts())
	stats := d.Stats()
	require.Equal(t, 4, stats.Submitted)
	require.Equal(t, 2, stats.Transcribed)
	require.Equal(t, 2, stats.Empty)
}

func TestDispatcherSkipsFailedChunkAndContinues(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{
		0: {text: "A"},
		1: {err: errors.New("service unavailable")},
		2: {text: "C"},
	}}
	d, rec := newTestDispatcher(t, Options{}, tr)

	for i := 0; i < 3; i++ {
		d.Submit(chunk(i))
	}
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, []string{"A", "C"}, rec.texts())
	require.Equal(t, 1, d.Stats().Failed)
}

func TestDispatcherReleasesInSequenceOrder(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{
		0: {text: "first", delay: 80 * time.Millisecond},
		1: {text: "second", delay: 40 * time.Millisecond},
		2: {text: "third"},
	}}
	d, rec := newTestDispatcher(t, Options{Workers: 3}, tr)

	for i := 0; i < 3; i++ {
		d.Submit(chunk(i))
	}
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, []string{"first", "second", "third"}, rec.texts())
	for i, s := range rec.segments {
		require.Equal(t, i, s.Seq)
	}
}

func TestDispatcherQueueFullDropsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	tr := &blockingTranscriber{release: release}
	d, rec := newTestDispatcher(t, Options{QueueSize: 1}, tr)

	require.True(t, d.Submit(chunk(0)))
	require.Eventually(t, func() bool { return tr.started() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, d.Submit(chunk(1)))
	require.False(t, d.Submit(chunk(2)))

	close(release)
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, []string{"chunk-0", "chunk-1"}, rec.texts())
	require.Equal(t, 1, d.Stats().Skipped)
}

func TestDispatcherDrainTimeoutCancelsInFlight(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{
		0: {text: "done"},
		1: {block: true},
		2: {text: "never"},
	}}
	d, rec := newTestDispatcher(t, Options{}, tr)

	for i := 0; i < 3; i++ {
		d.Submit(chunk(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	require.ErrorIs(t, err, ErrDrainTimeout)

	require.Equal(t, []string{"done"}, rec.texts())
	require.Equal(t, 2, d.Stats().Dropped)
	require.Equal(t, 2, tr.callCount())
}

func TestDispatcherCloseAbandonsCallsThatIgnoreCancellation(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{
		0: {text: "done"},
		1: {text: "late", delay: 2 * time.Second, deaf: true},
		2: {text: "queued"},
	}}
	d, rec := newTestDispatcher(t, Options{}, tr)

	for i := 0; i < 3; i++ {
		require.True(t, d.Submit(chunk(i)))
	}
	require.Eventually(t, func() bool { return tr.callCount() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	err := d.Close(ctx)
	require.ErrorIs(t, err, ErrDrainTimeout)
	require.Less(t, time.Since(started), time.Second)

	require.Equal(t, []string{"done"}, rec.texts())
	stats := d.Stats()
	require.Equal(t, 1, stats.Transcribed)
	require.Equal(t, 2, stats.Dropped)
}

func TestDispatcherAbandonReleasesLaterResults(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{
		0: {text: "stuck", delay: 2 * time.Second, deaf: true},
		1: {text: "ready"},
	}}
	d, rec := newTestDispatcher(t, Options{Workers: 2}, tr)

	d.Submit(chunk(0))
	d.Submit(chunk(1))
	require.Eventually(t, func() bool { return d.Stats().Transcribed == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, rec.texts())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), ErrDrainTimeout)

	require.Equal(t, []string{"ready"}, rec.texts())
	require.Equal(t, 1, d.Stats().Dropped)
}

func TestDispatcherSubmitWaitQueuesBehindBusyWorker(t *testing.T) {
	release := make(chan struct{})
	tr := &blockingTranscriber{release: release}
	d, rec := newTestDispatcher(t, Options{QueueSize: 1}, tr)

	require.True(t, d.Submit(chunk(0)))
	require.Eventually(t, func() bool { return tr.started() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, d.Submit(chunk(1)))

	queued := make(chan bool, 1)
	go func() { queued <- d.SubmitWait(context.Background(), chunk(2)) }()

	select {
	case <-queued:
		t.Fatal("final chunk queued while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.True(t, <-queued)
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, []string{"chunk-0", "chunk-1", "chunk-2"}, rec.texts())
	require.Zero(t, d.Stats().Skipped)
}

func TestDispatcherSubmitWaitGivesUpAtDeadline(t *testing.T) {
	release := make(chan struct{})
	tr := &blockingTranscriber{release: release}
	d, rec := newTestDispatcher(t, Options{QueueSize: 1}, tr)

	d.Submit(chunk(0))
	require.Eventually(t, func() bool { return tr.started() == 1 }, time.Second, 5*time.Millisecond)
	d.Submit(chunk(1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.False(t, d.SubmitWait(ctx, chunk(2)))
	require.Equal(t, 1, d.Stats().Dropped)

	close(release)
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, []string{"chunk-0", "chunk-1"}, rec.texts())
}

func TestDispatcherSubmitWaitAfterCloseIsRejected(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{}}
	d, _ := newTestDispatcher(t, Options{}, tr)
	require.NoError(t, d.Close(context.Background()))

	require.False(t, d.SubmitWait(context.Background(), chunk(0)))
	require.Equal(t, 1, d.Stats().Skipped)
}

func TestDispatcherStopSignalDoesNotCancelWork(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{0: {text: "kept", delay: 30 * time.Millisecond}}}
	rec := &segmentRecorder{}
	d, err := New(Options{SampleRate: 16000, Channels: 1, QueueSize: 2}, tr, rec.sink, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	d.Submit(chunk(0))
	cancel()

	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, []string{"kept"}, rec.texts())
}

func TestDispatcherSubmitAfterCloseIsRejected(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{}}
	d, _ := newTestDispatcher(t, Options{}, tr)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	require.False(t, d.Submit(chunk(0)))
	require.Equal(t, 1, d.Stats().Skipped)
	require.Zero(t, tr.callCount())
}

func TestDispatcherCloseBeforeStartDropsQueued(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{}}
	d, err := New(Options{SampleRate: 16000, Channels: 1, QueueSize: 4}, tr, nil, nil)
	require.NoError(t, err)

	d.Submit(chunk(0))
	d.Submit(chunk(1))
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, 2, d.Stats().Dropped)
	require.Zero(t, tr.callCount())
}

type fakeGate struct {
	speech map[int16]bool
	err    error
}

func (g fakeGate) Speech(samples []int16, _ int) (bool, error) {
	return g.speech[samples[0]], g.err
}

func TestDispatcherGateSkipsSilentChunks(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{0: {text: "voiced"}, 1: {text: "silent"}}}
	d, rec := newTestDispatcher(t, Options{Gate: fakeGate{speech: map[int16]bool{0: true}}}, tr)

	d.Submit(chunk(0))
	d.Submit(chunk(1))
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, []string{"voiced"}, rec.texts())
	require.Equal(t, 1, tr.callCount())
	require.Equal(t, 1, d.Stats().Skipped)
}

func TestDispatcherGateErrorFallsThroughToTranscription(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{0: {text: "heard"}}}
	d, rec := newTestDispatcher(t, Options{Gate: fakeGate{err: errors.New("bad frame")}}, tr)

	d.Submit(chunk(0))
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, []string{"heard"}, rec.texts())
}

func TestDispatcherSendsWAVAndRequestMetadata(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{0: {text: "ok"}}}
	d, rec := newTestDispatcher(t, Options{Language: "ko", Prompt: "코스피"}, tr)

	c := chunk(0)
	c.Final = true
	d.Submit(c)
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, tr.calls, 1)
	req := tr.calls[0]
	require.Equal(t, "ko", req.Language)
	require.Equal(t, "코스피", req.Prompt)
	require.Equal(t, "RIFF", string(req.Audio[:4]))
	require.Len(t, req.Audio, 44+2*len(c.Samples))
	require.True(t, rec.segments[0].Final)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(Options{SampleRate: 16000, Channels: 1}, nil, nil, nil)
	require.Error(t, err)

	_, err = New(Options{SampleRate: 0, Channels: 1}, &fakeTranscriber{}, nil, nil)
	require.Error(t, err)

	d, err := New(Options{SampleRate: 16000, Channels: 1}, &fakeTranscriber{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, d.opts.Workers)
	require.Equal(t, 1, d.opts.QueueSize)
	require.NoError(t, d.Start(context.Background()))
	require.Error(t, d.Start(context.Background()))
	require.NoError(t, d.Close(context.Background()))
}

type blockingTranscriber struct {
	mu      sync.Mutex
	count   int
	release chan struct{}
}

func (b *blockingTranscriber) Transcribe(_ context.Context, req stt.Request) (string, error) {
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	<-b.release
	return "chunk-" + string(rune('0'+req.Seq)), nil
}

func (b *blockingTranscriber) started() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

type outcomeCounter struct {
	counts map[string]int
}

func (o *outcomeCounter) ChunkCompleted(outcome string, _ time.Duration) {
	o.counts[outcome]++
}

func TestDispatcherReportsOutcomesToObserver(t *testing.T) {
	tr := &fakeTranscriber{replies: map[int]reply{
		0: {text: "A"},
		1: {text: ""},
		2: {err: errors.New("boom")},
	}}
	obs := &outcomeCounter{counts: map[string]int{}}
	d, _ := newTestDispatcher(t, Options{Observer: obs}, tr)

	for i := 0; i < 3; i++ {
		d.Submit(chunk(i))
	}
	require.NoError(t, d.Close(context.Background()))
	d.Submit(chunk(3))

	require.Equal(t, map[string]int{"transcribed": 1, "empty": 1, "failed": 1, "skipped": 1}, obs.counts)
}
