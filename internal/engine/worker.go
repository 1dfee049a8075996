package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/juju/ratelimit"

	"github.com/datallboy/rangedl/internal/domain"
	"github.com/datallboy/rangedl/internal/infra/logger"
	"github.com/datallboy/rangedl/internal/transport"
)

const copyBufferSize = 32 * 1024

// CloseReason tells why a segment stopped without finishing.
type CloseReason string

const (
	CloseThrottled CloseReason = "throttled"
	ClosePaused    CloseReason = "paused"
)

var (
	errPaused    = errors.New("segment paused")
	errDestroyed = errors.New("segment destroyed")
)

// SegmentEvent is a notification from a worker to its orchestrator. Status is
// SegmentRunning for progress, otherwise the state the worker just entered.
type SegmentEvent struct {
	Index  int
	Gen    uint64
	Status domain.SegmentStatus

	// Written is the number of bytes of the segment on disk.
	Written int64
	// Position is the absolute offset in the resource after Written bytes.
	Position int64

	Reason CloseReason
	Err    error
}

type WorkerConfig struct {
	Index     int
	URL       string
	Header    http.Header
	PartPath  string
	Range     domain.SegmentRange
	Transport transport.Transport

	// Limiter is optional and may be shared by all workers of a job.
	Limiter *ratelimit.Bucket
	Logger  *logger.Logger
}

// Worker owns one segment range and its part file. Its on-disk length is the
// only resume state; every run re-derives the offset from it.
type Worker struct {
	cfg    WorkerConfig
	parent context.Context
	events chan<- SegmentEvent
	quit   <-chan struct{}
	log    *logger.Logger

	mu     sync.Mutex
	status domain.SegmentStatus
	gen    uint64
	cancel context.CancelCauseFunc

	// Closed when the most recently spawned goroutine has returned. Each new
	// goroutine waits on its predecessor so events of one segment stay ordered.
	done chan struct{}
}

// NewWorker returns an idle worker. Runs derive their context from parent;
// event delivery gives up once quit is closed.
func NewWorker(parent context.Context, cfg WorkerConfig, events chan<- SegmentEvent, quit <-chan struct{}) *Worker {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Worker{
		cfg:    cfg,
		parent: parent,
		events: events,
		quit:   quit,
		log:    log,
		status: domain.SegmentIdle,
	}
}

func (w *Worker) Index() int { return w.cfg.Index }

func (w *Worker) Range() domain.SegmentRange { return w.cfg.Range }

func (w *Worker) Status() domain.SegmentStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Start begins or resumes the transfer. It is a no-op unless the worker is
// idle, closed or errored. The returned generation tags every event of the
// run; ok reports whether a run was started.
func (w *Worker) Start() (gen uint64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.status.Resumable() {
		return w.gen, false
	}

	w.gen++
	gen = w.gen
	w.transition(domain.SegmentRunning)

	offset, err := w.inspect()
	if err != nil {
		w.transition(domain.SegmentError)
		ev := w.event(gen, domain.SegmentError, 0)
		ev.Err = fmt.Errorf("%w: segment %d: %v", domain.ErrTransfer, w.cfg.Index, err)
		w.spawn(func() { w.emit(ev) })
		return gen, true
	}

	if offset == w.cfg.Range.Len() {
		w.transition(domain.SegmentEnded)
		ev := w.event(gen, domain.SegmentEnded, offset)
		w.spawn(func() { w.emit(ev) })
		return gen, true
	}

	ctx, cancel := context.WithCancelCause(w.parent)
	w.cancel = cancel
	w.spawn(func() { w.run(ctx, gen, offset) })

	return gen, true
}

// Stop suspends a running transfer; the worker reports closed/paused and
// keeps its bytes.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status == domain.SegmentRunning && w.cancel != nil {
		w.cancel(errPaused)
	}
}

// Destroy abandons the segment. Repeated calls are no-ops.
func (w *Worker) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.status {
	case domain.SegmentDestroyed:
		return
	case domain.SegmentRunning:
		if w.cancel != nil {
			w.cancel(errDestroyed)
		}
	default:
		w.transition(domain.SegmentDestroyed)
		ev := w.event(w.gen, domain.SegmentDestroyed, 0)
		w.spawn(func() { w.emit(ev) })
	}
}

// inspect decides where a run resumes from. Called with mu held.
func (w *Worker) inspect() (int64, error) {
	rng := w.cfg.Range

	info, err := os.Stat(w.cfg.PartPath)
	if errors.Is(err, os.ErrNotExist) {
		if rng.Len() == 0 {
			f, err := os.Create(w.cfg.PartPath)
			if err != nil {
				return 0, err
			}
			f.Close()
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	length := info.Size()
	if rng.Start+length > rng.End+1 {
		w.log.Warn("Segment %d: %v (%d bytes on disk, range holds %d), restarting", w.cfg.Index, domain.ErrCorrupt, length, rng.Len())
		if err := os.Truncate(w.cfg.PartPath, 0); err != nil {
			return 0, err
		}
		return 0, nil
	}

	return length, nil
}

func (w *Worker) run(ctx context.Context, gen uint64, offset int64) {
	rng := w.cfg.Range

	if !w.emit(w.event(gen, domain.SegmentRunning, offset)) {
		w.finish(ctx, gen, domain.SegmentClosed, offset, nil)
		return
	}

	f, err := os.OpenFile(w.cfg.PartPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.finish(ctx, gen, domain.SegmentError, offset, err)
		return
	}
	defer f.Close()

	resp, err := w.cfg.Transport.FetchRange(ctx, w.cfg.URL, w.cfg.Header, rng.Start+offset, rng.End)
	if err != nil {
		w.finish(ctx, gen, w.classify(ctx, err), offset, err)
		return
	}
	defer resp.Body.Close()

	if !resp.Partial && rng.Start+offset != 0 {
		if rng.Start != 0 {
			w.finish(ctx, gen, domain.SegmentError, offset, errors.New("server ignored the range request"))
			return
		}

		// The body restarts at byte 0, so the part file does too.
		if err := f.Truncate(0); err != nil {
			w.finish(ctx, gen, domain.SegmentError, offset, err)
			return
		}
		offset = 0
		w.emit(w.event(gen, domain.SegmentRunning, 0))
	}

	var body io.Reader = resp.Body
	if w.cfg.Limiter != nil {
		body = ratelimit.Reader(body, w.cfg.Limiter)
	}

	buf := make([]byte, copyBufferSize)
	written := offset
	remaining := rng.Len() - offset

	var readErr error
	for remaining > 0 {
		chunk := buf
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, rerr := body.Read(chunk)
		if n > 0 {
			if _, werr := f.Write(chunk[:n]); werr != nil {
				w.finish(ctx, gen, domain.SegmentError, written, werr)
				return
			}
			written += int64(n)
			remaining -= int64(n)
			w.emit(w.event(gen, domain.SegmentRunning, written))
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			readErr = rerr
			break
		}
	}

	switch {
	case remaining == 0:
		w.finish(ctx, gen, domain.SegmentEnded, written, nil)
	case readErr != nil:
		w.finish(ctx, gen, w.classify(ctx, readErr), written, readErr)
	default:
		// Clean EOF short of the range end: the server hung up on us.
		w.finish(ctx, gen, domain.SegmentClosed, written, domain.ErrThrottled)
	}
}

// classify maps a failed run to the state it ends in.
func (w *Worker) classify(ctx context.Context, err error) domain.SegmentStatus {
	switch {
	case errors.Is(context.Cause(ctx), errDestroyed):
		return domain.SegmentDestroyed
	case ctx.Err() != nil:
		return domain.SegmentClosed
	case errors.Is(err, domain.ErrThrottled), errors.Is(err, io.ErrUnexpectedEOF):
		return domain.SegmentClosed
	default:
		return domain.SegmentError
	}
}

func (w *Worker) finish(ctx context.Context, gen uint64, status domain.SegmentStatus, written int64, cause error) {
	ev := w.event(gen, status, written)

	switch status {
	case domain.SegmentClosed:
		ev.Reason = CloseThrottled
		if ctx.Err() != nil {
			ev.Reason = ClosePaused
		}
	case domain.SegmentError:
		ev.Err = fmt.Errorf("%w: segment %d: %v", domain.ErrTransfer, w.cfg.Index, cause)
	}

	w.mu.Lock()
	w.transition(status)
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel(nil)
	}

	if status == domain.SegmentClosed && ev.Reason == CloseThrottled {
		w.log.Debug("Segment %d closed by server at %d/%d bytes: %v", w.cfg.Index, written, w.cfg.Range.Len(), cause)
	}

	w.emit(ev)
}

// transition applies next if the state machine allows it. Called with mu held.
func (w *Worker) transition(next domain.SegmentStatus) {
	if !w.status.CanTransition(next) {
		w.log.Error("Segment %d: %v %s -> %s", w.cfg.Index, domain.ErrInvalidTransition, w.status, next)
		return
	}
	w.status = next
}

func (w *Worker) event(gen uint64, status domain.SegmentStatus, written int64) SegmentEvent {
	return SegmentEvent{
		Index:    w.cfg.Index,
		Gen:      gen,
		Status:   status,
		Written:  written,
		Position: w.cfg.Range.Start + written,
	}
}

func (w *Worker) emit(ev SegmentEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.quit:
		return false
	}
}

// spawn runs fn after every previously spawned goroutine. Called with mu held.
func (w *Worker) spawn(fn func()) {
	prev := w.done
	done := make(chan struct{})
	w.done = done

	go func() {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-w.quit:
				return
			}
		}
		fn()
	}()
}
