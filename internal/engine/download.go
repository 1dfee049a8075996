package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"golang.org/x/time/rate"

	"github.com/datallboy/rangedl/internal/domain"
	"github.com/datallboy/rangedl/internal/infra/logger"
	"github.com/datallboy/rangedl/internal/transport"
)

const (
	defaultThrottleInterval = 100 * time.Millisecond

	// stallRetryDelay spaces re-admissions when every remaining segment is
	// waiting on a throttling server.
	stallRetryDelay = time.Second
)

type EventType string

const (
	EventData  EventType = "data"
	EventError EventType = "error"
	EventEnd   EventType = "end"
)

// Event is delivered to Options.Handler. Job is set for data events, Err for
// error events and Path for the end event.
type Event struct {
	Type EventType
	Job  domain.Job
	Err  error
	Path string
}

// Handler receives events in order from the goroutine that owns the job. It
// must not call Pause, Resume or Remove synchronously.
type Handler func(Event)

type Options struct {
	Connections   int
	SaveDirectory string
	// Filename defaults to the last path element of the URL.
	Filename string
	Header   http.Header

	ThrottleInterval time.Duration
	SpeedSamples     int
	ResumeStagger    time.Duration
	// SpeedLimit caps the whole job in bytes per second. Zero means unlimited.
	SpeedLimit int64

	Handler Handler
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdRemove
)

type command struct {
	kind  cmdKind
	reply chan error
}

// Download drives one job: it owns the Job record, its segment workers, the
// overload queue, the sidecar and the final merge. All of that state is only
// touched by the goroutine started in Start.
type Download struct {
	url       string
	opts      Options
	transport transport.Transport
	log       *logger.Logger

	cmds      chan command
	segEvents chan SegmentEvent
	admit     chan int
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once

	mu       sync.Mutex
	snapshot domain.Job
	err      error

	// Owned by the run loop.
	ctx       context.Context
	job       *domain.Job
	sidecar   string
	workers   []*Worker
	gens      []uint64
	seg       []domain.SegmentStatus
	queue     []int
	pending   int
	speed     *SpeedEstimator
	sometimes *rate.Sometimes
	flushT    *time.Timer
	flushC    <-chan time.Time
	dirty     bool
	stopping  bool
	removing  bool
	finished  bool
	failErr   error
	result    error
}

func NewDownload(t transport.Transport, log *logger.Logger, url string, opts Options) *Download {
	if log == nil {
		log = logger.Nop()
	}
	if opts.ThrottleInterval <= 0 {
		opts.ThrottleInterval = defaultThrottleInterval
	}
	if opts.SpeedSamples <= 0 {
		opts.SpeedSamples = defaultSpeedSamples
	}

	return &Download{
		url:       url,
		opts:      opts,
		transport: t,
		log:       log,
		cmds:      make(chan command),
		segEvents: make(chan SegmentEvent, 64),
		admit:     make(chan int),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start prepares the job and launches its workers. Invalid input and probe
// failures are returned directly and no segment is started. Cancelling ctx
// pauses the job, persists it and makes Wait return ctx.Err().
func (d *Download) Start(ctx context.Context) error {
	started := false
	var err error
	d.startOnce.Do(func() {
		started = true
		err = d.start(ctx)
	})
	if !started {
		return fmt.Errorf("%w: download already started", domain.ErrInvalidTransition)
	}
	return err
}

func (d *Download) start(ctx context.Context) error {
	filename := d.opts.Filename
	if filename == "" {
		filename = transport.FilenameFromURL(d.url)
	}
	if err := ValidateInputs(d.url, d.opts.Connections, d.opts.SaveDirectory, filename); err != nil {
		d.abort(err)
		return err
	}
	dest := filepath.Join(d.opts.SaveDirectory, filename)
	d.sidecar = domain.SidecarPath(dest)

	job, err := LoadSidecar(d.sidecar)
	switch {
	case err == nil:
		d.log.Info("Resuming %s from %s", filename, d.sidecar)
		job.Status = domain.StatusActive
		if d.opts.Header != nil {
			job.Headers = d.opts.Header
		}
	case errors.Is(err, os.ErrNotExist):
		job = nil
	default:
		d.log.Warn("Ignoring unusable sidecar: %v", err)
		job = nil
	}

	if job == nil {
		job, err = d.plan(ctx, dest)
		if err != nil {
			d.abort(err)
			return err
		}
		// Leftovers without a sidecar cannot be trusted.
		if err := removeParts(job.PartFiles); err != nil {
			d.abort(err)
			return err
		}
	}

	d.ctx = ctx
	d.job = job
	d.build(ctx)

	d.mu.Lock()
	d.snapshot = job.Clone()
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

func (d *Download) plan(ctx context.Context, dest string) (*domain.Job, error) {
	probe, err := d.transport.Probe(ctx, d.url, d.opts.Header)
	if err != nil {
		return nil, err
	}
	if probe.Length < 0 {
		return nil, fmt.Errorf("%w: unknown content length", domain.ErrMetadata)
	}

	n := connectionsFor(d.opts.Connections, probe.Length, probe.RangeSupported)
	ranges, err := PlanRanges(probe.Length, n)
	if err != nil {
		return nil, err
	}

	d.log.Debug("Planned %d segment(s) for %d bytes (ranges supported: %t)", n, probe.Length, probe.RangeSupported)
	return domain.NewJob(d.url, d.opts.SaveDirectory, filepath.Base(dest), probe.Length, ranges, d.opts.Header), nil
}

func (d *Download) build(ctx context.Context) {
	n := d.job.Threads

	var limiter *ratelimit.Bucket
	if d.opts.SpeedLimit > 0 {
		limiter = ratelimit.NewBucketWithRate(float64(d.opts.SpeedLimit), d.opts.SpeedLimit)
	}

	d.workers = make([]*Worker, n)
	d.gens = make([]uint64, n)
	d.seg = make([]domain.SegmentStatus, n)
	for i := range n {
		d.seg[i] = domain.SegmentIdle
		d.workers[i] = NewWorker(ctx, WorkerConfig{
			Index:     i,
			URL:       d.job.URL,
			Header:    d.job.Headers,
			PartPath:  d.job.PartFiles[i],
			Range:     d.job.SegmentsRange[i],
			Transport: d.transport,
			Limiter:   limiter,
			Logger:    d.log,
		}, d.segEvents, d.quit)
	}

	d.speed = NewSpeedEstimator(d.opts.SpeedSamples)
	d.sometimes = &rate.Sometimes{Interval: d.opts.ThrottleInterval}
	d.flushT = time.NewTimer(d.opts.ThrottleInterval)
	d.flushT.Stop()
}

// abort finishes a download that never started.
func (d *Download) abort(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	close(d.quit)
	close(d.done)
}

func (d *Download) run(ctx context.Context) {
	defer func() {
		d.flushT.Stop()
		d.mu.Lock()
		d.err = d.result
		d.mu.Unlock()
		close(d.quit)
		close(d.done)
	}()

	d.flush()
	for i := range d.workers {
		d.startSegment(i)
	}

	ctxDone := ctx.Done()
	for !d.finished {
		select {
		case ev := <-d.segEvents:
			d.handleSegment(ev)
		case cmd := <-d.cmds:
			cmd.reply <- d.handleCommand(cmd.kind)
		case i := <-d.admit:
			d.pending--
			d.startSegment(i)
			d.settle()
		case <-d.flushC:
			d.flushC = nil
			if d.dirty {
				d.flush()
			}
		case <-ctxDone:
			ctxDone = nil
			d.shutdown(ctx)
		}
	}
}

func (d *Download) handleSegment(ev SegmentEvent) {
	i := ev.Index
	if ev.Gen != d.gens[i] {
		return
	}

	d.seg[i] = ev.Status
	if ev.Status != domain.SegmentDestroyed {
		d.job.Positions[i] = ev.Written
		d.job.Recalculate()
	}

	switch ev.Status {
	case domain.SegmentRunning:
		d.touch()
		return

	case domain.SegmentEnded:
		if !d.removing && !d.stopping && d.job.Status == domain.StatusActive && len(d.queue) > 0 {
			next := d.queue[0]
			d.queue = d.queue[1:]
			d.admitLater(next, d.opts.ResumeStagger)
		}

	case domain.SegmentClosed:
		if !d.removing && !d.stopping && d.job.Status == domain.StatusActive {
			switch ev.Reason {
			case CloseThrottled:
				if !slices.Contains(d.queue, i) {
					d.queue = append(d.queue, i)
				}
			case ClosePaused:
				// A pause that lost the race against a resume.
				d.startSegment(i)
			}
		}

	case domain.SegmentError:
		d.log.Error("%v", ev.Err)
		d.emit(Event{Type: EventError, Err: ev.Err})
		d.failErr = ev.Err
	}

	switch {
	case d.removing:
		if ev.Status != domain.SegmentDestroyed {
			d.workers[i].Destroy()
		}
		d.checkRemoved()
	case d.stopping:
		d.checkStopped()
	default:
		d.settle()
	}

	if !d.finished {
		d.touch()
	}
}

// settle moves an active job forward once its segments allow it.
func (d *Download) settle() {
	if d.removing || d.stopping || d.job.Status != domain.StatusActive {
		return
	}

	if d.allIn(domain.SegmentEnded) {
		d.merge()
		return
	}

	if d.count(domain.SegmentRunning) > 0 || d.pending > 0 {
		return
	}

	if len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.admitLater(next, max(d.opts.ResumeStagger, stallRetryDelay))
		return
	}

	if d.count(domain.SegmentError) > 0 && d.count(domain.SegmentClosed) == 0 && d.count(domain.SegmentIdle) == 0 {
		d.fail(d.failErr)
	}
}

func (d *Download) merge() {
	if err := d.job.Transition(domain.StatusBuilding); err != nil {
		d.log.Error("%v", err)
		return
	}
	d.flush()

	path, err := Merge(d.job.PartFiles, d.job.Path())
	if err != nil {
		d.log.Error("Merging %s: %v", d.job.Filename, err)
		d.emit(Event{Type: EventError, Err: err})
		d.fail(err)
		return
	}

	if err := d.job.Transition(domain.StatusComplete); err != nil {
		d.log.Error("%v", err)
	}

	if err := RemoveSidecar(d.sidecar); err != nil {
		d.log.Warn("Removing sidecar: %v", err)
	}
	if err := removeParts(d.job.PartFiles); err != nil {
		d.log.Warn("Removing part files: %v", err)
	}

	d.log.Info("Completed %s (%d bytes)", path, d.job.Filesize)
	d.flush()
	d.emit(Event{Type: EventEnd, Path: path})
	d.result = nil
	d.finished = true
}

func (d *Download) fail(err error) {
	if err := d.job.Transition(domain.StatusFailed); err != nil {
		d.log.Error("%v", err)
		return
	}
	d.failErr = err
	d.flush()
}

func (d *Download) handleCommand(kind cmdKind) error {
	switch kind {
	case cmdPause:
		if d.removing {
			return fmt.Errorf("%w: job is being removed", domain.ErrInvalidTransition)
		}
		if d.job.Status == domain.StatusPaused {
			return nil
		}
		if err := d.job.Transition(domain.StatusPaused); err != nil {
			return err
		}
		for _, w := range d.workers {
			w.Stop()
		}
		d.flush()
		return nil

	case cmdResume:
		if d.removing {
			return fmt.Errorf("%w: job is being removed", domain.ErrInvalidTransition)
		}
		if d.job.Status == domain.StatusActive {
			return nil
		}
		if err := d.job.Transition(domain.StatusActive); err != nil {
			return err
		}
		d.queue = nil
		d.failErr = nil
		for i, st := range d.seg {
			if st.Resumable() {
				d.startSegment(i)
			}
		}
		d.flush()
		d.settle()
		return nil

	case cmdRemove:
		if d.removing {
			return nil
		}
		if !d.job.Status.CanTransition(domain.StatusRemoved) {
			return fmt.Errorf("%w: job %s cannot be removed", domain.ErrInvalidTransition, d.job.Status)
		}
		d.removing = true
		d.queue = nil
		for _, w := range d.workers {
			w.Destroy()
		}
		return nil
	}

	return nil
}

func (d *Download) checkRemoved() {
	if !d.allIn(domain.SegmentDestroyed) {
		return
	}

	if err := removeParts(d.job.PartFiles); err != nil {
		d.log.Warn("Removing part files: %v", err)
	}
	if err := RemoveSidecar(d.sidecar); err != nil {
		d.log.Warn("Removing sidecar: %v", err)
	}
	if err := d.job.Transition(domain.StatusRemoved); err != nil {
		d.log.Error("%v", err)
	}

	d.log.Info("Removed %s", d.job.Filename)
	d.flush()
	d.result = nil
	d.finished = true
}

func (d *Download) shutdown(ctx context.Context) {
	d.stopping = true
	d.result = ctx.Err()

	if d.job.Status == domain.StatusActive {
		if err := d.job.Transition(domain.StatusPaused); err != nil {
			d.log.Error("%v", err)
		}
	}
	if d.job.Status == domain.StatusFailed && d.failErr != nil {
		d.result = d.failErr
	}

	if !d.removing {
		d.checkStopped()
	}
}

func (d *Download) checkStopped() {
	if d.count(domain.SegmentRunning) > 0 {
		return
	}
	d.flush()
	d.finished = true
}

func (d *Download) startSegment(i int) {
	if d.stopping || d.removing || d.job.Status != domain.StatusActive || d.ctx.Err() != nil {
		return
	}
	if gen, ok := d.workers[i].Start(); ok {
		d.gens[i] = gen
		d.seg[i] = domain.SegmentRunning
	}
}

func (d *Download) admitLater(i int, delay time.Duration) {
	if delay <= 0 {
		d.startSegment(i)
		return
	}

	d.pending++
	time.AfterFunc(delay, func() {
		select {
		case d.admit <- i:
		case <-d.quit:
		}
	})
}

// touch marks the job dirty and flushes it at most once per throttle
// interval, arming a trailing flush for updates that were held back.
func (d *Download) touch() {
	d.dirty = true
	d.sometimes.Do(d.flush)
	if d.dirty && d.flushC == nil {
		d.flushT.Reset(d.opts.ThrottleInterval)
		d.flushC = d.flushT.C
	}
}

// flush persists the job and publishes a data event.
func (d *Download) flush() {
	d.dirty = false
	d.job.Speed = d.speed.Update(d.job.Complete)

	if !d.job.Status.Terminal() {
		if err := SaveSidecar(d.sidecar, d.job); err != nil {
			d.log.Error("Persisting %s: %v", d.sidecar, err)
		}
	}

	snap := d.job.Clone()
	d.mu.Lock()
	d.snapshot = snap
	d.mu.Unlock()

	d.emit(Event{Type: EventData, Job: snap.Clone()})
}

func (d *Download) emit(ev Event) {
	if d.opts.Handler != nil {
		d.opts.Handler(ev)
	}
}

func (d *Download) count(status domain.SegmentStatus) int {
	n := 0
	for _, st := range d.seg {
		if st == status {
			n++
		}
	}
	return n
}

func (d *Download) allIn(status domain.SegmentStatus) bool {
	return d.count(status) == len(d.seg)
}

func (d *Download) send(kind cmdKind) error {
	reply := make(chan error, 1)

	select {
	case d.cmds <- command{kind: kind, reply: reply}:
	case <-d.done:
		return domain.ErrJobFinished
	}

	select {
	case err := <-reply:
		return err
	case <-d.done:
		return domain.ErrJobFinished
	}
}

// Pause stops every running segment, keeping its bytes.
func (d *Download) Pause() error { return d.send(cmdPause) }

// Resume restarts every closed, idle or errored segment. From failed with all
// segments ended it retries the merge.
func (d *Download) Resume() error { return d.send(cmdResume) }

// Remove destroys every segment, then deletes the part files and sidecar.
// Completion is observed through Wait.
func (d *Download) Remove() error { return d.send(cmdRemove) }

// Wait blocks until the job completes, is removed or is shut down.
func (d *Download) Wait() error {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed once the download has stopped for good.
func (d *Download) Done() <-chan struct{} { return d.done }

// Snapshot returns a copy of the most recently published job state.
func (d *Download) Snapshot() domain.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot.Clone()
}

func (d *Download) Status() domain.JobStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot.Status
}
