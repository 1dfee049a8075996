package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/datallboy/rangedl/internal/app"
	"github.com/datallboy/rangedl/internal/domain"
	"github.com/datallboy/rangedl/internal/infra/config"
	"github.com/datallboy/rangedl/internal/infra/logger"
	"github.com/datallboy/rangedl/internal/store"
	"github.com/datallboy/rangedl/internal/transport"
)

// Manager schedules queued jobs, running at most MaxActive downloads at a time.
type Manager struct {
	mu     sync.RWMutex
	queue  []*domain.QueueItem
	active map[string]*Download
	// Items handed to a worker slot that has not started them yet.
	dispatched map[string]bool
	// Items whose live download is being paused by the user.
	pausing map[string]bool

	cfg       config.DownloadConfig
	log       *logger.Logger
	store     store.Store
	transport transport.Transport

	newJobChan chan struct{}
}

// NewManager initializes a Manager.
// If loadExisting is true, unfinished jobs are restored from the catalog;
// downloads that were running when the process stopped are queued again.
func NewManager(ctx context.Context, appCtx *app.Context, loadExisting bool) *Manager {
	m := &Manager{
		active:     make(map[string]*Download),
		dispatched: make(map[string]bool),
		pausing:    make(map[string]bool),
		cfg:        appCtx.Config.Download,
		log:        appCtx.Logger.Scoped("scheduler"),
		store:      appCtx.Store,
		transport:  appCtx.Transport,
		newJobChan: make(chan struct{}, 1),
	}

	if m.cfg.MaxActive <= 0 {
		m.cfg.MaxActive = 1
	}

	if loadExisting && m.store != nil {
		items, err := m.store.ListActiveJobs(ctx)
		if err != nil {
			m.log.Error("Failed to restore jobs: %v", err)
		}
		for _, item := range items {
			if item.Status != domain.StatusPaused {
				item.Status = domain.StatusQueued
			}
			m.queue = append(m.queue, item)
		}
		if len(m.queue) > 0 {
			m.log.Info("Restored %d job(s) from the catalog", len(m.queue))
		}
	}

	return m
}

// Add validates req, records it as queued and wakes the scheduler loop.
func (m *Manager) Add(ctx context.Context, req domain.JobRequest) (domain.QueueItem, error) {
	if req.SaveDirectory == "" {
		req.SaveDirectory = m.cfg.OutDir
		if err := os.MkdirAll(req.SaveDirectory, 0755); err != nil {
			return domain.QueueItem{}, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if req.Connections == 0 {
		req.Connections = m.cfg.Connections
	}

	if req.Filename == "" {
		req.Filename = transport.FilenameFromURL(req.URL)
	}
	if err := ValidateInputs(req.URL, req.Connections, req.SaveDirectory, req.Filename); err != nil {
		return domain.QueueItem{}, err
	}

	now := time.Now()
	item := &domain.QueueItem{
		ID:            ksuid.New().String(),
		URL:           req.URL,
		SaveDirectory: req.SaveDirectory,
		Filename:      req.Filename,
		Connections:   req.Connections,
		Headers:       req.Headers,
		Status:        domain.StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	m.mu.Lock()
	if m.hasDestination(filepath.Join(item.SaveDirectory, item.Filename)) {
		m.mu.Unlock()
		return domain.QueueItem{}, fmt.Errorf("%w: %s is already scheduled", domain.ErrInvalidInput, item.Filename)
	}
	m.queue = append(m.queue, item)
	c := item.Copy()
	m.mu.Unlock()

	if err := m.save(ctx, &c); err != nil {
		m.mu.Lock()
		m.dropItem(item.ID)
		m.mu.Unlock()
		return domain.QueueItem{}, fmt.Errorf("failed to save job to database: %w", err)
	}

	m.log.Info("Queued %s as %s", item.URL, item.ID)
	m.wake()

	return c, nil
}

// Start runs the scheduler until ctx is cancelled. Running downloads are
// paused and persisted before it returns.
func (m *Manager) Start(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(m.cfg.MaxActive)

	for {
		next := m.claimNext()
		if next == nil {
			select {
			case <-m.newJobChan:
				continue
			case <-ctx.Done():
				return g.Wait()
			}
		}

		// Blocks until a slot is free.
		g.Go(func() error {
			m.runJob(ctx, next)
			return nil
		})

		if ctx.Err() != nil {
			return g.Wait()
		}
	}
}

func (m *Manager) claimNext() *domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.queue {
		if item.Status == domain.StatusQueued && !m.dispatched[item.ID] {
			m.dispatched[item.ID] = true
			return item
		}
	}
	return nil
}

func (m *Manager) runJob(ctx context.Context, item *domain.QueueItem) {
	m.mu.Lock()
	if item.Status != domain.StatusQueued || ctx.Err() != nil {
		// Paused or removed while waiting for a slot.
		delete(m.dispatched, item.ID)
		m.mu.Unlock()
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dl := NewDownload(m.transport, m.log.Scoped(item.ID), item.URL, Options{
		Connections:      item.Connections,
		SaveDirectory:    item.SaveDirectory,
		Filename:         item.Filename,
		Header:           item.Headers,
		ThrottleInterval: m.cfg.ThrottleInterval,
		SpeedSamples:     m.cfg.SpeedSamples,
		ResumeStagger:    m.cfg.ResumeStagger,
		SpeedLimit:       m.cfg.SpeedLimit,
		Handler:          m.handler(item, cancel),
	})

	item.Status = domain.StatusActive
	item.Error = ""
	item.CancelFunc = cancel
	m.active[item.ID] = dl
	c := item.Copy()
	m.mu.Unlock()

	m.save(ctx, &c)

	err := dl.Start(jobCtx)
	if err == nil {
		err = dl.Wait()
	}

	m.finalizeJob(ctx, item, dl, err)
}

// handler mirrors download events onto the queue item. It runs on the
// download's goroutine and never calls back into the download.
func (m *Manager) handler(item *domain.QueueItem, cancel context.CancelFunc) Handler {
	return func(ev Event) {
		switch ev.Type {
		case EventData:
			m.mu.Lock()
			changed := item.Status != ev.Job.Status
			item.ApplySnapshot(ev.Job)
			c := item.Copy()
			m.mu.Unlock()

			if changed {
				m.save(context.Background(), &c)
			}

			if ev.Job.Status == domain.StatusFailed {
				// Release the slot; a resume queues the job again.
				cancel()
			}

		case EventError:
			m.log.Error("Job %s: %v", item.ID, ev.Err)
			m.mu.Lock()
			item.Error = ev.Err.Error()
			m.mu.Unlock()

		case EventEnd:
			m.log.Info("Job %s finished: %s", item.ID, ev.Path)
		}
	}
}

func (m *Manager) finalizeJob(ctx context.Context, item *domain.QueueItem, dl *Download, err error) {
	snap := dl.Snapshot()

	m.mu.Lock()
	delete(m.active, item.ID)
	delete(m.dispatched, item.ID)
	userPaused := m.pausing[item.ID]
	delete(m.pausing, item.ID)
	item.CancelFunc = nil
	item.UpdatedAt = time.Now()

	switch {
	case snap.Status == domain.StatusRemoved:
		m.dropItem(item.ID)
		m.mu.Unlock()

		if err := m.delete(context.WithoutCancel(ctx), item.ID); err != nil {
			m.log.Error("Failed to delete job %s: %v", item.ID, err)
		}
		return

	case snap.Status == domain.StatusComplete:
		item.Status = domain.StatusComplete
		item.Error = ""

	case snap.Status == domain.StatusFailed:
		item.Status = domain.StatusFailed
		if err != nil {
			item.Error = err.Error()
		}

	case userPaused:
		item.Status = domain.StatusPaused

	case ctx.Err() != nil:
		// Shut down with the scheduler; picked up again on the next start.
		item.Status = domain.StatusQueued

	case err != nil:
		item.Status = domain.StatusFailed
		item.Error = err.Error()
	}
	c := item.Copy()
	m.mu.Unlock()

	// Persist the final outcome even when the scheduler is shutting down.
	m.save(context.WithoutCancel(ctx), &c)
}

// Pause stops a job. A running download is paused, persisted and releases its slot.
func (m *Manager) Pause(ctx context.Context, id string) error {
	m.mu.Lock()
	item := m.find(id)
	if item == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	if dl, ok := m.active[id]; ok {
		m.pausing[id] = true
		cancel := item.CancelFunc
		m.mu.Unlock()

		if err := dl.Pause(); err != nil && !errors.Is(err, domain.ErrJobFinished) {
			m.mu.Lock()
			delete(m.pausing, id)
			m.mu.Unlock()
			return err
		}
		if cancel != nil {
			cancel()
		}
		return nil
	}
	defer m.mu.Unlock()

	switch item.Status {
	case domain.StatusPaused:
		return nil
	case domain.StatusQueued:
		item.Status = domain.StatusPaused
		item.UpdatedAt = time.Now()
		return m.save(ctx, item)
	default:
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, item.Status)
	}
}

// Resume queues a paused or failed job again.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	item := m.find(id)
	if item == nil {
		m.mu.Unlock()
		return m.resumeFromCatalog(ctx, id)
	}

	if dl, ok := m.active[id]; ok {
		m.mu.Unlock()
		return dl.Resume()
	}

	switch item.Status {
	case domain.StatusQueued:
		m.mu.Unlock()
		return nil
	case domain.StatusPaused, domain.StatusFailed:
		item.Status = domain.StatusQueued
		item.Error = ""
		item.UpdatedAt = time.Now()
	case domain.StatusComplete:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrJobFinished, id)
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, item.Status)
	}
	err := m.save(ctx, item)
	m.mu.Unlock()

	m.wake()
	return err
}

// resumeFromCatalog brings back a failed job that is no longer in memory.
func (m *Manager) resumeFromCatalog(ctx context.Context, id string) error {
	if m.store == nil {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	item, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != domain.StatusFailed && item.Status != domain.StatusPaused {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, item.Status)
	}

	item.Status = domain.StatusQueued
	item.Error = ""
	item.UpdatedAt = time.Now()

	m.mu.Lock()
	if m.find(id) == nil {
		m.queue = append(m.queue, item)
	}
	m.mu.Unlock()

	if err := m.save(ctx, item); err != nil {
		return err
	}
	m.wake()
	return nil
}

// Remove cancels a job and deletes its part files and sidecar. The
// downloaded file of a completed job is kept.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	item := m.find(id)
	if item == nil {
		m.mu.Unlock()
		if m.store == nil {
			return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		if _, err := m.store.GetJob(ctx, id); err != nil {
			return err
		}
		return m.delete(ctx, id)
	}

	if dl, ok := m.active[id]; ok {
		m.mu.Unlock()
		return dl.Remove()
	}

	item.Status = domain.StatusRemoved
	dest := filepath.Join(item.SaveDirectory, item.Filename)
	m.dropItem(id)
	m.mu.Unlock()

	if err := Discard(dest); err != nil {
		m.log.Warn("Cleaning up %s: %v", dest, err)
	}
	return m.delete(ctx, id)
}

// Get returns a copy of the item, falling back to the catalog.
func (m *Manager) Get(ctx context.Context, id string) (domain.QueueItem, error) {
	m.mu.RLock()
	item := m.find(id)
	if item != nil {
		c := item.Copy()
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	if m.store == nil {
		return domain.QueueItem{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	stored, err := m.store.GetJob(ctx, id)
	if err != nil {
		return domain.QueueItem{}, err
	}
	return *stored, nil
}

// List returns copies of every job known to this scheduler, oldest first.
func (m *Manager) List() []domain.QueueItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]domain.QueueItem, len(m.queue))
	for i, item := range m.queue {
		items[i] = item.Copy()
	}
	return items
}

func (m *Manager) wake() {
	select {
	case m.newJobChan <- struct{}{}:
	default:
		// Signal already pending, no need to block
	}
}

// save persists item. Callers may hold mu.
func (m *Manager) save(ctx context.Context, item *domain.QueueItem) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveJob(ctx, item); err != nil {
		m.log.Error("Failed to persist job %s: %v", item.ID, err)
		return err
	}
	return nil
}

func (m *Manager) delete(ctx context.Context, id string) error {
	if m.store == nil {
		return nil
	}
	return m.store.DeleteJob(ctx, id)
}

func (m *Manager) find(id string) *domain.QueueItem {
	for _, item := range m.queue {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (m *Manager) hasDestination(dest string) bool {
	for _, item := range m.queue {
		if item.Status.Terminal() || item.Status == domain.StatusFailed {
			continue
		}
		if filepath.Join(item.SaveDirectory, item.Filename) == dest {
			return true
		}
	}
	return false
}

func (m *Manager) dropItem(id string) {
	m.queue = slices.DeleteFunc(m.queue, func(item *domain.QueueItem) bool {
		return item.ID == id
	})
}
