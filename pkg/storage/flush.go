package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/metrics"
)

const (
	flushQueueDepth    = 1024
	flushRetryInterval = 500 * time.Millisecond
	drainPollInterval  = 50 * time.Millisecond
)

// FlushManager drives the flush pipeline: events are enqueued to the
// selected tier's single-writer worker, so the RPC path never blocks on
// storage. Per-shuffle pending counts back the commit barrier.
type FlushManager struct {
	manager  *MultiStorageManager
	retryMax int

	queues map[string]chan *FlushEvent

	mu      sync.Mutex
	pending map[string]int
	faulted map[string]struct{}

	// onComplete runs after an event leaves the pipeline, success or not;
	// the buffer pool releases its memory here.
	onComplete func(event *FlushEvent, err error)

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewFlushManager creates the pipeline over the given tier set
func NewFlushManager(manager *MultiStorageManager, retryMax int, onComplete func(*FlushEvent, error)) *FlushManager {
	f := &FlushManager{
		manager:    manager,
		retryMax:   retryMax,
		queues:     make(map[string]chan *FlushEvent),
		pending:    make(map[string]int),
		faulted:    make(map[string]struct{}),
		onComplete: onComplete,
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("flush"),
	}
	for _, tier := range manager.Tiers() {
		f.queues[tier.Name()] = make(chan *FlushEvent, flushQueueDepth)
	}
	return f
}

// Start launches one writer goroutine per tier
func (f *FlushManager) Start() {
	for _, tier := range f.manager.Tiers() {
		f.wg.Add(1)
		go f.run(tier, f.queues[tier.Name()])
	}
}

// Stop signals the workers to exit and waits for them; Submit is not
// blocked, and events still queued are not written
func (f *FlushManager) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

func shuffleKey(appID string, shuffleID int) string {
	return fmt.Sprintf("%s/%d", appID, shuffleID)
}

// Submit routes the event to its tier's queue
func (f *FlushManager) Submit(event *FlushEvent) {
	tier := f.manager.Select(event)

	f.mu.Lock()
	f.pending[shuffleKey(event.AppID, event.ShuffleID)]++
	f.mu.Unlock()

	metrics.FlushQueueSize.Inc()
	f.queues[tier.Name()] <- event
}

func (f *FlushManager) run(tier Storage, queue chan *FlushEvent) {
	defer f.wg.Done()
	for {
		select {
		case event := <-queue:
			metrics.FlushQueueSize.Dec()
			f.handle(tier, event)
		case <-f.stopCh:
			return
		}
	}
}

func (f *FlushManager) handle(tier Storage, event *FlushEvent) {
	for {
		timer := metrics.NewTimer()
		err := tier.Write(event)
		timer.ObserveDurationVec(metrics.FlushDuration, tier.Name())

		if err == nil {
			metrics.FlushEventsTotal.WithLabelValues(tier.Name(), "success").Inc()
			f.finish(event, nil)
			return
		}

		f.logger.Warn().
			Err(err).
			Str("app_id", event.AppID).
			Int("shuffle_id", event.ShuffleID).
			Str("tier", tier.Name()).
			Msg("Flush failed")
		metrics.FlushEventsTotal.WithLabelValues(tier.Name(), "error").Inc()

		// A failed local write promotes the event to the cold tier. The
		// promotion never cycles back, so blocking on the cold queue is
		// safe here.
		if next := f.manager.Promote(event, tier); next != nil {
			metrics.FlushQueueSize.Inc()
			f.queues[next.Name()] <- event
			return
		}

		event.retries++
		if event.retries >= f.retryMax {
			// Retries exhausted: the shuffle is faulted and reads fail fast
			f.mu.Lock()
			f.faulted[shuffleKey(event.AppID, event.ShuffleID)] = struct{}{}
			f.mu.Unlock()
			f.logger.Error().
				Str("app_id", event.AppID).
				Int("shuffle_id", event.ShuffleID).
				Msg("Shuffle marked faulted after flush retries exhausted")
			f.finish(event, err)
			return
		}

		select {
		case <-time.After(flushRetryInterval):
		case <-f.stopCh:
			f.finish(event, err)
			return
		}
	}
}

func (f *FlushManager) finish(event *FlushEvent, err error) {
	f.mu.Lock()
	key := shuffleKey(event.AppID, event.ShuffleID)
	f.pending[key]--
	if f.pending[key] <= 0 {
		delete(f.pending, key)
	}
	f.mu.Unlock()

	if f.onComplete != nil {
		f.onComplete(event, err)
	}
}

// Faulted reports whether a flush for the shuffle permanently failed
func (f *FlushManager) Faulted(appID string, shuffleID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.faulted[shuffleKey(appID, shuffleID)]
	return ok
}

// Drain blocks until every pending event of the shuffle has left the
// pipeline or the context expires. It is the durability barrier behind
// sendCommit.
func (f *FlushManager) Drain(ctx context.Context, appID string, shuffleID int) error {
	key := shuffleKey(appID, shuffleID)
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		f.mu.Lock()
		n := f.pending[key]
		f.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PendingEvents reports the total number of events still in the pipeline
func (f *FlushManager) PendingEvents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.pending {
		total += n
	}
	return total
}

// ClearApp forgets fault bookkeeping for an app's shuffles during GC
func (f *FlushManager) ClearApp(appID string) {
	prefix := appID + "/"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.faulted {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(f.faulted, key)
		}
	}
}
