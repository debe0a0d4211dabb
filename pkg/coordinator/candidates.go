package coordinator

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/types"
)

// AccessCandidatesChecker admits only access ids listed in an allow-list
// file: one id per line, whitespace trimmed, empty lines ignored. The file
// is re-read on a fixed interval and immediately on filesystem change
// events, so operators can edit it without restarting the coordinator.
type AccessCandidatesChecker struct {
	path string

	mu         sync.RWMutex
	candidates map[string]struct{}

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewAccessCandidatesChecker loads the allow-list and starts the reload
// loop
func NewAccessCandidatesChecker(path string, interval time.Duration) (*AccessCandidatesChecker, error) {
	if path == "" {
		return nil, fmt.Errorf("access candidates path is empty")
	}
	c := &AccessCandidatesChecker{
		path:   path,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("access-candidates"),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil && watcher.Add(path) == nil {
		c.watcher = watcher
	} else if watcher != nil {
		watcher.Close()
	}

	go c.run(interval)
	return c, nil
}

// Name implements AccessChecker
func (c *AccessCandidatesChecker) Name() string { return CheckerCandidates }

// Check implements AccessChecker
func (c *AccessCandidatesChecker) Check(info AccessInfo) AccessResult {
	c.mu.RLock()
	_, ok := c.candidates[info.AccessID]
	c.mu.RUnlock()
	if !ok {
		return AccessResult{
			Status:  types.StatusAccessDenied,
			Message: fmt.Sprintf("access id %s is not in the candidates list", info.AccessID),
		}
	}
	return AccessResult{Status: types.StatusSuccess}
}

// Close stops the reload loop
func (c *AccessCandidatesChecker) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *AccessCandidatesChecker) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if c.watcher != nil {
		events = c.watcher.Events
	}

	for {
		select {
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
		case <-c.stopCh:
			return
		}
		if err := c.reload(); err != nil {
			// Keep serving the last good list
			c.logger.Warn().Err(err).Msg("Failed to reload access candidates")
		}
	}
}

func (c *AccessCandidatesChecker) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read candidates file: %w", err)
	}
	candidates := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		candidates[id] = struct{}{}
	}

	c.mu.Lock()
	c.candidates = candidates
	c.mu.Unlock()
	c.logger.Debug().Int("count", len(candidates)).Msg("Reloaded access candidates")
	return nil
}
