package coordinator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/metrics"
	"github.com/hddong/uniffle/pkg/types"
)

// AppManager tracks application lifecycles. An app is created by its first
// coordinator contact and destroyed when its heartbeat gap exceeds the TTL;
// there is no other lifecycle edge.
type AppManager struct {
	mu       sync.Mutex
	apps     map[string]*appInfo
	pathApps map[string]int

	remotePaths []string
	timeout     time.Duration

	onExpire func(appID string)

	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

type appInfo struct {
	lastHeartbeat time.Time
	remoteStorage types.RemoteStorageInfo
}

// NewAppManager creates the app tracker. onExpire runs for every app
// removed by the TTL cleaner.
func NewAppManager(remotePaths []string, timeout time.Duration, onExpire func(appID string)) *AppManager {
	return &AppManager{
		apps:        make(map[string]*appInfo),
		pathApps:    make(map[string]int),
		remotePaths: remotePaths,
		timeout:     timeout,
		onExpire:    onExpire,
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("apps"),
	}
}

// Heartbeat registers the app on first contact and refreshes it afterwards
func (m *AppManager) Heartbeat(appID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok {
		app = &appInfo{}
		m.apps[appID] = app
		m.logger.Info().Str("app_id", appID).Msg("Application registered")
	}
	app.lastHeartbeat = time.Now()
	metrics.AppsTotal.Set(float64(len(m.apps)))
}

// Count returns the number of live applications
func (m *AppManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.apps)
}

// AssignRemoteStorage picks the remote root for the app: sticky once
// assigned, otherwise the configured path currently serving the fewest
// apps, so storage load spreads.
func (m *AppManager) AssignRemoteStorage(appID string) types.RemoteStorageInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[appID]
	if !ok {
		app = &appInfo{lastHeartbeat: time.Now()}
		m.apps[appID] = app
	}
	if !app.remoteStorage.Empty() {
		return app.remoteStorage
	}
	if len(m.remotePaths) == 0 {
		return types.RemoteStorageInfo{}
	}

	best := m.remotePaths[0]
	for _, p := range m.remotePaths[1:] {
		if m.pathApps[p] < m.pathApps[best] {
			best = p
		}
	}
	m.pathApps[best]++
	app.remoteStorage = types.RemoteStorageInfo{Path: best}
	return app.remoteStorage
}

// StartCleaner launches the TTL expiry loop
func (m *AppManager) StartCleaner(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.expire()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the expiry loop
func (m *AppManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *AppManager) expire() {
	cutoff := time.Now().Add(-m.timeout)

	m.mu.Lock()
	var expired []string
	for id, app := range m.apps {
		if app.lastHeartbeat.Before(cutoff) {
			expired = append(expired, id)
			if !app.remoteStorage.Empty() {
				m.pathApps[app.remoteStorage.Path]--
			}
			delete(m.apps, id)
		}
	}
	metrics.AppsTotal.Set(float64(len(m.apps)))
	m.mu.Unlock()

	for _, id := range expired {
		m.logger.Info().Str("app_id", id).Msg("Application expired after heartbeat timeout")
		if m.onExpire != nil {
			m.onExpire(id)
		}
	}
}
