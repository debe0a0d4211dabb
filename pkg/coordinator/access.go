package coordinator

import (
	"fmt"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/metrics"
	"github.com/hddong/uniffle/pkg/types"
)

// Built-in checker names recognised in the coordinator config
const (
	CheckerCandidates  = "AccessCandidatesChecker"
	CheckerClusterLoad = "AccessClusterLoadChecker"
)

// AccessInfo is one admission request
type AccessInfo struct {
	AccessID string
	Tags     []string
}

// AccessResult is a checker's verdict
type AccessResult struct {
	Status  types.StatusCode
	Message string
}

// Granted reports whether the verdict admits the application
func (r AccessResult) Granted() bool {
	return r.Status == types.StatusSuccess
}

// AccessChecker is one predicate in the admission pipeline
type AccessChecker interface {
	Name() string
	Check(info AccessInfo) AccessResult
	Close() error
}

// AccessManager chains checkers in configuration order. The first
// non-success verdict short-circuits the pipeline; its message names the
// deciding checker.
type AccessManager struct {
	checkers []AccessChecker
}

// NewAccessManager builds the pipeline from the configured checker names
func NewAccessManager(cfg *config.CoordinatorConfig, registry *ServerRegistry) (*AccessManager, error) {
	m := &AccessManager{}
	for _, name := range cfg.AccessCheckers {
		switch name {
		case CheckerCandidates:
			checker, err := NewAccessCandidatesChecker(cfg.AccessCandidatesPath, cfg.AccessCandidatesInterval)
			if err != nil {
				return nil, fmt.Errorf("failed to init %s: %w", name, err)
			}
			m.checkers = append(m.checkers, checker)
		case CheckerClusterLoad:
			m.checkers = append(m.checkers, NewAccessClusterLoadChecker(registry, cfg.AccessLoadServerNum))
		default:
			return nil, fmt.Errorf("unknown access checker %q", name)
		}
	}
	return m, nil
}

// CheckAccess runs the pipeline for one admission request
func (m *AccessManager) CheckAccess(info AccessInfo) AccessResult {
	for _, c := range m.checkers {
		if result := c.Check(info); !result.Granted() {
			metrics.AccessDeniedTotal.WithLabelValues(c.Name()).Inc()
			return AccessResult{
				Status:  types.StatusAccessDenied,
				Message: fmt.Sprintf("Denied by %s: %s", c.Name(), result.Message),
			}
		}
	}
	return AccessResult{Status: types.StatusSuccess, Message: "SUCCESS"}
}

// Close releases checker resources
func (m *AccessManager) Close() error {
	var firstErr error
	for _, c := range m.checkers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
