package coordinator

import (
	"fmt"

	"github.com/hddong/uniffle/pkg/types"
)

// AccessClusterLoadChecker admits applications only while enough shuffle
// servers are alive to take the load
type AccessClusterLoadChecker struct {
	registry  *ServerRegistry
	threshold int
}

// NewAccessClusterLoadChecker creates the checker over the live registry
func NewAccessClusterLoadChecker(registry *ServerRegistry, threshold int) *AccessClusterLoadChecker {
	return &AccessClusterLoadChecker{registry: registry, threshold: threshold}
}

// Name implements AccessChecker
func (c *AccessClusterLoadChecker) Name() string { return CheckerClusterLoad }

// Check implements AccessChecker
func (c *AccessClusterLoadChecker) Check(AccessInfo) AccessResult {
	alive := c.registry.Count()
	if alive < c.threshold {
		return AccessResult{
			Status:  types.StatusAccessDenied,
			Message: fmt.Sprintf("alive servers %d below threshold %d", alive, c.threshold),
		}
	}
	return AccessResult{Status: types.StatusSuccess}
}

// Close implements AccessChecker
func (c *AccessClusterLoadChecker) Close() error { return nil }
