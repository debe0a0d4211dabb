package coordinator

import (
	"fmt"
	"sort"

	"github.com/hddong/uniffle/pkg/types"
)

// ErrInsufficientServers is returned when fewer candidate servers exist
// than the requested replica count
var ErrInsufficientServers = fmt.Errorf("insufficient shuffle servers for requested replica")

// AssignmentRequest is the input to the placement algorithm
type AssignmentRequest struct {
	AppID                string
	ShuffleID            int
	PartitionNum         int
	PartitionNumPerRange int
	Replica              int
	RequiredTags         []string
}

// Assign places the shuffle's partition ranges onto servers.
//
// Candidates are the live servers whose tag sets cover the required tags,
// ordered by increasing load (app count, then used memory). Each range
// takes replica distinct servers round-robin over that order, and the
// starting index rotates between ranges so successive ranges spread across
// the cluster.
func Assign(servers []*types.ServerNode, req AssignmentRequest) (*types.ShuffleAssignment, error) {
	if req.PartitionNum <= 0 || req.Replica <= 0 {
		return nil, fmt.Errorf("invalid assignment request: partitionNum=%d replica=%d", req.PartitionNum, req.Replica)
	}
	if req.PartitionNumPerRange <= 0 {
		req.PartitionNumPerRange = 1
	}

	candidates := make([]*types.ServerNode, 0, len(servers))
	for _, s := range servers {
		if s.HasTags(req.RequiredTags) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) < req.Replica {
		return nil, fmt.Errorf("%w: have %d candidates, need %d", ErrInsufficientServers, len(candidates), req.Replica)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.AppCount != b.AppCount {
			return a.AppCount < b.AppCount
		}
		if a.Load.UsedMemory != b.Load.UsedMemory {
			return a.Load.UsedMemory < b.Load.UsedMemory
		}
		return a.Info.ID < b.Info.ID
	})

	assignment := &types.ShuffleAssignment{
		PartitionToServers: make(map[int][]types.ShuffleServerInfo),
		ServerToRanges:     make(map[string][]types.PartitionRange),
		Servers:            make(map[string]types.ShuffleServerInfo),
	}

	start := 0
	for lo := 0; lo < req.PartitionNum; lo += req.PartitionNumPerRange {
		hi := lo + req.PartitionNumPerRange
		if hi > req.PartitionNum {
			hi = req.PartitionNum
		}
		rng := types.PartitionRange{Start: lo, End: hi}

		picked := make([]types.ShuffleServerInfo, 0, req.Replica)
		for j := 0; j < req.Replica; j++ {
			node := candidates[(start+j)%len(candidates)]
			picked = append(picked, node.Info)
			assignment.ServerToRanges[node.Info.ID] = append(assignment.ServerToRanges[node.Info.ID], rng)
			assignment.Servers[node.Info.ID] = node.Info
		}
		start += req.Replica

		for p := lo; p < hi; p++ {
			assignment.PartitionToServers[p] = picked
		}
	}

	return assignment, nil
}
