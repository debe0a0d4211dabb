package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hddong/uniffle/pkg/metrics"
	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/types"
)

// TargetedBlock is one block annotated with its ordered replica target
// list, as produced from the shuffle assignment
type TargetedBlock struct {
	Block     *types.ShuffleBlock
	Partition int
	Servers   []types.ShuffleServerInfo
}

// SendResult partitions the input block ids by outcome. A block is a
// success iff at least replicaWrite of its targets acknowledged it.
type SendResult struct {
	Success []int64
	Failed  []int64
}

// serverBatch is everything bound for one server in one round
type serverBatch struct {
	info   types.ShuffleServerInfo
	blocks map[int][]*types.ShuffleBlock
	ids    []int64
	size   int64
}

// SendShuffleData ships a batch of blocks to their replica targets and
// reports per-block success against the write quorum.
//
// With replica skipping enabled and replicaWrite < replica, targets split
// into a primary group (the first replicaWrite servers) and a secondary
// group (the rest). The primary group is sent first; the secondary round
// runs only when some primary server failed. A partial primary failure
// still sends the entire secondary batch rather than routing individual
// blocks, trading bandwidth for a simpler failure path.
func (c *Client) SendShuffleData(ctx context.Context, appID string, shuffleID int, blocks []*TargetedBlock) (*SendResult, error) {
	if len(blocks) == 0 {
		return &SendResult{}, nil
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SendDuration)

	counters := make(map[int64]*atomic.Int32, len(blocks))
	for _, b := range blocks {
		if len(b.Servers) < c.cfg.Replica {
			return nil, fmt.Errorf("block %d has %d targets, expected %d", b.Block.BlockID, len(b.Servers), c.cfg.Replica)
		}
		counters[b.Block.BlockID] = &atomic.Int32{}
	}

	splitRounds := c.cfg.ReplicaSkipEnabled && c.cfg.ReplicaWrite < c.cfg.Replica

	var primary, secondary map[string]*serverBatch
	if splitRounds {
		primary = c.groupByServer(blocks, 0, c.cfg.ReplicaWrite)
		secondary = c.groupByServer(blocks, c.cfg.ReplicaWrite, c.cfg.Replica)
	} else {
		primary = c.groupByServer(blocks, 0, c.cfg.Replica)
	}

	primaryOK := c.sendRound(ctx, appID, shuffleID, primary, counters)
	metrics.SendRoundsTotal.WithLabelValues("primary", roundResult(primaryOK)).Inc()

	if splitRounds && !primaryOK {
		secondaryOK := c.sendRound(ctx, appID, shuffleID, secondary, counters)
		metrics.SendRoundsTotal.WithLabelValues("secondary", roundResult(secondaryOK)).Inc()
	}

	result := &SendResult{}
	for _, b := range blocks {
		if counters[b.Block.BlockID].Load() >= int32(c.cfg.ReplicaWrite) {
			result.Success = append(result.Success, b.Block.BlockID)
		} else {
			result.Failed = append(result.Failed, b.Block.BlockID)
		}
	}
	return result, nil
}

func roundResult(ok bool) string {
	if ok {
		return "success"
	}
	return "partial"
}

// groupByServer builds one batch per server from each block's target slice
// [from, to)
func (c *Client) groupByServer(blocks []*TargetedBlock, from, to int) map[string]*serverBatch {
	batches := make(map[string]*serverBatch)
	for _, b := range blocks {
		for _, info := range b.Servers[from:to] {
			batch, ok := batches[info.ID]
			if !ok {
				batch = &serverBatch{info: info, blocks: make(map[int][]*types.ShuffleBlock)}
				batches[info.ID] = batch
			}
			batch.blocks[b.Partition] = append(batch.blocks[b.Partition], b.Block)
			batch.ids = append(batch.ids, b.Block.BlockID)
			batch.size += int64(b.Block.Length)
		}
	}
	return batches
}

// sendRound fans the batches out over the bounded transfer pool and joins.
// Each server acknowledgement increments the counter of every block in that
// server's batch. Returns whether every server in the round succeeded.
func (c *Client) sendRound(ctx context.Context, appID string, shuffleID int, batches map[string]*serverBatch, counters map[int64]*atomic.Int32) bool {
	var failures atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DataTransferPoolSize)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if err := c.sendToServer(ctx, appID, shuffleID, batch); err != nil {
				c.logger.Warn().
					Err(err).
					Str("server_id", batch.info.ID).
					Str("app_id", appID).
					Msg("Send failed")
				failures.Add(1)
				return nil // a server failure fails blocks, not the round fan-out
			}
			for _, id := range batch.ids {
				counters[id].Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return failures.Load() == 0
}

// sendToServer ships one batch, retrying transient failures. NO_BUFFER is
// back-pressure: the client waits out the check interval and tries again.
func (c *Client) sendToServer(ctx context.Context, appID string, shuffleID int, batch *serverBatch) error {
	client, err := c.serverClient(batch.info)
	if err != nil {
		return err
	}
	req := &rpc.SendShuffleDataRequest{
		AppID:             appID,
		ShuffleID:         shuffleID,
		RequireSize:       batch.size,
		PartitionToBlocks: batch.blocks,
		RetryMax:          c.cfg.RetryMax,
		RetryIntervalMax:  c.cfg.RetryIntervalMax.Milliseconds(),
	}
	return rpc.WithRetry(ctx, c.cfg.RetryMax, c.cfg.RetryIntervalMax, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()
		resp, err := client.SendShuffleData(callCtx, req)
		if err != nil {
			return err
		}
		switch resp.Status {
		case types.StatusSuccess:
			return nil
		case types.StatusNoBuffer:
			select {
			case <-time.After(c.cfg.SendCheckInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			return fmt.Errorf("server %s has no buffer", batch.info.ID)
		default:
			return fmt.Errorf("server %s returned %s: %s", batch.info.ID, resp.Status, resp.Message)
		}
	})
}

// ReportShuffleResult pushes each partition's block-id list to every server
// assigned to that partition. Each partition needs at least replicaWrite
// acknowledgements; falling short is fatal for the shuffle.
func (c *Client) ReportShuffleResult(ctx context.Context, appID string, shuffleID int, taskAttemptID int64, partitionToBlockIDs map[int][]int64, partitionToServers map[int][]types.ShuffleServerInfo) error {
	type report struct {
		info       types.ShuffleServerInfo
		partitions map[int][]int64
	}
	reports := make(map[string]*report)
	for partition, ids := range partitionToBlockIDs {
		for _, info := range partitionToServers[partition] {
			r, ok := reports[info.ID]
			if !ok {
				r = &report{info: info, partitions: make(map[int][]int64)}
				reports[info.ID] = r
			}
			r.partitions[partition] = ids
		}
	}

	acks := make(map[int]*atomic.Int32, len(partitionToBlockIDs))
	for partition := range partitionToBlockIDs {
		acks[partition] = &atomic.Int32{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DataTransferPoolSize)
	for _, r := range reports {
		r := r
		g.Go(func() error {
			client, err := c.serverClient(r.info)
			if err != nil {
				c.logger.Warn().Err(err).Str("server_id", r.info.ID).Msg("Report failed")
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, c.cfg.RPCTimeout)
			defer cancel()
			resp, err := client.ReportShuffleResult(callCtx, &rpc.ReportShuffleResultRequest{
				AppID:               appID,
				ShuffleID:           shuffleID,
				TaskAttemptID:       taskAttemptID,
				BitmapNum:           1,
				PartitionToBlockIDs: r.partitions,
			})
			if err != nil || !resp.OK() {
				c.logger.Warn().Err(err).Str("server_id", r.info.ID).Msg("Report rejected")
				return nil
			}
			for partition := range r.partitions {
				acks[partition].Add(1)
			}
			return nil
		})
	}
	g.Wait()

	for partition, n := range acks {
		if n.Load() < int32(c.cfg.ReplicaWrite) {
			return fmt.Errorf("shuffle result report lost quorum for partition %d: %d of %d acks", partition, n.Load(), c.cfg.ReplicaWrite)
		}
	}
	return nil
}

// FinishShuffle drives the commit protocol against every assigned server:
// poll sendCommit until the server has seen numMaps commits, then seal the
// shuffle with finishShuffle. Returns the first failure.
func (c *Client) FinishShuffle(ctx context.Context, appID string, shuffleID int, servers []types.ShuffleServerInfo, numMaps int) error {
	deadline := time.Now().Add(c.cfg.SendCheckTimeout)
	for _, info := range servers {
		client, err := c.serverClient(info)
		if err != nil {
			return fmt.Errorf("failed to reach server %s: %w", info.ID, err)
		}
		for {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
			resp, err := client.SendCommit(callCtx, &rpc.SendCommitRequest{AppID: appID, ShuffleID: shuffleID})
			cancel()
			if err != nil {
				return fmt.Errorf("commit on %s failed: %w", info.ID, err)
			}
			if !resp.OK() {
				return fmt.Errorf("commit on %s rejected: %s (%s)", info.ID, resp.Message, resp.Status)
			}
			if resp.CommitCount >= numMaps {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("commit on %s timed out: %d of %d map commits", info.ID, resp.CommitCount, numMaps)
			}
			select {
			case <-time.After(c.cfg.SendCheckInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		resp, err := client.FinishShuffle(callCtx, &rpc.FinishShuffleRequest{AppID: appID, ShuffleID: shuffleID})
		cancel()
		if err != nil {
			return fmt.Errorf("finish on %s failed: %w", info.ID, err)
		}
		if !resp.OK() {
			return fmt.Errorf("finish on %s rejected: %s (%s)", info.ID, resp.Message, resp.Status)
		}
	}
	return nil
}
