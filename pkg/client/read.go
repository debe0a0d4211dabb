package client

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/storage"
	"github.com/hddong/uniffle/pkg/types"
)

// GetShuffleResult reconstructs the partition's block-id set. Servers are
// contacted in assignment order and their bitmaps unioned; the walk stops
// after replicaRead distinct successful reads. Union is commutative and
// idempotent, so any read-quorum subset yields the same set.
func (c *Client) GetShuffleResult(ctx context.Context, appID string, shuffleID, partitionID int, servers []types.ShuffleServerInfo) (*roaring64.Bitmap, error) {
	result := roaring64.New()
	successes := 0
	for _, info := range servers {
		client, err := c.serverClient(info)
		if err != nil {
			c.logger.Warn().Err(err).Str("server_id", info.ID).Msg("Result fetch failed")
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		resp, err := client.GetShuffleResult(callCtx, &rpc.GetShuffleResultRequest{
			AppID:       appID,
			ShuffleID:   shuffleID,
			PartitionID: partitionID,
		})
		cancel()
		if err != nil || !resp.OK() {
			c.logger.Warn().Err(err).Str("server_id", info.ID).Msg("Result fetch rejected")
			continue
		}
		bm := roaring64.New()
		if len(resp.SerializedBitmap) > 0 {
			if err := bm.UnmarshalBinary(resp.SerializedBitmap); err != nil {
				c.logger.Warn().Err(err).Str("server_id", info.ID).Msg("Corrupt bitmap")
				continue
			}
		}
		result.Or(bm)
		successes++
		if successes >= c.cfg.ReplicaRead {
			return result, nil
		}
	}
	return nil, fmt.Errorf("shuffle result lost read quorum: %d of %d servers answered", successes, c.cfg.ReplicaRead)
}

// ShuffleReader reads back one partition's blocks from its replica servers
type ShuffleReader struct {
	client      *Client
	appID       string
	shuffleID   int
	partitionID int
	servers     []types.ShuffleServerInfo
	expected    *roaring64.Bitmap
}

// NewShuffleReader builds a reader over the partition's assigned servers.
// expected is the block-id set from GetShuffleResult; the reader is done
// when every id in it has been materialized.
func (c *Client) NewShuffleReader(appID string, shuffleID, partitionID int, servers []types.ShuffleServerInfo, expected *roaring64.Bitmap) *ShuffleReader {
	return &ShuffleReader{
		client:      c,
		appID:       appID,
		shuffleID:   shuffleID,
		partitionID: partitionID,
		servers:     servers,
		expected:    expected,
	}
}

// ReadAll fetches, verifies, and decompresses every expected block,
// returned keyed by block id. Servers are tried in order; any one replica
// holding the data is sufficient, and block-id-set semantics collapse
// duplicates across replicas.
func (r *ShuffleReader) ReadAll(ctx context.Context) (map[int64][]byte, error) {
	out := make(map[int64][]byte, r.expected.GetCardinality())
	remaining := r.expected.Clone()

	for _, info := range r.servers {
		if remaining.IsEmpty() {
			break
		}
		if err := r.readFromServer(ctx, info, out, remaining); err != nil {
			r.client.logger.Warn().
				Err(err).
				Str("server_id", info.ID).
				Int("partition", r.partitionID).
				Msg("Partition read failed, trying next replica")
		}
	}

	if !remaining.IsEmpty() {
		return nil, fmt.Errorf("partition %d is missing %d blocks after trying all replicas", r.partitionID, remaining.GetCardinality())
	}
	return out, nil
}

func (r *ShuffleReader) readFromServer(ctx context.Context, info types.ShuffleServerInfo, out map[int64][]byte, remaining *roaring64.Bitmap) error {
	client, err := r.client.serverClient(info)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.client.cfg.RPCTimeout)
	indexResp, err := client.GetShuffleIndex(callCtx, &rpc.GetShuffleIndexRequest{
		AppID:       r.appID,
		ShuffleID:   r.shuffleID,
		PartitionID: r.partitionID,
	})
	cancel()
	if err != nil {
		return err
	}
	if !indexResp.OK() {
		return fmt.Errorf("index fetch rejected: %s (%s)", indexResp.Message, indexResp.Status)
	}
	records, err := storage.ParseIndex(indexResp.IndexData)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if !remaining.Contains(uint64(rec.BlockID)) {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, r.client.cfg.RPCTimeout)
		dataResp, err := client.GetShuffleData(callCtx, &rpc.GetShuffleDataRequest{
			AppID:       r.appID,
			ShuffleID:   r.shuffleID,
			PartitionID: r.partitionID,
			Offset:      rec.Offset,
			Length:      int64(rec.Length),
		})
		cancel()
		if err != nil {
			return err
		}
		if !dataResp.OK() {
			return fmt.Errorf("data fetch rejected: %s (%s)", dataResp.Message, dataResp.Status)
		}
		if int32(len(dataResp.Data)) != rec.Length {
			return fmt.Errorf("short data read for block %d: %d of %d bytes", rec.BlockID, len(dataResp.Data), rec.Length)
		}
		data, err := DecodeBlock(dataResp.Data, rec.Crc, rec.UncompressLength)
		if err != nil {
			return fmt.Errorf("block %d: %w", rec.BlockID, err)
		}
		out[rec.BlockID] = data
		remaining.Remove(uint64(rec.BlockID))
	}
	return nil
}
