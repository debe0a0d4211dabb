package storage

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"sync"

	"github.com/colinmarc/hdfs/v2"
	"github.com/rs/zerolog"

	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/types"
)

// HdfsStorage is the remote (cold) tier. Each app registers the remote root
// the coordinator assigned it; the relative layout below that root mirrors
// the local tier exactly.
type HdfsStorage struct {
	mu      sync.Mutex
	clients map[string]*hdfs.Client
	apps    map[string]types.RemoteStorageInfo
	logger  zerolog.Logger
}

// NewHdfsStorage creates the cold tier with no connections; clients are
// dialed lazily per namenode on first use.
func NewHdfsStorage() *HdfsStorage {
	return &HdfsStorage{
		clients: make(map[string]*hdfs.Client),
		apps:    make(map[string]types.RemoteStorageInfo),
		logger:  log.WithComponent("hdfs"),
	}
}

func (s *HdfsStorage) Name() string { return "HDFS" }

// CanWrite always accepts: capacity management belongs to the remote
// filesystem
func (s *HdfsStorage) CanWrite(*FlushEvent) bool { return true }

// resolve splits an hdfs://host:port/root path into a connected client and
// the root directory
func (s *HdfsStorage) resolve(remotePath string) (*hdfs.Client, string, error) {
	u, err := url.Parse(remotePath)
	if err != nil {
		return nil, "", fmt.Errorf("invalid remote storage path %q: %w", remotePath, err)
	}
	if u.Scheme != "hdfs" {
		return nil, "", fmt.Errorf("unsupported remote storage scheme %q", u.Scheme)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[u.Host]
	if !ok {
		client, err = hdfs.New(u.Host)
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to namenode %s: %w", u.Host, err)
		}
		s.clients[u.Host] = client
	}
	return client, u.Path, nil
}

// Write appends the event's blocks to the partition's remote data and index
// files
func (s *HdfsStorage) Write(event *FlushEvent) error {
	if event.RemoteStorage.Empty() {
		return fmt.Errorf("flush event for %s has no remote storage", event.AppID)
	}
	client, root, err := s.resolve(event.RemoteStorage.Path)
	if err != nil {
		return err
	}

	dir := path.Join(root, shuffleDir(event.AppID, event.ShuffleID, event.Range))
	if err := client.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create remote dir: %w", err)
	}

	dataPath := path.Join(dir, "0.data")
	indexPath := path.Join(dir, "0.index")

	offset := int64(0)
	if stat, err := client.Stat(dataPath); err == nil {
		offset = stat.Size()
	}

	var data []byte
	var index []byte
	for _, b := range event.Blocks {
		data = append(data, b.Payload...)
		index = IndexRecord{
			Offset:           offset,
			Length:           b.Length,
			UncompressLength: b.UncompressLength,
			Crc:              b.Crc,
			BlockID:          b.BlockID,
			TaskAttemptID:    b.TaskAttemptID,
		}.AppendTo(index)
		offset += int64(b.Length)
	}

	if err := appendFile(client, dataPath, data); err != nil {
		return fmt.Errorf("failed to write remote data file: %w", err)
	}
	if err := appendFile(client, indexPath, index); err != nil {
		return fmt.Errorf("failed to write remote index file: %w", err)
	}
	return nil
}

func appendFile(client *hdfs.Client, name string, data []byte) error {
	var w *hdfs.FileWriter
	var err error
	if _, statErr := client.Stat(name); statErr == nil {
		w, err = client.Append(name)
	} else if os.IsNotExist(statErr) {
		w, err = client.Create(name)
	} else {
		return statErr
	}
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// CreateReader opens the partition range on the remote tier
func (s *HdfsStorage) CreateReader(appID string, shuffleID int, rng types.PartitionRange) (Reader, error) {
	s.mu.Lock()
	remote, ok := s.apps[appID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("app %s has no registered remote storage", appID)
	}
	client, root, err := s.resolve(remote.Path)
	if err != nil {
		return nil, err
	}
	dir := path.Join(root, shuffleDir(appID, shuffleID, rng))
	return &hdfsReader{client: client, dir: dir}, nil
}

// RegisterApp pins the remote root assigned to the app
func (s *HdfsStorage) RegisterApp(appID string, remote types.RemoteStorageInfo) error {
	if remote.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[appID] = remote
	return nil
}

// RemoveApp deletes the app's remote directory and forgets its registration
func (s *HdfsStorage) RemoveApp(appID string) error {
	s.mu.Lock()
	remote, ok := s.apps[appID]
	delete(s.apps, appID)
	s.mu.Unlock()
	if !ok || remote.Empty() {
		return nil
	}
	client, root, err := s.resolve(remote.Path)
	if err != nil {
		return err
	}
	if err := client.Remove(path.Join(root, appID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove remote app dir: %w", err)
	}
	s.logger.Info().Str("app_id", appID).Msg("Removed remote shuffle data")
	return nil
}

type hdfsReader struct {
	client *hdfs.Client
	dir    string
}

func (r *hdfsReader) Index() ([]byte, int64, error) {
	index, err := r.client.ReadFile(path.Join(r.dir, "0.index"))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read remote index: %w", err)
	}
	stat, err := r.client.Stat(path.Join(r.dir, "0.data"))
	if err != nil {
		return nil, 0, err
	}
	return index, stat.Size(), nil
}

func (r *hdfsReader) Data(offset, length int64) ([]byte, error) {
	f, err := r.client.Open(path.Join(r.dir, "0.data"))
	if err != nil {
		return nil, fmt.Errorf("failed to open remote data file: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read remote data file: %w", err)
	}
	return buf[:n], nil
}

func (r *hdfsReader) Close() error { return nil }
