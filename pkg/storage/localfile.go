package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/types"
)

const readerCacheSize = 256

// LocalStorage is the local-disk tier. Layout:
//
//	<basePath>/<appId>/<shuffleId>/<start>-<end>/<seq>.data
//	<basePath>/<appId>/<shuffleId>/<start>-<end>/<seq>.index
type LocalStorage struct {
	basePath      string
	diskCapacity  int64
	highWatermark float64

	mu      sync.Mutex
	used    int64
	appUsed map[string]int64
	writers map[string]*partitionWriter

	readers *lru.Cache[string, *localReader]
	logger  zerolog.Logger
}

type partitionWriter struct {
	mu         sync.Mutex
	dataFile   *os.File
	indexFile  *os.File
	dataOffset int64
}

// NewLocalStorage creates the local tier rooted at basePath
func NewLocalStorage(basePath string, diskCapacity int64, highWatermark float64) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage base path: %w", err)
	}
	s := &LocalStorage{
		basePath:      basePath,
		diskCapacity:  diskCapacity,
		highWatermark: highWatermark,
		appUsed:       make(map[string]int64),
		writers:       make(map[string]*partitionWriter),
		logger:        log.WithComponent("localfile"),
	}
	cache, err := lru.NewWithEvict[string, *localReader](readerCacheSize, func(_ string, r *localReader) {
		r.release()
	})
	if err != nil {
		return nil, err
	}
	s.readers = cache
	return s, nil
}

func (s *LocalStorage) Name() string { return "LOCALFILE" }

// CanWrite reports whether accepting the event keeps disk usage under the
// high watermark
func (s *LocalStorage) CanWrite(event *FlushEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.used+event.Size) <= float64(s.diskCapacity)*s.highWatermark
}

// Write appends the event's blocks to the partition's data and index files
func (s *LocalStorage) Write(event *FlushEvent) error {
	dir := filepath.Join(s.basePath, shuffleDir(event.AppID, event.ShuffleID, event.Range))
	w, err := s.writer(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var data []byte
	var index []byte
	offset := w.dataOffset
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

	if _, err := w.dataFile.Write(data); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if _, err := w.indexFile.Write(index); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	w.dataOffset = offset

	s.mu.Lock()
	s.used += event.Size
	s.appUsed[event.AppID] += event.Size
	s.mu.Unlock()

	// Drop any cached reader so the next read sees the new tail
	s.readers.Remove(dir)
	return nil
}

func (s *LocalStorage) writer(dir string) (*partitionWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[dir]; ok {
		return w, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create partition dir: %w", err)
	}
	dataFile, err := os.OpenFile(filepath.Join(dir, "0.data"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	indexFile, err := os.OpenFile(filepath.Join(dir, "0.index"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	stat, err := dataFile.Stat()
	if err != nil {
		dataFile.Close()
		indexFile.Close()
		return nil, err
	}
	w := &partitionWriter{dataFile: dataFile, indexFile: indexFile, dataOffset: stat.Size()}
	s.writers[dir] = w
	return w, nil
}

// CreateReader opens the partition range for reading. Open handles are kept
// in an LRU so repeated reduce-side reads of the same partition do not churn
// file descriptors.
func (s *LocalStorage) CreateReader(appID string, shuffleID int, rng types.PartitionRange) (Reader, error) {
	dir := filepath.Join(s.basePath, shuffleDir(appID, shuffleID, rng))
	if r, ok := s.readers.Get(dir); ok && r.acquire() {
		return r, nil
	}
	dataFile, err := os.Open(filepath.Join(dir, "0.data"))
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	r := &localReader{dir: dir, dataFile: dataFile, refs: 2} // cache ref + caller ref
	s.readers.Add(dir, r)
	return r, nil
}

// RegisterApp is a no-op for the local tier
func (s *LocalStorage) RegisterApp(string, types.RemoteStorageInfo) error { return nil }

// RemoveApp closes open handles and deletes everything under the app's dir
func (s *LocalStorage) RemoveApp(appID string) error {
	appDir := filepath.Join(s.basePath, appID)

	s.mu.Lock()
	for dir, w := range s.writers {
		if strings.HasPrefix(dir, appDir+string(filepath.Separator)) {
			w.mu.Lock()
			w.dataFile.Close()
			w.indexFile.Close()
			w.mu.Unlock()
			delete(s.writers, dir)
		}
	}
	s.used -= s.appUsed[appID]
	delete(s.appUsed, appID)
	s.mu.Unlock()

	for _, dir := range s.readers.Keys() {
		if strings.HasPrefix(dir, appDir+string(filepath.Separator)) {
			s.readers.Remove(dir)
		}
	}

	if err := os.RemoveAll(appDir); err != nil {
		return fmt.Errorf("failed to remove app dir: %w", err)
	}
	s.logger.Info().Str("app_id", appID).Msg("Removed local shuffle data")
	return nil
}

// UsedBytes returns the bytes currently accounted to the local tier
func (s *LocalStorage) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

type localReader struct {
	dir      string
	dataFile *os.File

	mu   sync.Mutex
	refs int
}

// acquire takes a reference, failing if the reader was already released
func (r *localReader) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs == 0 {
		return false
	}
	r.refs++
	return true
}

func (r *localReader) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs > 0 {
		r.refs--
		if r.refs == 0 {
			r.dataFile.Close()
		}
	}
}

func (r *localReader) Index() ([]byte, int64, error) {
	index, err := os.ReadFile(filepath.Join(r.dir, "0.index"))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read index file: %w", err)
	}
	stat, err := r.dataFile.Stat()
	if err != nil {
		return nil, 0, err
	}
	return index, stat.Size(), nil
}

func (r *localReader) Data(offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.dataFile.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	return buf[:n], nil
}

func (r *localReader) Close() error {
	r.release()
	return nil
}
