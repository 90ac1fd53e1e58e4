package learner

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists InteractionRecords to one append-only file per project
// id, in the exact envelope spec.md §6 mandates: a 1-byte record kind
// tag, a 4-byte big-endian length prefix, then the JSON payload. This is
// deliberately hand-rolled over the standard library rather than reached
// for in a third-party serialization format: the envelope shape is
// spec-mandated and flat, not relational, so nothing in the teacher's or
// pack's SQL stack applies (see DESIGN.md).
type Store struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string][]InteractionRecord // projectID -> unflushed records
	timer   *time.Timer
	flushAt time.Duration

	closed bool
}

const recordKindInteraction byte = 1

// NewStore opens/creates dir for use as the learner's persistence root.
func NewStore(dir string, flushDebounce time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		return nil, fmt.Errorf("learner: store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("learner: create store dir: %w", err)
	}
	if flushDebounce <= 0 {
		flushDebounce = 2 * time.Second
	}
	return &Store{dir: dir, logger: logger, pending: make(map[string][]InteractionRecord), flushAt: flushDebounce}, nil
}

func (s *Store) pathFor(projectID string) string {
	return filepath.Join(s.dir, projectID+".log")
}

// Enqueue queues rec for projectID's file and (re)starts the debounce
// timer so the flush fires flushAt after the last write.
func (s *Store) Enqueue(projectID string, rec InteractionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[projectID] = append(s.pending[projectID], rec)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.flushAt, s.flushLocked)
}

// FlushNow flushes all pending writes immediately, used on shutdown.
func (s *Store) FlushNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doFlush()
}

func (s *Store) flushLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doFlush()
}

func (s *Store) doFlush() {
	for projectID, records := range s.pending {
		if err := s.appendRecords(projectID, records); err != nil {
			s.logger.Error("learner: flush failed", zap.String("project_id", projectID), zap.Error(err))
			continue
		}
		delete(s.pending, projectID)
	}
}

func (s *Store) appendRecords(projectID string, records []InteractionRecord) error {
	f, err := os.OpenFile(s.pathFor(projectID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		buf.WriteByte(recordKindInteraction)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		buf.Write(lenBuf[:])
		buf.Write(payload)
	}
	_, err = f.Write(buf.Bytes())
	return err
}

// Close flushes and marks the store unusable for further writes.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.doFlush()
	s.closed = true
}

// LoadAll reads every project log file under the store directory,
// keyed by project id (the filename stem). Tail corruption is recovered
// by truncating the file to the last fully-decodable record offset; if
// truncation itself fails, ErrStoreCorrupted is returned (fatal, exit
// code 3 per spec.md §7).
func (s *Store) LoadAll() (map[string][]InteractionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]InteractionRecord)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		projectID := entry.Name()[:len(entry.Name())-len(".log")]
		records, err := s.loadProject(projectID)
		if err != nil {
			return nil, err
		}
		out[projectID] = records
	}
	return out, nil
}

func (s *Store) loadProject(projectID string) ([]InteractionRecord, error) {
	path := s.pathFor(projectID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []InteractionRecord
	offset := 0
	lastGood := 0
	for offset < len(data) {
		if offset+5 > len(data) {
			break // truncated header, stop here
		}
		kind := data[offset]
		length := binary.BigEndian.Uint32(data[offset+1 : offset+5])
		start := offset + 5
		end := start + int(length)
		if kind != recordKindInteraction || end > len(data) {
			break // truncated or corrupt payload, stop here
		}
		var rec InteractionRecord
		if err := json.Unmarshal(data[start:end], &rec); err != nil {
			break
		}
		records = append(records, rec)
		offset = end
		lastGood = offset
	}

	if lastGood < len(data) {
		s.logger.Warn("learner: recovering truncated tail", zap.String("project_id", projectID),
			zap.Int("valid_bytes", lastGood), zap.Int("total_bytes", len(data)))
		if err := os.Truncate(path, int64(lastGood)); err != nil {
			return nil, fmt.Errorf("%w: truncate %s: %v", ErrStoreCorrupted, path, err)
		}
	}

	return records, nil
}
