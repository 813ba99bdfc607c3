// Package decisionlog persists run decision records as an append-only,
// write-through log. Every append is framed, checksummed and fsynced
// before it returns, so a logged decision survives a crash and a torn
// final record is detectable and discardable on recovery.
package decisionlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"autopilot/internal/fullauto"
)

const (
	logFileSuffix = ".declog"

	// frameHeaderSize is a 4-byte big-endian payload length followed by a
	// 4-byte CRC32-Castagnoli of the payload.
	frameHeaderSize = 8

	// maxRecordSize bounds a single record so a corrupted length field
	// cannot drive an absurd allocation.
	maxRecordSize = 16 << 20
)

var (
	ErrCorruptLog = errors.New("decision log corrupt")

	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

// Store manages one log file per run under a single directory.
type Store struct {
	dir string

	mu   sync.Mutex
	open map[string]*RunLog
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("decision log directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create decision log directory: %w", err)
	}
	return &Store{dir: dir, open: make(map[string]*RunLog)}, nil
}

// OpenRunLog returns the append handle for a run, creating the file on
// first use. Handles are cached so a run always appends through one
// descriptor.
func (s *Store) OpenRunLog(runID string) (fullauto.DecisionLog, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id not set")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.open[runID]; ok {
		return log, nil
	}
	file, err := os.OpenFile(s.path(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	log := &RunLog{file: file}
	s.open[runID] = log
	return log, nil
}

// ReadRunLog replays a run's log from disk. A torn final record is
// silently discarded; a sequence gap before the tail means the file was
// damaged mid-stream and is reported as corruption.
func (s *Store) ReadRunLog(ctx context.Context, runID string) ([]fullauto.DecisionLogEntry, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id not set")
	}
	file, err := os.Open(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fullauto.ErrRunNotFound
		}
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	defer file.Close()

	var entries []fullauto.DecisionLogEntry
	var header [frameHeaderSize]byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(file, header[:]); err != nil {
			// Clean EOF ends the log; a partial header is a torn tail.
			break
		}
		length := binary.BigEndian.Uint32(header[0:4])
		sum := binary.BigEndian.Uint32(header[4:8])
		if length == 0 || length > maxRecordSize {
			break
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			break
		}
		if crc32.Checksum(payload, crcTable) != sum {
			break
		}
		var entry fullauto.DecisionLogEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			break
		}
		if entry.Seq != uint64(len(entries))+1 {
			return nil, fmt.Errorf("%w: sequence gap at record %d (seq %d)", ErrCorruptLog, len(entries)+1, entry.Seq)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListRuns returns the run identifiers that have a log file on disk.
func (s *Store) ListRuns() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list decision logs: %w", err)
	}
	out := make([]string, 0, len(dirents))
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() || !strings.HasSuffix(name, logFileSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, logFileSuffix))
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for runID, log := range s.open {
		if err := log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.open, runID)
	}
	return firstErr
}

func (s *Store) path(runID string) string {
	// Run ids come from the service, but never trust them as paths.
	return filepath.Join(s.dir, filepath.Base(runID)+logFileSuffix)
}

// RunLog is the append handle for one run's log file.
type RunLog struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Append frames, writes and fsyncs one entry. The entry is durable when
// Append returns nil.
func (l *RunLog) Append(ctx context.Context, entry fullauto.DecisionLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode decision log entry: %w", err)
	}
	if len(payload) > maxRecordSize {
		return fmt.Errorf("decision log entry too large: %d bytes", len(payload))
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crcTable))
	copy(frame[frameHeaderSize:], payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("decision log closed")
	}
	if _, err := l.file.Write(frame); err != nil {
		return fmt.Errorf("write decision log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync decision log: %w", err)
	}
	return nil
}

func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
