package store

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"autopilot/internal/fullauto"
)

// fileRunStore keeps all run metadata in one JSON document, rewritten
// atomically on every change.
type fileRunStore struct {
	path string
	mu   sync.Mutex
}

func NewFileRunStore(path string) RunStore {
	return &fileRunStore{path: path}
}

func (s *fileRunStore) UpsertRunMetadata(ctx context.Context, meta fullauto.RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(meta.RunID) == "" {
		return errors.New("run metadata requires run_id")
	}
	runs, err := s.load()
	if err != nil {
		return err
	}
	runs[meta.RunID] = meta
	return writeJSONAtomic(s.path, runs)
}

func (s *fileRunStore) GetRunMetadata(ctx context.Context, runID string) (*fullauto.RunMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.load()
	if err != nil {
		return nil, false, err
	}
	meta, ok := runs[runID]
	if !ok {
		return nil, false, nil
	}
	return &meta, true, nil
}

func (s *fileRunStore) ListRunMetadata(ctx context.Context) ([]*fullauto.RunMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*fullauto.RunMetadata, 0, len(runs))
	for _, meta := range runs {
		copyMeta := meta
		out = append(out, &copyMeta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *fileRunStore) DeleteRunMetadata(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := runs[runID]; !ok {
		return ErrRunMetadataNotFound
	}
	delete(runs, runID)
	return writeJSONAtomic(s.path, runs)
}

func (s *fileRunStore) load() (map[string]fullauto.RunMetadata, error) {
	runs := make(map[string]fullauto.RunMetadata)
	if err := readJSON(s.path, &runs); err != nil {
		if os.IsNotExist(err) {
			return runs, nil
		}
		return nil, err
	}
	return runs, nil
}
