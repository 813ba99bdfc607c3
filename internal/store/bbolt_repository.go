package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"autopilot/internal/fullauto"
)

var bucketRunMetadata = []byte("run_metadata")

type bboltRepository struct {
	db   *bolt.DB
	runs RunStore
}

func NewBboltRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltRepository{db: db, runs: &bboltRunStore{db: db}}, nil
}

func (r *bboltRepository) Runs() RunStore { return r.runs }

func (r *bboltRepository) Backend() string { return RepositoryBackendBbolt }

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRunMetadata)
		return err
	})
}

type bboltRunStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func (s *bboltRunStore) UpsertRunMetadata(ctx context.Context, meta fullauto.RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(meta.RunID) == "" {
		return errors.New("run metadata requires run_id")
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunMetadata)
		if b == nil {
			return errors.New("run metadata bucket missing")
		}
		return b.Put([]byte(meta.RunID), raw)
	})
}

func (s *bboltRunStore) GetRunMetadata(ctx context.Context, runID string) (*fullauto.RunMetadata, bool, error) {
	var (
		out *fullauto.RunMetadata
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunMetadata)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(runID))
		if len(raw) == 0 {
			return nil
		}
		var meta fullauto.RunMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return err
		}
		out = &meta
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltRunStore) ListRunMetadata(ctx context.Context) ([]*fullauto.RunMetadata, error) {
	out := make([]*fullauto.RunMetadata, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunMetadata)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var meta fullauto.RunMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			copyMeta := meta
			out = append(out, &copyMeta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *bboltRunStore) DeleteRunMetadata(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunMetadata)
		if b == nil {
			return errors.New("run metadata bucket missing")
		}
		key := []byte(runID)
		if b.Get(key) == nil {
			return ErrRunMetadataNotFound
		}
		return b.Delete(key)
	})
}
