// Package store persists run metadata. Two backends are supported: a
// transactional bbolt database for the hot path and a plain JSON file
// for debugging and small installs.
package store

import (
	"context"
	"errors"
	"strings"

	"autopilot/internal/fullauto"
)

const (
	RepositoryBackendFile  = "file"
	RepositoryBackendBbolt = "bbolt"
)

var ErrRunMetadataNotFound = errors.New("run metadata not found")

type RunStore interface {
	fullauto.RunMetadataStore
	DeleteRunMetadata(ctx context.Context, runID string) error
}

type Repository interface {
	Runs() RunStore
	Backend() string
	Close() error
}

type RepositoryPaths struct {
	RunsPath string
	DBPath   string
}

func OpenRepository(paths RepositoryPaths, backend string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", RepositoryBackendBbolt:
		if strings.TrimSpace(paths.DBPath) == "" {
			return nil, errors.New("db path is required for bbolt repository")
		}
		return NewBboltRepository(paths.DBPath)
	case RepositoryBackendFile:
		return NewFileRepository(paths), nil
	default:
		return nil, errors.New("unsupported repository backend: " + backend)
	}
}

type fileRepository struct {
	runs RunStore
}

func NewFileRepository(paths RepositoryPaths) Repository {
	return &fileRepository{runs: NewFileRunStore(paths.RunsPath)}
}

func (r *fileRepository) Runs() RunStore { return r.runs }

func (r *fileRepository) Backend() string { return RepositoryBackendFile }

func (r *fileRepository) Close() error { return nil }
