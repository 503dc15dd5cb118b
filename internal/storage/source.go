// Package storage resolves model weight files to paths on local disk,
// downloading them from a remote store on first use when needed.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrWeightsNotFound is returned when a source has no file with the requested name.
var ErrWeightsNotFound = errors.New("model weights not found")

// WeightSource locates a named weight or vocabulary file and returns a local
// filesystem path that can be handed to the inference runtime.
type WeightSource interface {
	Resolve(ctx context.Context, name string) (string, error)
	Name() string
}

// LocalWeightSource serves files from a directory.
type LocalWeightSource struct {
	dir string
}

func NewLocalWeightSource(dir string) *LocalWeightSource {
	return &LocalWeightSource{dir: dir}
}

func (s *LocalWeightSource) Resolve(_ context.Context, name string) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrWeightsNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

func (s *LocalWeightSource) Name() string {
	return "local"
}

// downloadCache keeps downloaded files under dir and makes sure each file is
// fetched at most once at a time.
type downloadCache struct {
	dir   string
	locks sync.Map // file name -> *sync.Mutex
}

func (c *downloadCache) path(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

// fetch returns the cached path for name, calling download when the file is
// not cached yet.
func (c *downloadCache) fetch(ctx context.Context, name string, download func(ctx context.Context, w io.Writer) error) (string, error) {
	mu, _ := c.locks.LoadOrStore(name, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	target := c.path(name)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, filepath.Base(name)+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := download(ctx, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("move %s into cache: %w", name, err)
	}
	return target, nil
}
