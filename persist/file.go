package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const fileExt = ".yaml"

// FileAdapter stores each checkpoint as one YAML file in a directory.
type FileAdapter struct {
	dir string
	mu  sync.Mutex
}

var _ Adapter = (*FileAdapter)(nil)

// NewFileAdapter creates the directory if needed.
func NewFileAdapter(dir string) (*FileAdapter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create dir: %w", err)
	}
	return &FileAdapter{dir: dir}, nil
}

func (f *FileAdapter) path(name string) string {
	return filepath.Join(f.dir, name+fileExt)
}

// Save writes the snapshot atomically via a temp file rename.
func (f *FileAdapter) Save(_ context.Context, name string, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("persist: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist: close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist: rename snapshot: %w", err)
	}
	return nil
}

func (f *FileAdapter) Load(_ context.Context, name string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(name))
	if os.IsNotExist(err) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("persist: read snapshot: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("persist: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (f *FileAdapter) List(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("persist: list dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	slices.Sort(names)
	return names, nil
}

func (f *FileAdapter) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persist: delete snapshot: %w", err)
	}
	return nil
}
