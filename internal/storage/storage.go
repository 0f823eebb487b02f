// Package storage provides durable persistence for the tour graph: panorama
// nodes and the hotspot edges between them. Two implementations exist, a
// JSON-file store suited to single-process deployments and tests, and a
// Postgres store for shared deployments. Neither knows anything about the
// blob store; image references are opaque data here.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tourgraph/internal/models"
)

type dataset struct {
	Nodes map[string]models.PanoramaNode `json:"nodes"`
	Edges map[string]models.HotspotEdge  `json:"edges"`
}

func newDataset() dataset {
	return dataset{
		Nodes: make(map[string]models.PanoramaNode),
		Edges: make(map[string]models.HotspotEdge),
	}
}

// Storage is the JSON-file backed graph store. All reads and writes go
// through an RWMutex; every mutating call persists the full dataset
// atomically (temp file + rename) before returning, so a crash never leaves
// a partially applied mutation on disk.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt.applyJSON(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	s.ensureDatasetInitializedLocked()
	return nil
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Nodes == nil {
		s.data.Nodes = make(map[string]models.PanoramaNode)
	}
	if s.data.Edges == nil {
		s.data.Edges = make(map[string]models.HotspotEdge)
	}
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "graph-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, node := range src.Nodes {
		clone.Nodes[id] = cloneNode(node)
	}
	for id, edge := range src.Edges {
		clone.Edges[id] = cloneEdge(edge)
	}
	return clone
}

func cloneNode(node models.PanoramaNode) models.PanoramaNode {
	cloned := node
	if node.Image != nil {
		image := *node.Image
		cloned.Image = &image
	}
	return cloned
}

func cloneEdge(edge models.HotspotEdge) models.HotspotEdge {
	cloned := edge
	if edge.TargetID != nil {
		target := *edge.TargetID
		cloned.TargetID = &target
	}
	return cloned
}

// Ping reports readiness; the JSON store is ready once loaded.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Close flushes nothing; every mutation already persisted.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}
