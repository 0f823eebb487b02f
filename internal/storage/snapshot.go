package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"tourgraph/internal/models"
)

// Snapshot is a point-in-time copy of the tour graph, used when moving data
// between the JSON and Postgres stores.
type Snapshot struct {
	Nodes []models.PanoramaNode
	Edges []models.HotspotEdge
}

// SnapshotCounts summarizes a snapshot for logging and verification.
type SnapshotCounts struct {
	Panoramas       int
	Hotspots        int
	LinkedHotspots  int
	DanglingTargets int
}

// Counts tallies the snapshot contents. A hotspot is linked when its target
// still points at a panorama present in the snapshot.
func (s Snapshot) Counts() SnapshotCounts {
	counts := SnapshotCounts{
		Panoramas: len(s.Nodes),
		Hotspots:  len(s.Edges),
	}
	known := make(map[string]struct{}, len(s.Nodes))
	for _, node := range s.Nodes {
		known[node.ID] = struct{}{}
	}
	for _, edge := range s.Edges {
		if edge.TargetID == nil {
			continue
		}
		if _, ok := known[*edge.TargetID]; ok {
			counts.LinkedHotspots++
		} else {
			counts.DanglingTargets++
		}
	}
	return counts
}

// LoadSnapshotFromJSON reads a JSON datastore file into a snapshot without
// going through a live Storage. Nodes and edges come back in creation order
// so imports are deterministic.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}

	snapshot := Snapshot{
		Nodes: make([]models.PanoramaNode, 0, len(data.Nodes)),
		Edges: make([]models.HotspotEdge, 0, len(data.Edges)),
	}
	for _, node := range data.Nodes {
		snapshot.Nodes = append(snapshot.Nodes, cloneNode(node))
	}
	for _, edge := range data.Edges {
		snapshot.Edges = append(snapshot.Edges, cloneEdge(edge))
	}
	sort.Slice(snapshot.Nodes, func(i, j int) bool {
		a, b := snapshot.Nodes[i], snapshot.Nodes[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	sort.Slice(snapshot.Edges, func(i, j int) bool {
		a, b := snapshot.Edges[i], snapshot.Edges[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return snapshot, nil
}

// ImportSnapshot writes the snapshot into Postgres inside one transaction,
// preserving ids and timestamps. Existing rows with the same id are
// overwritten. Hotspot targets that reference panoramas outside the snapshot
// are nulled rather than violating the foreign key; the caller learns how
// many through the returned counts.
func (s *PostgresStore) ImportSnapshot(ctx context.Context, snapshot Snapshot) (SnapshotCounts, error) {
	counts := snapshot.Counts()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return counts, fmt.Errorf("begin import: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	known := make(map[string]struct{}, len(snapshot.Nodes))
	for _, node := range snapshot.Nodes {
		known[node.ID] = struct{}{}
		blobID, imageURL := imageColumns(node.Image)
		_, err := tx.Exec(ctx, `
INSERT INTO panoramas (id, name, image_blob_id, image_url, owner_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	image_blob_id = EXCLUDED.image_blob_id,
	image_url = EXCLUDED.image_url,
	owner_id = EXCLUDED.owner_id,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at`,
			node.ID, node.Name, blobID, imageURL, node.OwnerID, node.CreatedAt, node.UpdatedAt)
		if err != nil {
			return counts, fmt.Errorf("import panorama %s: %w", node.ID, err)
		}
	}

	for _, edge := range snapshot.Edges {
		target := edge.TargetID
		if target != nil {
			if _, ok := known[*target]; !ok {
				target = nil
			}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO hotspots (id, source_id, target_id, pitch, yaw, label, description, category, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	target_id = EXCLUDED.target_id,
	pitch = EXCLUDED.pitch,
	yaw = EXCLUDED.yaw,
	label = EXCLUDED.label,
	description = EXCLUDED.description,
	category = EXCLUDED.category,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at`,
			edge.ID, edge.SourceID, target, edge.Pitch, edge.Yaw,
			edge.Label, edge.Description, edge.Category, edge.CreatedAt, edge.UpdatedAt)
		if err != nil {
			return counts, fmt.Errorf("import hotspot %s: %w", edge.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return counts, fmt.Errorf("commit import: %w", err)
	}
	committed = true
	return counts, nil
}
