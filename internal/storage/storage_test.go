package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tourgraph/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStorage(t *testing.T) (*Storage, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store, err := NewStorage(filepath.Join(t.TempDir(), "tours.json"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store, clock
}

func mustCreateNode(t *testing.T, store *Storage, name string) models.PanoramaNode {
	t.Helper()
	node, err := store.CreateNode(context.Background(), CreateNodeParams{
		Name:    name,
		Image:   &models.ImageRef{BlobID: "blob-" + name, URL: "https://blobs/" + name},
		OwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("CreateNode %s: %v", name, err)
	}
	return node
}

func mustCreateEdge(t *testing.T, store *Storage, sourceID string, targetID *string) models.HotspotEdge {
	t.Helper()
	edge, err := store.CreateEdge(context.Background(), CreateEdgeParams{
		SourceID: sourceID,
		TargetID: targetID,
		Pitch:    10,
		Yaw:      45,
		Label:    "go",
	})
	if err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}
	return edge
}

func TestCreateNodeTrimsNameAndClonesImage(t *testing.T) {
	store, _ := newTestStorage(t)

	image := &models.ImageRef{BlobID: "blob-1", URL: "https://blobs/1"}
	node, err := store.CreateNode(context.Background(), CreateNodeParams{Name: "  Lobby  ", Image: image})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if node.Name != "Lobby" {
		t.Fatalf("expected trimmed name, got %q", node.Name)
	}
	if node.ID == "" {
		t.Fatal("expected a generated id")
	}
	if node.CreatedAt.IsZero() || !node.CreatedAt.Equal(node.UpdatedAt) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", node.CreatedAt, node.UpdatedAt)
	}

	// Mutating the caller's image must not reach the stored copy.
	image.URL = "https://blobs/other"
	stored, ok, err := store.GetNode(context.Background(), node.ID)
	if err != nil || !ok {
		t.Fatalf("GetNode: ok=%v err=%v", ok, err)
	}
	if stored.Image.URL != "https://blobs/1" {
		t.Fatalf("stored image was aliased: %q", stored.Image.URL)
	}
}

func TestCreateNodeRequiresName(t *testing.T) {
	store, _ := newTestStorage(t)
	if _, err := store.CreateNode(context.Background(), CreateNodeParams{Name: "   "}); err == nil {
		t.Fatal("expected an error for a blank name")
	}
}

func TestUpdateNode(t *testing.T) {
	store, clock := newTestStorage(t)
	node := mustCreateNode(t, store, "Lobby")

	clock.Advance(time.Minute)
	name := "Entrance"
	updated, err := store.UpdateNode(context.Background(), node.ID, NodeUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if updated.Name != "Entrance" {
		t.Fatalf("expected renamed node, got %q", updated.Name)
	}
	if !updated.UpdatedAt.After(node.UpdatedAt) {
		t.Fatalf("expected updatedAt to advance: %v vs %v", updated.UpdatedAt, node.UpdatedAt)
	}
	if updated.Image == nil || updated.Image.BlobID != node.Image.BlobID {
		t.Fatalf("rename must not touch the image: %+v", updated.Image)
	}

	ref := models.ImageRef{BlobID: "blob-new", URL: "https://blobs/new"}
	updated, err = store.UpdateNode(context.Background(), node.ID, NodeUpdate{Image: &ref})
	if err != nil {
		t.Fatalf("UpdateNode image: %v", err)
	}
	if updated.Image.BlobID != "blob-new" {
		t.Fatalf("expected replaced image, got %+v", updated.Image)
	}
	if updated.Name != "Entrance" {
		t.Fatalf("image update must not touch the name, got %q", updated.Name)
	}

	blank := "   "
	if _, err := store.UpdateNode(context.Background(), node.ID, NodeUpdate{Name: &blank}); err == nil {
		t.Fatal("expected an error for a blank name")
	}

	if _, err := store.UpdateNode(context.Background(), "missing", NodeUpdate{Name: &name}); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestDeleteNodeCascadesAndDetaches(t *testing.T) {
	store, _ := newTestStorage(t)
	lobby := mustCreateNode(t, store, "Lobby")
	hall := mustCreateNode(t, store, "Hall")

	toHall := mustCreateEdge(t, store, lobby.ID, &hall.ID)
	outgoing := mustCreateEdge(t, store, hall.ID, &lobby.ID)

	if err := store.DeleteNode(context.Background(), hall.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}

	if exists, _ := store.NodeExists(context.Background(), hall.ID); exists {
		t.Fatal("expected the node to be gone")
	}
	if _, ok, _ := store.GetEdge(context.Background(), outgoing.ID); ok {
		t.Fatal("expected the node's outgoing edge to be removed")
	}
	edge, ok, err := store.GetEdge(context.Background(), toHall.ID)
	if err != nil || !ok {
		t.Fatalf("GetEdge: ok=%v err=%v", ok, err)
	}
	if edge.TargetID != nil {
		t.Fatalf("expected incoming edge to be detached, target still %q", *edge.TargetID)
	}

	if err := store.DeleteNode(context.Background(), hall.ID); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestDeleteNodeRollsBackOnPersistFailure(t *testing.T) {
	store, _ := newTestStorage(t)
	lobby := mustCreateNode(t, store, "Lobby")
	hall := mustCreateNode(t, store, "Hall")
	edge := mustCreateEdge(t, store, lobby.ID, &hall.ID)

	store.persistOverride = func(dataset) error { return fmt.Errorf("disk full") }
	if err := store.DeleteNode(context.Background(), hall.ID); err == nil {
		t.Fatal("expected persist failure to surface")
	}
	store.persistOverride = nil

	if exists, _ := store.NodeExists(context.Background(), hall.ID); !exists {
		t.Fatal("expected the node to survive a failed delete")
	}
	got, ok, err := store.GetEdge(context.Background(), edge.ID)
	if err != nil || !ok {
		t.Fatalf("GetEdge: ok=%v err=%v", ok, err)
	}
	if got.TargetID == nil || *got.TargetID != hall.ID {
		t.Fatalf("expected edge target to be restored, got %+v", got.TargetID)
	}
}

func TestListNodesSearchAndOrder(t *testing.T) {
	store, clock := newTestStorage(t)
	lobby := mustCreateNode(t, store, "Grand Lobby")
	clock.Advance(time.Minute)
	hall := mustCreateNode(t, store, "Great Hall")
	clock.Advance(time.Minute)
	cellar := mustCreateNode(t, store, "Cellar")

	nodes, err := store.ListNodes(context.Background(), "")
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if nodes[0].ID != cellar.ID || nodes[1].ID != hall.ID || nodes[2].ID != lobby.ID {
		t.Fatalf("expected recency order, got %v %v %v", nodes[0].Name, nodes[1].Name, nodes[2].Name)
	}

	nodes, err = store.ListNodes(context.Background(), "  GREAT ")
	if err != nil {
		t.Fatalf("ListNodes search: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != hall.ID {
		t.Fatalf("expected case-folded match for the hall, got %d nodes", len(nodes))
	}

	nodes, err = store.ListNodes(context.Background(), "no such place")
	if err != nil {
		t.Fatalf("ListNodes no match: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected no matches, got %d", len(nodes))
	}
}

func TestListNodesSearchFoldsUnicode(t *testing.T) {
	store, _ := newTestStorage(t)
	halle := mustCreateNode(t, store, "Große Halle")
	mustCreateNode(t, store, "Cellar")

	// Full case folding: ß matches SS, unlike plain lower-casing.
	nodes, err := store.ListNodes(context.Background(), "GROSSE")
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != halle.ID {
		t.Fatalf("expected folded match, got %d nodes", len(nodes))
	}
}

func TestCreateEdgeValidatesEndpoints(t *testing.T) {
	store, _ := newTestStorage(t)
	lobby := mustCreateNode(t, store, "Lobby")

	missing := "no-such-node"
	if _, err := store.CreateEdge(context.Background(), CreateEdgeParams{SourceID: missing, TargetID: &lobby.ID}); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound for a missing source, got %v", err)
	}
	if _, err := store.CreateEdge(context.Background(), CreateEdgeParams{SourceID: lobby.ID, TargetID: &missing}); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound for a missing target, got %v", err)
	}

	edge, err := store.CreateEdge(context.Background(), CreateEdgeParams{SourceID: lobby.ID, Label: "  note  "})
	if err != nil {
		t.Fatalf("CreateEdge without target: %v", err)
	}
	if edge.TargetID != nil {
		t.Fatalf("expected informational edge without target, got %+v", edge.TargetID)
	}
	if edge.Label != "note" {
		t.Fatalf("expected trimmed label, got %q", edge.Label)
	}
}

func TestUpdateEdge(t *testing.T) {
	store, _ := newTestStorage(t)
	lobby := mustCreateNode(t, store, "Lobby")
	hall := mustCreateNode(t, store, "Hall")
	cellar := mustCreateNode(t, store, "Cellar")
	edge := mustCreateEdge(t, store, lobby.ID, &hall.ID)

	updated, err := store.UpdateEdge(context.Background(), edge.ID, EdgeUpdate{TargetID: &cellar.ID})
	if err != nil {
		t.Fatalf("UpdateEdge retarget: %v", err)
	}
	if updated.TargetID == nil || *updated.TargetID != cellar.ID {
		t.Fatalf("expected retargeted edge, got %+v", updated.TargetID)
	}

	// ClearTarget wins even when a target id is also supplied.
	updated, err = store.UpdateEdge(context.Background(), edge.ID, EdgeUpdate{TargetID: &hall.ID, ClearTarget: true})
	if err != nil {
		t.Fatalf("UpdateEdge clear: %v", err)
	}
	if updated.TargetID != nil {
		t.Fatalf("expected cleared target, got %q", *updated.TargetID)
	}

	missing := "no-such-node"
	if _, err := store.UpdateEdge(context.Background(), edge.ID, EdgeUpdate{TargetID: &missing}); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound for a missing target, got %v", err)
	}

	pitch := -30.0
	label := "  down  "
	updated, err = store.UpdateEdge(context.Background(), edge.ID, EdgeUpdate{Pitch: &pitch, Label: &label})
	if err != nil {
		t.Fatalf("UpdateEdge fields: %v", err)
	}
	if updated.Pitch != -30 || updated.Label != "down" {
		t.Fatalf("unexpected edge after update: pitch=%v label=%q", updated.Pitch, updated.Label)
	}
	if updated.Yaw != edge.Yaw {
		t.Fatalf("yaw must be untouched, got %v", updated.Yaw)
	}

	if _, err := store.UpdateEdge(context.Background(), "missing", EdgeUpdate{Pitch: &pitch}); !errors.Is(err, ErrEdgeNotFound) {
		t.Fatalf("expected ErrEdgeNotFound, got %v", err)
	}
}

func TestDeleteEdge(t *testing.T) {
	store, _ := newTestStorage(t)
	lobby := mustCreateNode(t, store, "Lobby")
	hall := mustCreateNode(t, store, "Hall")
	edge := mustCreateEdge(t, store, lobby.ID, &hall.ID)

	if err := store.DeleteEdge(context.Background(), edge.ID); err != nil {
		t.Fatalf("DeleteEdge: %v", err)
	}
	if err := store.DeleteEdge(context.Background(), edge.ID); !errors.Is(err, ErrEdgeNotFound) {
		t.Fatalf("expected ErrEdgeNotFound, got %v", err)
	}
}

func TestListEdgesBySourceOrdersByCreation(t *testing.T) {
	store, clock := newTestStorage(t)
	lobby := mustCreateNode(t, store, "Lobby")
	hall := mustCreateNode(t, store, "Hall")

	first := mustCreateEdge(t, store, lobby.ID, &hall.ID)
	clock.Advance(time.Second)
	second := mustCreateEdge(t, store, lobby.ID, &hall.ID)
	mustCreateEdge(t, store, hall.ID, &lobby.ID)

	edges, err := store.ListEdgesBySource(context.Background(), lobby.ID)
	if err != nil {
		t.Fatalf("ListEdgesBySource: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	if edges[0].ID != first.ID || edges[1].ID != second.ID {
		t.Fatalf("expected creation order, got %s then %s", edges[0].ID, edges[1].ID)
	}
}

func TestStorageReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tours.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	lobby := mustCreateNode(t, store, "Lobby")
	hall := mustCreateNode(t, store, "Hall")
	edge := mustCreateEdge(t, store, lobby.ID, &hall.ID)

	reopened, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage reopen: %v", err)
	}
	node, ok, err := reopened.GetNode(context.Background(), lobby.ID)
	if err != nil || !ok {
		t.Fatalf("GetNode after reload: ok=%v err=%v", ok, err)
	}
	if node.Name != "Lobby" || node.Image == nil {
		t.Fatalf("unexpected node after reload: %+v", node)
	}
	if _, ok, _ := reopened.GetEdge(context.Background(), edge.ID); !ok {
		t.Fatal("expected edge to survive reload")
	}
}

func TestLoadSnapshotFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tours.json")

	target := "node-b"
	dangling := "node-gone"
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	data := dataset{
		Nodes: map[string]models.PanoramaNode{
			"node-a": {ID: "node-a", Name: "Lobby", CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)},
			"node-b": {ID: "node-b", Name: "Hall", CreatedAt: base, UpdatedAt: base},
		},
		Edges: map[string]models.HotspotEdge{
			"edge-1": {ID: "edge-1", SourceID: "node-a", TargetID: &target, CreatedAt: base, UpdatedAt: base},
			"edge-2": {ID: "edge-2", SourceID: "node-a", TargetID: &dangling, CreatedAt: base.Add(time.Minute), UpdatedAt: base},
			"edge-3": {ID: "edge-3", SourceID: "node-b", CreatedAt: base.Add(2 * time.Minute), UpdatedAt: base},
		},
	}
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal dataset: %v", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatalf("write dataset: %v", err)
	}

	snapshot, err := LoadSnapshotFromJSON(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFromJSON: %v", err)
	}
	if len(snapshot.Nodes) != 2 || snapshot.Nodes[0].ID != "node-b" {
		t.Fatalf("expected nodes in creation order, got %+v", snapshot.Nodes)
	}
	if len(snapshot.Edges) != 3 || snapshot.Edges[0].ID != "edge-1" {
		t.Fatalf("expected edges in creation order, got %+v", snapshot.Edges)
	}

	counts := snapshot.Counts()
	if counts.Panoramas != 2 || counts.Hotspots != 3 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts.LinkedHotspots != 1 || counts.DanglingTargets != 1 {
		t.Fatalf("unexpected link counts: %+v", counts)
	}
}

func TestLoadSnapshotFromJSONMissingFile(t *testing.T) {
	if _, err := LoadSnapshotFromJSON(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
