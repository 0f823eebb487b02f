package storage

import (
	"context"
	"fmt"
	"strings"

	"tourgraph/internal/models"
)

// CreateNode inserts a panorama node and persists the dataset.
func (s *Storage) CreateNode(ctx context.Context, params CreateNodeParams) (models.PanoramaNode, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.PanoramaNode{}, fmt.Errorf("panorama name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return models.PanoramaNode{}, err
	}
	now := s.now()
	node := models.PanoramaNode{
		ID:        id,
		Name:      name,
		OwnerID:   params.OwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.Image != nil {
		image := *params.Image
		node.Image = &image
	}
	s.data.Nodes[id] = node
	if err := s.persist(); err != nil {
		delete(s.data.Nodes, id)
		return models.PanoramaNode{}, fmt.Errorf("persist panorama: %w", err)
	}
	return cloneNode(node), nil
}

// GetNode fetches a panorama node by id.
func (s *Storage) GetNode(ctx context.Context, id string) (models.PanoramaNode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.data.Nodes[id]
	if !ok {
		return models.PanoramaNode{}, false, nil
	}
	return cloneNode(node), true, nil
}

// NodeExists reports whether a panorama node with the given id exists.
func (s *Storage) NodeExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.Nodes[id]
	return ok, nil
}

// UpdateNode applies the non-nil fields of update to the node.
func (s *Storage) UpdateNode(ctx context.Context, id string, update NodeUpdate) (models.PanoramaNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.data.Nodes[id]
	if !ok {
		return models.PanoramaNode{}, ErrNodeNotFound
	}
	previous := node
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.PanoramaNode{}, fmt.Errorf("panorama name is required")
		}
		node.Name = name
	}
	if update.Image != nil {
		image := *update.Image
		node.Image = &image
	}
	node.UpdatedAt = s.now()
	s.data.Nodes[id] = node
	if err := s.persist(); err != nil {
		s.data.Nodes[id] = previous
		return models.PanoramaNode{}, fmt.Errorf("persist panorama: %w", err)
	}
	return cloneNode(node), nil
}

// DeleteNode removes a node, its outgoing edges, and detaches any edge on
// another node that targeted it. The whole mutation persists as one unit; on
// persist failure the in-memory dataset is rolled back.
func (s *Storage) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Nodes[id]; !ok {
		return ErrNodeNotFound
	}
	snapshot := cloneDataset(s.data)

	delete(s.data.Nodes, id)
	for edgeID, edge := range s.data.Edges {
		if edge.SourceID == id {
			delete(s.data.Edges, edgeID)
			continue
		}
		if edge.TargetID != nil && *edge.TargetID == id {
			edge.TargetID = nil
			edge.UpdatedAt = s.now()
			s.data.Edges[edgeID] = edge
		}
	}
	if err := s.persist(); err != nil {
		s.data = snapshot
		return fmt.Errorf("persist panorama delete: %w", err)
	}
	return nil
}

// ListNodes returns nodes whose name contains search (case-folded), all of
// them when search is empty, most recently updated first.
func (s *Storage) ListNodes(ctx context.Context, search string) ([]models.PanoramaNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]models.PanoramaNode, 0, len(s.data.Nodes))
	for _, node := range s.data.Nodes {
		if !matchesName(node.Name, search) {
			continue
		}
		nodes = append(nodes, cloneNode(node))
	}
	sortNodesByRecency(nodes)
	return nodes, nil
}
