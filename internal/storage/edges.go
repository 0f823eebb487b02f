package storage

import (
	"context"
	"fmt"
	"strings"

	"tourgraph/internal/models"
)

// CreateEdge inserts a hotspot edge. The source node must exist; target
// validation beyond existence belongs to the orchestration layer.
func (s *Storage) CreateEdge(ctx context.Context, params CreateEdgeParams) (models.HotspotEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Nodes[params.SourceID]; !ok {
		return models.HotspotEdge{}, ErrNodeNotFound
	}
	if params.TargetID != nil {
		if _, ok := s.data.Nodes[*params.TargetID]; !ok {
			return models.HotspotEdge{}, fmt.Errorf("target %s: %w", *params.TargetID, ErrNodeNotFound)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.HotspotEdge{}, err
	}
	now := s.now()
	edge := models.HotspotEdge{
		ID:          id,
		SourceID:    params.SourceID,
		Pitch:       params.Pitch,
		Yaw:         params.Yaw,
		Label:       strings.TrimSpace(params.Label),
		Description: params.Description,
		Category:    params.Category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if params.TargetID != nil {
		target := *params.TargetID
		edge.TargetID = &target
	}
	s.data.Edges[id] = edge
	if err := s.persist(); err != nil {
		delete(s.data.Edges, id)
		return models.HotspotEdge{}, fmt.Errorf("persist hotspot: %w", err)
	}
	return cloneEdge(edge), nil
}

// GetEdge fetches a hotspot edge by id.
func (s *Storage) GetEdge(ctx context.Context, id string) (models.HotspotEdge, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, ok := s.data.Edges[id]
	if !ok {
		return models.HotspotEdge{}, false, nil
	}
	return cloneEdge(edge), true, nil
}

// UpdateEdge applies the non-nil fields of update to the edge.
func (s *Storage) UpdateEdge(ctx context.Context, id string, update EdgeUpdate) (models.HotspotEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edge, ok := s.data.Edges[id]
	if !ok {
		return models.HotspotEdge{}, ErrEdgeNotFound
	}
	previous := edge
	switch {
	case update.ClearTarget:
		edge.TargetID = nil
	case update.TargetID != nil:
		if _, ok := s.data.Nodes[*update.TargetID]; !ok {
			return models.HotspotEdge{}, fmt.Errorf("target %s: %w", *update.TargetID, ErrNodeNotFound)
		}
		target := *update.TargetID
		edge.TargetID = &target
	}
	if update.Pitch != nil {
		edge.Pitch = *update.Pitch
	}
	if update.Yaw != nil {
		edge.Yaw = *update.Yaw
	}
	if update.Label != nil {
		edge.Label = strings.TrimSpace(*update.Label)
	}
	if update.Description != nil {
		edge.Description = *update.Description
	}
	if update.Category != nil {
		edge.Category = *update.Category
	}
	edge.UpdatedAt = s.now()
	s.data.Edges[id] = edge
	if err := s.persist(); err != nil {
		s.data.Edges[id] = previous
		return models.HotspotEdge{}, fmt.Errorf("persist hotspot: %w", err)
	}
	return cloneEdge(edge), nil
}

// DeleteEdge removes a hotspot edge by id.
func (s *Storage) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edge, ok := s.data.Edges[id]
	if !ok {
		return ErrEdgeNotFound
	}
	delete(s.data.Edges, id)
	if err := s.persist(); err != nil {
		s.data.Edges[id] = edge
		return fmt.Errorf("persist hotspot delete: %w", err)
	}
	return nil
}

// ListEdgesBySource returns the edges owned by the given source node in
// creation order.
func (s *Storage) ListEdgesBySource(ctx context.Context, sourceID string) ([]models.HotspotEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []models.HotspotEdge
	for _, edge := range s.data.Edges {
		if edge.SourceID != sourceID {
			continue
		}
		edges = append(edges, cloneEdge(edge))
	}
	sortEdgesByCreation(edges)
	return edges, nil
}
