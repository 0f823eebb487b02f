package storage

import (
	"context"
	"errors"

	"tourgraph/internal/models"
)

var (
	// ErrNodeNotFound indicates the panorama node does not exist.
	ErrNodeNotFound = errors.New("panorama not found")
	// ErrEdgeNotFound indicates the hotspot edge does not exist.
	ErrEdgeNotFound = errors.New("hotspot not found")
)

// CreateNodeParams captures the attributes set when inserting a panorama node.
type CreateNodeParams struct {
	Name    string
	Image   *models.ImageRef
	OwnerID string
}

// NodeUpdate describes the mutable fields of a panorama node. Nil fields are
// left unchanged.
type NodeUpdate struct {
	Name  *string
	Image *models.ImageRef
}

// CreateEdgeParams captures the attributes set when inserting a hotspot edge.
type CreateEdgeParams struct {
	SourceID    string
	TargetID    *string
	Pitch       float64
	Yaw         float64
	Label       string
	Description string
	Category    string
}

// EdgeUpdate describes the mutable fields of a hotspot edge. Nil fields are
// left unchanged. ClearTarget removes the target reference regardless of
// TargetID.
type EdgeUpdate struct {
	TargetID    *string
	ClearTarget bool
	Pitch       *float64
	Yaw         *float64
	Label       *string
	Description *string
	Category    *string
}

// Repository exposes the graph persistence operations required by the
// orchestration and read layers. Implementations must make each mutating call
// a single storage-level transaction; DeleteNode in particular removes the
// node's outgoing edges and detaches incoming edges atomically with the row
// delete.
type Repository interface {
	CreateNode(ctx context.Context, params CreateNodeParams) (models.PanoramaNode, error)
	GetNode(ctx context.Context, id string) (models.PanoramaNode, bool, error)
	UpdateNode(ctx context.Context, id string, update NodeUpdate) (models.PanoramaNode, error)
	DeleteNode(ctx context.Context, id string) error
	NodeExists(ctx context.Context, id string) (bool, error)
	ListNodes(ctx context.Context, search string) ([]models.PanoramaNode, error)

	CreateEdge(ctx context.Context, params CreateEdgeParams) (models.HotspotEdge, error)
	GetEdge(ctx context.Context, id string) (models.HotspotEdge, bool, error)
	UpdateEdge(ctx context.Context, id string, update EdgeUpdate) (models.HotspotEdge, error)
	DeleteEdge(ctx context.Context, id string) error
	ListEdgesBySource(ctx context.Context, sourceID string) ([]models.HotspotEdge, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Repository = (*Storage)(nil)
