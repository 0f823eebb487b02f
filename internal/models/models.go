// Package models defines the persistent entities of the tour graph: panorama
// nodes and the hotspot edges that connect them.
package models

import (
	"strings"
	"time"
)

// ImageRef points at the panorama image held in external object storage. The
// blob id addresses the object for deletion; the URL is what viewers load.
type ImageRef struct {
	BlobID string `json:"blobId"`
	URL    string `json:"url"`
}

// IsZero reports whether the reference is empty.
func (r ImageRef) IsZero() bool {
	return strings.TrimSpace(r.BlobID) == "" && strings.TrimSpace(r.URL) == ""
}

// PanoramaNode is a single 360° location in the tour graph.
type PanoramaNode struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Image     *ImageRef `json:"image,omitempty"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HotspotEdge is a clickable marker placed on a source panorama. A non-nil
// TargetID makes it navigational; a nil TargetID is informational only.
type HotspotEdge struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	TargetID    *string   `json:"targetId,omitempty"`
	Pitch       float64   `json:"pitch"`
	Yaw         float64   `json:"yaw"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Navigational reports whether the edge links to another panorama.
func (e HotspotEdge) Navigational() bool {
	return e.TargetID != nil && strings.TrimSpace(*e.TargetID) != ""
}

// TargetPreview is the denormalized slice of a target node that travels with
// an edge on the read path. It is assembled at read time, never stored.
type TargetPreview struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// TargetOption identifies a panorama that can serve as a hotspot target.
type TargetOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
