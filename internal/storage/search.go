package storage

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"tourgraph/internal/models"
)

// matchesName reports whether name contains search under Unicode case
// folding. An empty search matches everything. Casers are stateful, so a
// fresh one is created per call.
func matchesName(name, search string) bool {
	trimmed := strings.TrimSpace(search)
	if trimmed == "" {
		return true
	}
	folder := cases.Fold()
	return strings.Contains(folder.String(name), folder.String(trimmed))
}

// sortNodesByRecency orders nodes most-recently-updated first, breaking ties
// by creation time and finally by id so listings are stable.
func sortNodesByRecency(nodes []models.PanoramaNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if !nodes[i].UpdatedAt.Equal(nodes[j].UpdatedAt) {
			return nodes[i].UpdatedAt.After(nodes[j].UpdatedAt)
		}
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.After(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func sortEdgesByCreation(edges []models.HotspotEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].ID < edges[j].ID
	})
}
