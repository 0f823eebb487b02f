package tour

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"tourgraph/internal/models"
	"tourgraph/internal/storage"
)

// HotspotView is a hotspot edge joined with a preview of its target panorama.
// The preview is omitted when the edge has no target or the target vanished.
type HotspotView struct {
	models.HotspotEdge
	Target *models.TargetPreview `json:"target,omitempty"`
}

// PanoramaView is the read model for a panorama: the node plus its outgoing
// hotspots with target previews.
type PanoramaView struct {
	models.PanoramaNode
	Hotspots []HotspotView `json:"hotspots"`
}

// Reader composes graph reads into view models. It never fails a read because
// a hotspot target is missing; the preview is simply dropped.
type Reader struct {
	store  storage.Repository
	logger *slog.Logger
}

// NewReader constructs a Reader over the given repository.
func NewReader(store storage.Repository, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{store: store, logger: logger}
}

// GetPanorama loads a single panorama with its hotspots and target previews.
func (r *Reader) GetPanorama(ctx context.Context, id string) (PanoramaView, bool, error) {
	node, ok, err := r.store.GetNode(ctx, id)
	if err != nil {
		return PanoramaView{}, false, err
	}
	if !ok {
		return PanoramaView{}, false, nil
	}
	edges, err := r.store.ListEdgesBySource(ctx, id)
	if err != nil {
		return PanoramaView{}, false, err
	}
	return r.assembleView(ctx, node, edges), true, nil
}

// ListPanoramas returns views for every panorama whose name matches search
// (empty matches all), most recently updated first.
func (r *Reader) ListPanoramas(ctx context.Context, search string) ([]PanoramaView, error) {
	nodes, err := r.store.ListNodes(ctx, search)
	if err != nil {
		return nil, err
	}
	// One pass over the full node set covers every preview lookup, including
	// targets excluded by the search filter.
	previews, err := r.previewIndex(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PanoramaView, 0, len(nodes))
	for _, node := range nodes {
		edges, err := r.store.ListEdgesBySource(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, viewFromIndex(node, edges, previews))
	}
	return views, nil
}

// TargetOptions lists the id and name of every panorama other than excludeID,
// sorted by name, for hotspot target pickers.
func (r *Reader) TargetOptions(ctx context.Context, excludeID string) ([]models.TargetOption, error) {
	nodes, err := r.store.ListNodes(ctx, "")
	if err != nil {
		return nil, err
	}
	options := make([]models.TargetOption, 0, len(nodes))
	for _, node := range nodes {
		if node.ID == excludeID {
			continue
		}
		options = append(options, models.TargetOption{ID: node.ID, Name: node.Name})
	}
	sort.Slice(options, func(i, j int) bool {
		li, lj := strings.ToLower(options[i].Name), strings.ToLower(options[j].Name)
		if li != lj {
			return li < lj
		}
		return options[i].ID < options[j].ID
	})
	return options, nil
}

func (r *Reader) assembleView(ctx context.Context, node models.PanoramaNode, edges []models.HotspotEdge) PanoramaView {
	view := PanoramaView{PanoramaNode: node, Hotspots: make([]HotspotView, 0, len(edges))}
	targets := make(map[string]*models.TargetPreview)
	for _, edge := range edges {
		hv := HotspotView{HotspotEdge: edge}
		if edge.Navigational() {
			hv.Target = r.lookupPreview(ctx, *edge.TargetID, targets)
		}
		view.Hotspots = append(view.Hotspots, hv)
	}
	return view
}

func (r *Reader) lookupPreview(ctx context.Context, targetID string, cache map[string]*models.TargetPreview) *models.TargetPreview {
	if preview, seen := cache[targetID]; seen {
		return preview
	}
	target, ok, err := r.store.GetNode(ctx, targetID)
	if err != nil {
		r.logger.Warn("hotspot target lookup failed", "target_id", targetID, "error", err)
		cache[targetID] = nil
		return nil
	}
	if !ok {
		cache[targetID] = nil
		return nil
	}
	preview := previewOf(target)
	cache[targetID] = preview
	return preview
}

func (r *Reader) previewIndex(ctx context.Context) (map[string]*models.TargetPreview, error) {
	nodes, err := r.store.ListNodes(ctx, "")
	if err != nil {
		return nil, err
	}
	index := make(map[string]*models.TargetPreview, len(nodes))
	for _, node := range nodes {
		index[node.ID] = previewOf(node)
	}
	return index, nil
}

func viewFromIndex(node models.PanoramaNode, edges []models.HotspotEdge, previews map[string]*models.TargetPreview) PanoramaView {
	view := PanoramaView{PanoramaNode: node, Hotspots: make([]HotspotView, 0, len(edges))}
	for _, edge := range edges {
		hv := HotspotView{HotspotEdge: edge}
		if edge.Navigational() {
			hv.Target = previews[*edge.TargetID]
		}
		view.Hotspots = append(view.Hotspots, hv)
	}
	return view
}

func previewOf(node models.PanoramaNode) *models.TargetPreview {
	preview := &models.TargetPreview{ID: node.ID, Name: node.Name}
	if node.Image != nil {
		preview.ImageURL = node.Image.URL
	}
	return preview
}
