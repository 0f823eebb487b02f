// Package tour holds the orchestration layer between the relational graph
// store and the external blob store. There is no transaction spanning both, so
// every mutating operation follows the same discipline: blob work first, graph
// row second, best-effort cleanup for whichever side was left ahead.
package tour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tourgraph/internal/blobstore"
	"tourgraph/internal/models"
	"tourgraph/internal/observability/metrics"
	"tourgraph/internal/storage"
)

const cleanupTimeout = 10 * time.Second

// ImageInput carries the decoded image payload for create and replace flows.
type ImageInput struct {
	Bytes       []byte
	Filename    string
	ContentType string
}

func (in ImageInput) empty() bool {
	return len(in.Bytes) == 0
}

// HotspotSpec is a hotspot requested inline during panorama creation.
type HotspotSpec struct {
	TargetID    string  `json:"targetId"`
	Pitch       float64 `json:"pitch"`
	Yaw         float64 `json:"yaw"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
}

// SkippedHotspot reports an inline hotspot spec that was not created.
type SkippedHotspot struct {
	TargetID string `json:"targetId"`
	Reason   string `json:"reason"`
}

// HotspotFields carries the full set of mutable hotspot attributes for
// create and update. Updates replace all fields.
type HotspotFields struct {
	TargetID    string
	Pitch       float64
	Yaw         float64
	Label       string
	Description string
	Category    string
}

// CreatePanoramaParams collects the inputs for CreatePanorama.
type CreatePanoramaParams struct {
	Name     string
	OwnerID  string
	Image    ImageInput
	Hotspots []HotspotSpec
}

// Config wires the orchestrator's dependencies.
type Config struct {
	Store   storage.Repository
	Blobs   blobstore.Client
	Locker  NodeLocker
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// RejectSelfLinks refuses hotspots whose target is their own source
	// panorama. Off by default: a marker that reorients the viewer within
	// the same scene is legal.
	RejectSelfLinks bool
}

// Service orchestrates graph and blob mutations for the tour builder.
type Service struct {
	store           storage.Repository
	blobs           blobstore.Client
	locker          NodeLocker
	logger          *slog.Logger
	metrics         *metrics.Recorder
	rejectSelfLinks bool
	reader          *Reader
}

// NewService constructs the orchestrator, defaulting the blob client to a
// disabled one, the locker to an in-process locker, and the logger and metrics
// recorder to the process-wide defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage repository is required")
	}
	blobs := cfg.Blobs
	if blobs == nil {
		blobs = blobstore.Disabled{}
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Service{
		store:           cfg.Store,
		blobs:           blobs,
		locker:          locker,
		logger:          logger,
		metrics:         recorder,
		rejectSelfLinks: cfg.RejectSelfLinks,
		reader:          NewReader(cfg.Store, logger),
	}, nil
}

// Reader exposes the read-side composition sharing this service's store.
func (s *Service) Reader() *Reader {
	return s.reader
}

// CreatePanorama uploads the image, inserts the node, then creates the inline
// hotspots it can. A failed insert after a successful upload triggers a
// best-effort removal of the just-uploaded blob. Hotspot specs whose target
// does not exist are skipped and reported, never fatal.
func (s *Service) CreatePanorama(ctx context.Context, params CreatePanoramaParams) (PanoramaView, []SkippedHotspot, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		s.metrics.ObserveOperation("create_panorama", true)
		return PanoramaView{}, nil, ValidationError{Field: "name", Reason: "is required"}
	}
	if params.Image.empty() {
		s.metrics.ObserveOperation("create_panorama", true)
		return PanoramaView{}, nil, ValidationError{Field: "image", Reason: "is required"}
	}

	var image *models.ImageRef
	if s.blobs.Enabled() {
		ref, err := s.blobs.Put(ctx, blobstore.PutRequest{
			Bytes:       params.Image.Bytes,
			NameHint:    params.Image.Filename,
			Folder:      "panoramas",
			Tags:        []string{"panorama"},
			ContentType: params.Image.ContentType,
		})
		if err != nil {
			s.metrics.BlobUploaded(true)
			s.metrics.ObserveOperation("create_panorama", true)
			return PanoramaView{}, nil, UploadError{Err: err}
		}
		s.metrics.BlobUploaded(false)
		image = &models.ImageRef{BlobID: ref.ID, URL: ref.URL}
	}

	node, err := s.store.CreateNode(ctx, storage.CreateNodeParams{
		Name:    name,
		Image:   image,
		OwnerID: strings.TrimSpace(params.OwnerID),
	})
	if err != nil {
		if image != nil {
			s.compensate(image.BlobID)
		}
		s.metrics.ObserveOperation("create_panorama", true)
		return PanoramaView{}, nil, StorageError{Op: "create panorama", Err: err}
	}

	var skipped []SkippedHotspot
	edges := make([]models.HotspotEdge, 0, len(params.Hotspots))
	for _, spec := range params.Hotspots {
		if reason := s.vetHotspotSpec(ctx, node.ID, spec); reason != "" {
			skipped = append(skipped, SkippedHotspot{TargetID: spec.TargetID, Reason: reason})
			s.metrics.HotspotSkipped()
			continue
		}
		edge, err := s.store.CreateEdge(ctx, storage.CreateEdgeParams{
			SourceID:    node.ID,
			TargetID:    optionalTarget(spec.TargetID),
			Pitch:       spec.Pitch,
			Yaw:         spec.Yaw,
			Label:       spec.Label,
			Description: spec.Description,
			Category:    spec.Category,
		})
		if err != nil {
			s.logger.Error("create inline hotspot failed", "node_id", node.ID, "target_id", spec.TargetID, "error", err)
			skipped = append(skipped, SkippedHotspot{TargetID: spec.TargetID, Reason: "storage failure"})
			s.metrics.HotspotSkipped()
			continue
		}
		edges = append(edges, edge)
	}

	s.metrics.ObserveOperation("create_panorama", false)
	s.logger.Info("panorama created", "node_id", node.ID, "hotspots", len(edges), "skipped", len(skipped))
	return s.reader.assembleView(ctx, node, edges), skipped, nil
}

// vetHotspotSpec reports why an inline spec cannot be created, or "" when it
// can. A spec without a target is a legal informational marker.
func (s *Service) vetHotspotSpec(ctx context.Context, sourceID string, spec HotspotSpec) string {
	if err := validateAngles(spec.Pitch, spec.Yaw); err != nil {
		return err.Error()
	}
	target := strings.TrimSpace(spec.TargetID)
	if target == "" {
		return ""
	}
	if s.rejectSelfLinks && target == sourceID {
		return "target is the panorama itself"
	}
	exists, err := s.store.NodeExists(ctx, target)
	if err != nil {
		s.logger.Error("hotspot target lookup failed", "target_id", target, "error", err)
		return "target lookup failed"
	}
	if !exists {
		return "target does not exist"
	}
	return ""
}

// optionalTarget maps a blank target id to nil, the informational-hotspot
// form understood by the stores.
func optionalTarget(id string) *string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// ReplaceImage uploads the new image before touching the old one: upload new,
// point the row at it, then delete the old blob. A failed row update removes
// the new blob; a failed old-blob delete is logged and swallowed, leaving an
// orphan rather than a broken panorama.
func (s *Service) ReplaceImage(ctx context.Context, nodeID string, image ImageInput) (models.PanoramaNode, error) {
	if image.empty() {
		s.metrics.ObserveOperation("replace_image", true)
		return models.PanoramaNode{}, ValidationError{Field: "image", Reason: "is required"}
	}
	release, err := s.locker.Acquire(ctx, nodeID)
	if err != nil {
		s.metrics.ObserveOperation("replace_image", true)
		return models.PanoramaNode{}, err
	}
	defer release()

	node, ok, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		s.metrics.ObserveOperation("replace_image", true)
		return models.PanoramaNode{}, StorageError{Op: "load panorama", Err: err}
	}
	if !ok {
		s.metrics.ObserveOperation("replace_image", true)
		return models.PanoramaNode{}, ErrPanoramaNotFound
	}

	ref, err := s.blobs.Put(ctx, blobstore.PutRequest{
		Bytes:       image.Bytes,
		NameHint:    image.Filename,
		Folder:      "panoramas",
		Tags:        []string{"panorama"},
		ContentType: image.ContentType,
	})
	if err != nil {
		s.metrics.BlobUploaded(true)
		s.metrics.ObserveOperation("replace_image", true)
		return models.PanoramaNode{}, UploadError{Err: err}
	}
	s.metrics.BlobUploaded(false)

	newRef := models.ImageRef{BlobID: ref.ID, URL: ref.URL}
	updated, err := s.store.UpdateNode(ctx, nodeID, storage.NodeUpdate{Image: &newRef})
	if err != nil {
		s.compensate(ref.ID)
		s.metrics.ObserveOperation("replace_image", true)
		if errors.Is(err, storage.ErrNodeNotFound) {
			return models.PanoramaNode{}, ErrPanoramaNotFound
		}
		return models.PanoramaNode{}, StorageError{Op: "update panorama image", Err: err}
	}

	if node.Image != nil && node.Image.BlobID != "" && node.Image.BlobID != ref.ID {
		s.removeBlob(node.Image.BlobID, nodeID)
	}

	s.metrics.ObserveOperation("replace_image", false)
	s.logger.Info("panorama image replaced", "node_id", nodeID, "blob_id", ref.ID)
	return updated, nil
}

// RenamePanorama updates the node's name without touching its image.
func (s *Service) RenamePanorama(ctx context.Context, nodeID, name string) (models.PanoramaNode, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		s.metrics.ObserveOperation("rename_panorama", true)
		return models.PanoramaNode{}, ValidationError{Field: "name", Reason: "is required"}
	}
	release, err := s.locker.Acquire(ctx, nodeID)
	if err != nil {
		s.metrics.ObserveOperation("rename_panorama", true)
		return models.PanoramaNode{}, err
	}
	defer release()

	updated, err := s.store.UpdateNode(ctx, nodeID, storage.NodeUpdate{Name: &trimmed})
	if err != nil {
		s.metrics.ObserveOperation("rename_panorama", true)
		if errors.Is(err, storage.ErrNodeNotFound) {
			return models.PanoramaNode{}, ErrPanoramaNotFound
		}
		return models.PanoramaNode{}, StorageError{Op: "rename panorama", Err: err}
	}
	s.metrics.ObserveOperation("rename_panorama", false)
	return updated, nil
}

// DeletePanorama removes the node row first, which also drops its outgoing
// hotspots and detaches incoming ones, then deletes the image blob best
// effort. A blob left behind is an orphan to reconcile, not a failure.
func (s *Service) DeletePanorama(ctx context.Context, nodeID string) error {
	release, err := s.locker.Acquire(ctx, nodeID)
	if err != nil {
		s.metrics.ObserveOperation("delete_panorama", true)
		return err
	}
	defer release()

	node, ok, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		s.metrics.ObserveOperation("delete_panorama", true)
		return StorageError{Op: "load panorama", Err: err}
	}
	if !ok {
		s.metrics.ObserveOperation("delete_panorama", true)
		return ErrPanoramaNotFound
	}

	if err := s.store.DeleteNode(ctx, nodeID); err != nil {
		s.metrics.ObserveOperation("delete_panorama", true)
		if errors.Is(err, storage.ErrNodeNotFound) {
			return ErrPanoramaNotFound
		}
		return StorageError{Op: "delete panorama", Err: err}
	}

	if node.Image != nil && node.Image.BlobID != "" {
		s.removeBlob(node.Image.BlobID, nodeID)
	}

	s.metrics.ObserveOperation("delete_panorama", false)
	s.logger.Info("panorama deleted", "node_id", nodeID)
	return nil
}

// UpsertHotspot creates a hotspot on the source panorama when edgeID is nil,
// otherwise replaces the named hotspot's fields. An empty target makes the
// hotspot an informational marker; a non-empty target must name an existing
// panorama, and replacing a linked hotspot with an empty target detaches it.
func (s *Service) UpsertHotspot(ctx context.Context, sourceID string, edgeID *string, fields HotspotFields) (models.HotspotEdge, error) {
	target := optionalTarget(fields.TargetID)
	if target != nil && s.rejectSelfLinks && *target == sourceID {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, ValidationError{Field: "targetId", Reason: "is the panorama itself"}
	}
	if err := validateAngles(fields.Pitch, fields.Yaw); err != nil {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, *err
	}

	release, err := s.locker.Acquire(ctx, sourceID)
	if err != nil {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, err
	}
	defer release()

	exists, err := s.store.NodeExists(ctx, sourceID)
	if err != nil {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, StorageError{Op: "load panorama", Err: err}
	}
	if !exists {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, ErrPanoramaNotFound
	}
	if target != nil {
		targetExists, err := s.store.NodeExists(ctx, *target)
		if err != nil {
			s.metrics.ObserveOperation("upsert_hotspot", true)
			return models.HotspotEdge{}, StorageError{Op: "load target panorama", Err: err}
		}
		if !targetExists {
			s.metrics.ObserveOperation("upsert_hotspot", true)
			return models.HotspotEdge{}, ValidationError{Field: "targetId", Reason: "does not exist"}
		}
	}

	if edgeID == nil {
		edge, err := s.store.CreateEdge(ctx, storage.CreateEdgeParams{
			SourceID:    sourceID,
			TargetID:    target,
			Pitch:       fields.Pitch,
			Yaw:         fields.Yaw,
			Label:       fields.Label,
			Description: fields.Description,
			Category:    fields.Category,
		})
		if err != nil {
			s.metrics.ObserveOperation("upsert_hotspot", true)
			return models.HotspotEdge{}, StorageError{Op: "create hotspot", Err: err}
		}
		s.metrics.ObserveOperation("upsert_hotspot", false)
		return edge, nil
	}

	existing, ok, err := s.store.GetEdge(ctx, *edgeID)
	if err != nil {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, StorageError{Op: "load hotspot", Err: err}
	}
	if !ok {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, ErrHotspotNotFound
	}
	if existing.SourceID != sourceID {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		return models.HotspotEdge{}, ValidationError{Field: "hotspotId", Reason: "does not belong to this panorama"}
	}

	edge, err := s.store.UpdateEdge(ctx, *edgeID, storage.EdgeUpdate{
		TargetID:    target,
		ClearTarget: target == nil,
		Pitch:       &fields.Pitch,
		Yaw:         &fields.Yaw,
		Label:       &fields.Label,
		Description: &fields.Description,
		Category:    &fields.Category,
	})
	if err != nil {
		s.metrics.ObserveOperation("upsert_hotspot", true)
		if errors.Is(err, storage.ErrEdgeNotFound) {
			return models.HotspotEdge{}, ErrHotspotNotFound
		}
		return models.HotspotEdge{}, StorageError{Op: "update hotspot", Err: err}
	}
	s.metrics.ObserveOperation("upsert_hotspot", false)
	return edge, nil
}

// DeleteHotspot removes a hotspot edge, serializing on its source panorama.
func (s *Service) DeleteHotspot(ctx context.Context, edgeID string) error {
	edge, ok, err := s.store.GetEdge(ctx, edgeID)
	if err != nil {
		s.metrics.ObserveOperation("delete_hotspot", true)
		return StorageError{Op: "load hotspot", Err: err}
	}
	if !ok {
		s.metrics.ObserveOperation("delete_hotspot", true)
		return ErrHotspotNotFound
	}

	release, err := s.locker.Acquire(ctx, edge.SourceID)
	if err != nil {
		s.metrics.ObserveOperation("delete_hotspot", true)
		return err
	}
	defer release()

	if err := s.store.DeleteEdge(ctx, edgeID); err != nil {
		s.metrics.ObserveOperation("delete_hotspot", true)
		if errors.Is(err, storage.ErrEdgeNotFound) {
			return ErrHotspotNotFound
		}
		return StorageError{Op: "delete hotspot", Err: err}
	}
	s.metrics.ObserveOperation("delete_hotspot", false)
	return nil
}

func validateAngles(pitch, yaw float64) *ValidationError {
	if pitch < -90 || pitch > 90 {
		return &ValidationError{Field: "pitch", Reason: "must be between -90 and 90"}
	}
	if yaw < -360 || yaw > 360 {
		return &ValidationError{Field: "yaw", Reason: "must be between -360 and 360"}
	}
	return nil
}

// compensate removes a blob uploaded by an operation whose graph write
// failed. It runs on a detached context so request cancellation cannot strand
// the blob.
func (s *Service) compensate(blobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := s.blobs.Remove(ctx, blobID)
	if err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.metrics.CompensationRun(true)
		s.logger.Error("compensating blob delete failed, blob orphaned", "blob_id", blobID, "error", err)
		return
	}
	s.metrics.CompensationRun(false)
	s.logger.Info("compensating blob delete succeeded", "blob_id", blobID)
}

// removeBlob deletes an image blob that the graph no longer references. A
// missing blob counts as success; any other failure is logged and swallowed.
func (s *Service) removeBlob(blobID, nodeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := s.blobs.Remove(ctx, blobID)
	if err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.metrics.BlobDeleted(true)
		s.logger.Warn("old blob delete failed, blob orphaned", "blob_id", blobID, "node_id", nodeID, "error", err)
		return
	}
	s.metrics.BlobDeleted(false)
}
