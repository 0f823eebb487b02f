package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tourgraph/internal/storage"
	"tourgraph/internal/tour"
)

// Handler serves the tour REST API. Service performs all mutations, Reader
// all view composition; Store is consulted directly only for health checks.
type Handler struct {
	Service *tour.Service
	Reader  *tour.Reader
	Store   storage.Repository
}

// NewHandler constructs the API handler around a configured tour service.
func NewHandler(service *tour.Service, store storage.Repository) *Handler {
	return &Handler{Service: service, Reader: service.Reader(), Store: store}
}

// ownerID returns the caller-supplied principal. The id is trusted as given;
// access policy lives outside this service.
func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Owner-Id"))
}

func writeTourError(w http.ResponseWriter, err error) {
	var validation tour.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if errors.Is(err, tour.ErrPanoramaNotFound) || errors.Is(err, tour.ErrHotspotNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// Health reports storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	storageStatus := "ok"
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			storageStatus = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"storage": storageStatus,
	})
}

type renameTourRequest struct {
	Name string `json:"name"`
}

type hotspotRequest struct {
	TargetID    string  `json:"targetId"`
	Pitch       float64 `json:"pitch"`
	Yaw         float64 `json:"yaw"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
}

func (req hotspotRequest) fields() tour.HotspotFields {
	return tour.HotspotFields{
		TargetID:    strings.TrimSpace(req.TargetID),
		Pitch:       req.Pitch,
		Yaw:         req.Yaw,
		Label:       strings.TrimSpace(req.Label),
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
	}
}

type createTourResponse struct {
	Panorama        tour.PanoramaView     `json:"panorama"`
	SkippedHotspots []tour.SkippedHotspot `json:"skippedHotspots,omitempty"`
}

// Tours handles the collection endpoint: list with optional name search, and
// multipart creation with an image plus optional inline hotspots.
func (h *Handler) Tours(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		search := strings.TrimSpace(r.URL.Query().Get("q"))
		views, err := h.Reader.ListPanoramas(r.Context(), search)
		if err != nil {
			writeTourError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		image, err := decodeImageUpload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		hotspots, err := decodeInlineHotspots(r.FormValue("hotspots"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, skipped, err := h.Service.CreatePanorama(r.Context(), tour.CreatePanoramaParams{
			Name:     r.FormValue("name"),
			OwnerID:  ownerID(r),
			Image:    image,
			Hotspots: hotspots,
		})
		if err != nil {
			writeTourError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, createTourResponse{Panorama: view, SkippedHotspots: skipped})
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func decodeInlineHotspots(raw string) ([]tour.HotspotSpec, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	var specs []tour.HotspotSpec
	if err := json.Unmarshal([]byte(trimmed), &specs); err != nil {
		return nil, fmt.Errorf("decode hotspots: %w", err)
	}
	return specs, nil
}

// TourByID routes everything under /api/tours/{id}: the panorama itself,
// image replacement, hotspot management, and target options.
func (h *Handler) TourByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tours/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("tour id missing"))
		return
	}
	tourID := parts[0]

	if len(parts) == 1 {
		h.handleTour(tourID, w, r)
		return
	}

	switch parts[1] {
	case "image":
		if len(parts) > 2 {
			break
		}
		h.handleTourImage(tourID, w, r)
		return
	case "hotspots":
		if len(parts) == 2 {
			h.handleHotspots(tourID, w, r)
			return
		}
		if len(parts) == 3 {
			h.handleHotspotByID(tourID, parts[2], w, r)
			return
		}
	case "targets":
		if len(parts) > 2 {
			break
		}
		h.handleTargetOptions(tourID, w, r)
		return
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("unknown tour path"))
}

func (h *Handler) handleTour(tourID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		view, ok, err := h.Reader.GetPanorama(r.Context(), tourID)
		if err != nil {
			writeTourError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("tour %s not found", tourID))
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		var req renameTourRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		node, err := h.Service.RenamePanorama(r.Context(), tourID, req.Name)
		if err != nil {
			writeTourError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, node)
	case http.MethodDelete:
		if err := h.Service.DeletePanorama(r.Context(), tourID); err != nil {
			writeTourError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) handleTourImage(tourID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	image, err := decodeImageUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	node, err := h.Service.ReplaceImage(r.Context(), tourID, image)
	if err != nil {
		writeTourError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handler) handleHotspots(tourID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		view, ok, err := h.Reader.GetPanorama(r.Context(), tourID)
		if err != nil {
			writeTourError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("tour %s not found", tourID))
			return
		}
		writeJSON(w, http.StatusOK, view.Hotspots)
	case http.MethodPost:
		var req hotspotRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		edge, err := h.Service.UpsertHotspot(r.Context(), tourID, nil, req.fields())
		if err != nil {
			writeTourError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, edge)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) handleHotspotByID(tourID, hotspotID string, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		var req hotspotRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		edge, err := h.Service.UpsertHotspot(r.Context(), tourID, &hotspotID, req.fields())
		if err != nil {
			writeTourError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, edge)
	case http.MethodDelete:
		if err := h.Service.DeleteHotspot(r.Context(), hotspotID); err != nil {
			writeTourError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) handleTargetOptions(tourID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	exists, err := h.Store.NodeExists(r.Context(), tourID)
	if err != nil {
		writeTourError(w, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("tour %s not found", tourID))
		return
	}
	options, err := h.Reader.TargetOptions(r.Context(), tourID)
	if err != nil {
		writeTourError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}
