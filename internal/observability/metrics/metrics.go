// Package metrics aggregates in-memory counters for HTTP traffic and the
// tour orchestration lifecycle: image uploads, compensations, and blob
// cleanup outcomes. It renders Prometheus text exposition without pulling in
// a client library.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder coordinates concurrent writers via a RWMutex. The zero value is
// not usable; construct with New.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	operationCount    map[string]uint64
	operationFailures map[string]uint64
	blobUploads       uint64
	blobUploadErrors  uint64
	blobDeletes       uint64
	blobDeleteErrors  uint64
	compensations     uint64
	compensationFails uint64
	skippedHotspots   uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		operationCount:    make(map[string]uint64),
		operationFailures: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative duration
// by HTTP method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveOperation records an orchestrator operation attempt keyed by name
// (e.g. "create_panorama", "replace_image", "delete_panorama").
func (r *Recorder) ObserveOperation(operation string, failed bool) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.operationCount[op]++
	if failed {
		r.operationFailures[op]++
	}
	r.mu.Unlock()
}

// BlobUploaded records a successful or failed image upload.
func (r *Recorder) BlobUploaded(failed bool) {
	r.mu.Lock()
	if failed {
		r.blobUploadErrors++
	} else {
		r.blobUploads++
	}
	r.mu.Unlock()
}

// BlobDeleted records a blob delete attempt. Failed deletes of old images are
// how orphaned blobs come to exist, so the failure counter is the one worth
// alerting on.
func (r *Recorder) BlobDeleted(failed bool) {
	r.mu.Lock()
	if failed {
		r.blobDeleteErrors++
	} else {
		r.blobDeletes++
	}
	r.mu.Unlock()
}

// CompensationRun records a best-effort reversal of a just-uploaded blob
// after a failed graph insert.
func (r *Recorder) CompensationRun(failed bool) {
	r.mu.Lock()
	r.compensations++
	if failed {
		r.compensationFails++
	}
	r.mu.Unlock()
}

// HotspotSkipped counts hotspot specs dropped during panorama creation
// because their target did not exist.
func (r *Recorder) HotspotSkipped() {
	r.mu.Lock()
	r.skippedHotspots++
	r.mu.Unlock()
}

// Reset clears all collected metrics; tests only.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.operationCount = make(map[string]uint64)
	r.operationFailures = make(map[string]uint64)
	r.blobUploads = 0
	r.blobUploadErrors = 0
	r.blobDeletes = 0
	r.blobDeleteErrors = 0
	r.compensations = 0
	r.compensationFails = 0
	r.skippedHotspots = 0
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets
// so output is stable for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	operations := r.sortedOperations()

	fmt.Fprintln(w, "# HELP tourgraph_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE tourgraph_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "tourgraph_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP tourgraph_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE tourgraph_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "tourgraph_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP tourgraph_operations_total Orchestrator operations by name")
	fmt.Fprintln(w, "# TYPE tourgraph_operations_total counter")
	for _, op := range operations {
		fmt.Fprintf(w, "tourgraph_operations_total{operation=%q} %d\n", op, r.operationCount[op])
	}

	fmt.Fprintln(w, "# HELP tourgraph_operation_failures_total Failed orchestrator operations by name")
	fmt.Fprintln(w, "# TYPE tourgraph_operation_failures_total counter")
	for _, op := range operations {
		if count := r.operationFailures[op]; count > 0 {
			fmt.Fprintf(w, "tourgraph_operation_failures_total{operation=%q} %d\n", op, count)
		}
	}

	fmt.Fprintln(w, "# HELP tourgraph_blob_uploads_total Successful image uploads to the blob store")
	fmt.Fprintln(w, "# TYPE tourgraph_blob_uploads_total counter")
	fmt.Fprintf(w, "tourgraph_blob_uploads_total %d\n", r.blobUploads)

	fmt.Fprintln(w, "# HELP tourgraph_blob_upload_failures_total Failed image uploads")
	fmt.Fprintln(w, "# TYPE tourgraph_blob_upload_failures_total counter")
	fmt.Fprintf(w, "tourgraph_blob_upload_failures_total %d\n", r.blobUploadErrors)

	fmt.Fprintln(w, "# HELP tourgraph_blob_deletes_total Successful blob deletions")
	fmt.Fprintln(w, "# TYPE tourgraph_blob_deletes_total counter")
	fmt.Fprintf(w, "tourgraph_blob_deletes_total %d\n", r.blobDeletes)

	fmt.Fprintln(w, "# HELP tourgraph_blob_delete_failures_total Failed blob deletions; each one is a potential orphaned blob")
	fmt.Fprintln(w, "# TYPE tourgraph_blob_delete_failures_total counter")
	fmt.Fprintf(w, "tourgraph_blob_delete_failures_total %d\n", r.blobDeleteErrors)

	fmt.Fprintln(w, "# HELP tourgraph_compensations_total Best-effort blob removals after a failed graph write")
	fmt.Fprintln(w, "# TYPE tourgraph_compensations_total counter")
	fmt.Fprintf(w, "tourgraph_compensations_total %d\n", r.compensations)

	fmt.Fprintln(w, "# HELP tourgraph_compensation_failures_total Compensations that themselves failed")
	fmt.Fprintln(w, "# TYPE tourgraph_compensation_failures_total counter")
	fmt.Fprintf(w, "tourgraph_compensation_failures_total %d\n", r.compensationFails)

	fmt.Fprintln(w, "# HELP tourgraph_hotspots_skipped_total Hotspot specs skipped during creation for unknown targets")
	fmt.Fprintln(w, "# TYPE tourgraph_hotspots_skipped_total counter")
	fmt.Fprintf(w, "tourgraph_hotspots_skipped_total %d\n", r.skippedHotspots)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedOperations() []string {
	ops := make([]string, 0, len(r.operationCount))
	for op := range r.operationCount {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses id segments so metrics cardinality stays bounded.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "/" {
		return "/"
	}
	segments := strings.Split(strings.Trim(trimmed, "/"), "/")
	for i, segment := range segments {
		if looksLikeID(segment) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func looksLikeID(segment string) bool {
	if len(segment) < 16 {
		return false
	}
	for _, r := range segment {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') || r == '-'
		if !isHex {
			return false
		}
	}
	return true
}
