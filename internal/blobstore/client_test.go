package blobstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewReturnsDisabledWithoutEndpointOrBucket(t *testing.T) {
	if client := New(Config{Bucket: "tours"}); client.Enabled() {
		t.Fatal("expected disabled client without an endpoint")
	}
	if client := New(Config{Endpoint: "127.0.0.1:9000"}); client.Enabled() {
		t.Fatal("expected disabled client without a bucket")
	}
	if _, err := (Disabled{}).Put(context.Background(), PutRequest{Bytes: []byte("x")}); err == nil {
		t.Fatal("expected disabled put to fail")
	}
}

type recordedRequest struct {
	method string
	path   string
	header http.Header
}

func newObjectServer(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, recordedRequest{method: r.Method, path: r.URL.Path, header: r.Header.Clone()})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestPutUploadsSignedObject(t *testing.T) {
	server, requests := newObjectServer(t, http.StatusOK)

	client := New(Config{
		Endpoint:       server.URL,
		Region:         "eu-west-1",
		AccessKey:      "access",
		SecretKey:      "secret",
		Bucket:         "tours",
		Prefix:         "media",
		PublicEndpoint: "https://cdn.example.com/tours",
	})

	ref, err := client.Put(context.Background(), PutRequest{
		Bytes:       []byte("panorama bytes"),
		NameHint:    "lobby.jpg",
		Folder:      "panoramas",
		Tags:        []string{"panorama"},
		ContentType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(ref.ID, "media/panoramas/lobby-") {
		t.Fatalf("unexpected blob id %q", ref.ID)
	}
	if !strings.HasPrefix(ref.URL, "https://cdn.example.com/tours/media/panoramas/") {
		t.Fatalf("expected public URL, got %q", ref.URL)
	}

	if len(*requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*requests))
	}
	req := (*requests)[0]
	if req.method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", req.method)
	}
	if !strings.HasPrefix(req.path, "/tours/media/panoramas/") {
		t.Fatalf("unexpected object path %q", req.path)
	}
	if got := req.header.Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := req.header.Get("x-amz-tagging"); !strings.Contains(got, "panorama") {
		t.Fatalf("expected tagging header, got %q", got)
	}
	if req.header.Get("x-amz-content-sha256") == "" {
		t.Fatal("expected payload hash header")
	}
	if auth := req.header.Get("Authorization"); !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=access/") {
		t.Fatalf("expected SigV4 authorization, got %q", auth)
	}
}

func TestPutRejectsEmptyPayloadAndBadStatus(t *testing.T) {
	server, _ := newObjectServer(t, http.StatusForbidden)
	client := New(Config{Endpoint: server.URL, Bucket: "tours"})

	if _, err := client.Put(context.Background(), PutRequest{}); err == nil {
		t.Fatal("expected error for an empty payload")
	}
	if _, err := client.Put(context.Background(), PutRequest{Bytes: []byte("x"), NameHint: "a.jpg"}); err == nil {
		t.Fatal("expected error for a rejected upload")
	}
}

func TestRemoveStatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		notFound bool
		wantErr  bool
	}{
		{"no content", http.StatusNoContent, false, false},
		{"missing maps to sentinel", http.StatusNotFound, true, true},
		{"server failure", http.StatusInternalServerError, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, requests := newObjectServer(t, tc.status)
			client := New(Config{Endpoint: server.URL, Bucket: "tours", Prefix: "media"})

			err := client.Remove(context.Background(), "media/panoramas/lobby-abc.jpg")
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if tc.notFound && !errors.Is(err, ErrBlobNotFound) {
				t.Fatalf("expected ErrBlobNotFound, got %v", err)
			}

			// A blob id that already carries the prefix is not prefixed again.
			if got := (*requests)[0].path; got != "/tours/media/panoramas/lobby-abc.jpg" {
				t.Fatalf("unexpected delete path %q", got)
			}
		})
	}
}

func TestMemoryClientRoundTrip(t *testing.T) {
	mem := NewMemory()

	ref, err := mem.Put(context.Background(), PutRequest{Bytes: []byte("payload"), NameHint: "lobby.jpg", Folder: "panoramas"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mem.Exists(ref.ID) {
		t.Fatalf("expected blob %s to exist", ref.ID)
	}

	if err := mem.Remove(context.Background(), ref.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := mem.Remove(context.Background(), ref.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}

	puts, removes := mem.Counts()
	if puts != 1 || removes != 1 {
		t.Fatalf("unexpected counts: puts=%d removes=%d", puts, removes)
	}
}
