// Package blobstore is the thin capability the tour service holds over the
// external image store. It exposes exactly two mutating operations, Put and
// Remove; everything else about the object service is hidden behind the blob
// id and public URL returned from Put.
package blobstore

import (
	"context"
	"errors"
	"time"
)

// Ref addresses a stored blob. ID is what Remove takes; URL is what clients
// load the image from.
type Ref struct {
	ID  string `json:"blobId"`
	URL string `json:"url"`
}

// PutRequest carries the payload and naming inputs for an upload.
type PutRequest struct {
	Bytes       []byte
	NameHint    string
	Folder      string
	Tags        []string
	ContentType string
}

// ErrBlobNotFound indicates a Remove for a blob that no longer exists. The
// orchestrator treats it as success: the desired end state already holds.
var ErrBlobNotFound = errors.New("blob not found")

// Client is the object-storage capability. Put failures are terminal for the
// enclosing operation; Remove failures other than ErrBlobNotFound are cleanup
// failures the caller may log and swallow.
type Client interface {
	Enabled() bool
	Put(ctx context.Context, req PutRequest) (Ref, error)
	Remove(ctx context.Context, blobID string) error
}

// Config collects the settings for the S3-compatible client.
type Config struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Prefix         string
	PublicEndpoint string
	RequestTimeout time.Duration
	// MaxInflight bounds concurrent requests against the object service.
	MaxInflight int64
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxInflight    = 16
)

func (cfg Config) requestTimeout() time.Duration {
	if cfg.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return cfg.RequestTimeout
}

func (cfg Config) maxInflight() int64 {
	if cfg.MaxInflight <= 0 {
		return defaultMaxInflight
	}
	return cfg.MaxInflight
}

// Disabled is a no-op client used when no object storage is configured.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Put(ctx context.Context, req PutRequest) (Ref, error) {
	return Ref{}, errors.New("object storage not configured")
}

func (Disabled) Remove(ctx context.Context, blobID string) error {
	return errors.New("object storage not configured")
}
