package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// New builds the S3-compatible client, or Disabled when the configuration
// lacks an endpoint or bucket.
func New(cfg Config) Client {
	trimmedBucket := strings.TrimSpace(cfg.Bucket)
	trimmedEndpoint := strings.TrimSpace(cfg.Endpoint)
	if trimmedBucket == "" || trimmedEndpoint == "" {
		return Disabled{}
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := trimmedEndpoint
	if strings.Contains(endpoint, "://") {
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.Host
		}
	}
	baseURL := &url.URL{Scheme: scheme, Host: endpoint}
	if baseURL.Host == "" {
		return Disabled{}
	}
	sanitized := cfg
	sanitized.Bucket = trimmedBucket
	return &s3Client{
		cfg:        sanitized,
		endpoint:   baseURL,
		httpClient: &http.Client{Timeout: sanitized.requestTimeout()},
		inflight:   semaphore.NewWeighted(sanitized.maxInflight()),
	}
}

type s3Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
	inflight   *semaphore.Weighted
}

func (c *s3Client) Enabled() bool { return true }

// Put uploads the payload under a derived key and returns its reference.
func (c *s3Client) Put(ctx context.Context, req PutRequest) (Ref, error) {
	if len(req.Bytes) == 0 {
		return Ref{}, fmt.Errorf("empty payload")
	}
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return Ref{}, fmt.Errorf("acquire upload slot: %w", err)
	}
	defer c.inflight.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.requestTimeout())
	defer cancel()

	key := c.applyPrefix(deriveKey(req.Folder, req.NameHint, req.Bytes))
	target := c.objectURL(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(req.Bytes))
	if err != nil {
		return Ref{}, fmt.Errorf("create upload request: %w", err)
	}
	if req.ContentType != "" {
		request.Header.Set("Content-Type", req.ContentType)
	}
	if tagging := encodeTags(req.Tags); tagging != "" {
		request.Header.Set("x-amz-tagging", tagging)
	}
	hash := hashSHA256Hex(req.Bytes)
	if err := c.signRequest(request, hash); err != nil {
		return Ref{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return Ref{}, fmt.Errorf("upload object %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return Ref{}, fmt.Errorf("upload object %s: unexpected status %d", key, response.StatusCode)
	}
	return Ref{ID: key, URL: c.publicURL(key)}, nil
}

// Remove deletes the object. A 404 maps to ErrBlobNotFound so callers can
// treat an already-gone blob as success.
func (c *s3Client) Remove(ctx context.Context, blobID string) error {
	key := c.applyPrefix(blobID)
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("blob id is required")
	}
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire delete slot: %w", err)
	}
	defer c.inflight.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.requestTimeout())
	defer cancel()

	target := c.objectURL(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	if err := c.signRequest(request, emptyPayloadHash); err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("delete object %s: %w", key, ErrBlobNotFound)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	// S3 deletes of missing keys usually answer 204, so 404 here means the
	// endpoint is bucket-aware; both paths are covered above.
	return fmt.Errorf("delete object %s: unexpected status %d", key, response.StatusCode)
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	values := url.Values{}
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		values.Set(trimmed, "1")
	}
	return values.Encode()
}

func (c *s3Client) applyPrefix(key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	prefix := strings.Trim(strings.TrimSpace(c.cfg.Prefix), "/")
	if prefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return prefix
	}
	if trimmed == prefix || strings.HasPrefix(trimmed, prefix+"/") {
		return trimmed
	}
	return prefix + "/" + trimmed
}

func (c *s3Client) objectURL(finalKey string) *url.URL {
	basePath := strings.TrimRight(c.endpoint.Path, "/")
	path := "/" + strings.TrimLeft(c.cfg.Bucket, "/")
	trimmedKey := strings.TrimLeft(finalKey, "/")
	if trimmedKey != "" {
		path += "/" + trimmedKey
	}
	if basePath != "" {
		path = basePath + path
	}
	u := *c.endpoint
	u.Path = path
	return &u
}

func (c *s3Client) publicURL(key string) string {
	base := strings.TrimSpace(c.cfg.PublicEndpoint)
	if base == "" {
		u := c.objectURL(key)
		return u.String()
	}
	trimmedBase := strings.TrimRight(base, "/")
	trimmedKey := strings.TrimLeft(key, "/")
	if trimmedKey == "" {
		return trimmedBase
	}
	return trimmedBase + "/" + trimmedKey
}

func (c *s3Client) signRequest(req *http.Request, payloadHash string) error {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	accessKey := strings.TrimSpace(c.cfg.AccessKey)
	secretKey := strings.TrimSpace(c.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return nil
	}
	region := strings.TrimSpace(c.cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	signature, scope := signV4(canonicalRequest, secretKey, dateStamp, amzDate, region)
	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKey,
		scope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", authorization)
	return nil
}
