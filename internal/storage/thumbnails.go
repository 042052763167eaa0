package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ThumbnailResolver turns a stored listing image object path into a URL a
// browser can load.
type ThumbnailResolver interface {
	ThumbnailURL(ctx context.Context, objectPath string) (string, error)
}

// StaticResolver joins object paths onto a public base URL. Absolute URLs
// pass through unchanged.
type StaticResolver struct {
	BaseURL string
}

func (r StaticResolver) ThumbnailURL(_ context.Context, objectPath string) (string, error) {
	if isAbsoluteURL(objectPath) {
		return objectPath, nil
	}
	if r.BaseURL == "" {
		return objectPath, nil
	}
	return strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(objectPath, "/"), nil
}

// GCSResolver signs short-lived GET URLs for objects in a private bucket.
type GCSResolver struct {
	client *gcs.Client
	bucket string
	ttl    time.Duration
}

func NewGCSResolver(ctx context.Context, bucket, credentialsFile string, ttl time.Duration) (*GCSResolver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage: bucket required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: new client: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &GCSResolver{client: client, bucket: bucket, ttl: ttl}, nil
}

func (r *GCSResolver) ThumbnailURL(_ context.Context, objectPath string) (string, error) {
	if isAbsoluteURL(objectPath) {
		return objectPath, nil
	}
	return r.client.Bucket(r.bucket).SignedURL(strings.TrimLeft(objectPath, "/"), &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(r.ttl),
		Scheme:  gcs.SigningSchemeV4,
	})
}

func (r *GCSResolver) Close() error {
	return r.client.Close()
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
