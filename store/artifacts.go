package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hazyhaar/vgrid/resource"
	"github.com/hazyhaar/vgrid/safe"
)

// ArtifactConfig locates the object store bucket.
type ArtifactConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Artifacts keeps stitched screenshots, DOM descriptors and resource
// contents in an S3 compatible bucket. Objects are laid out as
//
//	captures/{id}/screenshot.png
//	captures/{id}/dom.json
//	resources/sha256/{hash}
type Artifacts struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewArtifacts connects to the object store. No request is made until
// the first call.
func NewArtifacts(cfg ArtifactConfig, logger *slog.Logger) (*Artifacts, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("store: artifacts: endpoint and bucket are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("store: artifacts: %w", err)
	}
	return &Artifacts{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (a *Artifacts) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("store: check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("store: create bucket %s: %w", a.bucket, err)
	}
	a.logger.InfoContext(ctx, "store: bucket created", "bucket", a.bucket)
	return nil
}

// StoreScreenshot stores a PNG and returns its object key.
func (a *Artifacts) StoreScreenshot(ctx context.Context, captureID string, png []byte) (string, error) {
	if err := safe.ValidateIdentifier(captureID); err != nil {
		return "", fmt.Errorf("store: capture id: %w", err)
	}
	key := fmt.Sprintf("captures/%s/screenshot.png", captureID)
	return key, a.put(ctx, key, png, "image/png")
}

// StoreDOM stores a DOM descriptor and returns its object key.
func (a *Artifacts) StoreDOM(ctx context.Context, captureID string, dom *resource.Resource) (string, error) {
	if err := safe.ValidateIdentifier(captureID); err != nil {
		return "", fmt.Errorf("store: capture id: %w", err)
	}
	key := fmt.Sprintf("captures/%s/dom.json", captureID)
	return key, a.put(ctx, key, dom.Content(), "application/json")
}

// StoreResource stores resource content under its hash. Resources without
// content are skipped.
func (a *Artifacts) StoreResource(ctx context.Context, r *resource.Resource) (string, error) {
	if !r.HasContent() {
		return "", nil
	}
	key := "resources/sha256/" + r.SHA256()
	ct := r.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return key, a.put(ctx, key, r.Content(), ct)
}

// Get returns the object stored under key.
func (a *Artifacts) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	return data, nil
}

func (a *Artifacts) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	a.logger.DebugContext(ctx, "store: artifact stored", "key", key, "size", len(data))
	return nil
}
