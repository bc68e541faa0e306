package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures the object storage exporter.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Validate checks required fields.
func (c MinIOConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("export: minio endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("export: minio bucket is required")
	}
	return nil
}

// MinIOExporter uploads artifacts to an S3-compatible bucket.
type MinIOExporter struct {
	cfg    MinIOConfig
	client *minio.Client

	mu          sync.Mutex
	bucketReady bool
}

// NewMinIOExporter creates the client. No request is made until Export.
func NewMinIOExporter(cfg MinIOConfig) (*MinIOExporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("export: minio client: %w", err)
	}

	return &MinIOExporter{cfg: cfg, client: client}, nil
}

// ensureBucket creates the bucket if needed. Only success is remembered,
// so an unreachable endpoint is checked again on the next export.
func (m *MinIOExporter) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bucketReady {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
			return err
		}
	}
	m.bucketReady = true
	return nil
}

// Export uploads data as Prefix/name.
func (m *MinIOExporter) Export(ctx context.Context, name string, data []byte) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("export: ensure bucket %s: %w", m.cfg.Bucket, err)
	}

	key := path.Join(m.cfg.Prefix, name)
	info, err := m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return "", fmt.Errorf("export: upload %s: %w", key, err)
	}

	return fmt.Sprintf("s3://%s/%s", info.Bucket, info.Key), nil
}
