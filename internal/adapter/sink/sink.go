// Package sink publishes pipeline outputs to object storage.
package sink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"google.golang.org/api/option"
)

// Sink uploads a local file under a destination object name.
type Sink interface {
	Upload(ctx context.Context, localPath, object string) (string, error)
}

// GCS uploads to a Google Cloud Storage bucket.
type GCS struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

// NewGCS creates a GCS sink with application default or explicit credentials.
func NewGCS(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCS, error) {
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{Client: c, Bucket: bucket, Prefix: prefix}, nil
}

// Upload streams localPath to gs://Bucket/Prefix/object.
func (g *GCS) Upload(ctx context.Context, localPath, object string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	name := objectName(g.Prefix, object)
	w := g.Client.Bucket(g.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType(localPath)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload gs://%s/%s: %w", g.Bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize gs://%s/%s: %w", g.Bucket, name, err)
	}
	return "gs://" + g.Bucket + "/" + name, nil
}

// S3 uploads to an S3-compatible bucket.
type S3 struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

// S3Config identifies an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// NewS3 creates an S3 sink with static credentials.
func NewS3(cfg S3Config, bucket, prefix string) (*S3, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3{Client: c, Bucket: bucket, Prefix: prefix}, nil
}

// Upload puts localPath at s3://Bucket/Prefix/object.
func (s *S3) Upload(ctx context.Context, localPath, object string) (string, error) {
	name := objectName(s.Prefix, object)
	info, err := s.Client.FPutObject(ctx, s.Bucket, name, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", s.Bucket, name, err)
	}
	return "s3://" + info.Bucket + "/" + info.Key, nil
}

// Open returns the sink for a gs:// or s3:// destination URL. S3 settings
// other than the bucket come from s3.
func Open(ctx context.Context, dest string, s3 S3Config, gcsOpts ...option.ClientOption) (Sink, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid sink URL %q: %w", dest, err)
	}
	prefix := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "gs":
		return NewGCS(ctx, u.Host, prefix, gcsOpts...)
	case "s3":
		return NewS3(s3, u.Host, prefix)
	default:
		return nil, fmt.Errorf("unsupported sink scheme %q", u.Scheme)
	}
}

func objectName(prefix, object string) string {
	if prefix == "" {
		return object
	}
	return path.Join(prefix, object)
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".nc", ".nc4":
		return "application/x-netcdf"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
