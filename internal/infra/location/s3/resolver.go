// Package s3 resolves measurement storage locations against an
// S3-compatible object store (AWS S3 or MinIO). The catalog records opaque
// paths; this resolver verifies the objects exist and mints presigned read
// URLs for raster backends that fetch over HTTP.
package s3

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"geocatalog/pkg/domain"
)

// Config holds explicit construction parameters (mostly for tests). For prod
// we rely primarily on environment variables.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	SessionToken    string // optional
	PathStyle       bool
	// PresignTTL bounds minted read URLs; defaults to 15 minutes.
	PresignTTL time.Duration
}

// Environment variables:
//   GEOCATALOG_S3_BUCKET=<bucket> (required)
//   GEOCATALOG_S3_REGION=<region> (default us-east-1)
//   GEOCATALOG_S3_ENDPOINT=<url> (optional, for MinIO)
//   GEOCATALOG_S3_PATH_STYLE=true|false (default false)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// Resolver verifies and signs measurement locations in a single bucket.
type Resolver struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// New creates an S3 location resolver from Config.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Resolver{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		ttl:     ttl,
	}, nil
}

// OpenFromEnv constructs a resolver from process environment.
func OpenFromEnv(ctx context.Context) (*Resolver, error) {
	bucket := os.Getenv("GEOCATALOG_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("GEOCATALOG_S3_BUCKET required for s3 locations")
	}
	cfg := Config{
		Bucket:    bucket,
		Region:    os.Getenv("GEOCATALOG_S3_REGION"),
		Endpoint:  os.Getenv("GEOCATALOG_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("GEOCATALOG_S3_PATH_STYLE"), "true"),
	}
	return New(ctx, cfg)
}

// ResolvedLocation is a verified measurement location: the object key, its
// size, and a presigned read URL.
type ResolvedLocation struct {
	Bucket string
	Key    string
	Band   int
	Size   int64
	// URL is a time-limited GET URL for the object.
	URL string
}

// Resolve verifies the named measurement of a dataset and mints a read URL.
// Paths may be s3:// URIs (the bucket must match the resolver's) or bare
// object keys relative to the configured bucket.
func (r *Resolver) Resolve(ctx context.Context, ds domain.Dataset, measurement string) (ResolvedLocation, error) {
	loc, ok := ds.Measurements[measurement]
	if !ok {
		return ResolvedLocation{}, domain.DatasetError{DatasetID: ds.ID,
			Reason: fmt.Sprintf("no stored location for measurement %q", measurement)}
	}
	key, err := r.objectKey(loc.Path)
	if err != nil {
		return ResolvedLocation{}, domain.DatasetError{DatasetID: ds.ID, Reason: err.Error()}
	}

	head, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &r.bucket, Key: &key})
	if err != nil {
		return ResolvedLocation{}, fmt.Errorf("head %s/%s: %w", r.bucket, key, err)
	}
	size := int64(0)
	if head.ContentLength != nil {
		size = *head.ContentLength
	}

	signed, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &r.bucket, Key: &key},
		s3.WithPresignExpires(r.ttl))
	if err != nil {
		return ResolvedLocation{}, fmt.Errorf("presign %s/%s: %w", r.bucket, key, err)
	}
	return ResolvedLocation{
		Bucket: r.bucket,
		Key:    key,
		Band:   loc.Band,
		Size:   size,
		URL:    signed.URL,
	}, nil
}

// objectKey normalises a stored path to an object key in the resolver's
// bucket.
func (r *Resolver) objectKey(path string) (string, error) {
	if strings.HasPrefix(path, "s3://") {
		u, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("malformed location %q", path)
		}
		if u.Host != r.bucket {
			return "", fmt.Errorf("location %q is outside bucket %q", path, r.bucket)
		}
		return strings.TrimPrefix(u.Path, "/"), nil
	}
	return strings.TrimPrefix(path, "/"), nil
}
