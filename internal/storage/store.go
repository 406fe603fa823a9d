// Package storage uploads completed photo files to an S3-compatible object
// store (Supabase Storage speaks the S3 protocol, as does a self-hosted
// MinIO instance) so the hub's local disk never has to be the sole copy.
// Grounded on the teacher's own MinIO-backed snapshot store, generalized
// from RTLS camera snapshots to beehive photo uploads.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/waggle-hive/hivehub/internal/apierr"
	"github.com/waggle-hive/hivehub/internal/config"
)

// PhotoStore uploads a completed photo's bytes and returns its durable
// public (or endpoint-relative) URL.
type PhotoStore interface {
	UploadPhoto(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Store is a PhotoStore backed by an S3-compatible bucket.
type Store struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	useSSL  bool
}

// NewFromConfig builds a Store from cfg's ObjectStore* fields. Object
// storage is optional: if no access key is configured, it returns
// (nil, nil) rather than an error, and callers should skip the photo-file
// sync step entirely.
func NewFromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Store, error) {
	if cfg.ObjectStoreAccessKey == "" || cfg.ObjectStoreSecretKey == "" {
		return nil, nil
	}

	cli, err := minio.New(cfg.ObjectStoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, ""),
		Secure: cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: new client: %w", err)
	}

	mkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.MakeBucket(mkCtx, cfg.ObjectStoreBucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := cli.BucketExists(mkCtx, cfg.ObjectStoreBucket)
		if existsErr != nil || !exists {
			return nil, fmt.Errorf("storage: create/verify bucket %s: %w", cfg.ObjectStoreBucket, err)
		}
	}

	if cfg.ObjectStorePublicRead {
		resource := fmt.Sprintf("arn:aws:s3:::%s/*", cfg.ObjectStoreBucket)
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["%s"]}]}`, resource)
		if err := cli.SetBucketPolicy(mkCtx, cfg.ObjectStoreBucket, policy); err != nil {
			return nil, fmt.Errorf("storage: set public-read policy on %s: %w", cfg.ObjectStoreBucket, err)
		}
	}

	var base *url.URL
	if cfg.ObjectStorePublicBaseURL != "" {
		base, err = url.Parse(cfg.ObjectStorePublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("storage: invalid public base url: %w", err)
		}
	}

	log.Info().Str("endpoint", cfg.ObjectStoreEndpoint).Str("bucket", cfg.ObjectStoreBucket).Msg("storage: connected to object store")

	return &Store{
		client:  cli,
		bucket:  cfg.ObjectStoreBucket,
		baseURL: base,
		useSSL:  cfg.ObjectStoreUseSSL,
	}, nil
}

// UploadPhoto puts data at key in the configured bucket and returns a
// durable URL: the configured public base URL if set, else the raw
// endpoint URL.
func (s *Store) UploadPhoto(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key = strings.TrimPrefix(key, "/")

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", apierr.Wrap(apierr.StorageUnavailable, fmt.Sprintf("put object %s", key), err)
	}

	if s.baseURL != nil {
		u := *s.baseURL
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key
		return u.String(), nil
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key), nil
}
