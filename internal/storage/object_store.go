package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"picbed/api/internal/apperr"
	"picbed/api/internal/config"
)

const (
	putAttempts = 3
	putBackoff  = 200 * time.Millisecond
)

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	MimeType string
	Size     int64
}

// ObjectStore wraps a minio-compatible object storage service. Object keys
// are namespaced by extension folder and year/month for organization only;
// the returned storage reference is the full key and is owned by the
// metadata row.
type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

// Put writes data under a key derived from name and returns the storage
// reference. Transient failures are retried a bounded number of times with a
// fixed backoff; permanent failures surface immediately.
func (s *ObjectStore) Put(ctx context.Context, data []byte, name string, contentType string) (string, error) {
	key := s.buildObjectKey(name)

	options := minio.PutObjectOptions{ContentType: contentType}

	var lastErr error
	for attempt := 0; attempt < putAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", apperr.Wrap(apperr.KindStorage, "storage_timeout", "object store write cancelled", ctx.Err())
			case <-time.After(putBackoff):
			}
		}

		_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), options)
		if err == nil {
			return key, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}

	return "", apperr.Wrap(apperr.KindStorage, "storage_write_failed", "object store write failed", lastErr)
}

// Get fetches a blob by its storage reference.
func (s *ObjectStore) Get(ctx context.Context, reference string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, reference, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify("storage_read_failed", "object store read failed", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.classify("storage_read_failed", "object store read failed", err)
	}
	return data, nil
}

// Delete removes a blob and reports whether it existed.
func (s *ObjectStore) Delete(ctx context.Context, reference string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, reference, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, s.classify("storage_stat_failed", "object store stat failed", err)
	}

	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, reference, minio.RemoveObjectOptions{}); err != nil {
		return false, s.classify("storage_delete_failed", "object store delete failed", err)
	}
	return true, nil
}

func (s *ObjectStore) Stat(ctx context.Context, reference string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.cfg.Bucket, reference, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, s.classify("storage_stat_failed", "object store stat failed", err)
	}
	return ObjectInfo{
		MimeType: info.ContentType,
		Size:     info.Size,
	}, nil
}

// buildObjectKey files objects under <ext>/<YYYY/MM>/<name>.
func (s *ObjectStore) buildObjectKey(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		ext = "bin"
	}
	datePrefix := time.Now().UTC().Format("2006/01")
	return path.Join(ext, datePrefix, name)
}

func (s *ObjectStore) classify(code string, message string, err error) error {
	if isNotFound(err) {
		return apperr.Wrap(apperr.KindNotFound, "blob_not_found", "object not found", err)
	}
	return apperr.Wrap(apperr.KindStorage, code, message, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	resp := minio.ToErrorResponse(err)
	// StatusCode 0 means the request never produced an HTTP response
	// (connection reset, DNS failure).
	return resp.StatusCode == 0 || resp.StatusCode >= 500
}
