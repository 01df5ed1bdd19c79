package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"picbed/api/internal/apperr"
	"picbed/api/internal/cache"
	"picbed/api/internal/imaging"
	"picbed/api/internal/models"
	"picbed/api/internal/repository"
	"picbed/api/internal/storage"
)

const (
	asyncSlots   = 32
	asyncTimeout = 5 * time.Second
)

// MetadataStore is the relational record of stored images.
type MetadataStore interface {
	UpsertByFingerprint(ctx context.Context, record models.ImageRecord, incrementView bool) (models.ImageRecord, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (models.ImageRecord, error)
	IncrementView(ctx context.Context, fingerprint string) error
	Delete(ctx context.Context, fingerprint string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]models.ImageRecord, int, error)
}

// BlobStore holds raw image bytes addressed by an opaque reference.
type BlobStore interface {
	Put(ctx context.Context, data []byte, name string, contentType string) (string, error)
	Get(ctx context.Context, reference string) ([]byte, error)
	Delete(ctx context.Context, reference string) (bool, error)
	Stat(ctx context.Context, reference string) (storage.ObjectInfo, error)
}

// ImageCache is the advisory small-object cache in front of the blob store.
type ImageCache interface {
	Cacheable(size int64) bool
	Put(ctx context.Context, fingerprint string, entry cache.Entry) error
	Get(ctx context.Context, fingerprint string) (cache.Entry, bool, error)
	Delete(ctx context.Context, fingerprint string) (bool, error)
}

// GetResult is a retrieved image. Storage references and row ids stay
// internal.
type GetResult struct {
	Content      []byte
	MimeType     string
	OriginalName string
}

// ImageService orchestrates the content-addressed upload and retrieval
// pipeline: fingerprint, blob write, metadata upsert, cache population.
type ImageService struct {
	images MetadataStore
	store  BlobStore
	cache  ImageCache
	log    zerolog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewImageService(images MetadataStore, store BlobStore, imageCache ImageCache, log zerolog.Logger) *ImageService {
	return &ImageService{
		images: images,
		store:  store,
		cache:  imageCache,
		log:    log,
		sem:    semaphore.NewWeighted(asyncSlots),
	}
}

// Upload stores raw bytes and returns the metadata record. Uploading
// byte-identical content twice yields the same fingerprint and updates the
// existing row; uploads never count as views.
func (s *ImageService) Upload(ctx context.Context, data []byte, filename string) (models.ImageRecord, error) {
	if len(data) == 0 {
		return models.ImageRecord{}, apperr.New(apperr.KindValidation, "empty_file", "uploaded file is empty")
	}

	format, err := imaging.ResolveFormat(filename, data)
	if err != nil {
		return models.ImageRecord{}, err
	}

	// SVG bodies are rewritten before hashing so the fingerprint addresses
	// exactly the bytes that get stored and served.
	if format.MIME == "image/svg+xml" {
		data, err = imaging.SanitizeSVG(data)
		if err != nil {
			return models.ImageRecord{}, err
		}
	}

	fingerprint := imaging.Fingerprint(data)
	objectName := fmt.Sprintf("%s.%s", fingerprint, format.Ext)

	originalName := filename
	if originalName == "" {
		originalName = objectName
	}

	// Blob write comes first: a failed write must not leave a metadata row
	// pointing at nothing.
	reference, err := s.store.Put(ctx, data, objectName, format.MIME)
	if err != nil {
		return models.ImageRecord{}, err
	}

	record, err := s.images.UpsertByFingerprint(ctx, models.ImageRecord{
		Fingerprint:      fingerprint,
		OriginalName:     originalName,
		Extension:        format.Ext,
		MimeType:         format.MIME,
		SizeBytes:        int64(len(data)),
		StorageReference: reference,
	}, false)
	if err != nil {
		return models.ImageRecord{}, apperr.Wrap(apperr.KindStorage, "metadata_upsert_failed", "could not save image metadata", err)
	}

	if s.cache.Cacheable(record.SizeBytes) {
		entry := cache.Entry{Content: data, MimeType: format.MIME, OriginalName: originalName}
		s.bestEffort("cache fill", fingerprint, func(ctx context.Context) error {
			return s.cache.Put(ctx, fingerprint, entry)
		})
	}

	return record, nil
}

// Get serves an image by fingerprint: cache first, then metadata plus blob
// store with a cache backfill. The view counter is only bumped after content
// has actually been delivered.
func (s *ImageService) Get(ctx context.Context, fingerprint string) (GetResult, error) {
	entry, hit, err := s.cache.Get(ctx, fingerprint)
	if err != nil {
		// Advisory store: log and rebuild from the sources of truth.
		s.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache read failed")
	}
	if hit {
		s.bestEffort("view increment", fingerprint, func(ctx context.Context) error {
			return s.images.IncrementView(ctx, fingerprint)
		})
		return GetResult{
			Content:      entry.Content,
			MimeType:     entry.MimeType,
			OriginalName: entry.OriginalName,
		}, nil
	}

	record, err := s.images.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			return GetResult{}, apperr.New(apperr.KindNotFound, "image_not_found", "image not found")
		}
		return GetResult{}, apperr.Wrap(apperr.KindStorage, "metadata_lookup_failed", "could not look up image", err)
	}

	data, err := s.store.Get(ctx, record.StorageReference)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			// Metadata exists but the blob is gone: a prior partial
			// failure that needs operational attention, not a plain 404.
			s.log.Error().
				Str("fingerprint", fingerprint).
				Str("storage_reference", record.StorageReference).
				Msg("metadata row references missing blob")
			return GetResult{}, apperr.Wrap(apperr.KindConsistency, "content_missing", "image content is missing", err)
		}
		return GetResult{}, err
	}

	if err := s.images.IncrementView(ctx, fingerprint); err != nil {
		s.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("view increment failed")
	}

	if s.cache.Cacheable(record.SizeBytes) {
		entry := cache.Entry{Content: data, MimeType: record.MimeType, OriginalName: record.OriginalName}
		s.bestEffort("cache backfill", fingerprint, func(ctx context.Context) error {
			return s.cache.Put(ctx, fingerprint, entry)
		})
	}

	return GetResult{
		Content:      data,
		MimeType:     record.MimeType,
		OriginalName: record.OriginalName,
	}, nil
}

// Delete removes an image from the blob store, the metadata store, and the
// cache.
func (s *ImageService) Delete(ctx context.Context, fingerprint string) error {
	record, err := s.images.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			return apperr.New(apperr.KindNotFound, "image_not_found", "image not found")
		}
		return apperr.Wrap(apperr.KindStorage, "metadata_lookup_failed", "could not look up image", err)
	}

	if _, err := s.store.Delete(ctx, record.StorageReference); err != nil {
		return err
	}
	if _, err := s.images.Delete(ctx, fingerprint); err != nil {
		return apperr.Wrap(apperr.KindStorage, "metadata_delete_failed", "could not delete image metadata", err)
	}
	if _, err := s.cache.Delete(ctx, fingerprint); err != nil {
		s.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache delete failed")
	}
	return nil
}

func (s *ImageService) List(ctx context.Context, limit, offset int) ([]models.ImageRecord, int, error) {
	records, total, err := s.images.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStorage, "metadata_list_failed", "could not list images", err)
	}
	return records, total, nil
}

// bestEffort runs fn on a bounded pool with its own timeout. Failures are
// logged only; when the pool is saturated the task is dropped rather than
// queued.
func (s *ImageService) bestEffort(name string, fingerprint string, fn func(ctx context.Context) error) {
	if !s.sem.TryAcquire(1) {
		s.log.Debug().Str("task", name).Str("fingerprint", fingerprint).Msg("async pool saturated, task dropped")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.log.Warn().Err(err).Str("task", name).Str("fingerprint", fingerprint).Msg("best-effort task failed")
		}
	}()
}

// Drain waits for in-flight best-effort tasks; called on shutdown.
func (s *ImageService) Drain() {
	s.wg.Wait()
}
