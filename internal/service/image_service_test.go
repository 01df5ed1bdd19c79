package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picbed/api/internal/apperr"
	"picbed/api/internal/cache"
	"picbed/api/internal/imaging"
	"picbed/api/internal/models"
	"picbed/api/internal/repository"
	"picbed/api/internal/storage"
)

type fakeMetadataStore struct {
	mu      sync.Mutex
	records map[string]models.ImageRecord
	upserts int
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{records: make(map[string]models.ImageRecord)}
}

func (f *fakeMetadataStore) UpsertByFingerprint(_ context.Context, record models.ImageRecord, incrementView bool) (models.ImageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++

	existing, ok := f.records[record.Fingerprint]
	if ok {
		existing.OriginalName = record.OriginalName
		existing.Extension = record.Extension
		existing.MimeType = record.MimeType
		existing.SizeBytes = record.SizeBytes
		existing.StorageReference = record.StorageReference
		if incrementView {
			existing.ViewCount++
		}
		f.records[record.Fingerprint] = existing
		return existing, nil
	}

	record.ID = int64(len(f.records) + 1)
	f.records[record.Fingerprint] = record
	return record, nil
}

func (f *fakeMetadataStore) GetByFingerprint(_ context.Context, fingerprint string) (models.ImageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[fingerprint]
	if !ok {
		return models.ImageRecord{}, repository.ErrImageNotFound
	}
	return record, nil
}

func (f *fakeMetadataStore) IncrementView(_ context.Context, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[fingerprint]
	if !ok {
		return repository.ErrImageNotFound
	}
	record.ViewCount++
	f.records[fingerprint] = record
	return nil
}

func (f *fakeMetadataStore) Delete(_ context.Context, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[fingerprint]
	delete(f.records, fingerprint)
	return ok, nil
}

func (f *fakeMetadataStore) List(_ context.Context, limit, offset int) ([]models.ImageRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]models.ImageRecord, 0, len(f.records))
	for _, record := range f.records {
		records = append(records, record)
	}
	return records, len(f.records), nil
}

func (f *fakeMetadataStore) viewCount(fingerprint string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[fingerprint].ViewCount
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	gets    int
	failPut error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, data []byte, name string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPut != nil {
		return "", f.failPut
	}
	reference := "blobs/" + name
	f.objects[reference] = append([]byte(nil), data...)
	return reference, nil
}

func (f *fakeBlobStore) Get(_ context.Context, reference string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	data, ok := f.objects[reference]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "blob_not_found", "object not found")
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[reference]
	delete(f.objects, reference)
	return ok, nil
}

func (f *fakeBlobStore) Stat(_ context.Context, reference string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[reference]
	if !ok {
		return storage.ObjectInfo{}, apperr.New(apperr.KindNotFound, "blob_not_found", "object not found")
	}
	return storage.ObjectInfo{Size: int64(len(data))}, nil
}

func (f *fakeBlobStore) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type fakeImageCache struct {
	mu       sync.Mutex
	entries  map[string]cache.Entry
	maxBytes int64
}

func newFakeImageCache(maxBytes int64) *fakeImageCache {
	return &fakeImageCache{entries: make(map[string]cache.Entry), maxBytes: maxBytes}
}

func (f *fakeImageCache) Cacheable(size int64) bool {
	return size <= f.maxBytes
}

func (f *fakeImageCache) Put(_ context.Context, fingerprint string, entry cache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int64(len(entry.Content)) > f.maxBytes {
		return cache.ErrTooLarge
	}
	f.entries[fingerprint] = entry
	return nil
}

func (f *fakeImageCache) Get(_ context.Context, fingerprint string) (cache.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[fingerprint]
	return entry, ok, nil
}

func (f *fakeImageCache) Delete(_ context.Context, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[fingerprint]
	delete(f.entries, fingerprint)
	return ok, nil
}

func (f *fakeImageCache) has(fingerprint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[fingerprint]
	return ok
}

func newTestService(maxCacheBytes int64) (*ImageService, *fakeMetadataStore, *fakeBlobStore, *fakeImageCache) {
	images := newFakeMetadataStore()
	store := newFakeBlobStore()
	imageCache := newFakeImageCache(maxCacheBytes)
	svc := NewImageService(images, store, imageCache, zerolog.Nop())
	return svc, images, store, imageCache
}

func jpegPayload(filler string) []byte {
	return append([]byte{0xff, 0xd8, 0xff, 0xe0}, []byte(filler)...)
}

func TestUploadReturnsFingerprint(t *testing.T) {
	svc, images, _, _ := newTestService(1 << 20)

	data := jpegPayload("payload-1")
	record, err := svc.Upload(context.Background(), data, "photo.jpg")
	require.NoError(t, err)
	svc.Drain()

	assert.Equal(t, imaging.Fingerprint(data), record.Fingerprint)
	assert.Equal(t, "photo.jpg", record.OriginalName)
	assert.Equal(t, "image/jpeg", record.MimeType)
	assert.Equal(t, int64(len(data)), record.SizeBytes)
	assert.EqualValues(t, 0, images.viewCount(record.Fingerprint))
}

func TestUploadIsIdempotentByContent(t *testing.T) {
	svc, images, _, _ := newTestService(1 << 20)

	data := jpegPayload("same bytes")
	first, err := svc.Upload(context.Background(), data, "a.jpg")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := svc.Upload(context.Background(), data, "b.jpg")
		require.NoError(t, err)
	}
	svc.Drain()

	images.mu.Lock()
	rowCount := len(images.records)
	record := images.records[first.Fingerprint]
	images.mu.Unlock()

	assert.Equal(t, 1, rowCount, "re-uploads must not create duplicate rows")
	assert.Equal(t, "b.jpg", record.OriginalName, "mutable fields are last-write-wins")
	assert.EqualValues(t, 0, record.ViewCount, "uploads never count as views")
}

func TestUploadRejectsUnknownFormat(t *testing.T) {
	svc, images, store, _ := newTestService(1 << 20)

	_, err := svc.Upload(context.Background(), []byte("not an image"), "notes.txt")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, store.puts, "nothing reaches the blob store on validation failure")
	assert.Zero(t, images.upserts)
}

func TestUploadAbortsOnBlobFailure(t *testing.T) {
	svc, images, store, _ := newTestService(1 << 20)
	store.failPut = apperr.New(apperr.KindStorage, "storage_write_failed", "boom")

	_, err := svc.Upload(context.Background(), jpegPayload("x"), "x.jpg")
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.Zero(t, images.upserts, "no metadata row for a failed blob write")
}

func TestUploadSkipsCacheAboveThreshold(t *testing.T) {
	svc, _, _, imageCache := newTestService(8)

	data := jpegPayload("a payload comfortably above eight bytes")
	record, err := svc.Upload(context.Background(), data, "big.jpg")
	require.NoError(t, err)
	svc.Drain()

	assert.False(t, imageCache.has(record.Fingerprint), "large payloads never enter the cache")
}

func TestUploadSanitizesSVG(t *testing.T) {
	svc, _, store, _ := newTestService(1 << 20)

	payload := []byte(`<svg xmlns="http://www.w3.org/2000/svg">` +
		`<script>alert(1)</script><rect width="1" height="1" onload="evil()"/></svg>`)
	record, err := svc.Upload(context.Background(), payload, "icon.svg")
	require.NoError(t, err)
	svc.Drain()

	stored, err := store.Get(context.Background(), record.StorageReference)
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "<script")
	assert.NotContains(t, string(stored), "onload")

	// The fingerprint addresses the sanitized bytes, not the raw upload.
	assert.Equal(t, imaging.Fingerprint(stored), record.Fingerprint)
	assert.Equal(t, int64(len(stored)), record.SizeBytes)

	// Served content is the sanitized body too.
	result, err := svc.Get(context.Background(), record.Fingerprint)
	require.NoError(t, err)
	svc.Drain()
	assert.NotContains(t, string(result.Content), "<script")
}

func TestUploadRejectsFakeSVG(t *testing.T) {
	svc, images, store, _ := newTestService(1 << 20)

	_, err := svc.Upload(context.Background(), []byte("<html>not svg</html>"), "page.svg")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, store.puts)
	assert.Zero(t, images.upserts)
}

func TestGetCountsSequentialViews(t *testing.T) {
	svc, images, _, imageCache := newTestService(1 << 20)

	data := jpegPayload("view me")
	record, err := svc.Upload(context.Background(), data, "v.jpg")
	require.NoError(t, err)
	svc.Drain()
	// Clear the upload-time cache fill so every Get goes through metadata.
	_, err = imageCache.Delete(context.Background(), record.Fingerprint)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		result, err := svc.Get(context.Background(), record.Fingerprint)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, result.Content))
		svc.Drain()
		_, err = imageCache.Delete(context.Background(), record.Fingerprint)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 3, images.viewCount(record.Fingerprint))
}

func TestGetServesFromCacheAfterBackfill(t *testing.T) {
	svc, images, store, imageCache := newTestService(1 << 20)

	data := jpegPayload("cache me")
	record, err := svc.Upload(context.Background(), data, "c.jpg")
	require.NoError(t, err)
	svc.Drain()
	_, err = imageCache.Delete(context.Background(), record.Fingerprint)
	require.NoError(t, err)

	// First retrieval misses the cache, hits the blob store, backfills.
	first, err := svc.Get(context.Background(), record.Fingerprint)
	require.NoError(t, err)
	svc.Drain()
	require.True(t, imageCache.has(record.Fingerprint))

	// Second retrieval is served from cache; the blob store is not touched.
	second, err := svc.Get(context.Background(), record.Fingerprint)
	require.NoError(t, err)
	svc.Drain()

	assert.Equal(t, 1, store.getCount(), "second read must come from cache")
	assert.True(t, bytes.Equal(first.Content, second.Content))
	assert.Equal(t, "image/jpeg", second.MimeType)
	assert.Equal(t, "c.jpg", second.OriginalName)
	assert.EqualValues(t, 2, images.viewCount(record.Fingerprint), "cache hits still count views")
}

func TestGetUnknownFingerprint(t *testing.T) {
	svc, _, _, _ := newTestService(1 << 20)

	_, err := svc.Get(context.Background(), "0123456789abcdef0123456789abcdef")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetReportsMissingBlobAsInconsistency(t *testing.T) {
	svc, images, store, imageCache := newTestService(1 << 20)

	data := jpegPayload("soon gone")
	record, err := svc.Upload(context.Background(), data, "g.jpg")
	require.NoError(t, err)
	svc.Drain()
	_, err = imageCache.Delete(context.Background(), record.Fingerprint)
	require.NoError(t, err)

	// Simulate a prior partial failure: metadata row alive, blob gone.
	_, err = store.Delete(context.Background(), record.StorageReference)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), record.Fingerprint)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConsistency, apperr.KindOf(err))
	assert.EqualValues(t, 0, images.viewCount(record.Fingerprint), "failed delivery must not count a view")
}

func TestListReportsTotal(t *testing.T) {
	svc, _, _, _ := newTestService(1 << 20)

	for _, filler := range []string{"one", "two", "three"} {
		_, err := svc.Upload(context.Background(), jpegPayload(filler), filler+".jpg")
		require.NoError(t, err)
	}
	svc.Drain()

	records, total, err := svc.List(context.Background(), 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, records, 3)
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	svc, images, store, imageCache := newTestService(1 << 20)

	data := jpegPayload("delete me")
	record, err := svc.Upload(context.Background(), data, "d.jpg")
	require.NoError(t, err)
	svc.Drain()

	require.NoError(t, svc.Delete(context.Background(), record.Fingerprint))

	_, err = images.GetByFingerprint(context.Background(), record.Fingerprint)
	assert.True(t, errors.Is(err, repository.ErrImageNotFound))
	assert.False(t, imageCache.has(record.Fingerprint))
	_, err = store.Get(context.Background(), record.StorageReference)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = svc.Delete(context.Background(), record.Fingerprint)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
