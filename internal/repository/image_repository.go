package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"picbed/api/internal/models"
)

var ErrImageNotFound = errors.New("image not found")

const imageColumns = `
	id, fingerprint, original_name, extension, mime_type, size_bytes,
	storage_reference, view_count, created_at, updated_at`

type ImageRepository struct {
	pool *pgxpool.Pool
}

func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

// UpsertByFingerprint inserts the record or, when a row with the same
// fingerprint exists, overwrites its mutable fields (last write wins) and
// conditionally bumps the view counter. A single statement keeps the row
// change atomic under concurrent uploads.
func (r *ImageRepository) UpsertByFingerprint(ctx context.Context, record models.ImageRecord, incrementView bool) (models.ImageRecord, error) {
	const query = `
		INSERT INTO images (
			fingerprint, original_name, extension, mime_type, size_bytes,
			storage_reference, view_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, 0, NOW(), NOW()
		)
		ON CONFLICT (fingerprint)
		DO UPDATE SET
			original_name = EXCLUDED.original_name,
			extension = EXCLUDED.extension,
			mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			storage_reference = EXCLUDED.storage_reference,
			view_count = images.view_count + $7,
			updated_at = NOW()
		RETURNING` + imageColumns

	increment := 0
	if incrementView {
		increment = 1
	}

	row := r.pool.QueryRow(ctx, query,
		record.Fingerprint,
		record.OriginalName,
		record.Extension,
		record.MimeType,
		record.SizeBytes,
		record.StorageReference,
		increment,
	)
	return scanImage(row)
}

func (r *ImageRepository) GetByFingerprint(ctx context.Context, fingerprint string) (models.ImageRecord, error) {
	const query = `SELECT` + imageColumns + ` FROM images WHERE fingerprint = $1`

	record, err := scanImage(r.pool.QueryRow(ctx, query, fingerprint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ImageRecord{}, ErrImageNotFound
		}
		return models.ImageRecord{}, err
	}
	return record, nil
}

// IncrementView bumps the view counter in the database, so concurrent
// increments never lose updates.
func (r *ImageRepository) IncrementView(ctx context.Context, fingerprint string) error {
	const query = `
		UPDATE images
		SET view_count = view_count + 1, updated_at = NOW()
		WHERE fingerprint = $1
	`
	cmd, err := r.pool.Exec(ctx, query, fingerprint)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

func (r *ImageRepository) Delete(ctx context.Context, fingerprint string) (bool, error) {
	const query = `DELETE FROM images WHERE fingerprint = $1`
	cmd, err := r.pool.Exec(ctx, query, fingerprint)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ImageRepository) List(ctx context.Context, limit, offset int) ([]models.ImageRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&total); err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT` + imageColumns + `
		FROM images
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []models.ImageRecord
	for rows.Next() {
		record, err := scanImage(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	return records, total, rows.Err()
}

func scanImage(row pgx.Row) (models.ImageRecord, error) {
	var record models.ImageRecord
	err := row.Scan(
		&record.ID,
		&record.Fingerprint,
		&record.OriginalName,
		&record.Extension,
		&record.MimeType,
		&record.SizeBytes,
		&record.StorageReference,
		&record.ViewCount,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	return record, err
}
