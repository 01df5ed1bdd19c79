package models

import "time"

// ImageRecord is the metadata row for a stored image. Fingerprint is the
// content-derived identity; at most one row exists per fingerprint.
type ImageRecord struct {
	ID               int64
	Fingerprint      string
	OriginalName     string
	Extension        string
	MimeType         string
	SizeBytes        int64
	StorageReference string
	ViewCount        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
