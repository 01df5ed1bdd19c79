package handlers

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"picbed/api/internal/apperr"
)

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

type imageResponse struct {
	Fingerprint  string    `json:"fingerprint"`
	OriginalName string    `json:"original_name"`
	Extension    string    `json:"extension"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	ViewCount    int64     `json:"view_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (h HandlerSet) UploadImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.respondError(c, apperr.New(apperr.KindValidation, "file_required", "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindValidation, "unreadable_file", "could not read uploaded file", err))
		return
	}

	record, err := h.imageService.Upload(c.Request.Context(), data, header.Filename)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fingerprint": record.Fingerprint,
	})
}

func (h HandlerSet) GetImage(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	if !fingerprintPattern.MatchString(fingerprint) {
		h.respondError(c, apperr.New(apperr.KindNotFound, "image_not_found", "image not found"))
		return
	}

	result, err := h.imageService.Get(c.Request.Context(), fingerprint)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.OriginalName != "" {
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", result.OriginalName))
	}
	c.Data(http.StatusOK, result.MimeType, result.Content)
}

func (h HandlerSet) DeleteImage(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	if !fingerprintPattern.MatchString(fingerprint) {
		h.respondError(c, apperr.New(apperr.KindNotFound, "image_not_found", "image not found"))
		return
	}

	if err := h.imageService.Delete(c.Request.Context(), fingerprint); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ListImages(c *gin.Context) {
	limit := 50
	offset := 0

	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			offset = (v - 1) * limit
		}
	}

	records, total, err := h.imageService.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]imageResponse, 0, len(records))
	for _, record := range records {
		items = append(items, imageResponse{
			Fingerprint:  record.Fingerprint,
			OriginalName: record.OriginalName,
			Extension:    record.Extension,
			MimeType:     record.MimeType,
			SizeBytes:    record.SizeBytes,
			ViewCount:    record.ViewCount,
			CreatedAt:    record.CreatedAt,
			UpdatedAt:    record.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total": total,
		"items": items,
	})
}
