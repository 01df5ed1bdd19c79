package imaging

import (
	"bytes"
	"path"
	"strings"

	"picbed/api/internal/apperr"
)

// Format is a recognized image container.
type Format struct {
	Ext  string
	MIME string
}

var formats = map[string]Format{
	"jpeg": {Ext: "jpeg", MIME: "image/jpeg"},
	"jpg":  {Ext: "jpg", MIME: "image/jpeg"},
	"png":  {Ext: "png", MIME: "image/png"},
	"gif":  {Ext: "gif", MIME: "image/gif"},
	"webp": {Ext: "webp", MIME: "image/webp"},
	"avif": {Ext: "avif", MIME: "image/avif"},
	"svg":  {Ext: "svg", MIME: "image/svg+xml"},
}

// ResolveFormat determines the storage extension and mime type of an upload.
// A recognized filename extension wins; otherwise the leading bytes are
// sniffed. Failing both is a validation error.
func ResolveFormat(filename string, data []byte) (Format, error) {
	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")); ext != "" {
		if format, ok := formats[ext]; ok {
			return format, nil
		}
	}

	if format, ok := Sniff(data); ok {
		return format, nil
	}

	return Format{}, apperr.New(apperr.KindValidation, "unsupported_format", "could not determine image format")
}

// Sniff detects the image format from magic bytes.
func Sniff(data []byte) (Format, bool) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}

	switch {
	case isJPEG(head):
		return formats["jpeg"], true
	case isPNG(head):
		return formats["png"], true
	case isGIF(head):
		return formats["gif"], true
	case isWEBP(head):
		return formats["webp"], true
	case isAVIF(head):
		return formats["avif"], true
	case isSVG(head):
		return formats["svg"], true
	}
	return Format{}, false
}

func isJPEG(head []byte) bool {
	return len(head) > 3 &&
		head[0] == 0xff &&
		head[1] == 0xd8 &&
		head[2] == 0xff
}

func isPNG(head []byte) bool {
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return len(head) >= len(pngMagic) && bytes.Equal(head[:len(pngMagic)], pngMagic)
}

func isGIF(head []byte) bool {
	return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}

func isAVIF(head []byte) bool {
	if len(head) < 12 {
		return false
	}
	boxType := string(head[8:12])
	return boxType == "ftyp" && bytes.Contains(head[12:], []byte("avif"))
}

func isSVG(head []byte) bool {
	trimmed := strings.TrimSpace(string(head))
	return strings.HasPrefix(trimmed, "<svg") || strings.HasPrefix(trimmed, "<?xml")
}
