package imaging

import (
	"bytes"
	"regexp"

	"picbed/api/internal/apperr"
)

var (
	scriptTagPattern = regexp.MustCompile(`(?is)<\s*script[\s>].*?<\s*/\s*script\s*>`)
	eventAttrPattern = regexp.MustCompile(`(?is)\son[a-z]+\s*=\s*("[^"]*"|'[^']*')`)
)

// SanitizeSVG strips script tags and inline event handlers from an SVG
// payload. SVG is the only accepted format that browsers execute, so it is
// the only one rewritten before storage.
func SanitizeSVG(input []byte) ([]byte, error) {
	if !bytes.Contains(bytes.ToLower(input), []byte("<svg")) {
		return nil, apperr.New(apperr.KindValidation, "invalid_svg", "file is not an svg document")
	}

	clean := scriptTagPattern.ReplaceAll(input, nil)
	clean = eventAttrPattern.ReplaceAll(clean, nil)

	return clean, nil
}
