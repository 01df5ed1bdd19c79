package imaging

import (
	"crypto/md5"
	"encoding/hex"
)

// Fingerprint returns the content fingerprint of raw image bytes: a 32
// character lowercase hex digest. It is the sole dedup key for the whole
// pipeline; identical bytes always map to the same fingerprint, regardless
// of filename or declared mime type.
func Fingerprint(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
