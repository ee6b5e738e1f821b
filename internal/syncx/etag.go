package syncx

import (
	"net/http"
	"strconv"
)

// FormatETag renders a record version as a quoted entity tag
func FormatETag(version int) string {
	return `"` + strconv.Itoa(version) + `"`
}

// ParseETag extracts a version from an entity tag.
// Handles both quoted ETags ("5") and unquoted (5) per RFC 7232 section 2.3.
func ParseETag(value string) (int, bool) {
	if value == "" {
		return 0, false
	}

	etag := value
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		etag = etag[1 : len(etag)-1]
	}

	version, err := strconv.Atoi(etag)
	if err != nil || version < 0 {
		return 0, false
	}
	return version, true
}

// DeclaredVersion reads the version a client last observed from request headers.
// If-Match wins over ETag; the second return is false when neither carries one.
func DeclaredVersion(h http.Header) (int, bool) {
	if v, ok := ParseETag(h.Get("If-Match")); ok {
		return v, true
	}
	return ParseETag(h.Get("ETag"))
}
