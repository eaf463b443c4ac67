// Package extract turns raw sources (PDF bytes, web URLs) into normalized
// plain text plus lightweight metadata for downstream chunking.
package extract

import "errors"

// ErrNoContent indicates extraction produced no usable text.
var ErrNoContent = errors.New("no text content extracted")

// Document is the normalized output of an extraction.
type Document struct {
	Text     string
	Title    string
	Author   string
	URL      string
	NumPages int // 0 when unknown
	ByteSize int64
}
