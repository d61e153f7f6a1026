package tags

import "errors"

var (
	// ErrTagNotFound indicates a reference to a tag id the cache does not know.
	ErrTagNotFound = errors.New("tags: tag not found")

	// ErrInvalidGraphEdge indicates an attempt to attach a nil endpoint or a
	// non-rule tag as a parent.
	ErrInvalidGraphEdge = errors.New("tags: invalid graph edge")

	// ErrInvalidStatusEncoding indicates a rule update whose value cannot be
	// interpreted as a status code.
	ErrInvalidStatusEncoding = errors.New("tags: value is not a status encoding")
)
