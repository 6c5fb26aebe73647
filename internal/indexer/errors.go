package indexer

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrExtraction is returned when the extractor fails or returns no vector.
	ErrExtraction = errors.New("embedding extraction failed")
	// ErrDimensionMismatch is returned when a vector's length differs from the user's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrNotFound is returned when deleting a path that is not indexed.
	ErrNotFound = errors.New("path not indexed")
	// ErrCorruptState is returned when persisted artifacts disagree and could not be recovered.
	ErrCorruptState = errors.New("corrupt index state")
	// ErrIO is returned when artifacts cannot be read or written.
	ErrIO = errors.New("index i/o failure")
	// ErrInvalidUser is returned for user ids that cannot name a directory.
	ErrInvalidUser = errors.New("invalid user id")
	// ErrInvalidQuery is returned for queries without text or image, and for unusable paths.
	ErrInvalidQuery = errors.New("invalid query")
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateUserID reports whether id can be used as a user key and directory name.
func ValidateUserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, id)
	}
	return nil
}

// errorKind returns a short metrics label for err.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorruptState):
		return "corrupt"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrInvalidUser), errors.Is(err, ErrInvalidQuery):
		return "invalid"
	default:
		return "error"
	}
}
