package tutor

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// errInvalidCourseID marks identifiers shaped like traversal or injection
// attempts; errUnknownCourseID marks well-formed identifiers that simply
// are not in the catalog.
var (
	errInvalidCourseID = errors.New("invalid course id")
	errUnknownCourseID = errors.New("unknown course id")
)

// validateCourseID rejects externally supplied course identifiers before
// any lookup. The current store resolves ids against an in-memory catalog,
// never a file path, but the checks are kept so any future storage backend
// inherits the same safety property.
//
// Checks run in order and short-circuit: traversal sequence, path
// separator, NUL byte, the same shapes after percent-decoding (a decode
// failure counts as a rejection, not a fault), and finally catalog
// membership.
func validateCourseID(id string, known func(string) bool) error {
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: contains traversal sequence", errInvalidCourseID)
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: contains path separator", errInvalidCourseID)
	}
	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: contains NUL byte", errInvalidCourseID)
	}

	decoded, err := url.QueryUnescape(id)
	if err != nil {
		return fmt.Errorf("%w: malformed percent encoding", errInvalidCourseID)
	}
	if strings.Contains(decoded, "..") || strings.ContainsAny(decoded, `/\`) {
		return fmt.Errorf("%w: encoded traversal sequence", errInvalidCourseID)
	}

	if !known(id) {
		return fmt.Errorf("%w: %s", errUnknownCourseID, id)
	}
	return nil
}
