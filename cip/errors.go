package cip

import "fmt"

// PathError reports a tag path or symbol that cannot be encoded, or an
// encoded path that cannot be decoded.
type PathError struct {
	Path   string // offending textual path, empty when decoding
	Reason string
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return "cip: invalid path: " + e.Reason
	}
	return fmt.Sprintf("cip: invalid path %q: %s", e.Path, e.Reason)
}
