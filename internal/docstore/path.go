package docstore

import (
	"fmt"
	"strings"

	"steward/pkg/platform/sentinel"
)

// Join builds a path from segments, dropping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", sentinel.ErrInvalidPath)
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("%w: %q", sentinel.ErrInvalidPath, path)
		}
	}
	return segments, nil
}

// Parent returns the parent path, or "" for a top-level path.
func Parent(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// Overlaps reports whether a change at changed is visible from a subscription
// at watched: the same path, an ancestor, or a descendant.
func Overlaps(watched, changed string) bool {
	return watched == changed ||
		strings.HasPrefix(changed, watched+"/") ||
		strings.HasPrefix(watched, changed+"/")
}

// Within reports whether path equals prefix or lives beneath it.
func Within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// ValidateFields rejects update keys that would address nested paths.
func ValidateFields(partial map[string]any) error {
	for k := range partial {
		if k == "" || strings.Contains(k, "/") {
			return fmt.Errorf("%w: field %q", sentinel.ErrInvalidPath, k)
		}
	}
	return nil
}

// CheckWritable refuses rewrites of paths at or beneath an append-only prefix,
// and of any ancestor that would take such a prefix down with it.
func CheckWritable(path string, appendOnly []string) error {
	for _, prefix := range appendOnly {
		if Within(path, prefix) || Within(prefix, path) {
			return fmt.Errorf("%w: %s", sentinel.ErrAppendOnly, path)
		}
	}
	return nil
}
