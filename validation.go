package evfs

import (
	"fmt"
	"strings"
)

// validateChildName enforces the constraints a folder payload's child table
// relies on: non-empty, no path separator, no embedded NUL, and rejecting
// the "." / ".." reserved names that would otherwise be ambiguous against
// path resolution.
func validateChildName(name string) error {
	if name == "" {
		return errBadArg("child name must not be empty")
	}
	if strings.ContainsAny(name, "/\x00") {
		return errBadArg(fmt.Sprintf("child name %q must not contain '/' or NUL", name))
	}
	if name == "." || name == ".." {
		return errBadArg(fmt.Sprintf("child name %q is reserved", name))
	}
	return nil
}

// splitPath breaks a slash-separated absolute path into its non-empty
// segments. "/" and "///" both split to an empty segment list, meaning
// "the root itself"; "" and any other path without a leading slash fail.
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, errBadArg(fmt.Sprintf("path %q must be absolute", path))
	}
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			continue
		}
		if err := validateChildName(s); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, nil
}

// joinPath renders segments back into the canonical absolute path form used
// in VFSError.Path and watch-tree event paths.
func joinPath(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}
