package pathstore

import (
	"strings"
	"unicode"
)

// Separator delimits path segments.
const Separator = "/"

// FolderSegments splits a folder path into its components. Surrounding
// whitespace, leading and trailing separators and empty components are
// ignored, so "/a//b/" yields [a b].
func FolderSegments(p string) []string {
	parts := strings.Split(strings.TrimSpace(p), Separator)
	segs := parts[:0]
	for _, part := range parts {
		if part != "" {
			segs = append(segs, part)
		}
	}
	return segs
}

// SplitPath splits a file path into its folder prefix and leaf name.
// An empty path yields no segments and an empty leaf.
func SplitPath(p string) (segments []string, leaf string) {
	segs := FolderSegments(p)
	if len(segs) == 0 {
		return nil, ""
	}
	return segs[:len(segs)-1], segs[len(segs)-1]
}

// looksLikeFolder reports whether p names a folder rather than a file.
func looksLikeFolder(p string) bool {
	return strings.HasSuffix(strings.TrimSpace(p), Separator)
}

// Validate rejects paths with control characters or relative components.
// The empty path is valid; operations decide what it means.
func Validate(p string) error {
	for _, r := range p {
		if unicode.IsControl(r) {
			return newError(KindInvalidArgument, "path %q contains control characters", p)
		}
	}
	for _, seg := range FolderSegments(p) {
		if seg == "." || seg == ".." {
			return newError(KindInvalidArgument, "path %q contains relative component %q", p, seg)
		}
	}
	return nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return newError(KindInvalidArgument, "file name is empty")
	}
	if strings.Contains(name, Separator) || name == "." || name == ".." {
		return newError(KindInvalidArgument, "invalid file name %q", name)
	}
	return Validate(name)
}
