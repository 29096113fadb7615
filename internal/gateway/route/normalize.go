package route

import "strings"

// NormalizeOptions controls path normalization before matching.
type NormalizeOptions struct {
	CollapseSlashes    bool
	StripTrailingSlash bool
	CaseSensitive      bool
}

// Normalize applies the configured transformations to path.
func Normalize(path string, opts NormalizeOptions) string {
	if opts.CollapseSlashes {
		for strings.Contains(path, "//") {
			path = strings.ReplaceAll(path, "//", "/")
		}
	}
	if opts.StripTrailingSlash && len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if !opts.CaseSensitive {
		path = strings.ToLower(path)
	}
	return path
}
