package ingest

import (
	"path"
	"strings"
)

// matchGlob matches a slash separated path against a glob pattern.
// A "**" segment matches zero or more path segments; other segments use
// path.Match. A pattern ending in "/**" also matches the directory itself.
func matchGlob(pattern, name string) bool {
	name = strings.Trim(name, "/")
	var segs []string
	if name != "" {
		segs = strings.Split(name, "/")
	}
	return matchSegments(strings.Split(pattern, "/"), segs)
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pattern[1:], segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], segs[0]); !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}
