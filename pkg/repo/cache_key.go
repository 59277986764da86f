package repo

import (
	"fmt"
	"strings"
)

// CacheKey builds a stable cache key from heterogeneous parts.
func CacheKey(parts ...any) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, fmt.Sprint(p))
	}
	return strings.Join(out, "|")
}
