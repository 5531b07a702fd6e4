// Package utils provides small helpers shared across layers, currently the
// query-parameter parsing used by chat-history pagination.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not a
// valid integer. Pagination query params use it so malformed input degrades
// to the documented defaults instead of an error.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
