// Package utils parses the loosely typed query parameters of the search and
// feed endpoints. Malformed input falls back to a default instead of failing
// the request.
package utils

import (
	"strconv"
	"strings"
)

// IntInRange parses s as an int clamped to [lo, hi]. Empty or malformed
// input yields def, also clamped.
//
// Example:
//
//	utils.IntInRange("500", 10, 1, 100) // returns 100
//	utils.IntInRange("x", 10, 1, 100)   // returns 10
func IntInRange(s string, def, lo, hi int) int {
	n := def
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		n = v
	}
	return min(max(n, lo), hi)
}

// FloatDefault parses s as a float64, returning def when s is empty or
// malformed.
func FloatDefault(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

// FloatsCSV parses a comma-separated list of numbers, skipping blanks and
// malformed entries.
//
// Example:
//
//	utils.FloatsCSV("4, 5,x") // returns []float64{4, 5}
func FloatsCSV(s string) []float64 {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if f, err := strconv.ParseFloat(p, 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}
