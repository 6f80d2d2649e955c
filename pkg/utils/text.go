// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Truncate returns s truncated to maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// ParseVector parses comma- or space-separated numbers, optionally wrapped in brackets,
// such as "0.1, 0.2, 0.3" or "[0.1 0.2 0.3]".
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("component %d is not finite", i)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// FormatVector renders up to maxShown components of v, eliding the rest.
func FormatVector(v []float32, maxShown int) string {
	n := len(v)
	if maxShown > 0 && n > maxShown {
		n = maxShown
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = strconv.FormatFloat(float64(v[i]), 'f', 4, 32)
	}
	s := "[" + strings.Join(parts, ", ")
	if n < len(v) {
		s += fmt.Sprintf(", ... (%d more)", len(v)-n)
	}
	return s + "]"
}
