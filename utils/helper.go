package utils

import (
	"strings"

	"github.com/google/uuid"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NewOrderNumber builds a short human-readable order number from a table
// number and a random suffix, e.g. "T4-9F21C3".
func NewOrderNumber(tableNumber string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	if tableNumber == "" {
		return "O-" + suffix
	}
	return "T" + tableNumber + "-" + suffix
}
