package main

import (
	"encoding/json"
	"io"
)

// writeJSON encodes v as indented JSON. A nil slice is written as [] so
// scripts can always range over the result.
func writeJSON[T any](w io.Writer, items []T) error {
	if items == nil {
		items = []T{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
