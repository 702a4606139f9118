// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "encoding/json"

// EncodeList stores a string list in a TEXT column as a JSON array
func EncodeList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeList reverses EncodeList; empty or malformed columns yield nil
func DecodeList(column string) []string {
	if column == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(column), &items); err != nil {
		return nil
	}
	return items
}
