// Package paths resolves dotted paths against dynamic document trees.
//
// Blocks reference earlier outputs by paths like "rec.approved" or
// "payload.amount"; the root document is the run's memory map (which always
// carries the trigger payload under "payload").
package paths

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup resolves a dotted path against a document. The second return is
// false when the path does not resolve.
func Lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false
	}

	return result.Value(), true
}

// LookupIn resolves a path against an arbitrary value (map, slice, scalar)
func LookupIn(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}

	raw, err := json.Marshal(root)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false
	}

	return result.Value(), true
}

// IsPathKey reports whether a config key names a path to dereference.
// Recognised: the explicit keys "path" and "sourcePath", plus any key with
// the "Path" suffix. "runIfPath" is handled by the run-if gate before
// generic resolution and is excluded here.
func IsPathKey(key string) bool {
	if key == "runIfPath" {
		return false
	}
	return key == "path" || key == "sourcePath" || strings.HasSuffix(key, "Path")
}
