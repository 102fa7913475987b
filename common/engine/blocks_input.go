package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/veilflow/veilflow/common/paths"
)

// PayloadInputHandler exposes the trigger payload (or a field of it) to
// the rest of the graph
type PayloadInputHandler struct{}

func (h *PayloadInputHandler) BlockID() string      { return "payload-input" }
func (h *PayloadInputHandler) NeedsConnector() bool { return false }

func (h *PayloadInputHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	// path is interpreted against the payload itself, not run memory
	path, _ := req.Raw["path"].(string)
	if path == "" {
		return &Output{Value: req.Payload}, nil
	}

	value, found := paths.Lookup(req.Payload, path)
	if !found {
		return nil, Errf(KindConfigInvalid, "payload has no field %q", path)
	}
	return &Output{Value: value}, nil
}

// JSONExtractHandler extracts a dotted path from the payload or from run
// memory
type JSONExtractHandler struct{}

func (h *JSONExtractHandler) BlockID() string      { return "json-extract" }
func (h *JSONExtractHandler) NeedsConnector() bool { return false }

func (h *JSONExtractHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	path, _ := req.Raw["path"].(string)
	if path == "" {
		return nil, Errf(KindConfigInvalid, "json-extract requires a path")
	}

	source, _ := req.Raw["source"].(string)
	root := req.Memory
	if source == "payload" {
		root = req.Payload
	}

	value, found := paths.Lookup(root, path)
	if !found {
		return nil, Errf(KindConfigInvalid, "path %q did not resolve against %s", path, sourceName(source))
	}
	return &Output{Value: value}, nil
}

func sourceName(source string) string {
	if source == "payload" {
		return "payload"
	}
	return "memory"
}

// MemoParserHandler splits a memo string into key:value pairs
type MemoParserHandler struct{}

func (h *MemoParserHandler) BlockID() string      { return "memo-parser" }
func (h *MemoParserHandler) NeedsConnector() bool { return false }

func (h *MemoParserHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	memo, err := h.memoSource(req)
	if err != nil {
		return nil, err
	}

	delimiter, _ := req.Raw["delimiter"].(string)
	if delimiter == "" {
		delimiter = ":"
	}

	fields := make(map[string]interface{})
	for _, line := range strings.FieldsFunc(memo, func(r rune) bool { return r == '\n' || r == ';' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, delimiter)
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return &Output{Value: map[string]interface{}{
		"raw":    memo,
		"fields": fields,
	}}, nil
}

func (h *MemoParserHandler) memoSource(req *Request) (string, *Error) {
	// memoPath is pre-resolved by the engine; literal memo wins when set
	if memo, ok := req.Raw["memo"].(string); ok && memo != "" {
		return memo, nil
	}
	if v, ok := req.Config["memoPath"]; ok {
		return fmt.Sprintf("%v", v), nil
	}
	// Default to the conventional chain-watch payload field
	if memo, ok := req.Payload["memo"].(string); ok {
		return memo, nil
	}
	return "", Errf(KindConfigInvalid, "memo-parser has no memo source")
}
