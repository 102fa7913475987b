package engine

import (
	"context"
	"fmt"
)

// StateVault is the encrypted-storage surface the storage blocks need
type StateVault interface {
	Store(ctx context.Context, collection, key string, value interface{}) (string, error)
	Read(ctx context.Context, collection, key string) (interface{}, error)
}

// StateStoreHandler writes a record into the encrypted vault and returns
// the opaque state key referencing it
type StateStoreHandler struct {
	vault StateVault
}

// NewStateStoreHandler creates a state-store handler
func NewStateStoreHandler(vault StateVault) *StateStoreHandler {
	return &StateStoreHandler{vault: vault}
}

func (h *StateStoreHandler) BlockID() string      { return "state-store" }
func (h *StateStoreHandler) NeedsConnector() bool { return false }

func (h *StateStoreHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	collection := stringConfig(req, "collection", "default")

	key, err := storageKey(req)
	if err != nil {
		return nil, err
	}

	value, ok := req.Config["valuePath"]
	if !ok {
		if value, ok = req.Raw["value"]; !ok {
			// No explicit value stores the whole payload
			value = req.Payload
		}
	}

	stateKey, storeErr := h.vault.Store(ctx, collection, key, value)
	if storeErr != nil {
		return nil, FromClientError(storeErr)
	}

	return &Output{
		Value:   map[string]interface{}{"stateKey": stateKey},
		Globals: map[string]interface{}{"stateKey": stateKey},
	}, nil
}

// StateReadHandler fetches and decrypts a vault record by key
type StateReadHandler struct {
	vault StateVault
}

// NewStateReadHandler creates a state-read handler
func NewStateReadHandler(vault StateVault) *StateReadHandler {
	return &StateReadHandler{vault: vault}
}

func (h *StateReadHandler) BlockID() string      { return "state-read" }
func (h *StateReadHandler) NeedsConnector() bool { return false }

func (h *StateReadHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	collection := stringConfig(req, "collection", "default")

	key, err := storageKey(req)
	if err != nil {
		return nil, err
	}

	value, readErr := h.vault.Read(ctx, collection, key)
	if readErr != nil {
		return nil, FromClientError(readErr)
	}

	return &Output{Value: value}, nil
}

func storageKey(req *Request) (string, *Error) {
	if v, ok := req.Config["keyPath"]; ok {
		return fmt.Sprintf("%v", v), nil
	}
	if key, ok := req.Raw["key"].(string); ok && key != "" {
		return key, nil
	}
	return "", Errf(KindConfigInvalid, "storage block requires key or keyPath")
}

// stringConfig reads a string field from the raw node data with a default
func stringConfig(req *Request, key, def string) string {
	if v, ok := req.Raw[key].(string); ok && v != "" {
		return v
	}
	return def
}
