package engine

import (
	"errors"
	"fmt"

	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/models"
)

// Kind classifies an execution failure. Fatal kinds are never retried by
// the queue; transient ones are retried up to the attempt cap.
type Kind string

const (
	KindGraphInvalid            Kind = "graph_invalid"
	KindGraphMissing            Kind = "graph_missing"
	KindUnknownBlock            Kind = "unknown_block"
	KindInsufficientCredits     Kind = "insufficient_credits"
	KindCreditExhausted         Kind = "credit_exhausted"
	KindConfigInvalid           Kind = "config_invalid"
	KindHandlerTransient        Kind = "handler_transient"
	KindHandlerPermanent        Kind = "handler_permanent"
	KindExternalUnauthenticated Kind = "external_unauthenticated"
)

// Error is the structured failure the engine persists on a run
type Error struct {
	Kind    Kind
	Message string
	NodeID  string
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s at node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the queue may redeliver the run
func (e *Error) Retryable() bool {
	return e.Kind == KindHandlerTransient
}

// WithNode returns a copy annotated with the failing node
func (e *Error) WithNode(nodeID string) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, NodeID: nodeID}
}

// ToRunError converts to the persisted run-record shape
func (e *Error) ToRunError() *models.RunError {
	return &models.RunError{
		Kind:      string(e.Kind),
		Message:   e.Message,
		NodeID:    e.NodeID,
		Retryable: e.Retryable(),
	}
}

// Errf builds a classified error
func Errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a network-ish failure as retryable
func Transient(err error) *Error {
	return &Error{Kind: KindHandlerTransient, Message: err.Error()}
}

// Permanent wraps a non-retryable remote rejection
func Permanent(err error) *Error {
	return &Error{Kind: KindHandlerPermanent, Message: err.Error()}
}

// FromClientError classifies a client failure: HTTP status errors map
// through ClassifyStatus, anything else is a transport problem and
// retryable
func FromClientError(err error) *Error {
	var st *clients.StatusError
	if errors.As(err, &st) {
		return Errf(ClassifyStatus(st.Status), "%s", err.Error())
	}
	return Transient(err)
}

// ClassifyStatus maps an HTTP status to an error kind per the failure
// policy: 5xx/408/429 retry, 401/403 means a rejected credential, other
// 4xx are permanent.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindExternalUnauthenticated
	case status == 408 || status == 429:
		return KindHandlerTransient
	case status >= 500:
		return KindHandlerTransient
	default:
		return KindHandlerPermanent
	}
}
