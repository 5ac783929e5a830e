package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDanglingReference signals that a relationship endpoint is not yet
// present in the graph. Non-fatal: the write is skipped and retried by the
// reconciliation sweep.
var ErrDanglingReference = errors.New("relationship endpoint not present")

// ErrUnknownSourceType signals an envelope whose source_type discriminator
// is not one of the supported variants.
var ErrUnknownSourceType = errors.New("unknown evidence source type")

// ErrNotFound signals a lookup for a node that does not exist.
var ErrNotFound = errors.New("node not found")

// ErrInvalidArgument signals a query invoked with missing or out-of-range
// parameters.
var ErrInvalidArgument = errors.New("invalid argument")

// SchemaIncompleteError reports node or relationship types missing from the
// graph at startup. Fatal: service start must halt.
type SchemaIncompleteError struct {
	Missing []string
}

func (e *SchemaIncompleteError) Error() string {
	return fmt.Sprintf("graph schema incomplete: missing types [%s]", strings.Join(e.Missing, ", "))
}

// MalformedEnvelopeError reports a single evidence envelope that cannot be
// decoded or lacks a required field. Isolated: it never aborts the batch.
type MalformedEnvelopeError struct {
	EvidenceID string
	Field      string
	Reason     string
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed envelope %s: field %s: %s", e.EvidenceID, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed envelope %s: %s", e.EvidenceID, e.Reason)
}

// CyclicDependencyError reports a rejected service dependency edge whose
// addition would break the DAG invariant.
type CyclicDependencyError struct {
	FromID string
	ToID   string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.FromID, e.ToID)
}

// DeadlineExceededError reports a query or load aborted by a caller-supplied
// timeout. Safe to retry: all writes are idempotent upserts.
type DeadlineExceededError struct {
	Op  string
	Err error
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("%s: deadline exceeded", e.Op)
}

func (e *DeadlineExceededError) Unwrap() error { return e.Err }

// WrapDeadline maps context cancellation/timeout errors onto
// DeadlineExceededError, preserving other errors unchanged.
func WrapDeadline(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &DeadlineExceededError{Op: op, Err: err}
	}
	return err
}
