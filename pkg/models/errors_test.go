package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapDeadline(t *testing.T) {
	assert.NoError(t, WrapDeadline("op", nil))

	err := WrapDeadline("blast radius", context.DeadlineExceeded)
	var deadline *DeadlineExceededError
	require.ErrorAs(t, err, &deadline)
	assert.Equal(t, "blast radius", deadline.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = WrapDeadline("sweep", context.Canceled)
	assert.ErrorAs(t, err, &deadline)

	plain := errors.New("connection refused")
	assert.Equal(t, plain, WrapDeadline("op", plain))
}

func TestErrorWrappingSurvivesFmt(t *testing.T) {
	wrapped := fmt.Errorf("FINDING_HAS_CWE f-1->CWE-79: %w", ErrDanglingReference)
	assert.ErrorIs(t, wrapped, ErrDanglingReference)

	var cyclic *CyclicDependencyError
	err := fmt.Errorf("load: %w", &CyclicDependencyError{FromID: "a", ToID: "b"})
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, "a", cyclic.FromID)
}

func TestSchemaIncompleteErrorMessage(t *testing.T) {
	err := &SchemaIncompleteError{Missing: []string{"Finding", "CVE_HAS_CWE"}}
	assert.Contains(t, err.Error(), "Finding")
	assert.Contains(t, err.Error(), "CVE_HAS_CWE")
}
