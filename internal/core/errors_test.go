package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrSpawn("starting claude").WithCause(cause)

	assert.Contains(t, err.Error(), "SPAWN_FAILED")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)

	var domErr *DomainError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &domErr)
	assert.Equal(t, ErrCatSpawn, domErr.Category)
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrSpawn("boom")))
	assert.False(t, IsRetryable(ErrTimeout("too slow")))
	assert.False(t, IsRetryable(ErrValidation(CodeEmptyGoal, "empty")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCategories(t *testing.T) {
	assert.Equal(t, ErrCatCapacity, GetCategory(ErrCapacity("s1", "task_x")))
	assert.Equal(t, ErrCatNotWaiting, GetCategory(ErrNotWaiting("task_x", StatusRunning)))
	assert.Equal(t, ErrCatInternal, GetCategory(errors.New("anything")))
	assert.True(t, IsCategory(ErrNotFound("task", "task_x"), ErrCatNotFound))
}

func TestErrorIsMatchesCategoryAndCode(t *testing.T) {
	err := ErrValidation(CodeGoalTooLong, "too long")
	assert.ErrorIs(t, err, &DomainError{Category: ErrCatValidation, Code: CodeGoalTooLong})
	assert.ErrorIs(t, err, &DomainError{Category: ErrCatValidation})
	assert.NotErrorIs(t, err, &DomainError{Category: ErrCatValidation, Code: CodeEmptyGoal})
}
