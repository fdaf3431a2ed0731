package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleError_IsMatchesKindSentinel(t *testing.T) {
	err := Validation("缺少决策", "stu-1", "stu-2")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, []string{"stu-1", "stu-2"}, EntityIDsOf(err))
}

func TestLifecycleError_WrappedStillMatches(t *testing.T) {
	err := fmt.Errorf("关闭学年: %w", Locked("学年已关闭", "year-1"))

	assert.True(t, errors.Is(err, ErrLocked))
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindLocked, kind)
	assert.Equal(t, "学年已关闭", MessageOf(err))
}

func TestExecution_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Execution("提交失败", cause, "stu-9")

	assert.True(t, errors.Is(err, ErrExecution))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stu-9")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestInvalidTransition_Message(t *testing.T) {
	err := InvalidTransition("year-1", "closed", "active")

	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, "不允许的状态迁移 closed → active [year-1]", err.Error())
}

func TestKindOf_PlainError(t *testing.T) {
	_, ok := KindOf(errors.New("boom"))
	assert.False(t, ok)
	assert.Nil(t, EntityIDsOf(errors.New("boom")))
	assert.Equal(t, "boom", MessageOf(errors.New("boom")))
}
