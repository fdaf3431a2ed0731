package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrDuplicate 唯一约束冲突（由 Repository 层从 PostgreSQL 23505 转换而来）
var ErrDuplicate = errors.New("数据重复，违反唯一约束")

// ErrLockHeld 租户锁已被其他操作持有
var ErrLockHeld = errors.New("租户锁已被占用")

// ErrLockLost 续期时发现租户锁已过期或已被他人持有
var ErrLockLost = errors.New("租户锁已失效")

// Kind 生命周期错误分类
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindState             Kind = "state"
	KindLocked            Kind = "locked"
	KindExecution         Kind = "execution"
	KindAuthorization     Kind = "authorization"
	KindNotFound          Kind = "not_found"
)

// 分类哨兵：errors.Is(err, ErrValidation) 只比较 Kind
var (
	ErrValidation        = &LifecycleError{Kind: KindValidation}
	ErrConflict          = &LifecycleError{Kind: KindConflict}
	ErrInvalidTransition = &LifecycleError{Kind: KindInvalidTransition}
	ErrState             = &LifecycleError{Kind: KindState}
	ErrLocked            = &LifecycleError{Kind: KindLocked}
	ErrExecution         = &LifecycleError{Kind: KindExecution}
	ErrAuthorization     = &LifecycleError{Kind: KindAuthorization}
	ErrNotFound          = &LifecycleError{Kind: KindNotFound}
)

// LifecycleError 学年生命周期的类型化错误
// EntityIDs 携带出错的实体 ID（如缺少决策的学生），调用方无需翻日志即可定位
type LifecycleError struct {
	Kind      Kind
	Message   string
	EntityIDs []string
	Err       error
}

func (e *LifecycleError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if b.Len() == 0 {
		b.WriteString(string(e.Kind))
	}
	if len(e.EntityIDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.EntityIDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// Is 哨兵（无 Message、无 EntityIDs）按 Kind 匹配
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	if t.Message == "" && len(t.EntityIDs) == 0 && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

func newError(kind Kind, msg string, ids []string) *LifecycleError {
	return &LifecycleError{Kind: kind, Message: msg, EntityIDs: ids}
}

// Validation 输入不合法或前置数据缺失，调用方修正后可重试
func Validation(msg string, ids ...string) error {
	return newError(KindValidation, msg, ids)
}

// Conflict 租户锁被占用或目标状态已存在，可退避重试
func Conflict(msg string, ids ...string) error {
	return newError(KindConflict, msg, ids)
}

// InvalidTransition 状态机不允许的边
func InvalidTransition(entityID, from, to string) error {
	return newError(KindInvalidTransition, fmt.Sprintf("不允许的状态迁移 %s → %s", from, to), []string{entityID})
}

// State 当前状态不满足操作前提
func State(msg string, ids ...string) error {
	return newError(KindState, msg, ids)
}

// Locked 对已关闭学年的归档数据执行写操作
func Locked(msg string, ids ...string) error {
	return newError(KindLocked, msg, ids)
}

// Execution 提交批次中途失败，运行已回滚为 failed
func Execution(msg string, cause error, ids ...string) error {
	e := newError(KindExecution, msg, ids)
	e.Err = cause
	return e
}

// Authorization 操作人无权限
func Authorization(actorID, action string) error {
	return newError(KindAuthorization, fmt.Sprintf("无权限执行操作 %s", action), []string{actorID})
}

// NotFound 实体不存在
func NotFound(msg string, ids ...string) error {
	return newError(KindNotFound, msg, ids)
}

// KindOf 提取错误分类
func KindOf(err error) (Kind, bool) {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// EntityIDsOf 提取错误携带的实体 ID
func EntityIDsOf(err error) []string {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.EntityIDs
	}
	return nil
}

// MessageOf 提取面向用户的错误信息（不含底层原因）
func MessageOf(err error) string {
	var le *LifecycleError
	if errors.As(err, &le) && le.Message != "" {
		return le.Message
	}
	return err.Error()
}
