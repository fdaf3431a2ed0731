package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
)

// ── 学生名册（学生模块的表，只读） ──

// StudentDirectoryRepository 学生名册只读接口
type StudentDirectoryRepository interface {
	// ListActive 学年内在读学生；class / section 为空表示不过滤
	ListActive(ctx context.Context, schoolID, yearID, class, section string) ([]model.StudentEnrollment, error)
}

type studentDirectoryRepo struct {
	db *gorm.DB
}

// NewStudentDirectoryRepo 创建 StudentDirectoryRepository 实例
func NewStudentDirectoryRepo(db *gorm.DB) StudentDirectoryRepository {
	return &studentDirectoryRepo{db: db}
}

func (r *studentDirectoryRepo) ListActive(ctx context.Context, schoolID, yearID, class, section string) ([]model.StudentEnrollment, error) {
	var rows []model.StudentEnrollment
	db := r.db.WithContext(ctx).
		Where("school_id = ? AND year_id = ? AND status = ?", schoolID, yearID, "active")
	if class != "" {
		db = db.Where("class = ?", class)
	}
	if section != "" {
		db = db.Where("section = ?", section)
	}
	err := db.Order("class ASC, section ASC, student_id ASC").Find(&rows).Error
	return rows, err
}

// ── 考试汇总（考试模块的表，只读） ──

// ExamSummaryRepository 考试汇总只读接口
type ExamSummaryRepository interface {
	// Get 无记录时返回 gorm.ErrRecordNotFound
	Get(ctx context.Context, schoolID, yearID, studentID string) (*model.ExamSummary, error)
}

type examSummaryRepo struct {
	db *gorm.DB
}

// NewExamSummaryRepo 创建 ExamSummaryRepository 实例
func NewExamSummaryRepo(db *gorm.DB) ExamSummaryRepository {
	return &examSummaryRepo{db: db}
}

func (r *examSummaryRepo) Get(ctx context.Context, schoolID, yearID, studentID string) (*model.ExamSummary, error) {
	var summary model.ExamSummary
	err := r.db.WithContext(ctx).
		Where("school_id = ? AND year_id = ? AND student_id = ?", schoolID, yearID, studentID).
		First(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ── 教职工角色（权限模块的表，只读） ──

// StaffRoleRepository 教职工角色只读接口
type StaffRoleRepository interface {
	GetRole(ctx context.Context, schoolID, actorID string) (*model.StaffRole, error)
}

type staffRoleRepo struct {
	db *gorm.DB
}

// NewStaffRoleRepo 创建 StaffRoleRepository 实例
func NewStaffRoleRepo(db *gorm.DB) StaffRoleRepository {
	return &staffRoleRepo{db: db}
}

func (r *staffRoleRepo) GetRole(ctx context.Context, schoolID, actorID string) (*model.StaffRole, error) {
	var role model.StaffRole
	err := r.db.WithContext(ctx).
		Where("school_id = ? AND actor_id = ?", schoolID, actorID).
		First(&role).Error
	if err != nil {
		return nil, err
	}
	return &role, nil
}
