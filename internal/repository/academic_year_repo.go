package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// AcademicYearRepository 学年数据访问接口
// 学年不提供删除：已关闭学年永久保留用于审计
type AcademicYearRepository interface {
	Create(ctx context.Context, year *model.AcademicYear) error
	GetByID(ctx context.Context, id string) (*model.AcademicYear, error)
	// GetByIDForUpdate 在事务内对学年行加 FOR UPDATE 行锁
	GetByIDForUpdate(ctx context.Context, id string) (*model.AcademicYear, error)
	ListBySchool(ctx context.Context, schoolID string) ([]model.AcademicYear, error)
	GetByStatus(ctx context.Context, schoolID string, status model.YearStatus) (*model.AcademicYear, error)
	// GetLatestNonDraft 学年链上最新的非草稿学年（新草稿的 previous_year_id）
	GetLatestNonDraft(ctx context.Context, schoolID string) (*model.AcademicYear, error)
	// UpdateStatus 比较并交换：仅当 status 与 version 均未变化时更新
	UpdateStatus(ctx context.Context, year *model.AcademicYear, to model.YearStatus, updatedBy string) error

	Archive(ctx context.Context, archive *model.YearArchive) error
	IsArchived(ctx context.Context, yearID string) (bool, error)
}

type academicYearRepo struct {
	db *gorm.DB
}

// NewAcademicYearRepo 创建 AcademicYearRepository 实例
func NewAcademicYearRepo(db *gorm.DB) AcademicYearRepository {
	return &academicYearRepo{db: db}
}

func (r *academicYearRepo) Create(ctx context.Context, year *model.AcademicYear) error {
	return translateError(r.db.WithContext(ctx).Create(year).Error)
}

func (r *academicYearRepo) GetByID(ctx context.Context, id string) (*model.AcademicYear, error) {
	var year model.AcademicYear
	err := r.db.WithContext(ctx).
		Where("year_id = ?", id).
		First(&year).Error
	if err != nil {
		return nil, err
	}
	return &year, nil
}

func (r *academicYearRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.AcademicYear, error) {
	var year model.AcademicYear
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("year_id = ?", id).
		First(&year).Error
	if err != nil {
		return nil, err
	}
	return &year, nil
}

func (r *academicYearRepo) ListBySchool(ctx context.Context, schoolID string) ([]model.AcademicYear, error) {
	var years []model.AcademicYear
	err := r.db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("start_date DESC").
		Find(&years).Error
	return years, err
}

func (r *academicYearRepo) GetByStatus(ctx context.Context, schoolID string, status model.YearStatus) (*model.AcademicYear, error) {
	var year model.AcademicYear
	err := r.db.WithContext(ctx).
		Where("school_id = ? AND status = ?", schoolID, status).
		Order("start_date DESC").
		First(&year).Error
	if err != nil {
		return nil, err
	}
	return &year, nil
}

func (r *academicYearRepo) GetLatestNonDraft(ctx context.Context, schoolID string) (*model.AcademicYear, error) {
	var year model.AcademicYear
	err := r.db.WithContext(ctx).
		Where("school_id = ? AND status <> ?", schoolID, model.YearStatusDraft).
		Order("start_date DESC").
		First(&year).Error
	if err != nil {
		return nil, err
	}
	return &year, nil
}

func (r *academicYearRepo) UpdateStatus(ctx context.Context, year *model.AcademicYear, to model.YearStatus, updatedBy string) error {
	oldVersion := year.Version
	result := r.db.WithContext(ctx).
		Model(&model.AcademicYear{}).
		Where("year_id = ? AND status = ? AND version = ?", year.YearID, year.Status, oldVersion).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_by": updatedBy,
			"updated_at": gorm.Expr("NOW()"),
			"version":    oldVersion + 1,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	year.Status = to
	year.UpdatedBy = &updatedBy
	year.Version = oldVersion + 1
	return nil
}

func (r *academicYearRepo) Archive(ctx context.Context, archive *model.YearArchive) error {
	return translateError(r.db.WithContext(ctx).Create(archive).Error)
}

func (r *academicYearRepo) IsArchived(ctx context.Context, yearID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.YearArchive{}).
		Where("year_id = ?", yearID).
		Count(&count).Error
	return count > 0, err
}
