package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// ── 升级运行 ──

// PromotionRunRepository 升级运行数据访问接口
type PromotionRunRepository interface {
	Create(ctx context.Context, run *model.PromotionRun) error
	GetByID(ctx context.Context, id string) (*model.PromotionRun, error)
	// Finish 比较并交换：仅当运行仍处于 from 状态时写入 run 的状态与统计
	Finish(ctx context.Context, run *model.PromotionRun, from model.RunStatus) error
	// FindInProgress 源学年上仍在进行的运行（无则返回 gorm.ErrRecordNotFound）
	FindInProgress(ctx context.Context, sourceYearID string) (*model.PromotionRun, error)
	// GetLatestCompletedCommit (源学年, 目标学年) 最近一次已完成的提交运行
	GetLatestCompletedCommit(ctx context.Context, sourceYearID, targetYearID string) (*model.PromotionRun, error)
	ListBySourceYear(ctx context.Context, schoolID, sourceYearID string, offset, limit int) ([]model.PromotionRun, int64, error)
	// ListStale 在 before 之前开始且仍为 in_progress 的运行
	ListStale(ctx context.Context, before time.Time) ([]model.PromotionRun, error)
}

type promotionRunRepo struct {
	db *gorm.DB
}

// NewPromotionRunRepo 创建 PromotionRunRepository 实例
func NewPromotionRunRepo(db *gorm.DB) PromotionRunRepository {
	return &promotionRunRepo{db: db}
}

func (r *promotionRunRepo) Create(ctx context.Context, run *model.PromotionRun) error {
	return translateError(r.db.WithContext(ctx).Create(run).Error)
}

func (r *promotionRunRepo) GetByID(ctx context.Context, id string) (*model.PromotionRun, error) {
	var run model.PromotionRun
	err := r.db.WithContext(ctx).
		Where("run_id = ?", id).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *promotionRunRepo) Finish(ctx context.Context, run *model.PromotionRun, from model.RunStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.PromotionRun{}).
		Where("run_id = ? AND status = ?", run.RunID, from).
		Updates(map[string]interface{}{
			"status":             run.Status,
			"completed_at":       run.CompletedAt,
			"total_students":     run.TotalStudents,
			"counts_by_decision": run.CountsByDecision,
			"failure_reason":     run.FailureReason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *promotionRunRepo) FindInProgress(ctx context.Context, sourceYearID string) (*model.PromotionRun, error) {
	var run model.PromotionRun
	err := r.db.WithContext(ctx).
		Where("source_year_id = ? AND status = ?", sourceYearID, model.RunStatusInProgress).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *promotionRunRepo) GetLatestCompletedCommit(ctx context.Context, sourceYearID, targetYearID string) (*model.PromotionRun, error) {
	var run model.PromotionRun
	err := r.db.WithContext(ctx).
		Where("source_year_id = ? AND target_year_id = ? AND mode = ? AND status = ?",
			sourceYearID, targetYearID, model.RunModeCommit, model.RunStatusCompleted).
		Order("completed_at DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *promotionRunRepo) ListBySourceYear(ctx context.Context, schoolID, sourceYearID string, offset, limit int) ([]model.PromotionRun, int64, error) {
	var runs []model.PromotionRun
	var total int64

	db := r.db.WithContext(ctx).Model(&model.PromotionRun{}).Where("school_id = ?", schoolID)
	if sourceYearID != "" {
		db = db.Where("source_year_id = ?", sourceYearID)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Offset(offset).Limit(limit).Order("started_at DESC").Find(&runs).Error
	return runs, total, err
}

func (r *promotionRunRepo) ListStale(ctx context.Context, before time.Time) ([]model.PromotionRun, error) {
	var runs []model.PromotionRun
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", model.RunStatusInProgress, before).
		Order("started_at ASC").
		Find(&runs).Error
	return runs, err
}

// ── 学生升级决策 ──

// DecisionRepository 学生升级决策数据访问接口
// 决策只追加：更正通过新增带 supersedes_id 的行实现
type DecisionRepository interface {
	// BatchCreate 分批写入，需在事务内调用以保证整体原子性
	BatchCreate(ctx context.Context, decisions []model.StudentPromotionDecision, batchSize int) error
	Create(ctx context.Context, decision *model.StudentPromotionDecision) error
	GetByID(ctx context.Context, id string) (*model.StudentPromotionDecision, error)
	ListByRun(ctx context.Context, runID string) ([]model.StudentPromotionDecision, error)
	// IsSuperseded 是否已有更正行指向该决策
	IsSuperseded(ctx context.Context, decisionID string) (bool, error)
	// DiscardUncommitted 补偿：删除所属运行仍为 in_progress 的决策行，已提交运行的决策不受影响
	DiscardUncommitted(ctx context.Context, runID string) (int64, error)
}

type decisionRepo struct {
	db *gorm.DB
}

// NewDecisionRepo 创建 DecisionRepository 实例
func NewDecisionRepo(db *gorm.DB) DecisionRepository {
	return &decisionRepo{db: db}
}

func (r *decisionRepo) BatchCreate(ctx context.Context, decisions []model.StudentPromotionDecision, batchSize int) error {
	if len(decisions) == 0 {
		return nil
	}
	return translateError(r.db.WithContext(ctx).CreateInBatches(decisions, batchSize).Error)
}

func (r *decisionRepo) Create(ctx context.Context, decision *model.StudentPromotionDecision) error {
	return translateError(r.db.WithContext(ctx).Create(decision).Error)
}

func (r *decisionRepo) GetByID(ctx context.Context, id string) (*model.StudentPromotionDecision, error) {
	var decision model.StudentPromotionDecision
	err := r.db.WithContext(ctx).
		Where("decision_id = ?", id).
		First(&decision).Error
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

func (r *decisionRepo) ListByRun(ctx context.Context, runID string) ([]model.StudentPromotionDecision, error) {
	var decisions []model.StudentPromotionDecision
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("from_class ASC, from_section ASC, student_id ASC, decided_at ASC").
		Find(&decisions).Error
	return decisions, err
}

func (r *decisionRepo) IsSuperseded(ctx context.Context, decisionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.StudentPromotionDecision{}).
		Where("supersedes_id = ?", decisionID).
		Count(&count).Error
	return count > 0, err
}

func (r *decisionRepo) DiscardUncommitted(ctx context.Context, runID string) (int64, error) {
	inProgress := r.db.Model(&model.PromotionRun{}).
		Select("run_id").
		Where("run_id = ? AND status = ?", runID, model.RunStatusInProgress)
	result := r.db.WithContext(ctx).
		Where("run_id IN (?)", inProgress).
		Delete(&model.StudentPromotionDecision{})
	return result.RowsAffected, result.Error
}
