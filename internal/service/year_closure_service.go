package service

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// ClosureResult 关闭学年结果
type ClosureResult struct {
	Closed    *model.AcademicYear
	Activated *model.AcademicYear
	RunID     string
}

// YearClosureService 学年关闭
// 调用方持有租户锁；源学年 → closing → closed、目标学年 → active 与归档在同一事务内完成
type YearClosureService interface {
	CloseYear(ctx context.Context, schoolID, sourceYearID, targetYearID, actorID string) (*ClosureResult, error)
}

type yearClosureService struct {
	repo      *repository.Repository
	years     AcademicYearService
	audit     AuditService
	directory StudentDirectory
	logger    *zap.Logger
}

// NewYearClosureService 创建 YearClosureService 实例
func NewYearClosureService(
	repo *repository.Repository,
	years AcademicYearService,
	audit AuditService,
	directory StudentDirectory,
	logger *zap.Logger,
) YearClosureService {
	return &yearClosureService{
		repo:      repo,
		years:     years,
		audit:     audit,
		directory: directory,
		logger:    logger,
	}
}

func (s *yearClosureService) CloseYear(ctx context.Context, schoolID, sourceYearID, targetYearID, actorID string) (*ClosureResult, error) {
	if sourceYearID == targetYearID {
		return nil, pkgerrors.Validation("源学年与目标学年不能相同", sourceYearID)
	}
	source, err := s.years.Get(ctx, schoolID, sourceYearID)
	if err != nil {
		return nil, err
	}
	target, err := s.years.Get(ctx, schoolID, targetYearID)
	if err != nil {
		return nil, err
	}

	switch source.Status {
	case model.YearStatusActive, model.YearStatusPromoting:
	case model.YearStatusClosed:
		return nil, pkgerrors.State("学年已关闭", sourceYearID)
	default:
		return nil, pkgerrors.State("源学年状态不允许关闭", sourceYearID)
	}
	if target.Status != model.YearStatusDraft {
		return nil, pkgerrors.State("目标学年必须为草稿状态", targetYearID)
	}
	if target.PreviousYearID == nil || *target.PreviousYearID != source.YearID {
		return nil, pkgerrors.Validation("目标学年不是源学年的下一学年", targetYearID)
	}

	// 源学年必须空闲：不能有进行中的运行
	inProgress, err := s.repo.PromotionRun.FindInProgress(ctx, sourceYearID)
	if err == nil {
		return nil, pkgerrors.Conflict("源学年仍有进行中的升级运行", inProgress.RunID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	run, err := s.repo.PromotionRun.GetLatestCompletedCommit(ctx, sourceYearID, targetYearID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Validation("源学年没有已完成的升级提交运行", sourceYearID)
		}
		return nil, err
	}

	missing, err := s.missingDecisions(ctx, schoolID, sourceYearID, run.RunID)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, pkgerrors.Validation("以下在读学生缺少升级决策", missing...)
	}

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		// 行锁 + 重新读取，防止校验后状态被并发修改
		src, err := tx.AcademicYear.GetByIDForUpdate(ctx, sourceYearID)
		if err != nil {
			return err
		}
		dst, err := tx.AcademicYear.GetByIDForUpdate(ctx, targetYearID)
		if err != nil {
			return err
		}
		if src.Version != source.Version || dst.Version != target.Version {
			return pkgerrors.ErrOptimisticLock
		}
		source, target = src, dst

		if source.Status == model.YearStatusActive {
			if err := s.years.Transition(ctx, tx, source, model.YearStatusPromoting, actorID); err != nil {
				return err
			}
		}
		for _, to := range []model.YearStatus{model.YearStatusClosing, model.YearStatusClosed} {
			if err := s.years.Transition(ctx, tx, source, to, actorID); err != nil {
				return err
			}
		}
		if err := tx.AcademicYear.Archive(ctx, &model.YearArchive{
			YearID:     sourceYearID,
			SchoolID:   schoolID,
			ArchivedBy: actorID,
		}); err != nil {
			return err
		}
		if err := s.years.Transition(ctx, tx, target, model.YearStatusActive, actorID); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: schoolID,
			ActorID:    actorID,
			Action:     model.AuditActionYearClose,
			EntityType: model.AuditEntityAcademicYear,
			EntityID:   sourceYearID,
			Before: map[string]string{
				"source_year_id": sourceYearID,
				"target_year_id": targetYearID,
			},
			After: map[string]interface{}{
				"closed_year":    snapshotYear(source),
				"activated_year": snapshotYear(target),
				"run_id":         run.RunID,
				"total_students": run.TotalStudents,
			},
		})
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return nil, pkgerrors.Conflict("学年状态已被其他操作修改", sourceYearID, targetYearID)
		}
		if _, ok := pkgerrors.KindOf(err); !ok {
			s.logger.Error("关闭学年失败",
				zap.String("school_id", schoolID),
				zap.String("source_year_id", sourceYearID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.logger.Info("学年已关闭",
		zap.String("school_id", schoolID),
		zap.String("closed_year_id", sourceYearID),
		zap.String("active_year_id", targetYearID),
		zap.String("run_id", run.RunID),
	)
	return &ClosureResult{Closed: source, Activated: target, RunID: run.RunID}, nil
}

// missingDecisions 当前在读但在运行中没有决策的学生
func (s *yearClosureService) missingDecisions(ctx context.Context, schoolID, yearID, runID string) ([]string, error) {
	roster, err := s.directory.ListActiveStudents(ctx, schoolID, yearID, "", "")
	if err != nil {
		s.logger.Error("获取学生名册失败", zap.String("year_id", yearID), zap.Error(err))
		return nil, err
	}
	decisions, err := s.repo.Decision.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	decided := make(map[string]bool, len(decisions))
	for i := range decisions {
		decided[decisions[i].StudentID] = true
	}
	seen := make(map[string]bool, len(roster))
	var missing []string
	for _, r := range roster {
		if !decided[r.StudentID] && !seen[r.StudentID] {
			missing = append(missing, r.StudentID)
		}
		seen[r.StudentID] = true
	}
	sort.Strings(missing)
	return missing, nil
}
