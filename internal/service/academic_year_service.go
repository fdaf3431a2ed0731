package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

const dateLayout = "2006-01-02"

// yearSnapshot 学年审计快照
type yearSnapshot struct {
	YearID    string           `json:"year_id"`
	YearLabel string           `json:"year_label"`
	Status    model.YearStatus `json:"status"`
	StartDate string           `json:"start_date"`
	EndDate   string           `json:"end_date"`
	Version   int              `json:"version"`
}

func snapshotYear(y *model.AcademicYear) yearSnapshot {
	return yearSnapshot{
		YearID:    y.YearID,
		YearLabel: y.YearLabel,
		Status:    y.Status,
		StartDate: y.StartDate.Format(dateLayout),
		EndDate:   y.EndDate.Format(dateLayout),
		Version:   y.Version,
	}
}

// AcademicYearService 学年存储与状态机
// 写操作由调用方持有租户锁；状态迁移在 tx 内完成 CAS 并写审计
type AcademicYearService interface {
	CreateDraft(ctx context.Context, schoolID, label string, start, end time.Time, actorID string) (*model.AcademicYear, error)
	Activate(ctx context.Context, schoolID, yearID, actorID string) (*model.AcademicYear, error)
	// Transition 通用受控迁移；tx 为 nil 时自行开启事务
	Transition(ctx context.Context, tx *repository.Repository, year *model.AcademicYear, to model.YearStatus, actorID string) error

	Get(ctx context.Context, schoolID, yearID string) (*model.AcademicYear, error)
	List(ctx context.Context, schoolID string) ([]model.AcademicYear, error)
	GetActive(ctx context.Context, schoolID string) (*model.AcademicYear, error)
	// EnsureWritable 学年已关闭或已归档时返回 LockedError，供持有学年子数据的模块写入前调用
	EnsureWritable(ctx context.Context, schoolID, yearID string) error
}

type academicYearService struct {
	repo   *repository.Repository
	audit  AuditService
	logger *zap.Logger
}

// NewAcademicYearService 创建 AcademicYearService 实例
func NewAcademicYearService(repo *repository.Repository, audit AuditService, logger *zap.Logger) AcademicYearService {
	return &academicYearService{repo: repo, audit: audit, logger: logger}
}

// ────────────────────── CreateDraft ──────────────────────

func (s *academicYearService) CreateDraft(ctx context.Context, schoolID, label string, start, end time.Time, actorID string) (*model.AcademicYear, error) {
	if !end.After(start) {
		return nil, pkgerrors.Validation("学年结束日期必须晚于开始日期")
	}

	years, err := s.repo.AcademicYear.ListBySchool(ctx, schoolID)
	if err != nil {
		s.logger.Error("查询学年列表失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, err
	}

	for i := range years {
		if years[i].Status == model.YearStatusDraft {
			return nil, pkgerrors.Conflict("已存在待启用的草稿学年", years[i].YearID)
		}
	}
	for i := range years {
		if years[i].YearLabel == label {
			return nil, pkgerrors.Validation("学年名称已存在", years[i].YearID)
		}
	}
	var overlapped []string
	for i := range years {
		if years[i].Status != model.YearStatusClosed && years[i].Overlaps(start, end) {
			overlapped = append(overlapped, years[i].YearID)
		}
	}
	if len(overlapped) > 0 {
		return nil, pkgerrors.Validation("学年日期与未关闭的学年重叠", overlapped...)
	}

	year := &model.AcademicYear{
		YearID:    uuid.NewString(),
		SchoolID:  schoolID,
		YearLabel: label,
		Status:    model.YearStatusDraft,
		StartDate: start,
		EndDate:   end,
	}
	year.Version = 1
	year.CreatedBy = &actorID
	year.UpdatedBy = &actorID

	// 学年链保持线性：新草稿接在最新的非草稿学年之后
	prev, err := s.repo.AcademicYear.GetLatestNonDraft(ctx, schoolID)
	switch {
	case err == nil:
		if !start.After(prev.EndDate) {
			return nil, pkgerrors.Validation("学年开始日期必须晚于上一学年结束日期", prev.YearID)
		}
		year.PreviousYearID = &prev.YearID
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		s.logger.Error("查询上一学年失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, err
	}

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.AcademicYear.Create(ctx, year); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: schoolID,
			ActorID:    actorID,
			Action:     model.AuditActionYearCreate,
			EntityType: model.AuditEntityAcademicYear,
			EntityID:   year.YearID,
			After:      snapshotYear(year),
		})
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrDuplicate) {
			return nil, pkgerrors.Conflict("学年已存在（草稿或名称冲突）")
		}
		s.logger.Error("创建学年失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("草稿学年已创建",
		zap.String("school_id", schoolID),
		zap.String("year_id", year.YearID),
		zap.String("label", label),
	)
	return year, nil
}

// ────────────────────── Activate ──────────────────────

func (s *academicYearService) Activate(ctx context.Context, schoolID, yearID, actorID string) (*model.AcademicYear, error) {
	year, err := s.Get(ctx, schoolID, yearID)
	if err != nil {
		return nil, err
	}
	if year.Status != model.YearStatusDraft {
		return nil, pkgerrors.State("只有草稿学年可以启用", yearID)
	}

	active, err := s.repo.AcademicYear.GetByStatus(ctx, schoolID, model.YearStatusActive)
	if err == nil {
		return nil, pkgerrors.State("已存在启用中的学年，需先完成关闭", active.YearID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	// promoting / closing 的学年同样占据“当前学年”位置
	for _, st := range []model.YearStatus{model.YearStatusPromoting, model.YearStatusClosing} {
		busy, err := s.repo.AcademicYear.GetByStatus(ctx, schoolID, st)
		if err == nil {
			return nil, pkgerrors.State("当前学年尚未关闭", busy.YearID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if err := s.Transition(ctx, nil, year, model.YearStatusActive, actorID); err != nil {
		return nil, err
	}
	return year, nil
}

// ────────────────────── Transition ──────────────────────

func (s *academicYearService) Transition(ctx context.Context, tx *repository.Repository, year *model.AcademicYear, to model.YearStatus, actorID string) error {
	if tx == nil {
		return s.repo.Transaction(ctx, func(tx *repository.Repository) error {
			return s.Transition(ctx, tx, year, to, actorID)
		})
	}

	from := year.Status
	if !from.CanTransitionTo(to) {
		return pkgerrors.InvalidTransition(year.YearID, string(from), string(to))
	}

	before := snapshotYear(year)
	if err := tx.AcademicYear.UpdateStatus(ctx, year, to, actorID); err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrOptimisticLock):
			return pkgerrors.Conflict("学年状态已被其他操作修改", year.YearID)
		case errors.Is(err, pkgerrors.ErrDuplicate):
			return pkgerrors.State("同一学校只能有一个启用中的学年", year.YearID)
		}
		s.logger.Error("更新学年状态失败",
			zap.String("year_id", year.YearID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return err
	}

	if err := s.audit.Append(ctx, tx, AuditRecord{
		SchoolCode: year.SchoolID,
		ActorID:    actorID,
		Action:     model.AuditActionYearTransition,
		EntityType: model.AuditEntityAcademicYear,
		EntityID:   year.YearID,
		Before:     before,
		After:      snapshotYear(year),
	}); err != nil {
		return err
	}

	s.logger.Info("学年状态迁移",
		zap.String("school_id", year.SchoolID),
		zap.String("year_id", year.YearID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// ────────────────────── 查询 ──────────────────────

func (s *academicYearService) Get(ctx context.Context, schoolID, yearID string) (*model.AcademicYear, error) {
	year, err := s.repo.AcademicYear.GetByID(ctx, yearID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("学年不存在", yearID)
		}
		return nil, err
	}
	// 跨租户访问按不存在处理
	if year.SchoolID != schoolID {
		return nil, pkgerrors.NotFound("学年不存在", yearID)
	}
	return year, nil
}

func (s *academicYearService) List(ctx context.Context, schoolID string) ([]model.AcademicYear, error) {
	return s.repo.AcademicYear.ListBySchool(ctx, schoolID)
}

func (s *academicYearService) GetActive(ctx context.Context, schoolID string) (*model.AcademicYear, error) {
	year, err := s.repo.AcademicYear.GetByStatus(ctx, schoolID, model.YearStatusActive)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("当前没有启用中的学年", schoolID)
		}
		return nil, err
	}
	return year, nil
}

func (s *academicYearService) EnsureWritable(ctx context.Context, schoolID, yearID string) error {
	year, err := s.Get(ctx, schoolID, yearID)
	if err != nil {
		return err
	}
	if year.Status == model.YearStatusClosed {
		return pkgerrors.Locked("学年已关闭，数据只读", yearID)
	}
	archived, err := s.repo.AcademicYear.IsArchived(ctx, yearID)
	if err != nil {
		return err
	}
	if archived {
		return pkgerrors.Locked("学年已归档，数据只读", yearID)
	}
	return nil
}
