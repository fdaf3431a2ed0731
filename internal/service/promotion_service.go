package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/config"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// SystemActorID 后台任务（失效运行清理）写审计时使用的操作人
const SystemActorID = "system"

// RunParams 发起升级运行的参数
type RunParams struct {
	SchoolID     string
	SourceYearID string
	TargetYearID string
	Mode         model.RunMode
	Overrides    []dto.DecisionOverride
	ActorID      string
}

// RunOutcome 升级运行结果
// 试运行的 Decisions 只存在于内存；提交运行为已持久化的决策
type RunOutcome struct {
	Run       *model.PromotionRun
	Decisions []model.StudentPromotionDecision
	Attached  bool // 重入调用挂接到已有的进行中运行
}

// PromotionService 升级引擎
type PromotionService interface {
	// StartRun 试运行只在切换学年状态时持有租户锁；提交运行全程持有
	StartRun(ctx context.Context, p *RunParams) (*RunOutcome, error)
	GetRun(ctx context.Context, schoolID, runID string) (*model.PromotionRun, []model.StudentPromotionDecision, error)
	ListRuns(ctx context.Context, schoolID, sourceYearID string, offset, limit int) ([]model.PromotionRun, int64, error)

	// 以下由调用方持有租户锁
	AbortRun(ctx context.Context, schoolID, runID, actorID string) (*model.PromotionRun, error)
	CorrectDecision(ctx context.Context, schoolID, decisionID string, req *dto.CorrectDecisionRequest, actorID string) (*model.StudentPromotionDecision, error)
	FailStale(ctx context.Context, run *model.PromotionRun) error
}

type promotionService struct {
	repo      *repository.Repository
	years     AcademicYearService
	rules     PromotionRuleService
	audit     AuditService
	directory StudentDirectory
	exams     ExamSummaryProvider
	guard     *tenantGuard
	cfg       config.LifecycleConfig
	nowFn     func() time.Time
	logger    *zap.Logger
}

// NewPromotionService 创建 PromotionService 实例
func NewPromotionService(
	cfg *config.LifecycleConfig,
	repo *repository.Repository,
	years AcademicYearService,
	rules PromotionRuleService,
	audit AuditService,
	directory StudentDirectory,
	exams ExamSummaryProvider,
	locker TenantLocker,
	logger *zap.Logger,
) PromotionService {
	c := *cfg
	if c.DecisionBatchSize <= 0 {
		c.DecisionBatchSize = 500
	}
	if c.ExamFetchConcurrency <= 0 {
		c.ExamFetchConcurrency = 8
	}
	return &promotionService{
		repo:      repo,
		years:     years,
		rules:     rules,
		audit:     audit,
		directory: directory,
		exams:     exams,
		guard:     newTenantGuard(locker, c.LockTTL, logger),
		cfg:       c,
		nowFn:     time.Now,
		logger:    logger,
	}
}

// ────────────────────── StartRun ──────────────────────

func (s *promotionService) StartRun(ctx context.Context, p *RunParams) (*RunOutcome, error) {
	if err := validateRunParams(p); err != nil {
		return nil, err
	}

	if p.Mode == model.RunModeCommit {
		var out *RunOutcome
		err := s.guard.run(ctx, p.SchoolID, func() error {
			var err error
			out, err = s.commitRun(context.WithoutCancel(ctx), p)
			return err
		})
		return out, err
	}
	return s.dryRun(ctx, p)
}

func validateRunParams(p *RunParams) error {
	if !p.Mode.Valid() {
		return pkgerrors.Validation("未知的运行模式 " + string(p.Mode))
	}
	if p.SourceYearID == p.TargetYearID {
		return pkgerrors.Validation("源学年与目标学年不能相同", p.SourceYearID)
	}
	seen := make(map[string]bool, len(p.Overrides))
	var dup []string
	for _, o := range p.Overrides {
		if o.Reason == "" {
			return pkgerrors.Validation("人工覆盖必须填写原因", o.StudentID)
		}
		if !model.Decision(o.Decision).Valid() {
			return pkgerrors.Validation("未知的决策 "+o.Decision, o.StudentID)
		}
		if seen[o.StudentID] {
			dup = append(dup, o.StudentID)
		}
		seen[o.StudentID] = true
	}
	if len(dup) > 0 {
		return pkgerrors.Validation("同一学生存在多条人工覆盖", dup...)
	}
	return nil
}

// runState 一次运行在各阶段之间传递的状态
type runState struct {
	run    *model.PromotionRun
	source *model.AcademicYear
	// restore 运行失败或试运行结束时把 promoting 的源学年恢复为 active
	// 提交运行失败总是恢复；试运行仅在本次把源学年从 active 切走时恢复
	restore bool
}

func (st *runState) restoreSource() bool {
	return st.restore && st.source.Status == model.YearStatusPromoting
}

// commitRun 调用方已持有租户锁，ctx 已与请求取消解耦
func (s *promotionService) commitRun(ctx context.Context, p *RunParams) (*RunOutcome, error) {
	st, attached, err := s.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	if attached {
		return &RunOutcome{Run: st.run, Attached: true}, nil
	}

	decisions, err := s.compute(ctx, st, p)
	if err != nil {
		_ = s.fail(ctx, st, err.Error(), p.ActorID)
		return nil, asExecutionError("计算升级决策失败，运行已回滚", err)
	}

	failedIDs, err := s.persist(ctx, st, decisions, p.ActorID)
	if err != nil {
		s.logger.Error("提交升级决策失败",
			zap.String("run_id", st.run.RunID),
			zap.Strings("student_ids", failedIDs),
			zap.Error(err),
		)
		_ = s.fail(ctx, st, err.Error(), p.ActorID)
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return nil, pkgerrors.Conflict("运行状态已被其他操作修改", st.run.RunID)
		}
		return nil, pkgerrors.Execution("提交升级决策失败，运行已回滚", err, failedIDs...)
	}

	s.logger.Info("升级运行已提交",
		zap.String("school_id", p.SchoolID),
		zap.String("run_id", st.run.RunID),
		zap.Int("total_students", st.run.TotalStudents),
	)
	return &RunOutcome{Run: st.run, Decisions: decisions}, nil
}

func (s *promotionService) dryRun(ctx context.Context, p *RunParams) (*RunOutcome, error) {
	var (
		st       *runState
		attached bool
	)
	err := s.guard.run(ctx, p.SchoolID, func() error {
		var err error
		st, attached, err = s.begin(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if attached {
		return &RunOutcome{Run: st.run, Attached: true}, nil
	}

	// 计算期间不持有租户锁
	decisions, computeErr := s.compute(ctx, st, p)

	// 收尾必须完成，不受请求取消影响
	finishCtx := context.WithoutCancel(ctx)
	err = s.guard.runWithRetry(finishCtx, p.SchoolID, 5, func() error {
		if computeErr != nil {
			return s.fail(finishCtx, st, computeErr.Error(), p.ActorID)
		}
		return s.finishDryRun(finishCtx, st, decisions, p.ActorID)
	})
	if computeErr != nil {
		return nil, asExecutionError("计算升级决策失败", computeErr)
	}
	if err != nil {
		return nil, err
	}
	return &RunOutcome{Run: st.run, Decisions: decisions}, nil
}

// begin 校验前置条件；源学年为 active 时置为 promoting，并登记 in_progress 运行
// 返回 attached=true 表示挂接到同一操作人已有的进行中运行
func (s *promotionService) begin(ctx context.Context, p *RunParams) (*runState, bool, error) {
	source, err := s.years.Get(ctx, p.SchoolID, p.SourceYearID)
	if err != nil {
		return nil, false, err
	}
	target, err := s.years.Get(ctx, p.SchoolID, p.TargetYearID)
	if err != nil {
		return nil, false, err
	}
	if target.Status != model.YearStatusDraft {
		return nil, false, pkgerrors.State("目标学年必须为草稿状态", target.YearID)
	}
	if target.PreviousYearID == nil || *target.PreviousYearID != source.YearID {
		return nil, false, pkgerrors.Validation("目标学年不是源学年的下一学年", target.YearID)
	}
	if source.Status != model.YearStatusActive && source.Status != model.YearStatusPromoting {
		return nil, false, pkgerrors.State("源学年状态不允许发起升级", source.YearID)
	}

	inProgress, err := s.repo.PromotionRun.FindInProgress(ctx, source.YearID)
	switch {
	case err == nil:
		if inProgress.StartedBy == p.ActorID && inProgress.TargetYearID == target.YearID && inProgress.Mode == p.Mode {
			return &runState{run: inProgress, source: source}, true, nil
		}
		return nil, false, pkgerrors.Conflict(msgOperationInProgress, inProgress.RunID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, err
	}

	if p.Mode == model.RunModeCommit {
		latest, err := s.repo.PromotionRun.GetLatestCompletedCommit(ctx, source.YearID, target.YearID)
		if err == nil {
			return nil, false, pkgerrors.Conflict("该学年已有完成的提交运行，不可重复提交", latest.RunID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	st := &runState{
		run: &model.PromotionRun{
			RunID:            uuid.NewString(),
			SchoolID:         p.SchoolID,
			SourceYearID:     source.YearID,
			TargetYearID:     target.YearID,
			Mode:             p.Mode,
			Status:           model.RunStatusInProgress,
			StartedBy:        p.ActorID,
			StartedAt:        s.nowFn(),
			CountsByDecision: datatypes.JSONMap{},
		},
		source:  source,
		restore: source.Status == model.YearStatusActive || p.Mode == model.RunModeCommit,
	}

	flip := source.Status == model.YearStatusActive
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if flip {
			if err := s.years.Transition(ctx, tx, source, model.YearStatusPromoting, p.ActorID); err != nil {
				return err
			}
		}
		return tx.PromotionRun.Create(ctx, st.run)
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrDuplicate) {
			return nil, false, pkgerrors.Conflict(msgOperationInProgress, source.YearID)
		}
		return nil, false, err
	}
	return st, false, nil
}

// ────────────────────── 决策计算 ──────────────────────

// compute 在内存中算出全部决策，不写任何数据
func (s *promotionService) compute(ctx context.Context, st *runState, p *RunParams) ([]model.StudentPromotionDecision, error) {
	snap, err := s.rules.Snapshot(ctx, p.SchoolID)
	if err != nil {
		return nil, pkgerrors.Execution("读取升级规则失败", err)
	}

	roster, err := s.directory.ListActiveStudents(ctx, p.SchoolID, st.run.SourceYearID, "", "")
	if err != nil {
		return nil, pkgerrors.Execution("获取学生名册失败", err)
	}
	roster, err = dedupeRoster(roster)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]dto.DecisionOverride, len(p.Overrides))
	for _, o := range p.Overrides {
		overrides[o.StudentID] = o
	}
	inRoster := make(map[string]bool, len(roster))
	for _, r := range roster {
		inRoster[r.StudentID] = true
	}
	var unknown []string
	for _, o := range p.Overrides {
		if !inRoster[o.StudentID] {
			unknown = append(unknown, o.StudentID)
		}
	}
	if len(unknown) > 0 {
		return nil, pkgerrors.Validation("人工覆盖的学生不在源学年名册中", unknown...)
	}

	outcomes, err := s.fetchOutcomes(ctx, p.SchoolID, st.run.SourceYearID, roster, snap, overrides)
	if err != nil {
		return nil, err
	}

	decisions := make([]model.StudentPromotionDecision, 0, len(roster))
	for i, rec := range roster {
		d := model.StudentPromotionDecision{
			DecisionID:  uuid.NewString(),
			RunID:       st.run.RunID,
			SchoolID:    p.SchoolID,
			StudentID:   rec.StudentID,
			FromYearID:  st.run.SourceYearID,
			ToYearID:    st.run.TargetYearID,
			FromClass:   rec.Class,
			FromSection: rec.Section,
			DecidedBy:   p.ActorID,
			DecidedAt:   st.run.StartedAt,
		}
		if o, ok := overrides[rec.StudentID]; ok {
			decision := model.Decision(o.Decision)
			toClass, toSection, err := overrideTarget(snap, rec, decision, o.ToClass, o.ToSection)
			if err != nil {
				return nil, err
			}
			reason := o.Reason
			d.Decision = decision
			d.ToClass = toClass
			d.ToSection = toSection
			d.OverrideReason = &reason
		} else {
			res := snap.Resolve(rec.Class, rec.Section, outcomes[i])
			d.Decision = res.Decision
			d.ToClass = res.ToClass
			d.ToSection = res.ToSection
		}
		decisions = append(decisions, d)
	}

	if len(decisions) != len(roster) {
		return nil, pkgerrors.Execution(fmt.Sprintf("决策数 %d 与名册人数 %d 不一致", len(decisions), len(roster)), nil)
	}
	return decisions, nil
}

// fetchOutcomes 并发查询需要考试结果的学生；无汇总记为 nil
func (s *promotionService) fetchOutcomes(
	ctx context.Context,
	schoolID, yearID string,
	roster []StudentRecord,
	snap *RuleSnapshot,
	overrides map[string]dto.DecisionOverride,
) ([]*ExamOutcome, error) {
	outcomes := make([]*ExamOutcome, len(roster))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ExamFetchConcurrency)
	for i, rec := range roster {
		if _, ok := overrides[rec.StudentID]; ok || !snap.NeedsExamOutcome(rec.Class, rec.Section) {
			continue
		}
		i, rec := i, rec
		g.Go(func() error {
			o, err := s.exams.GetOutcome(gctx, schoolID, yearID, rec.StudentID)
			if err != nil {
				if errors.Is(err, ErrExamSummaryNotFound) {
					return nil
				}
				return pkgerrors.Execution("获取考试汇总失败", err, rec.StudentID)
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// dedupeRoster 去除重复的在读记录并按 年级/班/学号 排序；同一学生记录不一致时报错
func dedupeRoster(roster []StudentRecord) ([]StudentRecord, error) {
	seen := make(map[string]StudentRecord, len(roster))
	out := make([]StudentRecord, 0, len(roster))
	var conflicts []string
	for _, r := range roster {
		if prev, ok := seen[r.StudentID]; ok {
			if prev != r {
				conflicts = append(conflicts, r.StudentID)
			}
			continue
		}
		seen[r.StudentID] = r
		out = append(out, r)
	}
	if len(conflicts) > 0 {
		return nil, pkgerrors.Execution("学生名册中同一学生存在不一致的在读记录", nil, conflicts...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// overrideTarget 人工指定决策时的去向
func overrideTarget(snap *RuleSnapshot, rec StudentRecord, decision model.Decision, toClass, toSection *string) (string, *string, error) {
	switch decision {
	case model.DecisionPromoted:
		if toClass != nil && *toClass != "" {
			return *toClass, clonePtr(toSection), nil
		}
		next, terminal, ok := snap.NextClass(rec.Class)
		if terminal || !ok {
			return "", nil, pkgerrors.Validation("无法推断升级后的年级，请指定 to_class", rec.StudentID)
		}
		return next, clonePtr(toSection), nil
	case model.DecisionRetained:
		section := rec.Section
		if toSection != nil && *toSection != "" {
			section = *toSection
		}
		return rec.Class, &section, nil
	case model.DecisionTransferred:
		if toClass != nil && *toClass != "" {
			return *toClass, clonePtr(toSection), nil
		}
		return rec.Class, nil, nil
	case model.DecisionGraduated, model.DecisionExcluded:
		return rec.Class, nil, nil
	}
	return "", nil, pkgerrors.Validation("未知的决策 "+string(decision), rec.StudentID)
}

// ────────────────────── 持久化与补偿 ──────────────────────

// persist 单事务内分批写入全部决策、翻转运行状态并写审计
// 返回出错批次涉及的学生 ID
func (s *promotionService) persist(ctx context.Context, st *runState, decisions []model.StudentPromotionDecision, actorID string) ([]string, error) {
	now := s.nowFn()
	done := *st.run
	done.Status = model.RunStatusCompleted
	done.CompletedAt = &now
	done.TotalStudents = len(decisions)
	done.CountsByDecision = countDecisions(decisions)

	var failedIDs []string
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		batch := s.cfg.DecisionBatchSize
		for start := 0; start < len(decisions); start += batch {
			chunk := decisions[start:min(start+batch, len(decisions))]
			if err := tx.Decision.BatchCreate(ctx, chunk, len(chunk)); err != nil {
				failedIDs = studentIDsOf(chunk)
				return err
			}
		}
		if err := tx.PromotionRun.Finish(ctx, &done, model.RunStatusInProgress); err != nil {
			return err
		}

		recs := make([]AuditRecord, 0, len(decisions)+1)
		recs = append(recs, AuditRecord{
			SchoolCode: done.SchoolID,
			ActorID:    actorID,
			Action:     model.AuditActionRunCommit,
			EntityType: model.AuditEntityPromotionRun,
			EntityID:   done.RunID,
			Before:     map[string]model.RunStatus{"status": model.RunStatusInProgress},
			After:      &done,
		})
		for i := range decisions {
			recs = append(recs, AuditRecord{
				SchoolCode: done.SchoolID,
				ActorID:    actorID,
				Action:     model.AuditActionDecisionCreate,
				EntityType: model.AuditEntityStudentPromotion,
				EntityID:   decisions[i].StudentID,
				After:      &decisions[i],
			})
		}
		return s.audit.AppendBatch(ctx, tx, recs)
	})
	if err != nil {
		return failedIDs, err
	}
	*st.run = done
	return nil, nil
}

// fail 补偿：删除未提交的决策、运行置为 failed、源学年恢复 active，并写审计
func (s *promotionService) fail(ctx context.Context, st *runState, reason, actorID string) error {
	now := s.nowFn()
	failed := *st.run
	failed.Status = model.RunStatusFailed
	failed.CompletedAt = &now
	failed.TotalStudents = 0
	failed.CountsByDecision = datatypes.JSONMap{}
	failed.FailureReason = &reason

	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		n, err := tx.Decision.DiscardUncommitted(ctx, failed.RunID)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Warn("已清理未提交的决策", zap.String("run_id", failed.RunID), zap.Int64("rows", n))
		}
		if err := tx.PromotionRun.Finish(ctx, &failed, model.RunStatusInProgress); err != nil {
			return err
		}
		if st.restoreSource() {
			if err := s.years.Transition(ctx, tx, st.source, model.YearStatusActive, actorID); err != nil {
				return err
			}
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: failed.SchoolID,
			ActorID:    actorID,
			Action:     model.AuditActionRunFail,
			EntityType: model.AuditEntityPromotionRun,
			EntityID:   failed.RunID,
			Before:     map[string]model.RunStatus{"status": model.RunStatusInProgress},
			After:      &failed,
		})
	})
	if err != nil {
		s.logger.Error("标记运行失败时出错", zap.String("run_id", failed.RunID), zap.Error(err))
		return err
	}
	*st.run = failed
	s.logger.Warn("升级运行失败", zap.String("run_id", failed.RunID), zap.String("reason", reason))
	return nil
}

// finishDryRun 试运行结束：运行置为 completed（不落决策），源学年恢复原状态
func (s *promotionService) finishDryRun(ctx context.Context, st *runState, decisions []model.StudentPromotionDecision, actorID string) error {
	now := s.nowFn()
	done := *st.run
	done.Status = model.RunStatusCompleted
	done.CompletedAt = &now
	done.TotalStudents = len(decisions)
	done.CountsByDecision = countDecisions(decisions)

	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.PromotionRun.Finish(ctx, &done, model.RunStatusInProgress); err != nil {
			return err
		}
		if st.restoreSource() {
			return s.years.Transition(ctx, tx, st.source, model.YearStatusActive, actorID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return pkgerrors.Conflict("试运行已被中止", done.RunID)
		}
		return err
	}
	*st.run = done
	return nil
}

// ────────────────────── 查询 ──────────────────────

func (s *promotionService) getRun(ctx context.Context, schoolID, runID string) (*model.PromotionRun, error) {
	run, err := s.repo.PromotionRun.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("升级运行不存在", runID)
		}
		return nil, err
	}
	if run.SchoolID != schoolID {
		return nil, pkgerrors.NotFound("升级运行不存在", runID)
	}
	return run, nil
}

func (s *promotionService) GetRun(ctx context.Context, schoolID, runID string) (*model.PromotionRun, []model.StudentPromotionDecision, error) {
	run, err := s.getRun(ctx, schoolID, runID)
	if err != nil {
		return nil, nil, err
	}
	decisions, err := s.repo.Decision.ListByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, EffectiveDecisions(decisions), nil
}

func (s *promotionService) ListRuns(ctx context.Context, schoolID, sourceYearID string, offset, limit int) ([]model.PromotionRun, int64, error) {
	return s.repo.PromotionRun.ListBySourceYear(ctx, schoolID, sourceYearID, offset, limit)
}

// ────────────────────── AbortRun ──────────────────────

func (s *promotionService) AbortRun(ctx context.Context, schoolID, runID, actorID string) (*model.PromotionRun, error) {
	run, err := s.getRun(ctx, schoolID, runID)
	if err != nil {
		return nil, err
	}
	source, err := s.years.Get(ctx, schoolID, run.SourceYearID)
	if err != nil {
		return nil, err
	}

	from := run.Status
	switch from {
	case model.RunStatusCompleted:
		if run.Mode == model.RunModeDryRun {
			return nil, pkgerrors.State("试运行没有可回滚的数据", runID)
		}
		if source.Status == model.YearStatusClosing || source.Status == model.YearStatusClosed {
			return nil, pkgerrors.Locked("源学年已关闭，运行不可回滚", source.YearID)
		}
	case model.RunStatusInProgress:
	default:
		return nil, pkgerrors.State("运行已结束，无法回滚", runID)
	}

	// 中止进行中的运行时，若该学年对已有完成的提交运行，promoting 表示等待关闭，不能恢复
	restore := source.Status == model.YearStatusPromoting
	if restore && from == model.RunStatusInProgress {
		waiting, err := s.awaitingClosure(ctx, run)
		if err != nil {
			return nil, err
		}
		restore = !waiting
	}

	now := s.nowFn()
	aborted := *run
	aborted.Status = model.RunStatusRolledBack
	if aborted.CompletedAt == nil {
		aborted.CompletedAt = &now
	}

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if from == model.RunStatusInProgress {
			if _, err := tx.Decision.DiscardUncommitted(ctx, runID); err != nil {
				return err
			}
		}
		if err := tx.PromotionRun.Finish(ctx, &aborted, from); err != nil {
			return err
		}
		if restore {
			if err := s.years.Transition(ctx, tx, source, model.YearStatusActive, actorID); err != nil {
				return err
			}
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: schoolID,
			ActorID:    actorID,
			Action:     model.AuditActionRunAbort,
			EntityType: model.AuditEntityPromotionRun,
			EntityID:   runID,
			Before:     run,
			After:      &aborted,
		})
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return nil, pkgerrors.Conflict("运行状态已被其他操作修改", runID)
		}
		s.logger.Error("回滚升级运行失败", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("升级运行已回滚",
		zap.String("school_id", schoolID),
		zap.String("run_id", runID),
		zap.String("from", string(from)),
	)
	return &aborted, nil
}

// ────────────────────── CorrectDecision ──────────────────────

func (s *promotionService) CorrectDecision(ctx context.Context, schoolID, decisionID string, req *dto.CorrectDecisionRequest, actorID string) (*model.StudentPromotionDecision, error) {
	if req.Reason == "" {
		return nil, pkgerrors.Validation("更正决策必须填写原因", decisionID)
	}
	decision := model.Decision(req.Decision)
	if !decision.Valid() {
		return nil, pkgerrors.Validation("未知的决策 "+req.Decision, decisionID)
	}

	orig, err := s.repo.Decision.GetByID(ctx, decisionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("决策不存在", decisionID)
		}
		return nil, err
	}
	if orig.SchoolID != schoolID {
		return nil, pkgerrors.NotFound("决策不存在", decisionID)
	}

	run, err := s.getRun(ctx, schoolID, orig.RunID)
	if err != nil {
		return nil, err
	}
	if run.Mode != model.RunModeCommit || run.Status != model.RunStatusCompleted {
		return nil, pkgerrors.State("只能更正已完成提交运行中的决策", run.RunID)
	}
	if err := s.years.EnsureWritable(ctx, schoolID, orig.FromYearID); err != nil {
		return nil, err
	}
	superseded, err := s.repo.Decision.IsSuperseded(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if superseded {
		return nil, pkgerrors.Validation("该决策已被更正，请更正最新的决策", decisionID)
	}

	snap, err := s.rules.Snapshot(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	rec := StudentRecord{StudentID: orig.StudentID, Class: orig.FromClass, Section: orig.FromSection}
	toClass, toSection, err := overrideTarget(snap, rec, decision, req.ToClass, req.ToSection)
	if err != nil {
		return nil, err
	}

	reason := req.Reason
	supersedes := orig.DecisionID
	corrected := &model.StudentPromotionDecision{
		DecisionID:     uuid.NewString(),
		RunID:          orig.RunID,
		SchoolID:       schoolID,
		StudentID:      orig.StudentID,
		FromYearID:     orig.FromYearID,
		ToYearID:       orig.ToYearID,
		FromClass:      orig.FromClass,
		FromSection:    orig.FromSection,
		ToClass:        toClass,
		ToSection:      toSection,
		Decision:       decision,
		DecidedBy:      actorID,
		DecidedAt:      s.nowFn(),
		OverrideReason: &reason,
		SupersedesID:   &supersedes,
	}

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.Decision.Create(ctx, corrected); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: schoolID,
			ActorID:    actorID,
			Action:     model.AuditActionDecisionCorrect,
			EntityType: model.AuditEntityStudentPromotion,
			EntityID:   orig.StudentID,
			Before:     orig,
			After:      corrected,
		})
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrDuplicate) {
			return nil, pkgerrors.Validation("该决策已被更正，请更正最新的决策", decisionID)
		}
		s.logger.Error("更正决策失败", zap.String("decision_id", decisionID), zap.Error(err))
		return nil, err
	}
	return corrected, nil
}

// ────────────────────── FailStale ──────────────────────

// FailStale 将进程崩溃遗留的 in_progress 运行标记为失败
func (s *promotionService) FailStale(ctx context.Context, run *model.PromotionRun) error {
	source, err := s.years.Get(ctx, run.SchoolID, run.SourceYearID)
	if err != nil {
		return err
	}
	restore := false
	if source.Status == model.YearStatusPromoting {
		waiting, err := s.awaitingClosure(ctx, run)
		if err != nil {
			return err
		}
		restore = !waiting
	}
	st := &runState{run: run, source: source, restore: restore}
	return s.fail(ctx, st, "运行超时未完成，已由系统标记失败", SystemActorID)
}

// awaitingClosure (源, 目标) 已有完成的提交运行，源学年的 promoting 属于等待关闭
func (s *promotionService) awaitingClosure(ctx context.Context, run *model.PromotionRun) (bool, error) {
	_, err := s.repo.PromotionRun.GetLatestCompletedCommit(ctx, run.SourceYearID, run.TargetYearID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ────────────────────── 辅助函数 ──────────────────────

func countDecisions(decisions []model.StudentPromotionDecision) datatypes.JSONMap {
	counts := datatypes.JSONMap{}
	for _, d := range model.AllDecisions {
		counts[string(d)] = 0
	}
	for i := range decisions {
		counts[string(decisions[i].Decision)] = counts[string(decisions[i].Decision)].(int) + 1
	}
	return counts
}

// DecisionCounts 将 counts_by_decision 转为整数映射（jsonb 读回的数值为 float64）
func DecisionCounts(m datatypes.JSONMap) map[string]int {
	out := make(map[string]int, len(model.AllDecisions))
	for _, d := range model.AllDecisions {
		out[string(d)] = 0
	}
	for k, v := range m {
		switch n := v.(type) {
		case int:
			out[k] = n
		case int64:
			out[k] = int(n)
		case float64:
			out[k] = int(n)
		case json.Number:
			i, _ := n.Int64()
			out[k] = int(i)
		}
	}
	return out
}

// EffectiveDecisions 每个学生只保留更正链的末端（未被任何行 supersede 的决策），保持原有顺序
func EffectiveDecisions(decisions []model.StudentPromotionDecision) []model.StudentPromotionDecision {
	superseded := make(map[string]bool)
	for i := range decisions {
		if decisions[i].SupersedesID != nil {
			superseded[*decisions[i].SupersedesID] = true
		}
	}
	out := make([]model.StudentPromotionDecision, 0, len(decisions))
	for i := range decisions {
		if !superseded[decisions[i].DecisionID] {
			out = append(out, decisions[i])
		}
	}
	return out
}

func studentIDsOf(decisions []model.StudentPromotionDecision) []string {
	ids := make([]string, 0, len(decisions))
	for i := range decisions {
		ids = append(ids, decisions[i].StudentID)
	}
	return ids
}

// asExecutionError 已分类的错误原样返回，其余包装为 ExecutionError
func asExecutionError(msg string, err error) error {
	if _, ok := pkgerrors.KindOf(err); ok {
		return err
	}
	return pkgerrors.Execution(msg, err)
}
