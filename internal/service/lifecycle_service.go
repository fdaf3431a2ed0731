package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/config"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// LifecycleService 学年生命周期对外入口
// 负责权限校验、租户锁与 DTO 转换；业务规则在各子服务内
type LifecycleService interface {
	// ── 学年 ──
	CreateYear(ctx context.Context, schoolID, actorID string, req *dto.CreateAcademicYearRequest) (*dto.AcademicYearResponse, error)
	ActivateYear(ctx context.Context, schoolID, yearID, actorID string) (*dto.AcademicYearResponse, error)
	CloseYear(ctx context.Context, schoolID, sourceYearID, actorID string, req *dto.CloseYearRequest) (*dto.CloseYearResponse, error)
	GetYear(ctx context.Context, schoolID, yearID string) (*dto.AcademicYearResponse, error)
	ListYears(ctx context.Context, schoolID string) ([]dto.AcademicYearResponse, error)
	GetActiveYear(ctx context.Context, schoolID string) (*dto.AcademicYearResponse, error)

	// ── 升级规则 ──
	ListRules(ctx context.Context, schoolID string) ([]dto.PromotionRuleResponse, error)
	UpsertRule(ctx context.Context, schoolID, actorID string, req *dto.UpsertPromotionRuleRequest) (*dto.PromotionRuleResponse, error)
	DeleteRule(ctx context.Context, schoolID, ruleID, actorID string) error
	GetClassLadder(ctx context.Context, schoolID string) (*dto.ClassLadderResponse, error)
	SaveClassLadder(ctx context.Context, schoolID, actorID string, req *dto.SaveClassLadderRequest) (*dto.ClassLadderResponse, error)

	// ── 升级运行 ──
	StartPromotionRun(ctx context.Context, schoolID, actorID string, req *dto.StartPromotionRunRequest) (*dto.PromotionRunDetailResponse, error)
	GetRun(ctx context.Context, schoolID, runID string) (*dto.PromotionRunDetailResponse, error)
	ListRuns(ctx context.Context, schoolID string, q *dto.ListRunsQuery) ([]dto.PromotionRunResponse, int64, error)
	AbortRun(ctx context.Context, schoolID, runID, actorID string) (*dto.PromotionRunResponse, error)
	CorrectDecision(ctx context.Context, schoolID, decisionID, actorID string, req *dto.CorrectDecisionRequest) (*dto.DecisionResponse, error)

	// ── 审计 ──
	AuditLog(ctx context.Context, schoolID, actorID string, q *dto.AuditLogQuery) ([]dto.AuditLogResponse, int64, error)

	// SweepStaleRuns 将超时的 in_progress 运行标记为失败，返回处理的运行数
	SweepStaleRuns(ctx context.Context) (int, error)
}

type lifecycleService struct {
	years      AcademicYearService
	rules      PromotionRuleService
	promotion  PromotionService
	closure    YearClosureService
	audit      AuditService
	authorizer Authorizer
	guard      *tenantGuard
	repo       *repository.Repository
	staleAfter time.Duration
	nowFn      func() time.Time
	logger     *zap.Logger
}

// NewLifecycleService 创建 LifecycleService 实例
func NewLifecycleService(
	cfg *config.LifecycleConfig,
	repo *repository.Repository,
	years AcademicYearService,
	rules PromotionRuleService,
	promotion PromotionService,
	closure YearClosureService,
	audit AuditService,
	authorizer Authorizer,
	locker TenantLocker,
	logger *zap.Logger,
) LifecycleService {
	return &lifecycleService{
		years:      years,
		rules:      rules,
		promotion:  promotion,
		closure:    closure,
		audit:      audit,
		authorizer: authorizer,
		guard:      newTenantGuard(locker, cfg.LockTTL, logger),
		repo:       repo,
		staleAfter: cfg.StaleRunAfter,
		nowFn:      time.Now,
		logger:     logger,
	}
}

// ────────────────────── 学年 ──────────────────────

func (s *lifecycleService) CreateYear(ctx context.Context, schoolID, actorID string, req *dto.CreateAcademicYearRequest) (*dto.AcademicYearResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionYearCreate); err != nil {
		return nil, err
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return nil, pkgerrors.Validation("start_date 日期格式无效")
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return nil, pkgerrors.Validation("end_date 日期格式无效")
	}

	var year *model.AcademicYear
	err = s.guard.run(ctx, schoolID, func() error {
		var err error
		year, err = s.years.CreateDraft(ctx, schoolID, req.YearLabel, start, end, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := toYearResponse(year)
	return &resp, nil
}

func (s *lifecycleService) ActivateYear(ctx context.Context, schoolID, yearID, actorID string) (*dto.AcademicYearResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionYearActivate); err != nil {
		return nil, err
	}
	var year *model.AcademicYear
	err := s.guard.run(ctx, schoolID, func() error {
		var err error
		year, err = s.years.Activate(ctx, schoolID, yearID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := toYearResponse(year)
	return &resp, nil
}

func (s *lifecycleService) CloseYear(ctx context.Context, schoolID, sourceYearID, actorID string, req *dto.CloseYearRequest) (*dto.CloseYearResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionYearClose); err != nil {
		return nil, err
	}
	var result *ClosureResult
	err := s.guard.run(ctx, schoolID, func() error {
		var err error
		result, err = s.closure.CloseYear(ctx, schoolID, sourceYearID, req.TargetYearID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &dto.CloseYearResponse{
		ClosedYear: toYearResponse(result.Closed),
		ActiveYear: toYearResponse(result.Activated),
		RunID:      result.RunID,
	}, nil
}

func (s *lifecycleService) GetYear(ctx context.Context, schoolID, yearID string) (*dto.AcademicYearResponse, error) {
	year, err := s.years.Get(ctx, schoolID, yearID)
	if err != nil {
		return nil, err
	}
	resp := toYearResponse(year)
	return &resp, nil
}

func (s *lifecycleService) ListYears(ctx context.Context, schoolID string) ([]dto.AcademicYearResponse, error) {
	years, err := s.years.List(ctx, schoolID)
	if err != nil {
		s.logger.Error("查询学年列表失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, err
	}
	list := make([]dto.AcademicYearResponse, 0, len(years))
	for i := range years {
		list = append(list, toYearResponse(&years[i]))
	}
	return list, nil
}

func (s *lifecycleService) GetActiveYear(ctx context.Context, schoolID string) (*dto.AcademicYearResponse, error) {
	year, err := s.years.GetActive(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	resp := toYearResponse(year)
	return &resp, nil
}

// ────────────────────── 升级规则 ──────────────────────

func (s *lifecycleService) ListRules(ctx context.Context, schoolID string) ([]dto.PromotionRuleResponse, error) {
	rules, err := s.rules.List(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	list := make([]dto.PromotionRuleResponse, 0, len(rules))
	for i := range rules {
		list = append(list, toRuleResponse(&rules[i]))
	}
	return list, nil
}

func (s *lifecycleService) UpsertRule(ctx context.Context, schoolID, actorID string, req *dto.UpsertPromotionRuleRequest) (*dto.PromotionRuleResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionRuleWrite); err != nil {
		return nil, err
	}
	var rule *model.PromotionRule
	err := s.guard.run(ctx, schoolID, func() error {
		var err error
		rule, err = s.rules.Upsert(ctx, schoolID, req, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := toRuleResponse(rule)
	return &resp, nil
}

func (s *lifecycleService) DeleteRule(ctx context.Context, schoolID, ruleID, actorID string) error {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionRuleWrite); err != nil {
		return err
	}
	return s.guard.run(ctx, schoolID, func() error {
		return s.rules.Delete(ctx, schoolID, ruleID, actorID)
	})
}

func (s *lifecycleService) GetClassLadder(ctx context.Context, schoolID string) (*dto.ClassLadderResponse, error) {
	profile, err := s.rules.GetLadder(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	return toLadderResponse(profile), nil
}

func (s *lifecycleService) SaveClassLadder(ctx context.Context, schoolID, actorID string, req *dto.SaveClassLadderRequest) (*dto.ClassLadderResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionRuleWrite); err != nil {
		return nil, err
	}
	var profile *model.SchoolProfile
	err := s.guard.run(ctx, schoolID, func() error {
		var err error
		profile, err = s.rules.SaveLadder(ctx, schoolID, req, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toLadderResponse(profile), nil
}

// ────────────────────── 升级运行 ──────────────────────

func (s *lifecycleService) StartPromotionRun(ctx context.Context, schoolID, actorID string, req *dto.StartPromotionRunRequest) (*dto.PromotionRunDetailResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionRunStart); err != nil {
		return nil, err
	}
	// 租户锁由引擎按模式自行获取
	out, err := s.promotion.StartRun(ctx, &RunParams{
		SchoolID:     schoolID,
		SourceYearID: req.SourceYearID,
		TargetYearID: req.TargetYearID,
		Mode:         model.RunMode(req.Mode),
		Overrides:    req.Overrides,
		ActorID:      actorID,
	})
	if err != nil {
		return nil, err
	}
	resp := toRunDetailResponse(out.Run, out.Decisions)
	resp.Attached = out.Attached
	return resp, nil
}

func (s *lifecycleService) GetRun(ctx context.Context, schoolID, runID string) (*dto.PromotionRunDetailResponse, error) {
	run, decisions, err := s.promotion.GetRun(ctx, schoolID, runID)
	if err != nil {
		return nil, err
	}
	return toRunDetailResponse(run, decisions), nil
}

func (s *lifecycleService) ListRuns(ctx context.Context, schoolID string, q *dto.ListRunsQuery) ([]dto.PromotionRunResponse, int64, error) {
	runs, total, err := s.promotion.ListRuns(ctx, schoolID, q.SourceYearID, q.GetOffset(), q.GetLimit())
	if err != nil {
		s.logger.Error("查询升级运行列表失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, 0, err
	}
	list := make([]dto.PromotionRunResponse, 0, len(runs))
	for i := range runs {
		list = append(list, toRunResponse(&runs[i]))
	}
	return list, total, nil
}

func (s *lifecycleService) AbortRun(ctx context.Context, schoolID, runID, actorID string) (*dto.PromotionRunResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionRunAbort); err != nil {
		return nil, err
	}
	var run *model.PromotionRun
	err := s.guard.run(ctx, schoolID, func() error {
		var err error
		run, err = s.promotion.AbortRun(ctx, schoolID, runID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := toRunResponse(run)
	return &resp, nil
}

func (s *lifecycleService) CorrectDecision(ctx context.Context, schoolID, decisionID, actorID string, req *dto.CorrectDecisionRequest) (*dto.DecisionResponse, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionDecisionCorrect); err != nil {
		return nil, err
	}
	var decision *model.StudentPromotionDecision
	err := s.guard.run(ctx, schoolID, func() error {
		var err error
		decision, err = s.promotion.CorrectDecision(ctx, schoolID, decisionID, req, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := toDecisionResponse(decision)
	return &resp, nil
}

// ────────────────────── 审计 ──────────────────────

func (s *lifecycleService) AuditLog(ctx context.Context, schoolID, actorID string, q *dto.AuditLogQuery) ([]dto.AuditLogResponse, int64, error) {
	if err := s.authorizer.Authorize(ctx, schoolID, actorID, ActionAuditLogRead); err != nil {
		return nil, 0, err
	}
	return s.audit.Query(ctx, schoolID, q)
}

// ────────────────────── 失效运行清理 ──────────────────────

func (s *lifecycleService) SweepStaleRuns(ctx context.Context) (int, error) {
	runs, err := s.repo.PromotionRun.ListStale(ctx, s.nowFn().Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("查询失效运行失败", zap.Error(err))
		return 0, err
	}

	swept := 0
	for i := range runs {
		run := &runs[i]
		err := s.guard.run(ctx, run.SchoolID, func() error {
			return s.promotion.FailStale(ctx, run)
		})
		switch {
		case err == nil:
			swept++
		case errors.Is(err, pkgerrors.ErrConflict):
			// 学校正在执行其他操作，下一轮再处理
			s.logger.Debug("租户锁被占用，跳过失效运行", zap.String("run_id", run.RunID))
		default:
			s.logger.Error("清理失效运行失败", zap.String("run_id", run.RunID), zap.Error(err))
		}
	}
	if swept > 0 {
		s.logger.Info("已清理失效运行", zap.Int("count", swept))
	}
	return swept, nil
}

// ── DTO 转换 ──

func toYearResponse(y *model.AcademicYear) dto.AcademicYearResponse {
	return dto.AcademicYearResponse{
		YearID:         y.YearID,
		SchoolID:       y.SchoolID,
		YearLabel:      y.YearLabel,
		Status:         string(y.Status),
		StartDate:      y.StartDate.Format(dateLayout),
		EndDate:        y.EndDate.Format(dateLayout),
		PreviousYearID: y.PreviousYearID,
		Version:        y.Version,
		CreatedAt:      y.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      y.UpdatedAt.Format(time.RFC3339),
	}
}

func toRuleResponse(r *model.PromotionRule) dto.PromotionRuleResponse {
	return dto.PromotionRuleResponse{
		RuleID:      r.RuleID,
		FromClass:   r.FromClass,
		FromSection: r.FromSection,
		ToClass:     r.ToClass,
		ToSection:   r.ToSection,
		Criteria:    string(r.Criteria),
		Version:     r.Version,
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}

func toLadderResponse(p *model.SchoolProfile) *dto.ClassLadderResponse {
	ladder := []string(p.ClassLadder)
	if ladder == nil {
		ladder = []string{}
	}
	return &dto.ClassLadderResponse{
		SchoolID:      p.SchoolID,
		ClassLadder:   ladder,
		TerminalClass: p.TerminalClass,
	}
}

func toRunResponse(r *model.PromotionRun) dto.PromotionRunResponse {
	resp := dto.PromotionRunResponse{
		RunID:            r.RunID,
		SchoolID:         r.SchoolID,
		SourceYearID:     r.SourceYearID,
		TargetYearID:     r.TargetYearID,
		Mode:             string(r.Mode),
		Status:           string(r.Status),
		StartedBy:        r.StartedBy,
		StartedAt:        r.StartedAt.Format(time.RFC3339),
		TotalStudents:    r.TotalStudents,
		CountsByDecision: DecisionCounts(r.CountsByDecision),
		FailureReason:    r.FailureReason,
	}
	if r.CompletedAt != nil {
		completed := r.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &completed
	}
	return resp
}

func toDecisionResponse(d *model.StudentPromotionDecision) dto.DecisionResponse {
	return dto.DecisionResponse{
		DecisionID:     d.DecisionID,
		RunID:          d.RunID,
		StudentID:      d.StudentID,
		FromYearID:     d.FromYearID,
		ToYearID:       d.ToYearID,
		FromClass:      d.FromClass,
		FromSection:    d.FromSection,
		ToClass:        d.ToClass,
		ToSection:      d.ToSection,
		Decision:       string(d.Decision),
		DecidedBy:      d.DecidedBy,
		DecidedAt:      d.DecidedAt.Format(time.RFC3339),
		OverrideReason: d.OverrideReason,
		SupersedesID:   d.SupersedesID,
	}
}

func toRunDetailResponse(run *model.PromotionRun, decisions []model.StudentPromotionDecision) *dto.PromotionRunDetailResponse {
	list := make([]dto.DecisionResponse, 0, len(decisions))
	for i := range decisions {
		list = append(list, toDecisionResponse(&decisions[i]))
	}
	return &dto.PromotionRunDetailResponse{
		PromotionRunResponse: toRunResponse(run),
		Decisions:            list,
	}
}
