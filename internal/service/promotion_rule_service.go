package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// PromotionRuleService 升级规则集
type PromotionRuleService interface {
	List(ctx context.Context, schoolID string) ([]model.PromotionRule, error)
	Upsert(ctx context.Context, schoolID string, req *dto.UpsertPromotionRuleRequest, actorID string) (*model.PromotionRule, error)
	Delete(ctx context.Context, schoolID, ruleID, actorID string) error

	GetLadder(ctx context.Context, schoolID string) (*model.SchoolProfile, error)
	SaveLadder(ctx context.Context, schoolID string, req *dto.SaveClassLadderRequest, actorID string) (*model.SchoolProfile, error)

	// Snapshot 复制当前规则与年级序列，运行期间规则变更不影响已开始的运行
	Snapshot(ctx context.Context, schoolID string) (*RuleSnapshot, error)
}

type promotionRuleService struct {
	repo                 *repository.Repository
	audit                AuditService
	defaultTerminalClass string
	logger               *zap.Logger
}

// NewPromotionRuleService 创建 PromotionRuleService 实例
func NewPromotionRuleService(repo *repository.Repository, audit AuditService, defaultTerminalClass string, logger *zap.Logger) PromotionRuleService {
	return &promotionRuleService{
		repo:                 repo,
		audit:                audit,
		defaultTerminalClass: defaultTerminalClass,
		logger:               logger,
	}
}

func (s *promotionRuleService) List(ctx context.Context, schoolID string) ([]model.PromotionRule, error) {
	return s.repo.PromotionRule.ListBySchool(ctx, schoolID)
}

func (s *promotionRuleService) Upsert(ctx context.Context, schoolID string, req *dto.UpsertPromotionRuleRequest, actorID string) (*model.PromotionRule, error) {
	criteria := model.Criteria(req.Criteria)
	if !criteria.Valid() {
		return nil, pkgerrors.Validation("未知的升级口径 " + req.Criteria)
	}
	fromSection := normalizeSection(req.FromSection)

	rules, err := s.repo.PromotionRule.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	var existing *model.PromotionRule
	for i := range rules {
		if rules[i].FromClass == req.FromClass && sameSection(rules[i].FromSection, fromSection) {
			existing = &rules[i]
			break
		}
	}

	var before interface{}
	rule := &model.PromotionRule{}
	if existing != nil {
		snapshot := *existing
		before = snapshot
		rule = existing
	} else {
		rule.RuleID = uuid.NewString()
		rule.SchoolID = schoolID
		rule.FromClass = req.FromClass
		rule.FromSection = fromSection
		rule.Version = 1
		rule.CreatedBy = &actorID
	}
	rule.ToClass = req.ToClass
	rule.ToSection = req.ToSection
	rule.Criteria = criteria
	rule.UpdatedBy = &actorID

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if existing != nil {
			if err := tx.PromotionRule.Update(ctx, rule); err != nil {
				return err
			}
		} else if err := tx.PromotionRule.Create(ctx, rule); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: schoolID,
			ActorID:    actorID,
			Action:     model.AuditActionRuleUpsert,
			EntityType: model.AuditEntityPromotionRule,
			EntityID:   rule.RuleID,
			Before:     before,
			After:      rule,
		})
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) || errors.Is(err, pkgerrors.ErrDuplicate) {
			return nil, pkgerrors.Conflict("升级规则已被其他操作修改", rule.RuleID)
		}
		s.logger.Error("保存升级规则失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, err
	}
	return rule, nil
}

func (s *promotionRuleService) Delete(ctx context.Context, schoolID, ruleID, actorID string) error {
	rule, err := s.repo.PromotionRule.GetByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.NotFound("升级规则不存在", ruleID)
		}
		return err
	}
	if rule.SchoolID != schoolID {
		return pkgerrors.NotFound("升级规则不存在", ruleID)
	}

	return s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.PromotionRule.Delete(ctx, ruleID, actorID); err != nil {
			s.logger.Error("删除升级规则失败", zap.String("rule_id", ruleID), zap.Error(err))
			return err
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: schoolID,
			ActorID:    actorID,
			Action:     model.AuditActionRuleDelete,
			EntityType: model.AuditEntityPromotionRule,
			EntityID:   ruleID,
			Before:     rule,
			After:      map[string]string{"deleted_by": actorID},
		})
	})
}

func (s *promotionRuleService) GetLadder(ctx context.Context, schoolID string) (*model.SchoolProfile, error) {
	profile, err := s.repo.PromotionRule.GetProfile(ctx, schoolID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.SchoolProfile{SchoolID: schoolID}, nil
		}
		return nil, err
	}
	return profile, nil
}

func (s *promotionRuleService) SaveLadder(ctx context.Context, schoolID string, req *dto.SaveClassLadderRequest, actorID string) (*model.SchoolProfile, error) {
	seen := make(map[string]bool, len(req.ClassLadder))
	for _, c := range req.ClassLadder {
		if seen[c] {
			return nil, pkgerrors.Validation("年级序列中存在重复年级", c)
		}
		seen[c] = true
	}
	if req.TerminalClass != nil && len(req.ClassLadder) > 0 && !seen[*req.TerminalClass] {
		return nil, pkgerrors.Validation("毕业年级不在年级序列中", *req.TerminalClass)
	}

	before, err := s.GetLadder(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	profile := &model.SchoolProfile{
		SchoolID:      schoolID,
		ClassLadder:   req.ClassLadder,
		TerminalClass: req.TerminalClass,
	}
	profile.CreatedBy = &actorID
	profile.UpdatedBy = &actorID

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.PromotionRule.SaveProfile(ctx, profile); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditRecord{
			SchoolCode: schoolID,
			ActorID:    actorID,
			Action:     model.AuditActionLadderSave,
			EntityType: model.AuditEntitySchoolProfile,
			EntityID:   schoolID,
			Before:     before,
			After:      profile,
		})
	})
	if err != nil {
		s.logger.Error("保存年级序列失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, err
	}
	return profile, nil
}

func (s *promotionRuleService) Snapshot(ctx context.Context, schoolID string) (*RuleSnapshot, error) {
	rules, err := s.repo.PromotionRule.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	profile, err := s.GetLadder(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	terminal := s.defaultTerminalClass
	if profile.TerminalClass != nil && *profile.TerminalClass != "" {
		terminal = *profile.TerminalClass
	}
	return NewRuleSnapshot(rules, profile.ClassLadder, terminal), nil
}

// ── 规则快照与解析 ──

// Resolution 单个学生的规则解析结果
type Resolution struct {
	ToClass   string
	ToSection *string
	Decision  model.Decision
	Criteria  model.Criteria
	RuleID    *string // 命中的规则；nil 表示学校默认规则
}

// RuleSnapshot 运行开始时复制的规则集（只读）
type RuleSnapshot struct {
	exact    map[[2]string]model.PromotionRule // (from_class, from_section)
	byClass  map[string]model.PromotionRule    // (from_class, *)
	ladder   []string
	terminal string
}

// NewRuleSnapshot 深拷贝规则与年级序列
func NewRuleSnapshot(rules []model.PromotionRule, ladder []string, terminal string) *RuleSnapshot {
	snap := &RuleSnapshot{
		exact:    make(map[[2]string]model.PromotionRule),
		byClass:  make(map[string]model.PromotionRule),
		ladder:   append([]string(nil), ladder...),
		terminal: terminal,
	}
	for _, r := range rules {
		r.ToClass = clonePtr(r.ToClass)
		r.ToSection = clonePtr(r.ToSection)
		r.FromSection = clonePtr(r.FromSection)
		if r.FromSection == nil {
			snap.byClass[r.FromClass] = r
		} else {
			snap.exact[[2]string{r.FromClass, *r.FromSection}] = r
		}
	}
	return snap
}

// rule 查找顺序：精确 (年级, 班) → (年级, *) → nil（学校默认 promote_all）
func (s *RuleSnapshot) rule(fromClass, fromSection string) *model.PromotionRule {
	if r, ok := s.exact[[2]string{fromClass, fromSection}]; ok {
		return &r
	}
	if r, ok := s.byClass[fromClass]; ok {
		return &r
	}
	return nil
}

// NeedsExamOutcome 该班级的解析是否依赖考试汇总
func (s *RuleSnapshot) NeedsExamOutcome(fromClass, fromSection string) bool {
	r := s.rule(fromClass, fromSection)
	return r != nil && r.Criteria == model.CriteriaRequirePass
}

// NextClass 年级序列中的下一年级
// 返回 terminal=true 表示 fromClass 为毕业年级；ok=false 表示无法推断
func (s *RuleSnapshot) NextClass(fromClass string) (next string, terminal bool, ok bool) {
	if len(s.ladder) > 0 {
		for i, c := range s.ladder {
			if c != fromClass {
				continue
			}
			if c == s.terminal || i == len(s.ladder)-1 {
				return "", true, true
			}
			return s.ladder[i+1], false, true
		}
	}
	if fromClass == s.terminal {
		return "", true, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(fromClass))
	if err != nil {
		return "", false, false
	}
	return strconv.Itoa(n + 1), false, true
}

// Resolve 解析单个学生的决策；outcome 为 nil 表示没有考试汇总
func (s *RuleSnapshot) Resolve(fromClass, fromSection string, outcome *ExamOutcome) Resolution {
	r := s.rule(fromClass, fromSection)
	res := Resolution{Criteria: model.CriteriaPromoteAll}
	if r != nil {
		res.Criteria = r.Criteria
		id := r.RuleID
		res.RuleID = &id
	}

	switch res.Criteria {
	case model.CriteriaManualReview:
		res.ToClass = fromClass
		res.Decision = model.DecisionExcluded
		return res
	case model.CriteriaRequirePass:
		if outcome == nil {
			// 没有考试汇总不自动判定，留待人工复核
			res.ToClass = fromClass
			res.Decision = model.DecisionExcluded
			return res
		}
		if !outcome.Passed {
			section := fromSection
			res.ToClass = fromClass
			res.ToSection = &section
			res.Decision = model.DecisionRetained
			return res
		}
	}

	// promote_all 或 require_pass 且通过
	if r != nil && r.ToClass != nil && *r.ToClass != "" {
		res.ToClass = *r.ToClass
		res.ToSection = clonePtr(r.ToSection)
		res.Decision = model.DecisionPromoted
		return res
	}
	next, terminal, ok := s.NextClass(fromClass)
	switch {
	case terminal:
		res.ToClass = fromClass
		res.Decision = model.DecisionGraduated
	case ok:
		res.ToClass = next
		if r != nil {
			res.ToSection = clonePtr(r.ToSection)
		}
		res.Decision = model.DecisionPromoted
	default:
		res.ToClass = fromClass
		res.Decision = model.DecisionExcluded
	}
	return res
}

func normalizeSection(section *string) *string {
	if section == nil {
		return nil
	}
	v := strings.TrimSpace(*section)
	if v == "" || v == "*" {
		return nil
	}
	return &v
}

func sameSection(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
