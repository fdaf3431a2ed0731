package dto

// ── 升级规则 DTO ──

// UpsertPromotionRuleRequest 新增或更新升级规则（按 from_class + from_section 定位）
type UpsertPromotionRuleRequest struct {
	FromClass   string  `json:"from_class"   binding:"required,max=20"`
	FromSection *string `json:"from_section" binding:"omitempty,max=20"`
	ToClass     *string `json:"to_class"     binding:"omitempty,max=20"`
	ToSection   *string `json:"to_section"   binding:"omitempty,max=20"`
	Criteria    string  `json:"criteria"     binding:"required,oneof=promote_all require_pass manual_review"`
}

// PromotionRuleResponse 升级规则响应
type PromotionRuleResponse struct {
	RuleID      string  `json:"rule_id"`
	FromClass   string  `json:"from_class"`
	FromSection *string `json:"from_section,omitempty"`
	ToClass     *string `json:"to_class,omitempty"`
	ToSection   *string `json:"to_section,omitempty"`
	Criteria    string  `json:"criteria"`
	Version     int     `json:"version"`
	UpdatedAt   string  `json:"updated_at"`
}

// SaveClassLadderRequest 保存学校年级序列
type SaveClassLadderRequest struct {
	ClassLadder   []string `json:"class_ladder"   binding:"omitempty,dive,required,max=20"`
	TerminalClass *string  `json:"terminal_class" binding:"omitempty,max=20"`
}

// ClassLadderResponse 学校年级序列响应
type ClassLadderResponse struct {
	SchoolID      string   `json:"school_id"`
	ClassLadder   []string `json:"class_ladder"`
	TerminalClass *string  `json:"terminal_class,omitempty"`
}

// ── 升级运行 DTO ──

// DecisionOverride 人工指定的单个学生决策（优先于规则）
type DecisionOverride struct {
	StudentID string  `json:"student_id" binding:"required,max=64"`
	Decision  string  `json:"decision"   binding:"required,oneof=promoted retained transferred graduated excluded"`
	ToClass   *string `json:"to_class"   binding:"omitempty,max=20"`
	ToSection *string `json:"to_section" binding:"omitempty,max=20"`
	Reason    string  `json:"reason"     binding:"required,max=500"`
}

// StartPromotionRunRequest 发起升级运行请求
type StartPromotionRunRequest struct {
	SourceYearID string             `json:"source_year_id" binding:"required,uuid"`
	TargetYearID string             `json:"target_year_id" binding:"required,uuid"`
	Mode         string             `json:"mode"           binding:"required,oneof=dry_run commit"`
	Overrides    []DecisionOverride `json:"overrides"      binding:"omitempty,dive"`
}

// ListRunsQuery 升级运行列表查询
type ListRunsQuery struct {
	SourceYearID string `form:"source_year_id" binding:"omitempty,uuid"`
	OffsetPagination
}

// CorrectDecisionRequest 更正已提交的决策（追加新行，不修改原决策）
type CorrectDecisionRequest struct {
	Decision  string  `json:"decision"   binding:"required,oneof=promoted retained transferred graduated excluded"`
	ToClass   *string `json:"to_class"   binding:"omitempty,max=20"`
	ToSection *string `json:"to_section" binding:"omitempty,max=20"`
	Reason    string  `json:"reason"     binding:"required,max=500"`
}

// PromotionRunResponse 升级运行响应
type PromotionRunResponse struct {
	RunID            string         `json:"run_id"`
	SchoolID         string         `json:"school_id"`
	SourceYearID     string         `json:"source_year_id"`
	TargetYearID     string         `json:"target_year_id"`
	Mode             string         `json:"mode"`
	Status           string         `json:"status"`
	StartedBy        string         `json:"started_by"`
	StartedAt        string         `json:"started_at"`
	CompletedAt      *string        `json:"completed_at,omitempty"`
	TotalStudents    int            `json:"total_students"`
	CountsByDecision map[string]int `json:"counts_by_decision"`
	FailureReason    *string        `json:"failure_reason,omitempty"`
}

// DecisionResponse 学生升级决策响应
type DecisionResponse struct {
	DecisionID     string  `json:"decision_id"`
	RunID          string  `json:"run_id"`
	StudentID      string  `json:"student_id"`
	FromYearID     string  `json:"from_year_id"`
	ToYearID       string  `json:"to_year_id"`
	FromClass      string  `json:"from_class"`
	FromSection    string  `json:"from_section"`
	ToClass        string  `json:"to_class"`
	ToSection      *string `json:"to_section,omitempty"`
	Decision       string  `json:"decision"`
	DecidedBy      string  `json:"decided_by"`
	DecidedAt      string  `json:"decided_at"`
	OverrideReason *string `json:"override_reason,omitempty"`
	SupersedesID   *string `json:"supersedes_id,omitempty"`
}

// PromotionRunDetailResponse 升级运行详情（含决策）
// 试运行不落库决策，Decisions 为本次计算结果；提交运行为已持久化的决策
type PromotionRunDetailResponse struct {
	PromotionRunResponse
	Attached  bool               `json:"attached,omitempty"` // 重入调用挂接到已有运行
	Decisions []DecisionResponse `json:"decisions"`
}
