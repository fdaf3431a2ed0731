package model

import (
	"time"

	"gorm.io/datatypes"
)

// RunMode 运行模式
type RunMode string

const (
	RunModeDryRun RunMode = "dry_run"
	RunModeCommit RunMode = "commit"
)

func (m RunMode) Valid() bool {
	switch m {
	case RunModeDryRun, RunModeCommit:
		return true
	}
	return false
}

// RunStatus 运行状态
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRolledBack RunStatus = "rolled_back"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusInProgress, RunStatusCompleted, RunStatusFailed, RunStatusRolledBack:
		return true
	}
	return false
}

// Terminal 是否为终态（rolled_back 只能由 completed 或 in_progress 进入）
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusFailed, RunStatusRolledBack:
		return true
	case RunStatusInProgress, RunStatusCompleted:
		return false
	}
	return false
}

// Decision 单个学生的升级结果
type Decision string

const (
	DecisionPromoted    Decision = "promoted"
	DecisionRetained    Decision = "retained"
	DecisionTransferred Decision = "transferred"
	DecisionGraduated   Decision = "graduated"
	DecisionExcluded    Decision = "excluded"
)

// AllDecisions 固定顺序，用于统计与导出
var AllDecisions = []Decision{
	DecisionPromoted, DecisionRetained, DecisionTransferred, DecisionGraduated, DecisionExcluded,
}

func (d Decision) Valid() bool {
	switch d {
	case DecisionPromoted, DecisionRetained, DecisionTransferred, DecisionGraduated, DecisionExcluded:
		return true
	}
	return false
}

// PromotionRun 升级运行表 — 对应 promotion_runs
type PromotionRun struct {
	RunID            string            `gorm:"type:uuid;primaryKey"                     json:"run_id"`
	SchoolID         string            `gorm:"type:varchar(64);not null;index"          json:"school_id"`
	SourceYearID     string            `gorm:"type:uuid;not null;index"                 json:"source_year_id"`
	TargetYearID     string            `gorm:"type:uuid;not null"                       json:"target_year_id"`
	Mode             RunMode           `gorm:"type:varchar(20);not null"                json:"mode"`
	Status           RunStatus         `gorm:"type:varchar(20);not null"                json:"status"`
	StartedBy        string            `gorm:"type:varchar(64);not null"                json:"started_by"`
	StartedAt        time.Time         `gorm:"not null"                                 json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	TotalStudents    int               `gorm:"not null;default:0"                       json:"total_students"`
	CountsByDecision datatypes.JSONMap `gorm:"type:jsonb"                               json:"counts_by_decision"`
	FailureReason    *string           `gorm:"type:text"                                json:"failure_reason,omitempty"`
}

func (PromotionRun) TableName() string { return "promotion_runs" }

// StudentPromotionDecision 学生升级决策表 — 对应 student_promotion_decisions
// 运行提交后不可修改；更正通过新增一行并以 SupersedesID 指向原决策实现
type StudentPromotionDecision struct {
	DecisionID     string    `gorm:"type:uuid;primaryKey"            json:"decision_id"`
	RunID          string    `gorm:"type:uuid;not null;index"        json:"run_id"`
	SchoolID       string    `gorm:"type:varchar(64);not null"       json:"school_id"`
	StudentID      string    `gorm:"type:varchar(64);not null"       json:"student_id"`
	FromYearID     string    `gorm:"type:uuid;not null"              json:"from_year_id"`
	ToYearID       string    `gorm:"type:uuid;not null"              json:"to_year_id"`
	FromClass      string    `gorm:"type:varchar(20);not null"       json:"from_class"`
	FromSection    string    `gorm:"type:varchar(20);not null"       json:"from_section"`
	ToClass        string    `gorm:"type:varchar(20);not null"       json:"to_class"`
	ToSection      *string   `gorm:"type:varchar(20)"                json:"to_section,omitempty"`
	Decision       Decision  `gorm:"type:varchar(20);not null"       json:"decision"`
	DecidedBy      string    `gorm:"type:varchar(64);not null"       json:"decided_by"`
	DecidedAt      time.Time `gorm:"not null"                        json:"decided_at"`
	OverrideReason *string   `gorm:"type:text"                       json:"override_reason,omitempty"`
	SupersedesID   *string   `gorm:"type:uuid"                       json:"supersedes_id,omitempty"`
}

func (StudentPromotionDecision) TableName() string { return "student_promotion_decisions" }
