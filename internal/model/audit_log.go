package model

import (
	"time"

	"gorm.io/datatypes"
)

// 审计动作
const (
	AuditActionYearCreate      = "academic_year.create"
	AuditActionYearTransition  = "academic_year.transition"
	AuditActionYearClose       = "academic_year.close"
	AuditActionRuleUpsert      = "promotion_rule.upsert"
	AuditActionRuleDelete      = "promotion_rule.delete"
	AuditActionLadderSave      = "class_ladder.save"
	AuditActionRunCommit       = "promotion_run.commit"
	AuditActionRunFail         = "promotion_run.fail"
	AuditActionRunAbort        = "promotion_run.abort"
	AuditActionDecisionCreate  = "student_promotion.create"
	AuditActionDecisionCorrect = "student_promotion.correct"
)

// 审计实体类型
const (
	AuditEntityAcademicYear     = "academic_year"
	AuditEntityPromotionRule    = "promotion_rule"
	AuditEntitySchoolProfile    = "school_profile"
	AuditEntityPromotionRun     = "promotion_run"
	AuditEntityStudentPromotion = "student_promotion"
)

// AuditLogEntry 审计日志表 — 对应 audit_log（只追加，不更新、不删除）
type AuditLogEntry struct {
	EntryID    int64          `gorm:"primaryKey;autoIncrement"           json:"entry_id"`
	SchoolCode string         `gorm:"type:varchar(64);not null;index"    json:"school_code"`
	ActorID    string         `gorm:"type:varchar(64);not null"          json:"actor_id"`
	Action     string         `gorm:"type:varchar(50);not null"          json:"action"`
	EntityType string         `gorm:"type:varchar(30);not null"          json:"entity_type"`
	EntityID   string         `gorm:"type:varchar(64);not null"          json:"entity_id"`
	Before     datatypes.JSON `gorm:"type:jsonb"                         json:"before,omitempty"`
	After      datatypes.JSON `gorm:"type:jsonb;not null"                json:"after"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (AuditLogEntry) TableName() string { return "audit_log" }
