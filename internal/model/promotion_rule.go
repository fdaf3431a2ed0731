package model

import "github.com/lib/pq"

// Criteria 升级判定口径
type Criteria string

const (
	CriteriaPromoteAll   Criteria = "promote_all"
	CriteriaRequirePass  Criteria = "require_pass"
	CriteriaManualReview Criteria = "manual_review"
)

// Valid 是否为已知口径
func (c Criteria) Valid() bool {
	switch c {
	case CriteriaPromoteAll, CriteriaRequirePass, CriteriaManualReview:
		return true
	}
	return false
}

// PromotionRule 升级规则表 — 对应 promotion_rules
// FromSection 为空表示适用于该年级所有班；ToClass 为空表示沿用学校年级序列的下一年级
type PromotionRule struct {
	RuleID      string   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"rule_id"`
	SchoolID    string   `gorm:"type:varchar(64);not null;index"                json:"school_id"`
	FromClass   string   `gorm:"type:varchar(20);not null"                      json:"from_class"`
	FromSection *string  `gorm:"type:varchar(20)"                               json:"from_section,omitempty"`
	ToClass     *string  `gorm:"type:varchar(20)"                               json:"to_class,omitempty"`
	ToSection   *string  `gorm:"type:varchar(20)"                               json:"to_section,omitempty"`
	Criteria    Criteria `gorm:"type:varchar(20);not null"                      json:"criteria"`
	SoftDeleteModel
}

func (PromotionRule) TableName() string { return "promotion_rules" }

// SchoolProfile 学校年级序列配置 — 对应 school_profiles
// ClassLadder 按升级顺序排列，最后一项为毕业年级
type SchoolProfile struct {
	SchoolID      string         `gorm:"type:varchar(64);primaryKey" json:"school_id"`
	ClassLadder   pq.StringArray `gorm:"type:text[]"                 json:"class_ladder"`
	TerminalClass *string        `gorm:"type:varchar(20)"            json:"terminal_class,omitempty"`
	BaseModel
}

func (SchoolProfile) TableName() string { return "school_profiles" }
