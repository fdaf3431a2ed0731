package model

import "time"

// YearStatus 学年状态
type YearStatus string

const (
	YearStatusDraft     YearStatus = "draft"
	YearStatusActive    YearStatus = "active"
	YearStatusPromoting YearStatus = "promoting"
	YearStatusClosing   YearStatus = "closing"
	YearStatusClosed    YearStatus = "closed"
)

// Valid 是否为已知状态
func (s YearStatus) Valid() bool {
	switch s {
	case YearStatusDraft, YearStatusActive, YearStatusPromoting, YearStatusClosing, YearStatusClosed:
		return true
	}
	return false
}

// CanTransitionTo 状态机合法边：
//
//	draft → active → promoting → closing → closed
//	promoting → active（中止 / 试运行结束）
//
// closed 为终态
func (s YearStatus) CanTransitionTo(to YearStatus) bool {
	switch s {
	case YearStatusDraft:
		return to == YearStatusActive
	case YearStatusActive:
		return to == YearStatusPromoting
	case YearStatusPromoting:
		return to == YearStatusActive || to == YearStatusClosing
	case YearStatusClosing:
		return to == YearStatusClosed
	case YearStatusClosed:
		return false
	}
	return false
}

// AcademicYear 学年表 — 对应 academic_years
type AcademicYear struct {
	YearID         string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"year_id"`
	SchoolID       string     `gorm:"type:varchar(64);not null;index"                json:"school_id"`
	YearLabel      string     `gorm:"type:varchar(50);not null"                      json:"year_label"`
	Status         YearStatus `gorm:"type:varchar(20);not null;default:'draft'"      json:"status"`
	StartDate      time.Time  `gorm:"type:date;not null"                             json:"start_date"`
	EndDate        time.Time  `gorm:"type:date;not null"                             json:"end_date"`
	PreviousYearID *string    `gorm:"type:uuid"                                      json:"previous_year_id,omitempty"`
	VersionedModel
}

// TableName 指定表名
func (AcademicYear) TableName() string { return "academic_years" }

// Overlaps 日期区间是否与另一区间相交（闭区间）
func (y *AcademicYear) Overlaps(start, end time.Time) bool {
	return !start.After(y.EndDate) && !end.Before(y.StartDate)
}

// YearArchive 学年归档标记表 — 对应 year_archives
// 存在记录即表示该学年下的子数据只读，写入方需通过 EnsureWritable 校验
type YearArchive struct {
	YearID     string    `gorm:"type:uuid;primaryKey"               json:"year_id"`
	SchoolID   string    `gorm:"type:varchar(64);not null;index"    json:"school_id"`
	ArchivedBy string    `gorm:"type:varchar(64);not null"          json:"archived_by"`
	ArchivedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"archived_at"`
}

func (YearArchive) TableName() string { return "year_archives" }
