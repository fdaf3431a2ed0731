package model

// ── 外部模块拥有的表（本服务只读） ──

// StudentEnrollment 学生学年在读记录 — 对应 student_enrollments（学生模块维护）
type StudentEnrollment struct {
	EnrollmentID string `gorm:"type:uuid;primaryKey"        json:"enrollment_id"`
	SchoolID     string `gorm:"type:varchar(64);not null"   json:"school_id"`
	YearID       string `gorm:"type:uuid;not null"          json:"year_id"`
	StudentID    string `gorm:"type:varchar(64);not null"   json:"student_id"`
	Class        string `gorm:"type:varchar(20);not null"   json:"class"`
	Section      string `gorm:"type:varchar(20);not null"   json:"section"`
	Status       string `gorm:"type:varchar(20);not null"   json:"status"` // active | excluded | transferred_out
}

func (StudentEnrollment) TableName() string { return "student_enrollments" }

// ExamSummary 学年考试汇总 — 对应 exam_summaries（考试模块维护）
type ExamSummary struct {
	SchoolID  string `gorm:"type:varchar(64);primaryKey" json:"school_id"`
	YearID    string `gorm:"type:uuid;primaryKey"        json:"year_id"`
	StudentID string `gorm:"type:varchar(64);primaryKey" json:"student_id"`
	Passed    bool   `gorm:"not null"                    json:"passed"`
}

func (ExamSummary) TableName() string { return "exam_summaries" }

// StaffRole 教职工角色 — 对应 staff_roles（权限模块维护）
type StaffRole struct {
	ActorID  string `gorm:"type:varchar(64);primaryKey" json:"actor_id"`
	SchoolID string `gorm:"type:varchar(64);primaryKey" json:"school_id"`
	Role     string `gorm:"type:varchar(30);not null"   json:"role"`
}

func (StaffRole) TableName() string { return "staff_roles" }
