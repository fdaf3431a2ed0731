package dto

// ── 学年模块 DTO ──

// CreateAcademicYearRequest 创建学年（草稿）请求
type CreateAcademicYearRequest struct {
	YearLabel string `json:"year_label" binding:"required,min=4,max=50"`
	StartDate string `json:"start_date" binding:"required,datestr"` // "2026-04-01"
	EndDate   string `json:"end_date"   binding:"required,datestr"` // "2027-03-31"
}

// CloseYearRequest 关闭学年请求（路径中的学年为源学年）
type CloseYearRequest struct {
	TargetYearID string `json:"target_year_id" binding:"required,uuid"`
}

// AcademicYearResponse 学年信息响应
type AcademicYearResponse struct {
	YearID         string  `json:"year_id"`
	SchoolID       string  `json:"school_id"`
	YearLabel      string  `json:"year_label"`
	Status         string  `json:"status"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	PreviousYearID *string `json:"previous_year_id,omitempty"`
	Version        int     `json:"version"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// CloseYearResponse 关闭学年响应
type CloseYearResponse struct {
	ClosedYear AcademicYearResponse `json:"closed_year"`
	ActiveYear AcademicYearResponse `json:"active_year"`
	RunID      string               `json:"run_id"`
}
