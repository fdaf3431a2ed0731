package dto

import "encoding/json"

// ── 审计日志 DTO ──

// AuditLogQuery 审计日志查询参数
type AuditLogQuery struct {
	ActorID    string `form:"actor_id"    binding:"omitempty,max=64"`
	Action     string `form:"action"      binding:"omitempty,max=50"`
	EntityType string `form:"entity_type" binding:"omitempty,max=30"`
	EntityID   string `form:"entity_id"   binding:"omitempty,max=64"`
	Since      string `form:"since"       binding:"omitempty,datestr"`
	Until      string `form:"until"       binding:"omitempty,datestr"`
	Order      string `form:"order"       binding:"omitempty,oneof=asc desc"`
	OffsetPagination
}

// AuditLogResponse 审计日志条目
type AuditLogResponse struct {
	EntryID    int64           `json:"entry_id"`
	SchoolCode string          `json:"school_code"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after"`
	CreatedAt  string          `json:"created_at"`
}
