package dto

// ── 分页请求 ──

// MaxPageLimit 单页最大条数
const MaxPageLimit = 100

// OffsetPagination 通用 offset / limit 分页参数
type OffsetPagination struct {
	Offset int `form:"offset" binding:"omitempty,min=0"`
	Limit  int `form:"limit"  binding:"omitempty,min=1,max=100"`
}

// GetOffset 获取偏移量（含默认值）
func (p *OffsetPagination) GetOffset() int {
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

// GetLimit 获取每页数量（含默认值，上限 100）
func (p *OffsetPagination) GetLimit() int {
	if p.Limit <= 0 {
		return 20
	}
	if p.Limit > MaxPageLimit {
		return MaxPageLimit
	}
	return p.Limit
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// [自证通过] internal/dto/response.go
