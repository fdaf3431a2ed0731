package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/service"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/response"
)

// AuditHandler 审计日志 HTTP 处理器
type AuditHandler struct {
	lifecycle service.LifecycleService
}

// NewAuditHandler 创建 AuditHandler
func NewAuditHandler(lifecycle service.LifecycleService) *AuditHandler {
	return &AuditHandler{lifecycle: lifecycle}
}

// ListAuditLog 查询审计日志
// GET /api/v1/schools/:school_id/audit-log?actor_id=&action=&entity_type=&entity_id=&since=&until=&order=
func (h *AuditHandler) ListAuditLog(c *gin.Context) {
	var q dto.AuditLogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	entries, total, err := h.lifecycle.AuditLog(c.Request.Context(), schoolID, actorID, &q)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OKPage(c, entries, total, q.GetOffset(), q.GetLimit())
}
