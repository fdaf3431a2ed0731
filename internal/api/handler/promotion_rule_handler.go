package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/service"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/response"
)

// PromotionRuleHandler 升级规则与年级序列 HTTP 处理器
type PromotionRuleHandler struct {
	lifecycle service.LifecycleService
}

// NewPromotionRuleHandler 创建 PromotionRuleHandler
func NewPromotionRuleHandler(lifecycle service.LifecycleService) *PromotionRuleHandler {
	return &PromotionRuleHandler{lifecycle: lifecycle}
}

// ListRules 获取升级规则列表
// GET /api/v1/schools/:school_id/promotion-rules
func (h *PromotionRuleHandler) ListRules(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	rules, err := h.lifecycle.ListRules(c.Request.Context(), schoolID)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, gin.H{"list": rules})
}

// UpsertRule 新增或更新升级规则
// PUT /api/v1/schools/:school_id/promotion-rules
func (h *PromotionRuleHandler) UpsertRule(c *gin.Context) {
	var req dto.UpsertPromotionRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	rule, err := h.lifecycle.UpsertRule(c.Request.Context(), schoolID, actorID, &req)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, rule)
}

// DeleteRule 删除升级规则
// DELETE /api/v1/schools/:school_id/promotion-rules/:rule_id
func (h *PromotionRuleHandler) DeleteRule(c *gin.Context) {
	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	if err := h.lifecycle.DeleteRule(c.Request.Context(), schoolID, c.Param("rule_id"), actorID); err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, nil)
}

// GetClassLadder 获取学校年级序列
// GET /api/v1/schools/:school_id/class-ladder
func (h *PromotionRuleHandler) GetClassLadder(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	ladder, err := h.lifecycle.GetClassLadder(c.Request.Context(), schoolID)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, ladder)
}

// SaveClassLadder 保存学校年级序列
// PUT /api/v1/schools/:school_id/class-ladder
func (h *PromotionRuleHandler) SaveClassLadder(c *gin.Context) {
	var req dto.SaveClassLadderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	ladder, err := h.lifecycle.SaveClassLadder(c.Request.Context(), schoolID, actorID, &req)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, ladder)
}
