package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/service"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PromotionRunHandler 升级运行与决策 HTTP 处理器
type PromotionRunHandler struct {
	lifecycle service.LifecycleService
	exportSvc service.ExportService
}

// NewPromotionRunHandler 创建 PromotionRunHandler
func NewPromotionRunHandler(lifecycle service.LifecycleService, exportSvc service.ExportService) *PromotionRunHandler {
	return &PromotionRunHandler{lifecycle: lifecycle, exportSvc: exportSvc}
}

// StartRun 发起升级运行（dry_run 预览 / commit 提交）
// POST /api/v1/schools/:school_id/promotion-runs
func (h *PromotionRunHandler) StartRun(c *gin.Context) {
	var req dto.StartPromotionRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	run, err := h.lifecycle.StartPromotionRun(c.Request.Context(), schoolID, actorID, &req)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	// 重入挂接返回已有运行，不算新建
	if run.Attached {
		response.OK(c, run)
		return
	}
	response.Created(c, run)
}

// ListRuns 获取升级运行列表
// GET /api/v1/schools/:school_id/promotion-runs?source_year_id=xxx
func (h *PromotionRunHandler) ListRuns(c *gin.Context) {
	var q dto.ListRunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	runs, total, err := h.lifecycle.ListRuns(c.Request.Context(), schoolID, &q)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OKPage(c, runs, total, q.GetOffset(), q.GetLimit())
}

// GetRun 获取升级运行详情（含决策）
// GET /api/v1/schools/:school_id/promotion-runs/:run_id
func (h *PromotionRunHandler) GetRun(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	run, err := h.lifecycle.GetRun(c.Request.Context(), schoolID, c.Param("run_id"))
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, run)
}

// AbortRun 中止 / 回滚升级运行
// POST /api/v1/schools/:school_id/promotion-runs/:run_id/abort
func (h *PromotionRunHandler) AbortRun(c *gin.Context) {
	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	run, err := h.lifecycle.AbortRun(c.Request.Context(), schoolID, c.Param("run_id"), actorID)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, run)
}

// ExportRun 导出升级决策表
// GET /api/v1/schools/:school_id/promotion-runs/:run_id/export
func (h *PromotionRunHandler) ExportRun(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	buf, filename, err := h.exportSvc.ExportRun(c.Request.Context(), schoolID, c.Param("run_id"))
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// CorrectDecision 更正已提交的学生决策
// PUT /api/v1/schools/:school_id/promotion-decisions/:decision_id
func (h *PromotionRunHandler) CorrectDecision(c *gin.Context) {
	var req dto.CorrectDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	decision, err := h.lifecycle.CorrectDecision(c.Request.Context(), schoolID, c.Param("decision_id"), actorID, &req)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, decision)
}
