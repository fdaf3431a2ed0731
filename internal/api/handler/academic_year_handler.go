package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/service"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/response"
)

// AcademicYearHandler 学年模块 HTTP 处理器
type AcademicYearHandler struct {
	lifecycle service.LifecycleService
	calendar  service.CalendarService
}

// NewAcademicYearHandler 创建 AcademicYearHandler
func NewAcademicYearHandler(lifecycle service.LifecycleService, calendar service.CalendarService) *AcademicYearHandler {
	return &AcademicYearHandler{lifecycle: lifecycle, calendar: calendar}
}

// ListYears 获取学年列表
// GET /api/v1/schools/:school_id/academic-years
func (h *AcademicYearHandler) ListYears(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	years, err := h.lifecycle.ListYears(c.Request.Context(), schoolID)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, gin.H{"list": years})
}

// GetActiveYear 获取当前启用中的学年
// GET /api/v1/schools/:school_id/academic-years/active
func (h *AcademicYearHandler) GetActiveYear(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	year, err := h.lifecycle.GetActiveYear(c.Request.Context(), schoolID)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, year)
}

// GetYear 获取学年详情
// GET /api/v1/schools/:school_id/academic-years/:year_id
func (h *AcademicYearHandler) GetYear(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	year, err := h.lifecycle.GetYear(c.Request.Context(), schoolID, c.Param("year_id"))
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, year)
}

// CreateYear 创建草稿学年
// POST /api/v1/schools/:school_id/academic-years
func (h *AcademicYearHandler) CreateYear(c *gin.Context) {
	var req dto.CreateAcademicYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	year, err := h.lifecycle.CreateYear(c.Request.Context(), schoolID, actorID, &req)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.Created(c, year)
}

// ActivateYear 启用草稿学年（学校首个学年）
// PUT /api/v1/schools/:school_id/academic-years/:year_id/activate
func (h *AcademicYearHandler) ActivateYear(c *gin.Context) {
	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	year, err := h.lifecycle.ActivateYear(c.Request.Context(), schoolID, c.Param("year_id"), actorID)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, year)
}

// CloseYear 关闭学年并启用下一学年
// POST /api/v1/schools/:school_id/academic-years/:year_id/close
func (h *AcademicYearHandler) CloseYear(c *gin.Context) {
	var req dto.CloseYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	schoolID, actorID, ok := mustGetActor(c)
	if !ok {
		return
	}

	result, err := h.lifecycle.CloseYear(c.Request.Context(), schoolID, c.Param("year_id"), actorID, &req)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	response.OK(c, result)
}

// CalendarFeed 学年日历订阅源
// GET /api/v1/schools/:school_id/academic-years/calendar.ics
func (h *AcademicYearHandler) CalendarFeed(c *gin.Context) {
	schoolID, ok := MustGetSchoolID(c)
	if !ok {
		return
	}

	data, err := h.calendar.CalendarFeed(c.Request.Context(), schoolID)
	if err != nil {
		handleLifecycleError(c, err)
		return
	}

	c.Header("Content-Disposition", "inline; filename=academic-years.ics")
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", data)
}
