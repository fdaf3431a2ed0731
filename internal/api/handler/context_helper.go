package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/response"
)

// 生命周期模块错误码
const (
	codeValidation        = 20001
	codeConflict          = 20002
	codeInvalidTransition = 20003
	codeState             = 20004
	codeLocked            = 20005
	codeExecution         = 20006
	codeAuthorization     = 20007
	codeNotFound          = 20008
)

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
// 如果 JWT 中间件未正确注入 user_id，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// MustGetSchoolID 提取路径中的 school_id，并校验与 Token 所属学校一致。
// Token 未携带学校时不做限制（平台级账号）。
func MustGetSchoolID(c *gin.Context) (string, bool) {
	schoolID := c.Param("school_id")
	if schoolID == "" {
		response.BadRequest(c, 10001, "school_id 不能为空")
		return "", false
	}
	if v, exists := c.Get("school_id"); exists {
		if tokenSchool, _ := v.(string); tokenSchool != "" && tokenSchool != schoolID {
			response.Forbidden(c, 10003, "无权访问该学校")
			return "", false
		}
	}
	return schoolID, true
}

// mustGetActor 写操作同时需要学校与操作人
func mustGetActor(c *gin.Context) (schoolID, actorID string, ok bool) {
	if schoolID, ok = MustGetSchoolID(c); !ok {
		return "", "", false
	}
	if actorID, ok = MustGetUserID(c); !ok {
		return "", "", false
	}
	return schoolID, actorID, true
}

// handleLifecycleError 统一处理生命周期模块业务错误
func handleLifecycleError(c *gin.Context, err error) {
	msg := pkgerrors.MessageOf(err)
	ids := pkgerrors.EntityIDsOf(err)

	switch {
	case errors.Is(err, pkgerrors.ErrValidation):
		response.ErrorWithEntities(c, http.StatusBadRequest, codeValidation, msg, ids)
	case errors.Is(err, pkgerrors.ErrConflict):
		response.ErrorWithEntities(c, http.StatusConflict, codeConflict, msg, ids)
	case errors.Is(err, pkgerrors.ErrInvalidTransition):
		response.ErrorWithEntities(c, http.StatusConflict, codeInvalidTransition, msg, ids)
	case errors.Is(err, pkgerrors.ErrState):
		response.ErrorWithEntities(c, http.StatusConflict, codeState, msg, ids)
	case errors.Is(err, pkgerrors.ErrLocked):
		response.ErrorWithEntities(c, http.StatusLocked, codeLocked, msg, ids)
	case errors.Is(err, pkgerrors.ErrExecution):
		response.ErrorWithEntities(c, http.StatusInternalServerError, codeExecution, msg, ids)
	case errors.Is(err, pkgerrors.ErrAuthorization):
		response.Forbidden(c, codeAuthorization, msg)
	case errors.Is(err, pkgerrors.ErrNotFound):
		response.ErrorWithEntities(c, http.StatusNotFound, codeNotFound, msg, ids)
	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}
