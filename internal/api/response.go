package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"printgrid/internal/errcode"
)

// errorBody 是错误响应体，code 与 worker 通知中的 error_code 取值相同。
type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func abortWith(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code})
}

func BadRequest(c *gin.Context, msg string) {
	abortWith(c, http.StatusBadRequest, errcode.InvalidInput, msg)
}

// Conflict 用于重复提交；不属于失败，code 保持 OK。
func Conflict(c *gin.Context, msg string) { abortWith(c, http.StatusConflict, errcode.OK, msg) }

func Internal(c *gin.Context, msg string) {
	abortWith(c, http.StatusInternalServerError, errcode.SystemError, msg)
}

// FromError 按 errcode 分类写出错误：输入错误 400，任务过期 410，其余 500 且只返回 fallback，
// 不把内部错误细节（路径、连接串）暴露给调用方。
func FromError(c *gin.Context, err error, fallback string) {
	switch errcode.KindOf(err) {
	case errcode.KindInput:
		abortWith(c, http.StatusBadRequest, errcode.CodeOf(err), err.Error())
	case errcode.KindJobState:
		abortWith(c, http.StatusGone, errcode.CodeOf(err), err.Error())
	default:
		Internal(c, fallback)
	}
}
