package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/xerr"
)

// 定义http返回格式（错误时才包一层；成功的行情接口直接返回数组/对象）
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr 把 xerr 错误码映射成 HTTP 状态 + 业务码
// 对外只回固定文案，真实错误只进日志
func FailErr(c *gin.Context, err error) {
	httpStatus, biz, msg := mapErr(xerr.CodeOf(err))
	if httpStatus >= http.StatusInternalServerError {
		logger.Warn(c.Request.Context(), "http error",
			zap.String("request_id", RequestIDFromGin(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", biz),
			zap.Error(err),
		)
	}
	Fail(c, httpStatus, biz, msg)
}

func mapErr(code int) (httpStatus int, biz int, msg string) {
	switch code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest, 1001001, "参数错误"
	case xerr.NoData:
		return http.StatusNotFound, 1004004, "暂无数据"
	case xerr.Unavailable:
		return http.StatusServiceUnavailable, 1004001, "服务繁忙"
	case xerr.TooManyRequests:
		return http.StatusTooManyRequests, 1003001, "请求过于频繁"
	default:
		return http.StatusInternalServerError, 5000000, "internal error"
	}
}
