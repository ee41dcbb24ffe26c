package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"drcrypt.com/pkg/common"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/xerr"
)

func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			logger.Error(c.Request.Context(), "http panic",
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			// /ws 升级之后连接已被接管，不能再写响应
			if c.Writer.Written() {
				c.Abort()
				return
			}
			common.Fail(c, http.StatusInternalServerError, 5000000, xerr.MapErrMsg(xerr.ServerCommonError))
			c.Abort()
		}()
		c.Next()
	}
}
