package middleware

import (
	"github.com/gin-gonic/gin"

	"drcrypt.com/pkg/common"
)

// ReqId 沿用上游的 X-Request-Id，不合法就重新生成
func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if !common.ValidRequestID(rid) {
			rid = common.NewRequestID()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}
