package middleware

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"drcrypt.com/pkg/common"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/metrics"
	"drcrypt.com/pkg/ratelimit"
	"drcrypt.com/pkg/xerr"
)

func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 限流属于“可控拒绝”，不打堆栈
			metrics.RateLimitBlockTotal.WithLabelValues(route).Inc()
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			secs := int(math.Ceil(store.RetryAfter().Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
			common.FailErr(c, xerr.New(xerr.TooManyRequests, "rate limited"))
			c.Abort()
			return
		}
		c.Next()
	}
}
