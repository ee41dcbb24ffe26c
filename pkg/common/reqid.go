package common

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"drcrypt.com/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = logger.RequestIdKey

	maxRequestIDLen = 64
)

func NewRequestID() string { return uuid.NewString() }

// ValidRequestID 外部传进来的 id 会进日志，只收短的可见 ASCII
func ValidRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxKeyRequestID, id)
}

func RequestIDFromGin(c *gin.Context) string {
	return c.GetString(CtxKeyRequestID)
}
