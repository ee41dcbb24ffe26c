package app

import (
	"net/http"
	"slices"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"drcrypt.com/internal/quotes/history"
	"drcrypt.com/internal/quotes/mdsource"
	"drcrypt.com/internal/quotes/pricecache"
	"drcrypt.com/internal/quotes/writer"
	"drcrypt.com/pkg/common"
	"drcrypt.com/pkg/middleware"
)

var (
	promOnce sync.Once
	prom     *ginprom.Prometheus
)

// ginprom 注册的是全局 collector，只能建一次
func ginPrometheus() *ginprom.Prometheus {
	promOnce.Do(func() {
		prom = ginprom.NewPrometheus("drcrypt")
		// 路径里不带 query，按路由聚合
		prom.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if p := c.FullPath(); p != "" {
				return p
			}
			return "unmatched"
		}
	})
	return prom
}

// Handler 路由：/ws /healthz /metrics /prices/*
func (a *App) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	ginPrometheus().Use(r)

	r.Use(
		otelgin.Middleware(a.cfg.Name),
		middleware.ReqId(),
		cors.New(a.corsConfig()),
		middleware.Recover(),
	)

	r.GET("/healthz", a.health)
	r.GET("/ws", gin.WrapF(a.wsServer.ServeWS))

	defaultSymbol := ""
	if len(a.cfg.Feed.Symbols) > 0 {
		defaultSymbol = a.cfg.Feed.Symbols[0]
	}
	api := r.Group("/", middleware.RateLimit(a.limiter))
	history.NewHandler(a.history, defaultSymbol).Register(api)
	return r
}

func (a *App) corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	c.ExposeHeaders = []string{common.HeaderRequestID, "X-Data-Source", "X-Degraded"}
	if len(a.cfg.HTTP.CORSOrigins) == 0 || slices.Contains(a.cfg.HTTP.CORSOrigins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = a.cfg.HTTP.CORSOrigins
	}
	return c
}

type feedHealth struct {
	Symbol     string           `json:"symbol"`
	State      string           `json:"state"`
	Reconnects uint64           `json:"reconnects"`
	Received   uint64           `json:"received"`
	Malformed  uint64           `json:"malformed"`
	Cache      pricecache.Stats `json:"cache"`
}

type healthResp struct {
	Status  string       `json:"status"` // ok | degraded
	Feeds   []feedHealth `json:"feeds"`
	Clients int          `json:"clients"`
	Writer  writer.Stats `json:"writer"`
}

// health 有任何一个 feed 没连上就报 degraded，但仍然 200（只读接口还能用）
func (a *App) health(c *gin.Context) {
	resp := healthResp{
		Status:  "ok",
		Clients: a.hub.Len(),
		Writer:  a.writer.Stats(),
		Feeds:   make([]feedHealth, 0, len(a.runners)),
	}
	for _, r := range a.runners {
		st, _ := a.cache.Stats(r.Symbol())
		fh := feedHealth{
			Symbol:     r.Symbol(),
			State:      r.State().String(),
			Reconnects: r.Reconnects(),
			Received:   r.Received(),
			Malformed:  r.Malformed(),
			Cache:      st,
		}
		if r.State() != mdsource.Connected {
			resp.Status = "degraded"
		}
		resp.Feeds = append(resp.Feeds, fh)
	}
	common.Success(c, resp)
}
