package server

import (
	"net/http"
	"time"

	"github.com/UjanGuin/ZYLO-LINK/internal/auth"
	"github.com/UjanGuin/ZYLO-LINK/internal/config"
	"github.com/UjanGuin/ZYLO-LINK/internal/metrics"
	"github.com/UjanGuin/ZYLO-LINK/internal/mw"
	"github.com/UjanGuin/ZYLO-LINK/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、HTTP 协作者接口与 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, h *Handler, router *ws.Router) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，上传接口不至于被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth", h.Authenticate)
	r.POST("/auth/refresh", h.RefreshToken)
	r.GET("/uploads/:name", h.ServeUpload)

	authed := r.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.POST("/upload", h.Upload)
	authed.POST("/upload_avatar", h.UploadAvatar)

	r.GET("/ws", router.Serve())
	return r
}
