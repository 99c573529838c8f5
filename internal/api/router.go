package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"whatsapp-bridge/internal/ws"
)

type RouterConfig struct {
	Session       SessionState
	Sender        MessageSender
	Hub           *ws.Hub
	Logger        zerolog.Logger
	SendRateLimit float64
	SendRateBurst int
	Now           func() time.Time
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(cfg.Logger), CORS())

	bridge := NewBridgeHandler(cfg.Session, cfg.Sender, cfg.Logger)
	if cfg.Now != nil {
		bridge.Now = cfg.Now
	}

	r.GET("/health", bridge.Health)
	r.GET("/status", bridge.Status)
	r.GET("/qr", bridge.QR)
	r.GET("/qr-display", bridge.QRDisplay)
	r.POST("/send", RateLimit(cfg.SendRateLimit, cfg.SendRateBurst), bridge.Send)
	r.POST("/pair", bridge.Pair)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Hub != nil {
		r.GET("/ws", gin.WrapF(cfg.Hub.ServeWs))
	}

	return r
}
