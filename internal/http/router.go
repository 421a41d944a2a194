// Package http serves the local status and control API.
package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/device"
	"github.com/saker-ai/xiaozhi-client/internal/history"
	"github.com/saker-ai/xiaozhi-client/internal/livestream"
	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/music"
	"github.com/saker-ai/xiaozhi-client/internal/transport"
)

const maxUplinkBody = 8 << 20

// Connection is the reconnection controller surface.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	Status() livestream.Status
}

// Player is the streaming player surface.
type Player interface {
	Download(ctx context.Context, query string) (bool, error)
	Stop()
	Status() music.Status
}

// Uplink accepts raw PCM for the session.
type Uplink interface {
	device.AudioSink
	Flush(ctx context.Context) error
}

// History is the transcript store surface.
type History interface {
	List() []history.Info
	Get(id string) ([]history.Message, error)
	Delete(id string) error
}

// Deps are the components behind the API. Nil components disable their routes' effect.
type Deps struct {
	Connection Connection
	Player     Player
	Uplink     Uplink
	State      device.StateSource
	Toggler    device.ChatToggler
	History    History
	// Extra adds component snapshots to /status, keyed by name.
	Extra map[string]func() any
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps, log *zap.Logger) *gin.Engine {
	log = logger.OrNop(log).Named("http")
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	h := &handlers{deps: deps, logger: log}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", h.status)
	router.POST("/music/play", h.play)
	router.POST("/music/stop", h.stopMusic)
	router.POST("/connection/connect", h.connect)
	router.POST("/connection/disconnect", h.disconnect)
	router.POST("/chat/toggle", h.toggleChat)
	router.POST("/audio/uplink", h.uplink)
	router.GET("/history", h.listHistory)
	router.GET("/history/:id", h.getHistory)
	router.DELETE("/history/:id", h.deleteHistory)
	return router
}

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

func (h *handlers) status(c *gin.Context) {
	body := gin.H{}
	if h.deps.Connection != nil {
		body["connection"] = h.deps.Connection.Status()
	}
	if h.deps.Player != nil {
		body["music"] = h.deps.Player.Status()
	}
	if h.deps.State != nil {
		body["device_state"] = h.deps.State.DeviceState()
	}
	for name, snapshot := range h.deps.Extra {
		body[name] = snapshot()
	}
	c.JSON(http.StatusOK, body)
}

type playRequest struct {
	Query string `json:"query" form:"q"`
}

func (h *handlers) play(c *gin.Context) {
	if h.deps.Player == nil {
		unavailable(c, "player")
		return
	}
	var req playRequest
	if err := c.ShouldBind(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q := c.Query("q"); q != "" {
		req.Query = q
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	ok, err := h.deps.Player.Download(c.Request.Context(), req.Query)
	if !ok {
		msg := "song not found"
		if err != nil {
			msg = err.Error()
		}
		c.JSON(http.StatusNotFound, gin.H{"started": false, "error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true, "music": h.deps.Player.Status()})
}

func (h *handlers) stopMusic(c *gin.Context) {
	if h.deps.Player == nil {
		unavailable(c, "player")
		return
	}
	h.deps.Player.Stop()
	c.JSON(http.StatusOK, gin.H{"music": h.deps.Player.Status()})
}

func (h *handlers) connect(c *gin.Context) {
	if h.deps.Connection == nil {
		unavailable(c, "connection")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := h.deps.Connection.Connect(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "connection": h.deps.Connection.Status()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": h.deps.Connection.Status()})
}

func (h *handlers) disconnect(c *gin.Context) {
	if h.deps.Connection == nil {
		unavailable(c, "connection")
		return
	}
	h.deps.Connection.Disconnect()
	c.JSON(http.StatusOK, gin.H{"connection": h.deps.Connection.Status()})
}

func (h *handlers) toggleChat(c *gin.Context) {
	if h.deps.Toggler == nil {
		unavailable(c, "device")
		return
	}
	h.deps.Toggler.ToggleChatState()
	body := gin.H{}
	if h.deps.State != nil {
		body["device_state"] = h.deps.State.DeviceState()
	}
	c.JSON(http.StatusOK, body)
}

// uplink takes a raw little-endian mono PCM16 body; ?rate= gives its sample rate.
func (h *handlers) uplink(c *gin.Context) {
	if h.deps.Uplink == nil {
		unavailable(c, "uplink")
		return
	}
	rate, err := strconv.Atoi(c.DefaultQuery("rate", "16000"))
	if err != nil || rate <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUplinkBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) > maxUplinkBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}

	ctx := c.Request.Context()
	packet := transport.AudioStreamPacket{SampleRate: rate, Payload: data}
	if err := h.deps.Uplink.PushPCM(ctx, packet); err != nil {
		h.uplinkError(c, err)
		return
	}
	if err := h.deps.Uplink.Flush(ctx); err != nil {
		h.uplinkError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"bytes": len(data)})
}

func (h *handlers) uplinkError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, transport.ErrNotConnected) {
		status = http.StatusServiceUnavailable
	}
	h.logger.Warn("uplink failed", zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *handlers) listHistory(c *gin.Context) {
	if h.deps.History == nil {
		unavailable(c, "history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"histories": h.deps.History.List()})
}

func (h *handlers) getHistory(c *gin.Context) {
	if h.deps.History == nil {
		unavailable(c, "history")
		return
	}
	messages, err := h.deps.History.Get(c.Param("id"))
	if err != nil {
		historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *handlers) deleteHistory(c *gin.Context) {
	if h.deps.History == nil {
		unavailable(c, "history")
		return
	}
	if err := h.deps.History.Delete(c.Param("id")); err != nil {
		historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func historyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, history.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " unavailable"})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
