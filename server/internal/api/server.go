package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"drawsync/server/internal/codec"
	"drawsync/server/internal/eventlog"
	"drawsync/server/internal/logx"
	"drawsync/server/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
)

const writeWait = 5 * time.Second

type Options struct {
	// PingInterval 为 0 时使用 30s。
	PingInterval time.Duration
	// AllowedOrigins 为空时不校验 Origin。
	AllowedOrigins []string
	Logger         pslog.Logger
}

type Server struct {
	log          *eventlog.Log
	logger       pslog.Logger
	pingInterval time.Duration
	origins      []string

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(log *eventlog.Log, opts Options) *Server {
	s := &Server{
		log:          log,
		logger:       opts.Logger,
		pingInterval: opts.PingInterval,
		origins:      opts.AllowedOrigins,
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 30 * time.Second
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(context.Background())
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.POST("/api/events", s.handleAppend)
	engine.GET("/api/events", s.handleList)
	engine.GET("/api/events/stream", s.handleStream)
	return engine
}

// handleHealthz 返回服务健康状态与当前日志 head。
func (s *Server) handleHealthz(c *gin.Context) {
	head, err := s.log.Head(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "head": head})
}

// handleAppend 处理 POST /api/events，校验后追加并返回存储分配的 seq。
func (s *Server) handleAppend(c *gin.Context) {
	var rec model.AppendRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	evt := codec.FromAppendRecord(rec)
	if err := codec.Validate(evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	seq, err := s.log.Append(ctx, evt)
	if err != nil {
		s.logger.Error("append failed", "event_id", evt.EventID, "err", err)
		if errors.Is(err, eventlog.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log closed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "append failed"})
		return
	}
	c.JSON(http.StatusCreated, model.AppendResponse{Seq: seq})
}

// handleList 处理 GET /api/events，返回按 seq 升序的一致快照。
func (s *Server) handleList(c *gin.Context) {
	events, err := s.log.List(c.Request.Context())
	if err != nil {
		s.logger.Error("list failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	resp := model.ListResponse{Events: make([]model.StoredRecord, 0, len(events))}
	for _, evt := range events {
		resp.Events = append(resp.Events, codec.ToStoredRecord(evt))
	}
	c.JSON(http.StatusOK, resp)
}

// handleStream 处理 WebSocket 订阅。带 after 时先补发 seq > after 的积压再转发实时推送；
// 不带 after 时只转发登记之后的事件，登记时的 head 通过 model.HeadHeader 返回。
func (s *Server) handleStream(c *gin.Context) {
	var (
		after   int64
		live    = true
		backlog []model.DrawEvent
		sub     *eventlog.Subscription
		err     error
	)
	if raw, ok := c.GetQuery("after"); ok {
		v, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		after, live = v, false
	}

	if live {
		after, sub, err = s.log.SubscribeLive(c.Request.Context())
	} else {
		backlog, sub, err = s.log.Subscribe(c.Request.Context(), after)
	}
	if err != nil {
		s.logger.Error("subscribe failed", "after", after, "live", live, "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscribe failed"})
		return
	}
	defer sub.Close()

	header := http.Header{}
	if live {
		header.Set(model.HeadHeader, strconv.FormatInt(after, 10))
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		// Upgrade 已经写回了错误响应。
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("remote", c.Request.RemoteAddr, "after", after, "live", live)
	log.Info("stream opened", "backlog", len(backlog))

	for _, evt := range backlog {
		if err := writeEvent(conn, evt); err != nil {
			log.Warn("stream write failed", "err", err)
			return
		}
	}

	// 读循环只负责感知对端关闭与处理 pong。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Info("stream closed by peer")
			return
		case evt, ok := <-sub.C():
			if !ok {
				reason := "subscription ended"
				if err := sub.Err(); err != nil {
					reason = err.Error()
				}
				log.Warn("stream terminated", "reason", reason)
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, evt); err != nil {
				log.Warn("stream write failed", "err", err)
				return
			}
			logx.WithSeq(log, evt.Seq).Trace("event pushed")
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				log.Warn("ping failed", "err", err)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, evt model.DrawEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(codec.ToStoredRecord(evt))
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 || origin == "" {
		return true
	}
	return slices.Contains(s.origins, origin)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger 用 pslog 记录每个请求，替代 gin 默认的文本日志。
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}
