package electricraspberry

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	xRequestIDHeader = "X-Request-ID"
	pprofPrefix      = "/debug/pprof"

	apiPrefix          = "/api"
	apiHealthCheck     = "/healthz"
	apiPathStatus      = "/status"
	apiPathChannel     = "/channels/:id"
	apiPathMaintenance = "/maintenance"
	apiPathStamina     = "/stamina"

	staminaActionSleep = "sleep"
	staminaActionWake  = "wake"
)

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
	Sleeping                bool `json:"sleeping"`
}

type statusResponse struct {
	Sleeping         bool           `json:"sleeping"`
	Stamina          float64        `json:"stamina"`
	EmotionalState   EmotionalState `json:"emotional_state"`
	Buffers          int            `json:"buffers"`
	BufferedEvents   int            `json:"buffered_events"`
	TrackedLocks     int            `json:"tracked_locks"`
	HeldLocks        []string       `json:"held_locks"`
	TrackedChannels  int            `json:"tracked_channels"`
	InFlight         int64          `json:"in_flight"`
	CatchupPending   int64          `json:"catchup_pending"`
	DiscordConnected bool           `json:"discord_connected"`
}

type channelResponse struct {
	ChannelID string          `json:"channel_id"`
	Activity  ChannelActivity `json:"activity"`
	Events    []*MessageEvent `json:"events"`
}

type staminaRequest struct {
	Action string `json:"action" binding:"required,oneof=sleep wake"`
}

// API serves bot status and a few operational controls over HTTP.
//
// Fields:
//   - config: Configuration for the API server
//   - httpServer: The underlying HTTP server
//   - listener: Network listener for the HTTP server
//   - engine: Gin engine for routing HTTP requests
//   - requestMetrics: Request counts by method and path
//   - logger: Logger for API-related events
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger

	handlers *APIHandlers
}

// APIHandlers holds the route handlers, and the bot they report on.
type APIHandlers struct {
	bot    *ElectricRaspberry
	logger *slog.Logger
}

func newAPI(bot *ElectricRaspberry, config *APIConfig) *API {
	logger := newComponentLogger(config.LogLevel, "api")

	r := gin.New()
	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
		logger:         logger,
		handlers:       &APIHandlers{bot: bot, logger: logger},
	}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	h := api.handlers
	r.GET(apiHealthCheck, h.healthCheck)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(config.Token))
	protected.GET(apiPathStatus, h.status)
	protected.GET(apiPathChannel, h.channel)
	protected.POST(apiPathMaintenance, h.maintenance)
	protected.POST(apiPathStamina, h.stamina)

	return api
}

// Serve listens on the configured address and serves until Shutdown.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	err := a.httpServer.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// RequestMetrics returns a copy of the request counts.
func (a *API) RequestMetrics() map[string]int {
	a.requestMetricsMu.Lock()
	defer a.requestMetricsMu.Unlock()
	m := make(map[string]int, len(a.requestMetrics))
	for k, v := range a.requestMetrics {
		m[k] = v
	}
	return m
}

// healthCheck responds with basic liveness information.
//
// Responses:
//   - 200 OK: Health check information in JSON format.
func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{Sleeping: h.bot.stamina.IsSleeping()}
	if h.bot.discord != nil {
		resp.DiscordGatewayConnected = h.bot.discord.Connected()
	}
	c.JSON(http.StatusOK, resp)
}

// status reports the state of the observer pipeline.
//
// Responses:
//   - 200 OK: statusResponse
func (h *APIHandlers) status(c *gin.Context) {
	bot := h.bot
	resp := statusResponse{
		Sleeping:        bot.stamina.IsSleeping(),
		Stamina:         bot.stamina.GetCurrentStamina(),
		EmotionalState:  bot.emotion.GetCurrentEmotionalState(),
		Buffers:         bot.buffers.Len(),
		TrackedLocks:    bot.concurrency.TrackedResources(),
		HeldLocks:       bot.concurrency.HeldResources(),
		TrackedChannels: bot.regulator.TrackedChannels(),
		InFlight:        bot.observer.InFlight(),
	}
	for _, channelID := range bot.buffers.ChannelIDs() {
		resp.BufferedEvents += bot.buffers.GetBuffer(channelID).Len()
	}
	if bot.discord != nil {
		resp.DiscordConnected = bot.discord.Connected()
	}
	if bot.catchup != nil {
		n, err := bot.catchup.Count(c.Request.Context())
		if err != nil {
			ginContextLogger(c).Warn("error counting catch-up items", tint.Err(err))
		}
		resp.CatchupPending = n
	}
	c.JSON(http.StatusOK, resp)
}

// channel reports the activity and buffered events of one channel.
//
// Responses:
//   - 200 OK: channelResponse
//   - 404 Not Found: The channel isn't tracked
func (h *APIHandlers) channel(c *gin.Context) {
	channelID := c.Param("id")
	activity, tracked := h.bot.regulator.ChannelActivity(channelID)
	events := h.bot.buffers.PeekEvents(channelID)
	if !tracked && events == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "channel not found"})
		return
	}
	if events == nil {
		events = []*MessageEvent{}
	}
	c.JSON(
		http.StatusOK,
		channelResponse{ChannelID: channelID, Activity: activity, Events: events},
	)
}

// maintenance runs a maintenance pass immediately.
//
// Responses:
//   - 200 OK: Maintenance completed
//   - 500 Internal Server Error: Maintenance completed with errors
func (h *APIHandlers) maintenance(c *gin.Context) {
	ctx := WithLogger(c.Request.Context(), ginContextLogger(c))
	if err := h.bot.observer.PerformMaintenance(ctx); err != nil {
		_ = c.Error(err)
		ginReplyError(c, err.Error())
		return
	}
	ginReplyMessage(c, "maintenance complete")
}

// stamina puts the bot to sleep, or wakes it up.
//
// Responses:
//   - 200 OK: The action was applied
//   - 400 Bad Request: Invalid request body
func (h *APIHandlers) stamina(c *gin.Context) {
	var req staminaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	switch req.Action {
	case staminaActionSleep:
		h.bot.stamina.Sleep()
	case staminaActionWake:
		h.bot.stamina.Wake()
	}
	ginContextLogger(c).Info("stamina action applied", "action", req.Action)
	ginReplyMessage(c, req.Action)
}

// authMiddleware requires `Authorization: Bearer <token>` when token is
// set.
func authMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		provided, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, and echoes it in the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := v.(*slog.Logger); ok {
			return requestLogger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it completes, including
// any errors attached to the gin context.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := setGinContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method and route.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
		a.requestMetricsMu.Lock()
		a.requestMetrics[key]++
		a.requestMetricsMu.Unlock()
		c.Next()
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
