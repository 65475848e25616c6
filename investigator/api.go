package investigator

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

const (
	apiHealthCheck = "/healthz"
	apiPathStatus  = "/status"
)

const (
	xRequestIDHeader = "X-Request-ID"
)

var (
	structValidator = validator.New()
)

// API is the bot's status HTTP server. It intentionally exposes only
// read-only endpoints: a health check and a snapshot of runtime metrics.
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

// newAPI initializes and returns a new instance of the API struct.
func newAPI(d *Investigator, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
	}
	apiHandlers := NewAPIHandlers(d)
	api.handlers = apiHandlers

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" || config.SSL.Key != "" {
		cfg, e := tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
		tlsCfg = cfg
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
		corsConfig.AllowCredentials = false
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.GET(apiPathStatus, apiHandlers.botStatus)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		return e
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

// APIHandlers holds the endpoint handlers and their reference back to the
// bot.
type APIHandlers struct {
	d      *Investigator
	logger *slog.Logger
}

func NewAPIHandlers(d *Investigator) *APIHandlers {
	return &APIHandlers{
		d:      d,
		logger: d.logger.With(loggerNameKey, "api_handlers"),
	}
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

// healthCheck reports whether the bot's discord gateway connection is up.
func (h *APIHandlers) healthCheck(c *gin.Context) {
	connected := h.d.discord != nil && h.d.discord.connected.Load()
	status := http.StatusOK
	if !connected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(
		status, healthCheckResponse{
			DiscordGatewayConnected: connected,
		},
	)
}

// DiscordStatus summarizes gateway connection metrics.
type DiscordStatus struct {
	MessagesSeen int64 `json:"messages_seen"`
	Connects     int64 `json:"connects"`
	Disconnects  int64 `json:"disconnects"`
	Connected    bool  `json:"connected"`
}

type botStatusResponse struct {
	Version       string         `json:"version"`
	CommitSHA     string         `json:"commit_sha"`
	BuildTime     string         `json:"build_time"`
	StartedAt     time.Time      `json:"started_at"`
	Uptime        string         `json:"uptime"`
	Discord       DiscordStatus  `json:"discord"`
	EnabledGuilds int            `json:"enabled_guilds"`
	TruthBullets  bulletStats    `json:"truth_bullets"`
	Requests      map[string]int `json:"requests"`
}

// botStatus returns a snapshot of the bot's runtime state: build info,
// discord metrics, the enabled-guild count and truth bullet totals.
func (h *APIHandlers) botStatus(c *gin.Context) {
	logger := ginContextLogger(c)
	d := h.d

	d.msgEnabledMu.RLock()
	enabledGuilds := len(d.msgEnabledGuilds)
	d.msgEnabledMu.RUnlock()

	stats, err := getBulletStats(c.Request.Context(), d.db)
	if err != nil {
		logger.Error("error loading bullet stats", tint.Err(err))
	}

	d.api.requestMetricsMu.Lock()
	requests := make(map[string]int, len(d.api.requestMetrics))
	for k, v := range d.api.requestMetrics {
		requests[k] = v
	}
	d.api.requestMetricsMu.Unlock()

	c.JSON(
		http.StatusOK, botStatusResponse{
			Version:   Version,
			CommitSHA: CommitSHA,
			BuildTime: BuildTime,
			StartedAt: d.startedAt,
			Uptime:    time.Since(d.startedAt).String(),
			Discord: DiscordStatus{
				MessagesSeen: d.discord.metricMessagesSeen.Load(),
				Connects:     d.discord.metricConnects.Load(),
				Disconnects:  d.discord.metricDisconnects.Load(),
				Connected:    d.discord.connected.Load(),
			},
			EnabledGuilds: enabledGuilds,
			TruthBullets:  stats,
			Requests:      requests,
		},
	)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"request_id", requestID,
		),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware increments a per-route request counter, surfaced by the
// /status endpoint.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}
