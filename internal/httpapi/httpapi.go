// Package httpapi implements C8 HTTPSurface: the stateless request/response
// endpoints (spec.md §4.8) that sit alongside the live WebRTC session —
// frame privacy processing, spatial analysis, gallery read/write, and
// health. Grounded on the teacher's gin.Engine route-group wiring
// (api/assistant-api/router/*.go: `engine.Group(...)`, a `New...Api(cfg,
// logger, deps...)` constructor, handler methods registered directly as
// gin.HandlerFunc) and on internal/signaling's Fault-to-HTTP-status mapping
// idiom for error responses.
package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/aperturelabs/livegateway/internal/gallery"
	"github.com/aperturelabs/livegateway/internal/privacy"
	"github.com/aperturelabs/livegateway/internal/signaling"
	"github.com/aperturelabs/livegateway/internal/spatial"
	"github.com/aperturelabs/livegateway/pkg/commons"
	"github.com/aperturelabs/livegateway/pkg/ratelimit"
)

// Config pins the process-wide rate-limit and CORS policy (spec.md §4.8
// "default 10 requests/minute per source address").
type Config struct {
	RateLimitRPM   int
	CORSOrigins    []string
	JWTSigningKey  []byte
	GalleryListMax int
}

// API wires every C8 handler to its collaborators.
type API struct {
	cfg      Config
	shield   *privacy.Shield
	analyzer spatial.Analyzer
	gallery  *gallery.Store
	signal   *signaling.Gateway
	logger   commons.Logger

	frameLimiter   *ratelimit.Registry
	spatialLimiter *ratelimit.Registry
	frameCache     *frameCache

	startedAt time.Time
}

// New builds the HTTP surface. redisClient may be nil, in which case the
// process-frame idempotency cache is a permanent miss (every frame is
// reprocessed) rather than a startup failure — Redis is a performance
// optimization for this one concern, not a dependency the surface hard-fails
// without.
func New(cfg Config, shield *privacy.Shield, analyzer spatial.Analyzer, store *gallery.Store, signal *signaling.Gateway, redisClient *redis.Client, logger commons.Logger) *API {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 10
	}
	return &API{
		cfg:            cfg,
		shield:         shield,
		analyzer:       analyzer,
		gallery:        store,
		signal:         signal,
		logger:         logger,
		frameLimiter:   ratelimit.New(float64(rpm)/60.0, rpm, 10*time.Minute),
		spatialLimiter: ratelimit.New(float64(rpm)/60.0, rpm, 10*time.Minute),
		frameCache:     newFrameCache(redisClient),
		startedAt:      time.Now(),
	}
}

// Router builds the gin.Engine with every route mounted, including the
// signaling gateway's /webrtc and /ws endpoints (spec.md §4.1).
func (a *API) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	if len(a.cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = a.cfg.CORSOrigins
		corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		engine.Use(cors.New(corsCfg))
	}

	engine.GET("/health", a.Health)
	engine.POST("/process-frame", a.rateLimited(a.frameLimiter), a.ProcessFrame)
	engine.POST("/spatial", a.rateLimited(a.spatialLimiter), a.Spatial)
	engine.POST("/snapshot", a.Snapshot)
	engine.GET("/gallery", a.ListGallery)
	engine.GET("/gallery/:id", a.GetGalleryRecord)
	engine.GET("/gallery/blob", a.DownloadBlob)
	engine.POST("/gallery/:id/views", a.IncrementViews)
	engine.POST("/gallery/:id/like", a.ToggleLike)

	engine.POST("/webrtc", a.signal.Negotiate)
	engine.GET("/ws", a.signal.SignalChannel)

	return engine
}

// rateLimited enforces spec.md §4.8's per-source-address limit, keyed on
// gin's ClientIP.
func (a *API) rateLimited(reg *ratelimit.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !reg.Allow(c.ClientIP()) {
			fault := commons.RateLimited(6000)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, fault)
			return
		}
		c.Next()
	}
}

// Health implements GET /health (spec.md §6).
func (a *API) Health(c *gin.Context) {
	start := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"response_time_ms": time.Since(start).Milliseconds(),
	})
}

func writeFault(c *gin.Context, fault *commons.Fault) {
	status := http.StatusInternalServerError
	switch fault.Kind {
	case commons.KindBadRequest:
		status = http.StatusBadRequest
	case commons.KindUnauthorized:
		status = http.StatusUnauthorized
	case commons.KindRateLimited:
		status = http.StatusTooManyRequests
	case commons.KindSessionNotFound:
		status = http.StatusNotFound
	case commons.KindUpstreamUnavail, commons.KindAnalysisFailed:
		status = http.StatusBadGateway
	case commons.KindStorageFailed:
		status = http.StatusInternalServerError
	case commons.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, fault)
}

func decodeImageData(s string) ([]byte, error) {
	// Accept both bare base64 and "data:image/jpeg;base64,..." data URLs
	// (spec.md §6 "image(b64 or data-url)").
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

func encodeImageData(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func parseLimit(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
