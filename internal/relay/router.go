package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dmorgan81/genrelay/internal/config"
	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/dmorgan81/genrelay/internal/prompt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const requestIDHeader = "X-Request-ID"

func NewEngine(i *do.Injector) (*gin.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	handler := do.MustInvoke[*Handler](i)
	randomizer := do.MustInvoke[*prompt.Randomizer](i)
	logger := do.MustInvoke[*slog.Logger](i)

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(RequestLogger(logger), gin.Recovery(), cors.New(corsConfig(cfg.AllowOrigins)))
	engine.NoMethod(MethodNotAllowed)

	engine.POST("/generate", handler.Generate)
	engine.POST("/api/generate", handler.Generate)
	engine.GET("/prompt", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"prompt": randomizer.Randomize(c.Request.Context())})
	})
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return engine, nil
}

func corsConfig(origins []string) cors.Config {
	conf := cors.DefaultConfig()
	if lo.Contains(origins, "*") {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = origins
	}
	conf.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	conf.AllowHeaders = append(conf.AllowHeaders, requestIDHeader)
	conf.ExposeHeaders = []string{requestIDHeader}
	return conf
}

// RequestLogger attaches a request-scoped logger to the request context and
// logs one line per completed request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		l := logger.With("request_id", id)
		c.Request = c.Request.WithContext(log.NewContext(c.Request.Context(), l))

		c.Next()

		l.Info("handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}
