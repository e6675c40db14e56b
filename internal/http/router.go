// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// failure interception, CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Every failure, including routing and rate-limit failures, is rendered by
//     the exception handler from one registry
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-exception-handler/internal/config"
	"github.com/tbourn/go-exception-handler/internal/domain"
	"github.com/tbourn/go-exception-handler/internal/http/handlers"
	"github.com/tbourn/go-exception-handler/internal/http/middleware"
	"github.com/tbourn/go-exception-handler/internal/jsonenc"
	"github.com/tbourn/go-exception-handler/internal/registry"
	"github.com/tbourn/go-exception-handler/internal/repo"
	"github.com/tbourn/go-exception-handler/internal/services"
)

// incidentRepoShim adapts the repository free functions to the
// services.IncidentRepo interface expected by the IncidentService.
type incidentRepoShim struct{}

// CreateIncident proxies repo.CreateIncident.
func (incidentRepoShim) CreateIncident(ctx context.Context, db *gorm.DB, inc *domain.Incident) error {
	return repo.CreateIncident(ctx, db, inc)
}

// GetIncidentByCode proxies repo.GetIncidentByCode.
func (incidentRepoShim) GetIncidentByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Incident, error) {
	return repo.GetIncidentByCode(ctx, db, code)
}

// CountIncidents proxies repo.CountIncidents.
func (incidentRepoShim) CountIncidents(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountIncidents(ctx, db)
}

// ListIncidentsPage proxies repo.ListIncidentsPage.
func (incidentRepoShim) ListIncidentsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Incident, error) {
	return repo.ListIncidentsPage(ctx, db, offset, limit)
}

// DeleteIncidentsBefore proxies repo.DeleteIncidentsBefore.
func (incidentRepoShim) DeleteIncidentsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	return repo.DeleteIncidentsBefore(ctx, db, cutoff)
}

// IncidentsStats proxies repo.IncidentsStats.
func (incidentRepoShim) IncidentsStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.IncidentsStats(ctx, db)
}

// maskedHeaders are project-specific sensitive headers scrubbed from logs.
var maskedHeaders = []string{"X-API-Key"}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the incident service (nil when db is nil) so the caller
// can run retention.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: outer net for failures the exception handler re-throws
//  5. gzip (not /metrics)
//  6. Metrics: observes the final status, including rendered failures
//  7. ExceptionHandler: renders every failure raised below it
//  8. Body size limiter, rate limiter, CORS and security headers; their
//     failures and headers pass through the exception handler
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) *services.IncidentService {
	r.HandleMethodNotAllowed = true

	redactor := middleware.NewRedactor(maskedHeaders...)
	security := middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}

	var incidents *services.IncidentService
	if db != nil {
		incidents = services.NewIncidentService(db, incidentRepoShim{}, cfg.Exceptions.ErrorCodePrefix, cfg.Incidents.Retention)
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{Redactor: redactor}))

	// 4) Outer panic net
	r.Use(middleware.Recovery())

	// 5) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Failure interception
	middleware.UseExceptionHandler(r, func(o *middleware.ExceptionHandlerOptions) {
		registerMappings(o.Registry)
		configureExceptions(o, cfg, security, redactor)
		if incidents != nil {
			o.Incidents = incidents
		}
		logMappings(o.Registry)
	})

	// 8) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(security))

	// Fallbacks
	r.NoRoute(middleware.NoRoute)
	r.NoMethod(middleware.NoMethod)

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	var h *handlers.Handlers
	if incidents != nil && cfg.Incidents.APIEnabled {
		h = handlers.New(incidents)
	} else {
		h = handlers.New(nil)
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		exc := api.Group("/exceptions")
		exc.GET("", h.Exception)
		exc.GET("/argumentnull", h.ArgumentNull)
		exc.GET("/keynotfound", h.KeyNotFound)
		exc.GET("/custom", h.Custom)
		exc.GET("/panic", h.Panic)
		exc.GET("/streamed", h.Streamed)
		exc.GET("/etag", h.ETag)
		exc.POST("/echo", h.Echo)

		if incidents != nil && cfg.Incidents.APIEnabled {
			api.GET("/incidents", h.ListIncidents)
			api.GET("/incidents/:code", h.GetIncident)
		}
	}

	return incidents
}

// configureExceptions applies the error rendering settings from cfg.
func configureExceptions(o *middleware.ExceptionHandlerOptions, cfg config.Config, security middleware.SecurityOptions, redactor *middleware.Redactor) {
	exc := cfg.Exceptions
	if exc.ErrorCodePrefix != "" {
		o.ErrorCodePrefix = exc.ErrorCodePrefix
	}
	if exc.DefaultErrorMessage != "" {
		o.DefaultErrorMessage = exc.DefaultErrorMessage
	}
	o.Encoding = jsonenc.Config{
		TimeFormat: exc.JSONTimeFormat,
		UTC:        exc.JSONUTC,
		CamelCase:  exc.JSONCamelCase,
		EscapeHTML: exc.JSONEscapeHTML,
	}
	o.PreserveHeaders = append(o.PreserveHeaders, security.HeaderNames()...)
	// gzip has already wrapped the writer; dropping the header would leave a
	// compressed body without its encoding.
	o.PreserveHeaders = append(o.PreserveHeaders, "Content-Encoding")
	o.Redact = redactor.String
}

// registerMappings installs the application mappings plus the failures raised
// by the transport middleware.
func registerMappings(reg *registry.Registry) {
	handlers.RegisterMappings(reg)
	registry.MapMessage[*middleware.RouteNotFoundError](reg, http.StatusNotFound, "route not found")
	registry.MapMessage[*middleware.MethodNotAllowedError](reg, http.StatusMethodNotAllowed, "method not allowed")
	registry.MapMessage[*http.MaxBytesError](reg, http.StatusRequestEntityTooLarge, "request body too large")
	registry.MapMessage[*middleware.RateLimitError](reg, http.StatusTooManyRequests, "rate limit exceeded")
}

func logMappings(reg *registry.Registry) {
	for _, k := range reg.Keys() {
		log.Debug().Str("failure", k.String()).Msg("exception mapping registered")
	}
	log.Info().Int("mappings", reg.Len()).Msg("exception handler installed")
}

// corsMiddleware returns the CORS posture: allow-all when no origins are
// configured, otherwise an allowlist echo in addition to gin-contrib/cors.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"}
	expose := []string{"X-Request-ID", "Content-Length", "Retry-After"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     headers,
				ExposeHeaders:    expose,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     headers,
			ExposeHeaders:    expose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Reads past the cap return
// *http.MaxBytesError, which the exception handler maps to 413.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
