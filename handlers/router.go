package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"helpdesk/security"
	"helpdesk/utils"
)

type RouterOptions struct {
	Limiter       *security.RateLimiter
	EnableMetrics bool
	Redis         *redis.Client // health only; nil when not configured

	// AllowedHosts are the Host headers the console answers; empty skips the check.
	AllowedHosts []string
}

const (
	csrfField  = "_csrf"
	csrfCookie = "helpdesk_csrf"
)

// NewRouter wires every console route behind the guard.
func NewRouter(h *Console, guard *security.Guard, opts RouterOptions) *echo.Echo {
	e := echo.New()
	// the console is reached directly, never through a proxy
	e.IPExtractor = echo.ExtractIPDirect()
	e.Use(middleware.Recover())
	e.Use(requestLog(h.log))
	e.Use(security.SameOrigin(opts.AllowedHosts, h.Refused))
	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "form:" + csrfField,
		ContextKey:     csrfField,
		CookieName:     csrfCookie,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteStrictMode,
		ErrorHandler:   h.FormExpired,
	}))

	login := []echo.MiddlewareFunc{}
	if opts.Limiter != nil {
		login = append(login, opts.Limiter.LoginThrottle(h.LoginThrottled))
	}
	e.GET(security.PathLogin, h.LoginPage)
	e.POST(security.PathLogin, h.Login, login...)
	e.POST("/logout", h.Logout)

	e.GET("/", h.Root, guard.Protect(security.ViewDashboard))
	e.GET(security.PathDashboard, h.Dashboard, guard.Protect(security.ViewDashboard))
	e.POST("/tickets/refresh", h.Refresh, guard.Protect(security.ViewDashboard))
	e.GET("/create-ticket", h.CreateTicketPage, guard.Protect(security.CreateTicket))
	e.POST("/create-ticket", h.CreateTicket, guard.Protect(security.CreateTicket))
	e.GET("/tickets/:id", h.Ticket, guard.Protect(security.ViewDashboard))
	e.POST("/tickets/:id/comments", h.AddComment, guard.Protect(security.Comment))

	admin := e.Group(security.PathAdmin)
	admin.GET("", h.Admin, guard.Protect(security.ViewAdmin))
	admin.GET("/audit", h.Audit, guard.Protect(security.ViewAudit))
	admin.POST("/tickets/:id/status", h.UpdateStatus, guard.Protect(security.UpdateStatus))
	admin.POST("/tickets/:id/delete", h.DeleteTicket, guard.Protect(security.DeleteTicket))

	e.GET("/health", health(opts.Redis))
	if opts.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	e.Any("/*", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, security.PathLogin)
	})
	return e
}

func health(rdb *redis.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		if rdb != nil {
			if err := utils.RedisHealthCheck(c.Request().Context(), rdb); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func requestLog(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"error", err,
			)
			return err
		}
	}
}
