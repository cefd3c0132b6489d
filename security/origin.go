package security

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v5"
)

// HostsFor lists the Host values the console answers to when listening on
// listenAddr. A wildcard bind returns nil, which turns the Host check off.
func HostsFor(listenAddr string) []string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil
	}
	switch host {
	case "", "0.0.0.0", "::":
		return nil
	case "127.0.0.1", "localhost", "::1":
		return []string{
			net.JoinHostPort("127.0.0.1", port),
			net.JoinHostPort("localhost", port),
			net.JoinHostPort("::1", port),
		}
	}
	return []string{net.JoinHostPort(host, port)}
}

// SameOrigin refuses requests addressed to a host outside hosts, and state-changing
// requests a browser marks as coming from another site. Requests without
// Origin or Sec-Fetch-Site pass on to the form token check.
// onReject renders the refusal; nil answers a bare 403.
func SameOrigin(hosts []string, onReject echo.HandlerFunc) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = true
	}
	reject := func(c echo.Context, reason string) error {
		slog.Warn("request refused", "reason", reason, "method", c.Request().Method, "path", c.Request().URL.Path,
			"host", c.Request().Host, "origin", c.Request().Header.Get(echo.HeaderOrigin))
		if onReject != nil {
			return onReject(c)
		}
		return c.String(http.StatusForbidden, "Request refused")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if len(allowed) > 0 && !allowed[strings.ToLower(req.Host)] {
				return reject(c, "unknown host")
			}

			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}
			switch req.Header.Get("Sec-Fetch-Site") {
			case "", "same-origin", "none":
			default:
				return reject(c, "cross-site fetch")
			}
			if origin := req.Header.Get(echo.HeaderOrigin); origin != "" {
				u, err := url.Parse(origin)
				if err != nil || u.Host == "" || !strings.EqualFold(u.Host, req.Host) {
					return reject(c, "foreign origin")
				}
			}
			return next(c)
		}
	}
}
