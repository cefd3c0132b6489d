package security

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"helpdesk/models"
)

type Decision int

const (
	Allow Decision = iota
	// Wait renders the loading placeholder; the session is still being restored.
	Wait
	Redirect
)

// Decide runs the two gates: signed in, then role. While the session is loading
// nothing is decided.
func Decide(sess models.Session, action Action) (Decision, string) {
	switch {
	case sess.Loading:
		return Wait, ""
	case !sess.Authenticated():
		return Redirect, PathLogin
	case !Allowed(sess.Role(), action):
		return Redirect, PathDashboard
	}
	return Allow, ""
}

type SessionReader interface {
	Snapshot() models.Session
}

// ContextSessionKey holds the models.Session a guarded handler was admitted with.
const ContextSessionKey = "session"

type Guard struct {
	session SessionReader
}

func NewGuard(session SessionReader) *Guard {
	return &Guard{session: session}
}

const loadingPage = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Help desk</title></head>
<body><main><p>Loading&hellip;</p></main></body></html>`

// Protect admits the request only when the session may perform action.
func (g *Guard) Protect(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := g.session.Snapshot()
			decision, target := Decide(sess, action)
			switch decision {
			case Wait:
				c.Response().Header().Set("Cache-Control", "no-store")
				return c.HTML(http.StatusOK, loadingPage)
			case Redirect:
				return c.Redirect(http.StatusSeeOther, target)
			}
			c.Set(ContextSessionKey, sess)
			return next(c)
		}
	}
}

// SessionFrom returns the session stored by Protect.
func SessionFrom(c echo.Context) models.Session {
	sess, _ := c.Get(ContextSessionKey).(models.Session)
	return sess
}
