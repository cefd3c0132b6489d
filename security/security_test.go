package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/models"
)

func TestAllowed(t *testing.T) {
	regular := []Action{ViewDashboard, CreateTicket, Comment}
	admin := []Action{ViewAdmin, ViewAudit, UpdateStatus, DeleteTicket, FilterByOwnerRole}

	for _, role := range []models.Role{models.RoleStudent, models.RoleTeacher, models.RoleEmployee, "visitor"} {
		for _, a := range regular {
			assert.True(t, Allowed(role, a), "%s %s", role, a)
		}
		for _, a := range admin {
			assert.False(t, Allowed(role, a), "%s %s", role, a)
		}
	}
	for _, a := range append(regular, admin...) {
		assert.True(t, Allowed(models.RoleAdmin, a))
		assert.False(t, Allowed("", a))
	}
}

func TestHomeFor(t *testing.T) {
	assert.Equal(t, "/admin", HomeFor(&models.User{Role: models.RoleAdmin}))
	assert.Equal(t, "/dashboard", HomeFor(&models.User{Role: models.RoleTeacher}))
	assert.Equal(t, "/login", HomeFor(nil))
}

func TestDecide(t *testing.T) {
	student := &models.User{ID: 1, Email: "s@x", Role: models.RoleStudent}
	admin := &models.User{ID: 2, Email: "a@x", Role: models.RoleAdmin}

	tests := []struct {
		name     string
		sess     models.Session
		action   Action
		decision Decision
		target   string
	}{
		{name: "loading", sess: models.Session{Loading: true}, action: ViewAdmin, decision: Wait},
		{name: "loading with token", sess: models.Session{Loading: true, Token: "t"}, action: ViewDashboard, decision: Wait},
		{name: "no token", sess: models.Session{}, action: ViewDashboard, decision: Redirect, target: "/login"},
		{name: "token without user", sess: models.Session{Token: "t"}, action: ViewDashboard, decision: Redirect, target: "/login"},
		{name: "student dashboard", sess: models.Session{Token: "t", User: student}, action: ViewDashboard, decision: Allow},
		{name: "student create", sess: models.Session{Token: "t", User: student}, action: CreateTicket, decision: Allow},
		{name: "student admin", sess: models.Session{Token: "t", User: student}, action: ViewAdmin, decision: Redirect, target: "/dashboard"},
		{name: "student audit", sess: models.Session{Token: "t", User: student}, action: ViewAudit, decision: Redirect, target: "/dashboard"},
		{name: "admin admin", sess: models.Session{Token: "t", User: admin}, action: ViewAdmin, decision: Allow},
		{name: "admin dashboard", sess: models.Session{Token: "t", User: admin}, action: ViewDashboard, decision: Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, target := Decide(tt.sess, tt.action)
			assert.Equal(t, tt.decision, decision)
			assert.Equal(t, tt.target, target)
		})
	}
}

type fixedSession models.Session

func (f fixedSession) Snapshot() models.Session { return models.Session(f) }

func runGuard(t *testing.T, sess models.Session, action Action) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/somewhere", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	reached := false
	h := NewGuard(fixedSession(sess)).Protect(action)(func(c echo.Context) error {
		reached = true
		assert.Equal(t, sess.Token, SessionFrom(c).Token)
		return c.String(http.StatusOK, "ok")
	})
	require.NoError(t, h(c))
	return rec, reached
}

func TestGuard_Protect(t *testing.T) {
	t.Run("loading renders placeholder", func(t *testing.T) {
		rec, reached := runGuard(t, models.Session{Loading: true}, ViewDashboard)
		assert.False(t, reached)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Loading")
		assert.Empty(t, rec.Header().Get("Location"))
	})

	t.Run("anonymous redirected to login", func(t *testing.T) {
		rec, reached := runGuard(t, models.Session{}, ViewDashboard)
		assert.False(t, reached)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})

	t.Run("non-admin redirected to dashboard", func(t *testing.T) {
		rec, reached := runGuard(t, models.Session{Token: "t", User: &models.User{Role: models.RoleEmployee}}, ViewAudit)
		assert.False(t, reached)
		assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	})

	t.Run("admitted", func(t *testing.T) {
		rec, reached := runGuard(t, models.Session{Token: "t", User: &models.User{Role: models.RoleAdmin}}, ViewAudit)
		assert.True(t, reached)
		assert.Equal(t, "ok", rec.Body.String())
	})
}

func postLogin(t *testing.T, mw echo.MiddlewareFunc, method string) int {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/login", nil)
	req.RemoteAddr = "10.0.0.7:4242"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	require.NoError(t, h(c))
	return rec.Code
}

func TestLoginThrottle_InProcess(t *testing.T) {
	r := NewRateLimiter(nil, "hd:", 3, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	mw := r.LoginThrottle(nil)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, postLogin(t, mw, http.MethodPost))
	}
	assert.Equal(t, http.StatusTooManyRequests, postLogin(t, mw, http.MethodPost))
	assert.Equal(t, http.StatusNoContent, postLogin(t, mw, http.MethodGet), "the form itself is never throttled")

	now = now.Add(time.Minute + time.Second)
	assert.Equal(t, http.StatusNoContent, postLogin(t, mw, http.MethodPost))
}

func TestLoginThrottle_CustomRejection(t *testing.T) {
	r := NewRateLimiter(nil, "", 1, time.Minute)
	mw := r.LoginThrottle(func(c echo.Context) error {
		return c.String(http.StatusTooManyRequests, "slow down")
	})

	postLogin(t, mw, http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, postLogin(t, mw, http.MethodPost))
}

func TestLoginThrottle_Redis(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRateLimiter(db, "hd:", 2, time.Minute)
	mw := r.LoginThrottle(nil)
	key := "hd:throttle:login:10.0.0.7"

	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectIncr(key).SetVal(3)

	assert.Equal(t, http.StatusNoContent, postLogin(t, mw, http.MethodPost))
	assert.Equal(t, http.StatusNoContent, postLogin(t, mw, http.MethodPost))
	assert.Equal(t, http.StatusTooManyRequests, postLogin(t, mw, http.MethodPost))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginThrottle_RedisDownFallsBack(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRateLimiter(db, "hd:", 1, time.Minute)
	mw := r.LoginThrottle(nil)
	key := "hd:throttle:login:10.0.0.7"

	mock.ExpectIncr(key).SetErr(errors.New("connection refused"))
	mock.ExpectIncr(key).SetErr(errors.New("connection refused"))

	assert.Equal(t, http.StatusNoContent, postLogin(t, mw, http.MethodPost))
	assert.Equal(t, http.StatusTooManyRequests, postLogin(t, mw, http.MethodPost))
}
