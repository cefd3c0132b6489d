// Package apitest runs an in-process stand-in for the help-desk REST backend.
package apitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v5"

	"helpdesk/models"
)

type account struct {
	user     models.User
	password string
}

type fault struct {
	code   int
	detail string
}

type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by email
	tokens   map[string]int      // token -> user id
	tickets  []models.Ticket
	comments []models.Comment
	audit    []models.AuditEntry
	nextID   int
	now      func() time.Time

	faults   map[string][]fault
	holds    map[string][]chan struct{}
	releases []func()
	calls    map[string]int
}

// New starts a backend that is shut down when the test ends.
func New(t testing.TB) *Backend {
	b := &Backend{
		accounts: map[string]*account{},
		tokens:   map[string]int{},
		nextID:   1,
		faults:   map[string][]fault{},
		holds:    map[string][]chan struct{}{},
		calls:    map[string]int{},
	}
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time {
		base = base.Add(time.Minute)
		return base
	}

	e := echo.New()
	e.Use(b.intercept)
	e.POST("/api/token", b.token)
	e.POST("/api/register", b.register)
	e.GET("/api/me", b.authed(b.me))
	e.GET("/api/tickets", b.authed(b.listTickets))
	e.POST("/api/tickets", b.authed(b.createTicket))
	e.PATCH("/api/tickets/:id", b.authed(b.updateStatus))
	e.DELETE("/api/tickets/:id", b.authed(b.deleteTicket))
	e.GET("/api/tickets/:id/comments/", b.authed(b.listComments))
	e.POST("/api/tickets/:id/comments/", b.authed(b.createComment))
	e.GET("/api/audit/", b.authed(b.listAudit))

	b.Server = httptest.NewServer(e)
	t.Cleanup(func() {
		b.mu.Lock()
		releases := b.releases
		b.mu.Unlock()
		for _, release := range releases {
			release()
		}
		b.Server.Close()
	})
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) AddUser(email, password string, role models.Role) models.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := models.User{ID: b.id(), Email: email, Role: role}
	b.accounts[email] = &account{user: u, password: password}
	return u
}

// IssueToken mints a token for an existing user without going through /api/token.
func (b *Backend) IssueToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[email]
	if !ok {
		panic("apitest: unknown user " + email)
	}
	return b.mint(acc.user.ID)
}

// RevokeTokens makes every issued token answer 401 from now on.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = map[string]int{}
}

// SeedTicket stores t as owned by ownerEmail, assigning an id and timestamp when missing.
func (b *Backend) SeedTicket(ownerEmail string, t models.Ticket) models.Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[ownerEmail]
	if !ok {
		panic("apitest: unknown user " + ownerEmail)
	}
	if t.ID == 0 {
		t.ID = b.id()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = b.now()
	}
	if t.Status == "" {
		t.Status = models.StatusOpen
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	owner := acc.user.ID
	t.OwnerID = &owner
	b.tickets = append(b.tickets, t)
	return t
}

func (b *Backend) SeedAudit(entries ...models.AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range entries {
		if a.ID == 0 {
			a.ID = b.id()
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = b.now()
		}
		b.audit = append(b.audit, a)
	}
}

// Fail queues a one-shot error answer for the next matching request, e.g.
// Fail("GET /api/me", 500, "boom"). Paths use the route pattern, ":id" included.
func (b *Backend) Fail(route string, code int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[route] = append(b.faults[route], fault{code: code, detail: detail})
}

// Hold parks the next request on route until the returned func is called.
func (b *Backend) Hold(route string) (release func()) {
	ch := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(ch) }) }

	b.mu.Lock()
	b.holds[route] = append(b.holds[route], ch)
	b.releases = append(b.releases, release)
	b.mu.Unlock()
	return release
}

// Calls reports how many requests reached route.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *Backend) Tickets() []models.Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Ticket, len(b.tickets))
	copy(out, b.tickets)
	return out
}

func (b *Backend) id() int {
	id := b.nextID
	b.nextID++
	return id
}

func (b *Backend) mint(userID int) string {
	tok := fmt.Sprintf("tok-%d-%d", userID, b.id())
	b.tokens[tok] = userID
	return tok
}

func (b *Backend) intercept(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := c.Request().Method + " " + c.Path()

		b.mu.Lock()
		b.calls[route]++
		var hold chan struct{}
		if q := b.holds[route]; len(q) > 0 {
			hold = q[0]
			b.holds[route] = q[1:]
		}
		var f *fault
		if q := b.faults[route]; len(q) > 0 {
			f = &q[0]
			b.faults[route] = q[1:]
		}
		b.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		if f != nil {
			return c.JSON(f.code, map[string]string{"detail": f.detail})
		}
		return next(c)
	}
}

func (b *Backend) authed(next func(c echo.Context, u models.User) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		uid, found := b.tokens[tok]
		var user models.User
		if found {
			for _, acc := range b.accounts {
				if acc.user.ID == uid {
					user = acc.user
				}
			}
		}
		b.mu.Unlock()
		if !ok || !found {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
		}
		return next(c, user)
	}
}

func (b *Backend) token(c echo.Context) error {
	email, password := c.FormValue("username"), c.FormValue("password")
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[email]
	if !ok || acc.password != password {
		return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"access_token": b.mint(acc.user.ID),
		"token_type":   "bearer",
	})
}

func (b *Backend) register(c echo.Context) error {
	var reg models.Registration
	if err := c.Bind(&reg); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "malformed body"})
	}
	if reg.Email == "" || reg.Password == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "email"}, "msg": "field required"}},
		})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[reg.Email]; exists {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "Email already registered"})
	}
	u := models.User{ID: b.id(), Email: reg.Email, FullName: reg.FullName, Role: reg.Role}
	b.accounts[reg.Email] = &account{user: u, password: reg.Password}
	return c.JSON(http.StatusOK, u)
}

func (b *Backend) me(c echo.Context, u models.User) error {
	return c.JSON(http.StatusOK, u)
}

func (b *Backend) listTickets(c echo.Context, u models.User) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Ticket{}
	for _, t := range b.tickets {
		switch {
		case u.IsAdmin():
			t.Owner = b.ownerOf(t)
			out = append(out, t)
		case t.OwnerID != nil && *t.OwnerID == u.ID:
			out = append(out, t)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) ownerOf(t models.Ticket) *models.Owner {
	if t.OwnerID == nil {
		return nil
	}
	for _, acc := range b.accounts {
		if acc.user.ID == *t.OwnerID {
			return &models.Owner{Email: acc.user.Email, FullName: acc.user.FullName, Role: acc.user.Role}
		}
	}
	return nil
}

func (b *Backend) createTicket(c echo.Context, u models.User) error {
	var in models.NewTicket
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "malformed body"})
	}
	if in.Title == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "title required"})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	owner := u.ID
	t := models.Ticket{
		ID:          b.id(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Priority:    in.Priority,
		Status:      models.StatusOpen,
		CreatedAt:   b.now(),
		OwnerID:     &owner,
	}
	b.tickets = append(b.tickets, t)
	b.record("CREATE_TICKET", u.ID, t.ID, t.Title)
	return c.JSON(http.StatusOK, t)
}

func (b *Backend) updateStatus(c echo.Context, u models.User) error {
	if !u.IsAdmin() {
		return c.JSON(http.StatusForbidden, map[string]string{"detail": "Not enough permissions"})
	}
	id, err := strconv.Atoi(c.PathParam("id"))
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "bad id"})
	}
	st, ok := models.ParseStatus(c.QueryParam("status"))
	if !ok {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "invalid status"})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.tickets {
		if b.tickets[i].ID == id {
			b.tickets[i].Status = st
			b.record("UPDATE_STATUS", u.ID, id, string(st))
			return c.JSON(http.StatusOK, b.tickets[i])
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"detail": "Ticket not found"})
}

func (b *Backend) deleteTicket(c echo.Context, u models.User) error {
	if !u.IsAdmin() {
		return c.JSON(http.StatusForbidden, map[string]string{"detail": "Not enough permissions"})
	}
	id, _ := strconv.Atoi(c.PathParam("id"))
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.tickets {
		if b.tickets[i].ID == id {
			b.tickets = append(b.tickets[:i], b.tickets[i+1:]...)
			b.record("DELETE_TICKET", u.ID, id, "")
			return c.NoContent(http.StatusNoContent)
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"detail": "Ticket not found"})
}

func (b *Backend) listComments(c echo.Context, u models.User) error {
	id, _ := strconv.Atoi(c.PathParam("id"))
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Comment{}
	// newest first, the client is expected to reorder
	for i := len(b.comments) - 1; i >= 0; i-- {
		if b.comments[i].TicketID == id {
			out = append(out, b.comments[i])
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) createComment(c echo.Context, u models.User) error {
	id, _ := strconv.Atoi(c.PathParam("id"))
	var in struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&in); err != nil || strings.TrimSpace(in.Content) == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "content required"})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cm := models.Comment{ID: b.id(), TicketID: id, AuthorID: u.ID, Content: in.Content, CreatedAt: b.now()}
	b.comments = append(b.comments, cm)
	return c.JSON(http.StatusOK, cm)
}

func (b *Backend) listAudit(c echo.Context, u models.User) error {
	if !u.IsAdmin() {
		return c.JSON(http.StatusForbidden, map[string]string{"detail": "Not enough permissions"})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.AuditEntry, len(b.audit))
	copy(out, b.audit)
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) record(action string, userID, targetID int, details string) {
	b.audit = append(b.audit, models.AuditEntry{
		ID:         b.id(),
		Action:     action,
		UserID:     userID,
		TargetType: "ticket",
		TargetID:   targetID,
		Details:    details,
		Timestamp:  b.now(),
	})
}
