package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v5"

	"helpdesk/internal/status"
	"helpdesk/models"
	"helpdesk/security"
	"helpdesk/views"
)

type SessionService interface {
	Snapshot() models.Session
	Login(ctx context.Context, email, password string) (*models.User, error)
	Logout(ctx context.Context) error
}

type TicketService interface {
	Tickets() []models.Ticket
	Loading() bool
	Fetch(ctx context.Context) error
	Add(ctx context.Context, t models.NewTicket) (models.Ticket, error)
	UpdateStatus(ctx context.Context, id int, st models.Status) (models.Ticket, error)
	Delete(ctx context.Context, id int) error
	Comments(ctx context.Context, ticketID int) ([]models.Comment, error)
	AddComment(ctx context.Context, ticketID int, content string) (models.Comment, error)
}

type AuditService interface {
	List(ctx context.Context) ([]models.AuditEntry, error)
}

// Console serves the help desk pages. Every page reads the stores; none of them keeps
// state of its own beyond the query string.
type Console struct {
	session SessionService
	tickets TicketService
	audit   AuditService
	render  *Renderer
	log     *slog.Logger
	now     func() time.Time
}

func NewConsole(session SessionService, tickets TicketService, audit AuditService, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		session: session,
		tickets: tickets,
		audit:   audit,
		render:  NewRenderer(),
		log:     logger.With("component", "console"),
		now:     time.Now,
	}
}

type option struct {
	Value    string
	Label    string
	Selected bool
}

// options prepends an "all" entry when allLabel is set.
func options[T ~string](values []T, selected, allLabel string) []option {
	out := make([]option, 0, len(values)+1)
	if allLabel != "" {
		out = append(out, option{Value: string(models.CategoryAll), Label: allLabel, Selected: selected == "" || selected == string(models.CategoryAll)})
	}
	for _, v := range values {
		s := string(v)
		out = append(out, option{Value: s, Label: views.Label(s), Selected: s == selected})
	}
	return out
}

func filterFrom(c echo.Context) models.TicketFilter {
	return models.TicketFilter{
		Search:    strings.TrimSpace(c.QueryParam("q")),
		Status:    c.QueryParam("status"),
		Category:  c.QueryParam("category"),
		OwnerRole: c.QueryParam("role"),
	}
}

func ticketID(c echo.Context) (int, bool) {
	id, err := strconv.Atoi(c.PathParam("id"))
	return id, err == nil && id > 0
}

// message is what a page shows for err. A session error never reaches a page: the
// caller redirects to sign-in instead.
func message(err error) string {
	switch status.KindOf(err) {
	case status.KindAuth:
		return "Sign-in failed. Check your credentials."
	case status.KindValidation:
		return status.DetailOf(err)
	case status.KindForbidden:
		return "You are not allowed to do that."
	case status.KindNotFound:
		return "That ticket no longer exists."
	case status.KindNetwork:
		return "The help desk is unreachable right now. Try again shortly."
	}
	return "Something went wrong."
}

// formCode is the status of a form page re-rendered with err inline.
func formCode(err error) int {
	if status.Is(err, status.KindNetwork) {
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
}

// sessionLost reports whether err ended the session; the stores have already
// invalidated it, so the request is sent to sign-in.
func (h *Console) sessionLost(c echo.Context, err error) (bool, error) {
	if !status.Is(err, status.KindSession) {
		return false, nil
	}
	h.log.Info("session ended during request", "path", c.Path(), "error", err)
	return true, c.Redirect(http.StatusSeeOther, security.PathLogin)
}

func (h *Console) Root(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, security.HomeFor(security.SessionFrom(c).User))
}

func (h *Console) LoginPage(c echo.Context) error {
	if sess := h.session.Snapshot(); sess.Authenticated() {
		return c.Redirect(http.StatusSeeOther, security.HomeFor(sess.User))
	}
	return h.render.HTML(c, http.StatusOK, "login.pongo2", pongo2.Context{})
}

func (h *Console) Login(c echo.Context) error {
	email := strings.TrimSpace(c.FormValue("email"))
	user, err := h.session.Login(c.Request().Context(), email, c.FormValue("password"))
	if err != nil {
		code := http.StatusUnauthorized
		switch status.KindOf(err) {
		case status.KindValidation:
			code = http.StatusUnprocessableEntity
		case status.KindNetwork:
			code = http.StatusBadGateway
		}
		h.log.Info("sign-in failed", "email", email, "kind", status.KindOf(err))
		return h.render.HTML(c, code, "login.pongo2", pongo2.Context{
			"email": email,
			"error": message(err),
		})
	}
	return c.Redirect(http.StatusSeeOther, security.HomeFor(user))
}

func (h *Console) LoginThrottled(c echo.Context) error {
	return h.render.HTML(c, http.StatusTooManyRequests, "login.pongo2", pongo2.Context{
		"email": c.FormValue("email"),
		"error": "Too many sign-in attempts. Wait a minute and try again.",
	})
}

// Refused answers requests turned away by the host and origin checks.
func (h *Console) Refused(c echo.Context) error {
	return h.render.errorPage(c, http.StatusForbidden, "This request came from another site and was refused.")
}

// FormExpired answers a state-changing request whose form token is missing or stale.
func (h *Console) FormExpired(c echo.Context, err error) error {
	h.log.Warn("form token rejected", "path", c.Request().URL.Path, "error", err)
	return h.render.errorPage(c, http.StatusForbidden, "This form has expired. Reload the page and try again.")
}

func (h *Console) Logout(c echo.Context) error {
	if err := h.session.Logout(c.Request().Context()); err != nil {
		h.log.Warn("clearing persisted session failed", "error", err)
	}
	return c.Redirect(http.StatusSeeOther, security.PathLogin)
}

func (h *Console) Dashboard(c echo.Context) error {
	sess := security.SessionFrom(c)
	f := filterFrom(c)
	d := views.BuildDashboard(sess, h.tickets.Tickets(), h.tickets.Loading(), f)
	return h.render.HTML(c, http.StatusOK, "dashboard.pongo2", pongo2.Context{
		"user":           sess.User,
		"d":              d,
		"status_options": options(models.Statuses, d.Filter.Status, "All statuses"),
	})
}

// Refresh refetches the ticket list and returns to the page the user came from.
func (h *Console) Refresh(c echo.Context) error {
	if err := h.tickets.Fetch(c.Request().Context()); err != nil {
		if lost, rerr := h.sessionLost(c, err); lost {
			return rerr
		}
		h.log.Warn("refresh failed", "error", err)
	}
	return c.Redirect(http.StatusSeeOther, backTo(c, security.HomeFor(security.SessionFrom(c).User)))
}

// backTo returns the local referring path, or fallback.
func backTo(c echo.Context, fallback string) string {
	ref, err := url.Parse(c.Request().Referer())
	if err != nil || ref.Path == "" || !strings.HasPrefix(ref.Path, "/") || (ref.Host != "" && ref.Host != c.Request().Host) {
		return fallback
	}
	if ref.RawQuery != "" {
		return ref.Path + "?" + ref.RawQuery
	}
	return ref.Path
}

func (h *Console) createForm(c echo.Context, code int, values models.NewTicket, errMsg string) error {
	f := views.BuildCreateTicketForm(values, errMsg)
	return h.render.HTML(c, code, "create_ticket.pongo2", pongo2.Context{
		"user":             security.SessionFrom(c).User,
		"f":                f,
		"category_options": options(f.Categories, string(f.Values.Category), ""),
		"priority_options": options(f.Priorities, string(f.Values.Priority), ""),
	})
}

func (h *Console) CreateTicketPage(c echo.Context) error {
	return h.createForm(c, http.StatusOK, models.NewTicket{}, "")
}

func (h *Console) CreateTicket(c echo.Context) error {
	in := models.NewTicket{
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Category:    models.Category(c.FormValue("category")),
		Priority:    models.Priority(c.FormValue("priority")),
	}
	t, err := h.tickets.Add(c.Request().Context(), in)
	if err != nil {
		if lost, rerr := h.sessionLost(c, err); lost {
			return rerr
		}
		return h.createForm(c, formCode(err), in.Normalize(), message(err))
	}
	h.log.Info("ticket created", "id", t.ID)
	return c.Redirect(http.StatusSeeOther, security.PathDashboard)
}

// lookup finds a ticket in the store, refetching once when it is not there yet.
func (h *Console) lookup(ctx context.Context, id int) (models.Ticket, error) {
	if t, ok := views.FindTicket(h.tickets.Tickets(), id); ok {
		return t, nil
	}
	if err := h.tickets.Fetch(ctx); err != nil {
		return models.Ticket{}, err
	}
	if t, ok := views.FindTicket(h.tickets.Tickets(), id); ok {
		return t, nil
	}
	return models.Ticket{}, &status.Error{Op: "tickets.lookup", Kind: status.KindNotFound, Code: http.StatusNotFound}
}

func (h *Console) detail(c echo.Context, code int, errMsg string) error {
	id, ok := ticketID(c)
	if !ok {
		return h.render.errorPage(c, http.StatusNotFound, "There is no such ticket.")
	}
	ctx := c.Request().Context()
	sess := security.SessionFrom(c)

	t, err := h.lookup(ctx, id)
	if err == nil {
		var comments []models.Comment
		comments, err = h.tickets.Comments(ctx, id)
		if err == nil {
			return h.render.HTML(c, code, "ticket.pongo2", pongo2.Context{
				"user": sess.User,
				"d":    views.BuildTicketDetail(sess, t, comments, errMsg),
				"back": security.HomeFor(sess.User),
			})
		}
	}
	if lost, rerr := h.sessionLost(c, err); lost {
		return rerr
	}
	switch status.KindOf(err) {
	case status.KindNotFound:
		return h.render.errorPage(c, http.StatusNotFound, "There is no such ticket.")
	case status.KindForbidden:
		return h.render.errorPage(c, http.StatusForbidden, message(err))
	}
	return h.render.errorPage(c, http.StatusBadGateway, message(err))
}

func (h *Console) Ticket(c echo.Context) error {
	return h.detail(c, http.StatusOK, "")
}

func (h *Console) AddComment(c echo.Context) error {
	id, ok := ticketID(c)
	if !ok {
		return h.render.errorPage(c, http.StatusNotFound, "There is no such ticket.")
	}
	if _, err := h.tickets.AddComment(c.Request().Context(), id, c.FormValue("content")); err != nil {
		if lost, rerr := h.sessionLost(c, err); lost {
			return rerr
		}
		return h.detail(c, formCode(err), message(err))
	}
	return c.Redirect(http.StatusSeeOther, "/tickets/"+strconv.Itoa(id))
}

type adminRow struct {
	Ticket   models.Ticket
	Statuses []option
}

func (h *Console) Admin(c echo.Context) error {
	sess := security.SessionFrom(c)
	d := views.BuildAdminDashboard(sess, h.tickets.Tickets(), h.tickets.Loading(), filterFrom(c), h.now())

	rows := make([]adminRow, 0, len(d.Tickets))
	for _, t := range d.Tickets {
		rows = append(rows, adminRow{Ticket: t, Statuses: options(d.Statuses, string(t.Status), "")})
	}
	return h.render.HTML(c, http.StatusOK, "admin.pongo2", pongo2.Context{
		"user":             sess.User,
		"d":                d,
		"rows":             rows,
		"error":            c.QueryParam("error"),
		"status_options":   options(d.Statuses, d.Filter.Status, "All statuses"),
		"category_options": options(d.Categories, d.Filter.Category, "All categories"),
		"role_options":     options(d.Roles, d.Filter.OwnerRole, "All roles"),
	})
}

// adminDone returns to the admin page, carrying a failure as an inline message.
func (h *Console) adminDone(c echo.Context, err error) error {
	if err == nil {
		return c.Redirect(http.StatusSeeOther, security.PathAdmin)
	}
	if lost, rerr := h.sessionLost(c, err); lost {
		return rerr
	}
	return c.Redirect(http.StatusSeeOther, security.PathAdmin+"?error="+url.QueryEscape(message(err)))
}

func (h *Console) UpdateStatus(c echo.Context) error {
	id, ok := ticketID(c)
	if !ok {
		return h.adminDone(c, &status.Error{Op: "tickets.status", Kind: status.KindNotFound})
	}
	st, ok := models.ParseStatus(c.FormValue("status"))
	if !ok {
		return h.adminDone(c, status.Validation("tickets.status", "unknown status %q", c.FormValue("status")))
	}
	_, err := h.tickets.UpdateStatus(c.Request().Context(), id, st)
	if err == nil {
		h.log.Info("ticket status changed", "id", id, "status", st)
	}
	return h.adminDone(c, err)
}

func (h *Console) DeleteTicket(c echo.Context) error {
	id, ok := ticketID(c)
	if !ok {
		return h.adminDone(c, &status.Error{Op: "tickets.delete", Kind: status.KindNotFound})
	}
	err := h.tickets.Delete(c.Request().Context(), id)
	if err == nil {
		h.log.Info("ticket deleted", "id", id)
	}
	return h.adminDone(c, err)
}

func (h *Console) Audit(c echo.Context) error {
	sess := security.SessionFrom(c)
	search := strings.TrimSpace(c.QueryParam("q"))

	entries, err := h.audit.List(c.Request().Context())
	if lost, rerr := h.sessionLost(c, err); lost {
		return rerr
	}
	log := views.BuildAuditLog(entries, search)
	code := http.StatusOK
	if err != nil {
		log.Error = message(err)
		code = http.StatusBadGateway
		if status.Is(err, status.KindForbidden) {
			code = http.StatusForbidden
		}
	}

	counts := map[string]int{}
	for _, tag := range []models.AuditTag{models.AuditCreate, models.AuditUpdate, models.AuditDelete, models.AuditOther} {
		counts[string(tag)] = log.Counts[tag]
	}
	return h.render.HTML(c, code, "audit.pongo2", pongo2.Context{
		"user":   sess.User,
		"log":    log,
		"counts": counts,
	})
}
