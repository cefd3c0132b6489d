// Package views turns store snapshots plus local UI state into what a screen shows.
// Nothing here talks to the backend.
package views

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"helpdesk/models"
	"helpdesk/security"
)

type CategoryChip struct {
	Category models.Category
	Label    string
	Count    int
	Active   bool
}

type Dashboard struct {
	User      *models.User
	Name      string
	Stats     models.Stats
	Chips     []CategoryChip
	Statuses  []models.Status
	Filter    models.TicketFilter
	Tickets   []models.Ticket
	Loading   bool
	CanCreate bool
	CanAdmin  bool
}

// Label turns a vocabulary value such as in_progress into "In progress".
func Label(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// chips lists "all", every current category, and legacy categories that still occur.
func chips(tickets []models.Ticket, active string) []CategoryChip {
	counts := map[models.Category]int{}
	for _, t := range tickets {
		counts[t.Category]++
	}
	if active == "" {
		active = string(models.CategoryAll)
	}

	out := []CategoryChip{{
		Category: models.CategoryAll,
		Label:    "All",
		Count:    len(tickets),
		Active:   active == string(models.CategoryAll),
	}}
	add := func(c models.Category) {
		out = append(out, CategoryChip{Category: c, Label: Label(string(c)), Count: counts[c], Active: active == string(c)})
	}
	for _, c := range models.Categories {
		add(c)
	}
	for _, c := range models.LegacyCategories {
		if counts[c] > 0 {
			add(c)
		}
	}
	return out
}

func BuildDashboard(sess models.Session, tickets []models.Ticket, loading bool, f models.TicketFilter) Dashboard {
	// owner role is an admin-only filter
	f.OwnerRole = ""
	return Dashboard{
		User:      sess.User,
		Name:      sess.User.DisplayName(),
		Stats:     models.ComputeStats(tickets),
		Chips:     chips(tickets, f.Category),
		Statuses:  models.Statuses,
		Filter:    f,
		Tickets:   f.Apply(tickets),
		Loading:   loading,
		CanCreate: security.Allowed(sess.Role(), security.CreateTicket),
		CanAdmin:  security.Allowed(sess.Role(), security.ViewAdmin),
	}
}

type AdminDashboard struct {
	User       *models.User
	Name       string
	Greeting   string
	Stats      models.Stats
	Filter     models.TicketFilter
	Tickets    []models.Ticket
	Statuses   []models.Status
	Categories []models.Category
	Roles      []models.Role
	Loading    bool

	CanUpdateStatus bool
	CanDelete       bool
	CanAudit        bool
}

// Greeting depends only on the hour of now.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 18:
		return "Good afternoon"
	}
	return "Good evening"
}

func BuildAdminDashboard(sess models.Session, tickets []models.Ticket, loading bool, f models.TicketFilter, now time.Time) AdminDashboard {
	role := sess.Role()
	if !security.Allowed(role, security.FilterByOwnerRole) {
		f.OwnerRole = ""
	}
	categories := append([]models.Category{}, models.Categories...)
	categories = append(categories, models.LegacyCategories...)

	return AdminDashboard{
		User:            sess.User,
		Name:            sess.User.DisplayName(),
		Greeting:        Greeting(now),
		Stats:           models.ComputeStats(tickets),
		Filter:          f,
		Tickets:         f.Apply(tickets),
		Statuses:        models.Statuses,
		Categories:      categories,
		Roles:           models.Roles,
		Loading:         loading,
		CanUpdateStatus: security.Allowed(role, security.UpdateStatus),
		CanDelete:       security.Allowed(role, security.DeleteTicket),
		CanAudit:        security.Allowed(role, security.ViewAudit),
	}
}

type CreateTicketForm struct {
	Categories []models.Category
	Priorities []models.Priority
	Values     models.NewTicket
	Error      string
}

// BuildCreateTicketForm offers the current vocabulary only; priority defaults to medium.
func BuildCreateTicketForm(values models.NewTicket, errMsg string) CreateTicketForm {
	if values.Priority == "" {
		values.Priority = models.PriorityMedium
	}
	return CreateTicketForm{
		Categories: models.Categories,
		Priorities: models.Priorities,
		Values:     values,
		Error:      errMsg,
	}
}

type AuditRow struct {
	Entry models.AuditEntry
	Tag   models.AuditTag
}

type AuditLog struct {
	Search string
	Rows   []AuditRow
	Counts map[models.AuditTag]int
	Total  int
	Error  string
}

// BuildAuditLog filters on action, details and user id. Counts cover the filtered rows.
func BuildAuditLog(entries []models.AuditEntry, search string) AuditLog {
	log := AuditLog{
		Search: search,
		Rows:   []AuditRow{},
		Counts: map[models.AuditTag]int{},
		Total:  len(entries),
	}
	for _, e := range entries {
		if !e.Matches(search) {
			continue
		}
		tag := e.Tag()
		log.Rows = append(log.Rows, AuditRow{Entry: e, Tag: tag})
		log.Counts[tag]++
	}
	return log
}

type CommentRow struct {
	Comment models.Comment
	Mine    bool
}

type TicketDetail struct {
	Ticket   models.Ticket
	Comments []CommentRow
	Error    string

	CanComment      bool
	CanUpdateStatus bool
	CanDelete       bool
	Statuses        []models.Status
}

func BuildTicketDetail(sess models.Session, t models.Ticket, comments []models.Comment, errMsg string) TicketDetail {
	sorted := append([]models.Comment{}, comments...)
	models.SortComments(sorted)

	rows := make([]CommentRow, 0, len(sorted))
	for _, c := range sorted {
		rows = append(rows, CommentRow{Comment: c, Mine: sess.User != nil && c.AuthorID == sess.User.ID})
	}
	role := sess.Role()
	return TicketDetail{
		Ticket:          t,
		Comments:        rows,
		Error:           errMsg,
		CanComment:      security.Allowed(role, security.Comment),
		CanUpdateStatus: security.Allowed(role, security.UpdateStatus),
		CanDelete:       security.Allowed(role, security.DeleteTicket),
		Statuses:        models.Statuses,
	}
}

// FindTicket looks id up in a store snapshot.
func FindTicket(tickets []models.Ticket, id int) (models.Ticket, bool) {
	for _, t := range tickets {
		if t.ID == id {
			return t, true
		}
	}
	return models.Ticket{}, false
}
