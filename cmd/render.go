package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"helpdesk/models"
	"helpdesk/views"
)

const (
	columnWidthID       = 6
	columnWidthStatus   = 13
	columnWidthPriority = 8
	columnWidthCategory = 11
	columnWidthOwner    = 24
	columnWidthTitle    = 40
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(10)

	statusColors = map[models.Status]lipgloss.Color{
		models.StatusOpen:       lipgloss.Color("3"),
		models.StatusInProgress: lipgloss.Color("4"),
		models.StatusResolved:   lipgloss.Color("2"),
	}
	tagColors = map[models.AuditTag]lipgloss.Color{
		models.AuditDelete: lipgloss.Color("1"),
		models.AuditCreate: lipgloss.Color("2"),
		models.AuditUpdate: lipgloss.Color("4"),
		models.AuditOther:  lipgloss.Color("8"),
	}
)

func cell(width int, s string) string {
	return lipgloss.NewStyle().Width(width).MaxWidth(width).Render(ansi.Truncate(s, width-1, "…"))
}

func statusCell(s models.Status) string {
	return lipgloss.NewStyle().
		Width(columnWidthStatus).
		Foreground(statusColors[s]).
		Render(views.Label(string(s)))
}

func renderStats(w io.Writer, s models.Stats) {
	fmt.Fprintf(w, "%s %d  %s %d  %s %d  %s %d\n",
		faintStyle.Render("total"), s.Total,
		faintStyle.Render("open"), s.Open,
		faintStyle.Render("in progress"), s.InProgress,
		faintStyle.Render("resolved"), s.Resolved,
	)
}

// renderTickets prints one row per ticket; withOwner adds the owner column admins see.
func renderTickets(w io.Writer, tickets []models.Ticket, withOwner bool) {
	if len(tickets) == 0 {
		fmt.Fprintln(w, faintStyle.Render("No tickets found."))
		return
	}
	header := cell(columnWidthID, "ID") +
		cell(columnWidthStatus, "STATUS") +
		cell(columnWidthPriority, "PRIO") +
		cell(columnWidthCategory, "CATEGORY")
	if withOwner {
		header += cell(columnWidthOwner, "OWNER")
	}
	fmt.Fprintln(w, headerStyle.Render(header+"TITLE"))

	for _, t := range tickets {
		row := cell(columnWidthID, "#"+strconv.Itoa(t.ID)) +
			statusCell(t.Status) +
			cell(columnWidthPriority, string(t.Priority)) +
			cell(columnWidthCategory, string(t.Category))
		if withOwner {
			owner := ""
			if t.Owner != nil {
				owner = t.Owner.Email
			}
			row += cell(columnWidthOwner, owner)
		}
		fmt.Fprintln(w, row+ansi.Truncate(t.Title, columnWidthTitle, "…"))
	}
}

func renderTicketDetail(w io.Writer, d views.TicketDetail) {
	t := d.Ticket
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("#%d %s", t.ID, t.Title)))
	fmt.Fprintln(w, labelStyle.Render("Status")+statusCell(t.Status))
	fmt.Fprintln(w, labelStyle.Render("Priority")+views.Label(string(t.Priority)))
	fmt.Fprintln(w, labelStyle.Render("Category")+views.Label(string(t.Category)))
	if t.Owner != nil {
		fmt.Fprintln(w, labelStyle.Render("Owner")+t.Owner.Email)
	}
	fmt.Fprintln(w, labelStyle.Render("Opened")+t.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, t.Description)
	fmt.Fprintln(w)
	renderComments(w, d.Comments)
}

func renderComments(w io.Writer, rows []views.CommentRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, faintStyle.Render("No comments yet."))
		return
	}
	for _, r := range rows {
		who := "user #" + strconv.Itoa(r.Comment.AuthorID)
		if r.Mine {
			who = "you"
		}
		fmt.Fprintln(w, faintStyle.Render(fmt.Sprintf("%s · %s", who, r.Comment.CreatedAt.Local().Format("2006-01-02 15:04"))))
		fmt.Fprintln(w, "  "+strings.ReplaceAll(r.Comment.Content, "\n", "\n  "))
	}
}

func renderAudit(w io.Writer, log views.AuditLog) {
	fmt.Fprintf(w, "%d of %d entries  ", len(log.Rows), log.Total)
	for _, tag := range []models.AuditTag{models.AuditCreate, models.AuditUpdate, models.AuditDelete, models.AuditOther} {
		fmt.Fprintf(w, "%s %d  ", lipgloss.NewStyle().Foreground(tagColors[tag]).Render(strings.ToLower(string(tag))), log.Counts[tag])
	}
	fmt.Fprintln(w)
	if len(log.Rows) == 0 {
		return
	}
	fmt.Fprintln(w, headerStyle.Render(cell(20, "WHEN")+cell(18, "ACTION")+cell(8, "USER")+cell(14, "TARGET")+"DETAILS"))
	for _, r := range log.Rows {
		e := r.Entry
		action := lipgloss.NewStyle().Width(18).Foreground(tagColors[r.Tag]).Render(ansi.Truncate(e.Action, 17, "…"))
		fmt.Fprintln(w, cell(20, e.Timestamp.Local().Format("2006-01-02 15:04:05"))+
			action+
			cell(8, "#"+strconv.Itoa(e.UserID))+
			cell(14, fmt.Sprintf("%s #%d", e.TargetType, e.TargetID))+
			e.Details)
	}
}

func renderUser(w io.Writer, u *models.User, home string) {
	fmt.Fprintln(w, labelStyle.Render("Email")+u.Email)
	if u.FullName != "" {
		fmt.Fprintln(w, labelStyle.Render("Name")+u.FullName)
	}
	fmt.Fprintln(w, labelStyle.Render("Role")+string(u.Role))
	fmt.Fprintln(w, labelStyle.Render("Home")+home)
}
