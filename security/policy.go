package security

import "helpdesk/models"

type Action string

const (
	ViewDashboard     Action = "view-dashboard"
	CreateTicket      Action = "create-ticket"
	Comment           Action = "comment"
	ViewAdmin         Action = "view-admin"
	ViewAudit         Action = "view-audit"
	UpdateStatus      Action = "update-status"
	DeleteTicket      Action = "delete-ticket"
	FilterByOwnerRole Action = "filter-by-owner-role"
)

var adminOnly = map[Action]bool{
	ViewAdmin:         true,
	ViewAudit:         true,
	UpdateStatus:      true,
	DeleteTicket:      true,
	FilterByOwnerRole: true,
}

// Allowed is the one place role checks live. Any role other than admin, including
// one the client does not know, is treated as a regular user; no role gets nothing.
func Allowed(role models.Role, action Action) bool {
	switch role {
	case "":
		return false
	case models.RoleAdmin:
		return true
	}
	return !adminOnly[action]
}

const (
	PathLogin     = "/login"
	PathDashboard = "/dashboard"
	PathAdmin     = "/admin"
)

// HomeFor is where a user lands after signing in.
func HomeFor(u *models.User) string {
	switch {
	case u == nil:
		return PathLogin
	case u.IsAdmin():
		return PathAdmin
	}
	return PathDashboard
}
