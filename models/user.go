package models

import "strings"

type Role string

const (
	RoleStudent  Role = "student"
	RoleTeacher  Role = "teacher"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

// Roles lists the owner roles a ticket list can be filtered on.
var Roles = []Role{RoleStudent, RoleTeacher, RoleEmployee, RoleAdmin}

type User struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     Role   `json:"role"`
}

// DisplayName is the local part of the email, which is what the dashboards greet with.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name, _, _ := strings.Cut(u.Email, "@")
	return name
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Owner is the subset of the owning user that admin ticket listings embed.
type Owner struct {
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     Role   `json:"role"`
}

// Registration is the payload of POST /api/register.
type Registration struct {
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     Role   `json:"role"`
	Password string `json:"password"`
}
