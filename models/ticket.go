package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Category string

const (
	CategoryAll       Category = "all"
	CategoryTechnical Category = "technical"
	CategoryBilling   Category = "billing"
	CategoryAccess    Category = "access"
	CategoryOther     Category = "other"

	// legacy vocabulary, still present on older tickets
	CategoryStudent  Category = "student"
	CategoryTeacher  Category = "teacher"
	CategoryEmployee Category = "employee"
)

// Categories is the vocabulary offered when creating a ticket.
var Categories = []Category{CategoryTechnical, CategoryBilling, CategoryAccess, CategoryOther}

// LegacyCategories are accepted on decode and in filters but never offered for new tickets.
var LegacyCategories = []Category{CategoryStudent, CategoryTeacher, CategoryEmployee}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

func (c Category) Legacy() bool {
	for _, v := range LegacyCategories {
		if c == v {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved}

// ParseStatus accepts the legacy "in-progress" spelling.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); st {
	case StatusOpen, StatusInProgress, StatusResolved:
		return st, true
	}
	return "", false
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if st, ok := ParseStatus(raw); ok {
		*s = st
		return nil
	}
	*s = Status(raw)
	return nil
}

type Ticket struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"` // open, in_progress, resolved
	CreatedAt   time.Time `json:"created_at"`
	OwnerID     *int      `json:"owner_id,omitempty"`
	Owner       *Owner    `json:"owner,omitempty"` // admin listings only
}

// Matches reports whether term is a case-insensitive substring of the title or
// description, or a substring of the decimal id.
func (t Ticket) Matches(term string) bool {
	if term == "" {
		return true
	}
	needle := strings.ToLower(term)
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle) ||
		strings.Contains(strconv.Itoa(t.ID), term)
}

// NewTicket is the payload of POST /api/tickets.
type NewTicket struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Priority    Priority `json:"priority"`
}

// Normalize trims input and applies the medium priority default.
func (n NewTicket) Normalize() NewTicket {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	n.Category = Category(strings.ToLower(strings.TrimSpace(string(n.Category))))
	n.Priority = Priority(strings.ToLower(strings.TrimSpace(string(n.Priority))))
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	return n
}

type Stats struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
}

func ComputeStats(tickets []Ticket) Stats {
	s := Stats{Total: len(tickets)}
	for _, t := range tickets {
		switch t.Status {
		case StatusOpen:
			s.Open++
		case StatusInProgress:
			s.InProgress++
		case StatusResolved:
			s.Resolved++
		}
	}
	return s
}

// TicketFilter is the local UI state of a ticket listing. Empty or "all" fields match anything.
type TicketFilter struct {
	Search    string
	Status    string
	Category  string
	OwnerRole string
}

func (f TicketFilter) Match(t Ticket) bool {
	if !wildcard(f.Status) && string(t.Status) != f.Status {
		return false
	}
	if !wildcard(f.Category) && string(t.Category) != f.Category {
		return false
	}
	if !wildcard(f.OwnerRole) && (t.Owner == nil || string(t.Owner.Role) != f.OwnerRole) {
		return false
	}
	return t.Matches(f.Search)
}

func (f TicketFilter) Apply(tickets []Ticket) []Ticket {
	out := make([]Ticket, 0, len(tickets))
	for _, t := range tickets {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func wildcard(v string) bool {
	return v == "" || v == string(CategoryAll)
}
