package models

import (
	"strconv"
	"strings"
	"time"
)

type AuditEntry struct {
	ID         int       `json:"id"`
	Action     string    `json:"action"`
	UserID     int       `json:"user_id"`
	TargetType string    `json:"target_type"`
	TargetID   int       `json:"target_id"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type AuditTag string

const (
	AuditDelete AuditTag = "DELETE"
	AuditCreate AuditTag = "CREATE"
	AuditUpdate AuditTag = "UPDATE"
	AuditOther  AuditTag = "OTHER"
)

// Tag classifies the action; DELETE wins over CREATE which wins over UPDATE.
func (a AuditEntry) Tag() AuditTag {
	action := strings.ToUpper(a.Action)
	switch {
	case strings.Contains(action, string(AuditDelete)):
		return AuditDelete
	case strings.Contains(action, string(AuditCreate)):
		return AuditCreate
	case strings.Contains(action, string(AuditUpdate)):
		return AuditUpdate
	}
	return AuditOther
}

func (a AuditEntry) Matches(term string) bool {
	if term == "" {
		return true
	}
	needle := strings.ToLower(term)
	return strings.Contains(strings.ToLower(a.Action), needle) ||
		strings.Contains(strings.ToLower(a.Details), needle) ||
		strings.Contains(strconv.Itoa(a.UserID), term)
}
