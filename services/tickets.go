package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"helpdesk/internal/status"
	"helpdesk/models"
	"helpdesk/monitoring"
)

type TicketAPI interface {
	ListTickets(ctx context.Context, token string) ([]models.Ticket, error)
	CreateTicket(ctx context.Context, token string, t models.NewTicket) (models.Ticket, error)
	UpdateTicketStatus(ctx context.Context, token string, id int, s models.Status) (models.Ticket, error)
	DeleteTicket(ctx context.Context, token string, id int) error
	ListComments(ctx context.Context, token string, ticketID int) ([]models.Comment, error)
	CreateComment(ctx context.Context, token string, ticketID int, content string) (models.Comment, error)
}

// SessionSource is the part of the session store the other stores depend on.
type SessionSource interface {
	Token() string
	Snapshot() models.Session
	Subscribe(fn func(models.Session)) (unsubscribe func())
	Invalidate(ctx context.Context, reason error) error
}

type TicketStore struct {
	api     TicketAPI
	session SessionSource
	log     *slog.Logger

	mu         sync.RWMutex
	tickets    []models.Ticket
	loading    bool
	generation uint64
}

func NewTicketStore(api TicketAPI, session SessionSource, logger *slog.Logger) *TicketStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketStore{
		api:     api,
		session: session,
		log:     logger.With("component", "tickets"),
	}
}

// Watch drops the list whenever the session token changes and refetches in the
// background when a new token is present. ctx bounds those background fetches.
func (s *TicketStore) Watch(ctx context.Context) (stop func()) {
	return s.session.Subscribe(func(sess models.Session) {
		s.reset()
		if sess.Token == "" {
			return
		}
		go func() {
			if err := s.Fetch(ctx); err != nil {
				s.log.Debug("background fetch failed", "error", err)
			}
		}()
	})
}

func (s *TicketStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.tickets = nil
	s.loading = false
	monitoring.SetTicketsLoaded(0)
}

// token returns the current token or the no-session error, clearing loading.
func (s *TicketStore) token(op string) (string, error) {
	token := s.session.Token()
	if token == "" {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		return "", status.New(op, status.KindSession, status.ErrNoSession)
	}
	return token, nil
}

// current reports whether token still belongs to the active session. Answers to
// requests made under an earlier session never touch the list.
func (s *TicketStore) current(token string) bool {
	return s.session.Token() == token
}

// fail logs err and invalidates the session when the backend rejected its token.
func (s *TicketStore) fail(ctx context.Context, op, token string, err error) error {
	s.log.Warn("ticket operation failed", "op", op, "kind", status.KindOf(err), "error", err)
	if status.Is(err, status.KindSession) && s.current(token) {
		if ierr := s.session.Invalidate(ctx, err); ierr != nil {
			s.log.Error("cannot invalidate session", "error", ierr)
		}
	}
	return err
}

// Fetch replaces the list. Only the newest fetch is applied; older responses are dropped.
func (s *TicketStore) Fetch(ctx context.Context) error {
	const op = "tickets.fetch"

	token, err := s.token(op)
	if err != nil {
		s.reset()
		return err
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loading = true
	s.mu.Unlock()

	tickets, err := s.api.ListTickets(ctx, token)
	sameSession := s.current(token)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		monitoring.TrackStale("tickets")
		return nil
	}
	s.loading = false
	if !sameSession {
		s.tickets = nil
		s.mu.Unlock()
		monitoring.TrackStale("tickets")
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return s.fail(ctx, op, token, err)
	}
	s.tickets = tickets
	monitoring.SetTicketsLoaded(len(tickets))
	s.mu.Unlock()

	s.log.Debug("tickets loaded", "count", len(tickets))
	return nil
}

// Add validates t locally, creates it and appends the server's record.
func (s *TicketStore) Add(ctx context.Context, t models.NewTicket) (models.Ticket, error) {
	const op = "tickets.add"

	t = t.Normalize()
	switch {
	case t.Title == "":
		return models.Ticket{}, status.Validation(op, "title is required")
	case t.Description == "":
		return models.Ticket{}, status.Validation(op, "description is required")
	case !t.Category.Valid():
		return models.Ticket{}, status.Validation(op, "unknown category %q", t.Category)
	case !t.Priority.Valid():
		return models.Ticket{}, status.Validation(op, "unknown priority %q", t.Priority)
	}

	token, err := s.token(op)
	if err != nil {
		return models.Ticket{}, err
	}
	created, err := s.api.CreateTicket(ctx, token, t)
	if err != nil {
		return models.Ticket{}, s.fail(ctx, op, token, err)
	}
	if !s.current(token) {
		monitoring.TrackStale("tickets")
		s.log.Debug("session changed while creating, list left alone", "id", created.ID)
		return created, nil
	}

	s.mu.Lock()
	s.tickets = append(s.tickets, created)
	monitoring.SetTicketsLoaded(len(s.tickets))
	s.mu.Unlock()

	s.log.Info("ticket created", "id", created.ID, "category", created.Category)
	return created, nil
}

// UpdateStatus replaces the matching entry with the server's record.
func (s *TicketStore) UpdateStatus(ctx context.Context, id int, st models.Status) (models.Ticket, error) {
	const op = "tickets.update_status"

	parsed, ok := models.ParseStatus(string(st))
	if !ok {
		return models.Ticket{}, status.Validation(op, "unknown status %q", st)
	}
	token, err := s.token(op)
	if err != nil {
		return models.Ticket{}, err
	}
	updated, err := s.api.UpdateTicketStatus(ctx, token, id, parsed)
	if err != nil {
		return models.Ticket{}, s.fail(ctx, op, token, err)
	}
	if !s.current(token) {
		monitoring.TrackStale("tickets")
		return updated, nil
	}

	s.mu.Lock()
	for i := range s.tickets {
		if s.tickets[i].ID != id {
			continue
		}
		// the PATCH answer carries no owner
		if updated.Owner == nil {
			updated.Owner = s.tickets[i].Owner
		}
		s.tickets[i] = updated
	}
	s.mu.Unlock()

	s.log.Info("ticket status changed", "id", id, "status", updated.Status)
	return updated, nil
}

// Delete removes the entry once the backend confirmed.
func (s *TicketStore) Delete(ctx context.Context, id int) error {
	const op = "tickets.delete"

	token, err := s.token(op)
	if err != nil {
		return err
	}
	if err := s.api.DeleteTicket(ctx, token, id); err != nil {
		return s.fail(ctx, op, token, err)
	}
	if !s.current(token) {
		monitoring.TrackStale("tickets")
		return nil
	}

	s.mu.Lock()
	kept := s.tickets[:0]
	for _, t := range s.tickets {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	s.tickets = kept
	monitoring.SetTicketsLoaded(len(kept))
	s.mu.Unlock()

	s.log.Info("ticket deleted", "id", id)
	return nil
}

func (s *TicketStore) Tickets() []models.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Ticket, len(s.tickets))
	copy(out, s.tickets)
	return out
}

// ByCategory filters locally; "all" and "" match every ticket.
func (s *TicketStore) ByCategory(category models.Category) []models.Ticket {
	return models.TicketFilter{Category: string(category)}.Apply(s.Tickets())
}

func (s *TicketStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *TicketStore) Stats() models.Stats {
	return models.ComputeStats(s.Tickets())
}

// Comments are fetched on every call, never cached.
func (s *TicketStore) Comments(ctx context.Context, ticketID int) ([]models.Comment, error) {
	const op = "tickets.comments"

	token, err := s.token(op)
	if err != nil {
		return nil, err
	}
	comments, err := s.api.ListComments(ctx, token, ticketID)
	if err != nil {
		return nil, s.fail(ctx, op, token, err)
	}
	return comments, nil
}

func (s *TicketStore) AddComment(ctx context.Context, ticketID int, content string) (models.Comment, error) {
	const op = "tickets.add_comment"

	content = strings.TrimSpace(content)
	if content == "" {
		return models.Comment{}, status.Validation(op, "comment cannot be empty")
	}
	token, err := s.token(op)
	if err != nil {
		return models.Comment{}, err
	}
	created, err := s.api.CreateComment(ctx, token, ticketID, content)
	if err != nil {
		return models.Comment{}, s.fail(ctx, op, token, err)
	}
	return created, nil
}
