package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"helpdesk/internal/status"
	"helpdesk/models"
	"helpdesk/monitoring"
	"helpdesk/utils"
)

type ClientConfig struct {
	// BaseURL is the origin serving the /api endpoints.
	BaseURL string `mapstructure:"base_url"`

	// Timeout bounds every request; zero leaves only the caller's context.
	Timeout time.Duration `mapstructure:"timeout"`
}

type Client struct {
	// rc is the underlying resty client, shared by every call.
	rc *resty.Client

	// breaker fails calls fast while the backend keeps failing.
	breaker *utils.CircuitBreaker

	log *slog.Logger
}

type Option func(*Client)

func WithBreaker(cb *utils.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the help-desk REST backend.
func NewClient(cfg ClientConfig, opts ...Option) *Client {
	c := &Client{
		rc:  resty.New(),
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = utils.NewCircuitBreaker("helpdesk-api")
	}

	c.rc.
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetDisableWarn(true)
	if cfg.Timeout > 0 {
		c.rc.SetTimeout(cfg.Timeout)
	}
	return c
}

// apiError is the FastAPI error body. detail is a string for most errors and a list
// of field errors for 422 answers.
type apiError struct {
	Detail json.RawMessage `json:"detail"`
}

func (e *apiError) text() string {
	if e == nil || len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	var fields []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(e.Detail, &fields); err == nil && len(fields) > 0 {
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			if len(f.Loc) > 0 {
				msgs = append(msgs, f.Msg+" ("+toString(f.Loc[len(f.Loc)-1])+")")
				continue
			}
			msgs = append(msgs, f.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	return string(e.Detail)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func detailOf(resp *resty.Response) string {
	if e, ok := resp.Error().(*apiError); ok {
		if d := e.text(); d != "" {
			return d
		}
	}
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > 200 {
		body = body[:200]
	}
	return body
}

// call runs one request through the breaker and classifies the outcome.
func (c *Client) call(ctx context.Context, op, token string, send func(r *resty.Request) (*resty.Response, error)) error {
	_, err := c.breaker.Execute(ctx, func() (any, error) {
		req := c.rc.R().
			SetContext(ctx).
			SetHeader("X-Request-ID", uuid.NewString()).
			SetError(&apiError{})
		if token != "" {
			req.SetAuthToken(token)
		}

		start := time.Now()
		resp, err := send(req)
		if err != nil {
			monitoring.TrackRequest(op, 0, time.Since(start))
			c.log.Warn("backend call failed", "op", op, "error", err)
			return nil, status.New(op, status.KindNetwork, err)
		}
		monitoring.TrackRequest(op, resp.StatusCode(), time.Since(start))

		if resp.IsError() {
			e := status.FromHTTP(op, resp.StatusCode(), detailOf(resp), op == opToken)
			c.log.Debug("backend rejected call", "op", op, "code", resp.StatusCode(), "kind", e.Kind)
			return nil, e
		}
		return nil, nil
	})
	return err
}

const (
	opToken         = "api.token"
	opMe            = "api.me"
	opRegister      = "api.register"
	opListTickets   = "api.tickets.list"
	opCreateTicket  = "api.tickets.create"
	opUpdateStatus  = "api.tickets.status"
	opDeleteTicket  = "api.tickets.delete"
	opListComments  = "api.comments.list"
	opCreateComment = "api.comments.create"
	opListAudit     = "api.audit.list"
)

// Token exchanges credentials for a bearer token (form-encoded, OAuth2 password flow).
func (c *Client) Token(ctx context.Context, email, password string) (string, error) {
	var reply struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	err := c.call(ctx, opToken, "", func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetFormData(map[string]string{"username": email, "password": password}).
			SetResult(&reply).
			Post("/api/token")
	})
	if err != nil {
		return "", err
	}
	if reply.AccessToken == "" {
		return "", status.New(opToken, status.KindAuth, status.ErrInvalidCredentials)
	}
	return reply.AccessToken, nil
}

func (c *Client) Me(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	err := c.call(ctx, opMe, token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&user).Get("/api/me")
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Register(ctx context.Context, reg models.Registration) error {
	return c.call(ctx, opRegister, "", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(reg).Post("/api/register")
	})
}

func (c *Client) ListTickets(ctx context.Context, token string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := c.call(ctx, opListTickets, token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&tickets).Get("/api/tickets")
	})
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

func (c *Client) CreateTicket(ctx context.Context, token string, t models.NewTicket) (models.Ticket, error) {
	var created models.Ticket
	err := c.call(ctx, opCreateTicket, token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(t).SetResult(&created).Post("/api/tickets")
	})
	return created, err
}

func (c *Client) UpdateTicketStatus(ctx context.Context, token string, id int, s models.Status) (models.Ticket, error) {
	var updated models.Ticket
	err := c.call(ctx, opUpdateStatus, token, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetPathParam("id", strconv.Itoa(id)).
			SetQueryParam("status", string(s)).
			SetResult(&updated).
			Patch("/api/tickets/{id}")
	})
	return updated, err
}

func (c *Client) DeleteTicket(ctx context.Context, token string, id int) error {
	return c.call(ctx, opDeleteTicket, token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", strconv.Itoa(id)).Delete("/api/tickets/{id}")
	})
}

func (c *Client) ListComments(ctx context.Context, token string, ticketID int) ([]models.Comment, error) {
	var comments []models.Comment
	err := c.call(ctx, opListComments, token, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetPathParam("id", strconv.Itoa(ticketID)).
			SetResult(&comments).
			Get("/api/tickets/{id}/comments/")
	})
	if err != nil {
		return nil, err
	}
	models.SortComments(comments)
	return comments, nil
}

func (c *Client) CreateComment(ctx context.Context, token string, ticketID int, content string) (models.Comment, error) {
	var created models.Comment
	err := c.call(ctx, opCreateComment, token, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetPathParam("id", strconv.Itoa(ticketID)).
			SetBody(map[string]string{"content": content}).
			SetResult(&created).
			Post("/api/tickets/{id}/comments/")
	})
	return created, err
}

func (c *Client) ListAudit(ctx context.Context, token string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := c.call(ctx, opListAudit, token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&entries).Get("/api/audit/")
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
