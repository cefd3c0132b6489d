package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"helpdesk/internal/status"
	"helpdesk/models"
	"helpdesk/security"
	"helpdesk/views"
)

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || id <= 0 {
		return 0, status.Validation("ticket", "%q is not a ticket id", s)
	}
	return id, nil
}

// permit checks the role policy before a call the backend would refuse anyway.
func (a *app) permit(op string, action security.Action) error {
	if !security.Allowed(a.session.Snapshot().Role(), action) {
		return &status.Error{Op: op, Kind: status.KindForbidden}
	}
	return nil
}

// loadTickets restores the session and fills the ticket store.
func (a *app) loadTickets(ctx context.Context) error {
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return a.tickets.Fetch(ctx)
}

func newTicketsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tickets",
		Aliases: []string{"ticket"},
		Short:   "List and manage tickets",
	}
	cmd.AddCommand(
		newTicketsListCommand(a),
		newTicketsShowCommand(a),
		newTicketsCreateCommand(a),
		newTicketsStatusCommand(a),
		newTicketsDeleteCommand(a),
	)
	return cmd
}

func newTicketsListCommand(a *app) *cobra.Command {
	var f models.TicketFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your tickets, or every ticket for administrators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.loadTickets(ctx); err != nil {
				return err
			}
			sess := a.session.Snapshot()
			if sess.User.IsAdmin() {
				d := views.BuildAdminDashboard(sess, a.tickets.Tickets(), false, f, time.Now())
				fmt.Fprintf(a.out, "%s, %s\n", d.Greeting, d.Name)
				renderStats(a.out, d.Stats)
				renderTickets(a.out, d.Tickets, true)
				return nil
			}
			if f.OwnerRole != "" {
				return status.Validation("tickets.list", "--role is only available to administrators")
			}
			d := views.BuildDashboard(sess, a.tickets.Tickets(), false, f)
			renderStats(a.out, d.Stats)
			renderTickets(a.out, d.Tickets, false)
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.Search, "search", "s", "", "match title, description or id")
	cmd.Flags().StringVar(&f.Status, "status", "", "open, in_progress or resolved")
	cmd.Flags().StringVar(&f.Category, "category", "", "technical, billing, access, other")
	cmd.Flags().StringVar(&f.OwnerRole, "role", "", "owner role (administrators)")
	return cmd
}

func newTicketsShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.loadTickets(ctx); err != nil {
				return err
			}
			t, ok := views.FindTicket(a.tickets.Tickets(), id)
			if !ok {
				return &status.Error{Op: "tickets.show", Kind: status.KindNotFound}
			}
			comments, err := a.tickets.Comments(ctx, id)
			if err != nil {
				return err
			}
			renderTicketDetail(a.out, views.BuildTicketDetail(a.session.Snapshot(), t, comments, ""))
			return nil
		},
	}
}

func newTicketsCreateCommand(a *app) *cobra.Command {
	var in models.NewTicket
	var category, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new ticket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			if err := a.permit("tickets.create", security.CreateTicket); err != nil {
				return err
			}
			in.Category = models.Category(category)
			in.Priority = models.Priority(priority)
			t, err := a.tickets.Add(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created ticket #%d\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Title, "title", "t", "", "short summary")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "what happened")
	cmd.Flags().StringVarP(&category, "category", "c", "", "technical, billing, access or other")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(models.PriorityMedium), "low, medium or high")
	return cmd
}

func newTicketsStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <open|in_progress|resolved>",
		Short: "Change a ticket's status (administrators)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, ok := models.ParseStatus(args[1])
			if !ok {
				return status.Validation("tickets.status", "unknown status %q", args[1])
			}
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			if err := a.permit("tickets.status", security.UpdateStatus); err != nil {
				return err
			}
			t, err := a.tickets.UpdateStatus(ctx, id, st)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Ticket #%d is now %s\n", t.ID, views.Label(string(t.Status)))
			return nil
		},
	}
}

func newTicketsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a ticket (administrators)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			if err := a.permit("tickets.delete", security.DeleteTicket); err != nil {
				return err
			}
			if err := a.tickets.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted ticket #%d\n", id)
			return nil
		},
	}
}

func newCommentsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "Read and write ticket comments",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <ticket-id>",
			Short: "Show a ticket's conversation, oldest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				if err := a.requireSession(ctx); err != nil {
					return err
				}
				comments, err := a.tickets.Comments(ctx, id)
				if err != nil {
					return err
				}
				d := views.BuildTicketDetail(a.session.Snapshot(), models.Ticket{ID: id}, comments, "")
				renderComments(a.out, d.Comments)
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <ticket-id> <text...>",
			Short: "Reply on a ticket",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				if err := a.requireSession(ctx); err != nil {
					return err
				}
				if err := a.permit("tickets.add_comment", security.Comment); err != nil {
					return err
				}
				c, err := a.tickets.AddComment(ctx, id, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Comment #%d added to ticket #%d\n", c.ID, id)
				return nil
			},
		},
	)
	return cmd
}

func newAuditCommand(a *app) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log (administrators)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			entries, err := a.audit.List(ctx)
			if err != nil {
				return err
			}
			renderAudit(a.out, views.BuildAuditLog(entries, search))
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "match action, details or user id")
	return cmd
}
