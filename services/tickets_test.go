package services

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/internal/status"
	"helpdesk/models"
)

func TestTicketStore_NoSession(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	err := env.tickets.Fetch(ctx)
	assert.ErrorIs(t, err, status.ErrNoSession)
	assert.True(t, status.Is(err, status.KindSession))
	assert.Empty(t, env.tickets.Tickets())
	assert.False(t, env.tickets.Loading())

	_, err = env.tickets.Add(ctx, models.NewTicket{Title: "t", Description: "d", Category: models.CategoryOther})
	assert.True(t, status.Is(err, status.KindSession))
	_, err = env.tickets.UpdateStatus(ctx, 1, models.StatusResolved)
	assert.True(t, status.Is(err, status.KindSession))
	assert.True(t, status.Is(env.tickets.Delete(ctx, 1), status.KindSession))
	_, err = env.tickets.Comments(ctx, 1)
	assert.True(t, status.Is(err, status.KindSession))
	_, err = env.tickets.AddComment(ctx, 1, "hi")
	assert.True(t, status.Is(err, status.KindSession))

	assert.Equal(t, 0, env.backend.Calls("GET /api/tickets"))
	assert.Equal(t, 0, env.backend.Calls("POST /api/tickets"))
}

func TestTicketStore_FetchOwnTickets(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("other@uni.edu", "pw", models.RoleTeacher)
	env.backend.SeedTicket("other@uni.edu", models.Ticket{Title: "not mine", Category: models.CategoryBilling})
	env.login(t, "ana@uni.edu", models.RoleStudent)
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "mine", Category: models.CategoryTechnical})

	require.NoError(t, env.tickets.Fetch(context.Background()))

	tickets := env.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "mine", tickets[0].Title)
	assert.False(t, env.tickets.Loading())
}

func TestTicketStore_AddValidation(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	ctx := context.Background()

	tests := []struct {
		name string
		in   models.NewTicket
	}{
		{name: "blank title", in: models.NewTicket{Title: "  ", Description: "d", Category: models.CategoryOther}},
		{name: "no description", in: models.NewTicket{Title: "t", Category: models.CategoryOther}},
		{name: "unknown category", in: models.NewTicket{Title: "t", Description: "d", Category: "hardware"}},
		{name: "legacy category", in: models.NewTicket{Title: "t", Description: "d", Category: models.CategoryStudent}},
		{name: "unknown priority", in: models.NewTicket{Title: "t", Description: "d", Category: models.CategoryOther, Priority: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.tickets.Add(ctx, tt.in)
			assert.True(t, status.Is(err, status.KindValidation))
		})
	}
	assert.Equal(t, 0, env.backend.Calls("POST /api/tickets"))
}

func TestTicketStore_AddAppends(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	ctx := context.Background()
	require.NoError(t, env.tickets.Fetch(ctx))

	created, err := env.tickets.Add(ctx, models.NewTicket{
		Title: " Projector broken ", Description: "room 12", Category: models.CategoryTechnical,
	})
	require.NoError(t, err)
	assert.Equal(t, "Projector broken", created.Title)
	assert.Equal(t, models.PriorityMedium, created.Priority)
	assert.Equal(t, models.StatusOpen, created.Status)

	tickets := env.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, created.ID, tickets[0].ID)
}

func TestTicketStore_UpdateStatusReplacesOnlyMatch(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)
	a := env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "a", Category: models.CategoryOther})
	b := env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "b", Category: models.CategoryOther})
	env.login(t, "root@uni.edu", models.RoleAdmin)
	ctx := context.Background()
	require.NoError(t, env.tickets.Fetch(ctx))

	updated, err := env.tickets.UpdateStatus(ctx, a.ID, "in-progress")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)

	byID := map[int]models.Ticket{}
	for _, tk := range env.tickets.Tickets() {
		byID[tk.ID] = tk
	}
	assert.Equal(t, models.StatusInProgress, byID[a.ID].Status)
	require.NotNil(t, byID[a.ID].Owner, "owner kept from the listing")
	assert.Equal(t, "ana@uni.edu", byID[a.ID].Owner.Email)
	assert.Equal(t, models.StatusOpen, byID[b.ID].Status)

	_, err = env.tickets.UpdateStatus(ctx, a.ID, "closed")
	assert.True(t, status.Is(err, status.KindValidation))
}

func TestTicketStore_UpdateStatusForbiddenForStudent(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	created, err := env.tickets.Add(context.Background(), models.NewTicket{Title: "t", Description: "d", Category: models.CategoryAccess})
	require.NoError(t, err)

	_, err = env.tickets.UpdateStatus(context.Background(), created.ID, models.StatusResolved)
	assert.True(t, status.Is(err, status.KindForbidden))
	assert.Equal(t, models.StatusOpen, env.tickets.Tickets()[0].Status)
	assert.True(t, env.session.Snapshot().Authenticated(), "403 keeps the session")
}

func TestTicketStore_Delete(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)
	a := env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "a", Category: models.CategoryOther})
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "b", Category: models.CategoryOther})
	env.login(t, "root@uni.edu", models.RoleAdmin)
	ctx := context.Background()
	require.NoError(t, env.tickets.Fetch(ctx))

	env.backend.Fail("DELETE /api/tickets/:id", http.StatusInternalServerError, "db down")
	err := env.tickets.Delete(ctx, a.ID)
	assert.True(t, status.Is(err, status.KindNetwork))
	assert.Len(t, env.tickets.Tickets(), 2, "nothing removed before confirmation")

	require.NoError(t, env.tickets.Delete(ctx, a.ID))
	tickets := env.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "b", tickets[0].Title)
}

func TestTicketStore_ByCategoryAndStats(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "a", Category: models.CategoryTechnical})
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "b", Category: models.CategoryTechnical, Status: models.StatusResolved})
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "c", Category: models.CategoryStudent, Status: models.StatusInProgress})
	env.login(t, "root@uni.edu", models.RoleAdmin)
	require.NoError(t, env.tickets.Fetch(context.Background()))

	assert.Len(t, env.tickets.ByCategory(models.CategoryAll), 3)
	assert.Len(t, env.tickets.ByCategory(models.CategoryTechnical), 2)
	assert.Len(t, env.tickets.ByCategory(models.CategoryStudent), 1)
	assert.Empty(t, env.tickets.ByCategory(models.CategoryBilling))

	assert.Equal(t, models.Stats{Total: 3, Open: 1, InProgress: 1, Resolved: 1}, env.tickets.Stats())
}

func TestTicketStore_Comments(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	ctx := context.Background()
	ticket, err := env.tickets.Add(ctx, models.NewTicket{Title: "t", Description: "d", Category: models.CategoryOther})
	require.NoError(t, err)

	_, err = env.tickets.AddComment(ctx, ticket.ID, "   ")
	assert.True(t, status.Is(err, status.KindValidation))
	assert.Equal(t, 0, env.backend.Calls("POST /api/tickets/:id/comments/"))

	_, err = env.tickets.AddComment(ctx, ticket.ID, "first")
	require.NoError(t, err)
	_, err = env.tickets.AddComment(ctx, ticket.ID, "second")
	require.NoError(t, err)

	comments, err := env.tickets.Comments(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Content)
	assert.Equal(t, "second", comments[1].Content)

	// the ticket list is untouched by comment traffic
	assert.Len(t, env.tickets.Tickets(), 1)

	// comments are never cached
	_, err = env.tickets.Comments(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, env.backend.Calls("GET /api/tickets/:id/comments/"))
}

func TestTicketStore_StaleFetchDiscarded(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "a", Category: models.CategoryOther})
	ctx := context.Background()

	release := env.backend.Hold("GET /api/tickets")

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = env.tickets.Fetch(ctx)
	}()
	require.Eventually(t, func() bool { return env.backend.Calls("GET /api/tickets") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.tickets.Fetch(ctx))
	require.Len(t, env.tickets.Tickets(), 1)

	// the held response will now carry a ticket the newer fetch never saw
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "late", Category: models.CategoryOther})
	release()
	wg.Wait()

	assert.NoError(t, firstErr)
	tickets := env.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "a", tickets[0].Title)
	assert.False(t, env.tickets.Loading())
}

func TestTicketStore_RejectedTokenInvalidatesSession(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	env.backend.RevokeTokens()

	err := env.tickets.Fetch(context.Background())
	assert.True(t, status.Is(err, status.KindSession))
	assert.False(t, env.session.Snapshot().Authenticated())
}

func TestTicketStore_WatchFollowsSession(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "a", Category: models.CategoryOther})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := env.tickets.Watch(ctx)
	defer stop()

	_, err := env.session.Login(ctx, "ana@uni.edu", "pw")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(env.tickets.Tickets()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.session.Logout(ctx))
	assert.Empty(t, env.tickets.Tickets())
}

func TestTicketStore_AnswersFromEndedSessionLeaveListAlone(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	ctx := context.Background()

	release := env.backend.Hold("POST /api/tickets")
	var (
		wg      sync.WaitGroup
		created models.Ticket
		addErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		created, addErr = env.tickets.Add(ctx, models.NewTicket{Title: "ana secret", Description: "d", Category: models.CategoryOther})
	}()
	require.Eventually(t, func() bool { return env.backend.Calls("POST /api/tickets") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.session.Logout(ctx))
	env.login(t, "bob@uni.edu", models.RoleTeacher)
	env.backend.SeedTicket("bob@uni.edu", models.Ticket{Title: "bob's", Category: models.CategoryAccess})
	require.NoError(t, env.tickets.Fetch(ctx))

	release()
	wg.Wait()

	require.NoError(t, addErr)
	assert.Equal(t, "ana secret", created.Title, "the caller still gets the server record")
	tickets := env.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "bob's", tickets[0].Title)
}

func TestTicketStore_FetchFromEndedSessionDropped(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{Title: "ana's", Category: models.CategoryOther})
	ctx := context.Background()

	release := env.backend.Hold("GET /api/tickets")
	done := make(chan error, 1)
	go func() { done <- env.tickets.Fetch(ctx) }()
	require.Eventually(t, func() bool { return env.backend.Calls("GET /api/tickets") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.session.Logout(ctx))
	env.login(t, "bob@uni.edu", models.RoleTeacher)
	release()

	assert.NoError(t, <-done)
	assert.Empty(t, env.tickets.Tickets())
	assert.False(t, env.tickets.Loading())
}

func TestTicketStore_RejectionFromEndedSessionKeepsNewOne(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	ctx := context.Background()

	release := env.backend.Hold("GET /api/tickets")
	env.backend.Fail("GET /api/tickets", http.StatusUnauthorized, "Could not validate credentials")
	done := make(chan error, 1)
	go func() { done <- env.tickets.Fetch(ctx) }()
	require.Eventually(t, func() bool { return env.backend.Calls("GET /api/tickets") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.session.Logout(ctx))
	env.login(t, "bob@uni.edu", models.RoleTeacher)
	release()
	<-done

	assert.True(t, env.session.Snapshot().Authenticated(), "bob stays signed in")
	assert.Equal(t, "bob@uni.edu", env.session.Snapshot().User.Email)
}

func TestTicketStore_AddCommentBackendFailure(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)
	env.backend.SeedTicket("ana@uni.edu", models.Ticket{ID: 5, Title: "VPN", Category: models.CategoryAccess})
	ctx := context.Background()
	require.NoError(t, env.tickets.Fetch(ctx))
	before := env.tickets.Tickets()

	env.backend.Fail("POST /api/tickets/:id/comments/", http.StatusInternalServerError, "database is down")
	_, err := env.tickets.AddComment(ctx, 5, "hello")

	require.Error(t, err)
	assert.True(t, status.Is(err, status.KindNetwork))
	assert.Equal(t, before, env.tickets.Tickets())
	assert.True(t, env.session.Snapshot().Authenticated())
}
