package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/internal/api"
	"helpdesk/internal/apitest"
	"helpdesk/internal/status"
	"helpdesk/internal/tokenstore"
	"helpdesk/models"
)

type testEnv struct {
	backend *apitest.Backend
	client  *api.Client
	tokens  *tokenstore.Memory
	session *SessionStore
	tickets *TicketStore
	audit   *AuditReader
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := apitest.New(t)
	client := api.NewClient(api.ClientConfig{BaseURL: backend.URL(), Timeout: 5 * time.Second})
	tokens := tokenstore.NewMemory()
	logger := discardLogger()

	session := NewSessionStore(client, tokens, logger)
	return &testEnv{
		backend: backend,
		client:  client,
		tokens:  tokens,
		session: session,
		tickets: NewTicketStore(client, session, logger),
		audit:   NewAuditReader(client, session, logger),
	}
}

func (e *testEnv) login(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	e.backend.AddUser(email, "pw", role)
	user, err := e.session.Login(context.Background(), email, "pw")
	require.NoError(t, err)
	return user
}

func TestSessionStore_StartsLoading(t *testing.T) {
	env := setupTestEnv(t)

	assert.True(t, env.session.Loading())
	assert.False(t, env.session.Snapshot().Authenticated())
}

func TestSessionStore_RestoreWithoutToken(t *testing.T) {
	env := setupTestEnv(t)

	require.NoError(t, env.session.Restore(context.Background()))

	snap := env.session.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Token)
	assert.Nil(t, snap.User)
	assert.Equal(t, 0, env.backend.Calls("GET /api/me"))
}

func TestSessionStore_RestoreValidToken(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("root@uni.edu", "pw", models.RoleAdmin)
	tok := env.backend.IssueToken("root@uni.edu")
	require.NoError(t, env.tokens.Save(context.Background(), tok))

	require.NoError(t, env.session.Restore(context.Background()))

	snap := env.session.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, tok, snap.Token)
	require.NotNil(t, snap.User)
	assert.Equal(t, models.RoleAdmin, snap.User.Role)
}

func TestSessionStore_RestoreRejectedTokenForcesLogout(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *apitest.Backend)
	}{
		{name: "revoked", setup: func(b *apitest.Backend) { b.RevokeTokens() }},
		{name: "forbidden", setup: func(b *apitest.Backend) { b.Fail("GET /api/me", http.StatusForbidden, "nope") }},
		{name: "server error", setup: func(b *apitest.Backend) { b.Fail("GET /api/me", http.StatusInternalServerError, "boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)
			require.NoError(t, env.tokens.Save(context.Background(), env.backend.IssueToken("ana@uni.edu")))
			tt.setup(env.backend)

			err := env.session.Restore(context.Background())
			require.Error(t, err)
			assert.True(t, status.Is(err, status.KindSession))

			snap := env.session.Snapshot()
			assert.False(t, snap.Loading)
			assert.Empty(t, snap.Token)
			assert.Nil(t, snap.User)

			persisted, _ := env.tokens.Load(context.Background())
			assert.Empty(t, persisted)
			assert.Equal(t, 1, env.backend.Calls("GET /api/me"), "no retry")
		})
	}
}

func TestSessionStore_Login(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)

	var seen []models.Session
	env.session.Subscribe(func(s models.Session) { seen = append(seen, s) })

	user, err := env.session.Login(context.Background(), " ana@uni.edu ", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ana@uni.edu", user.Email)
	assert.Equal(t, "ana", user.DisplayName())

	snap := env.session.Snapshot()
	assert.True(t, snap.Authenticated())

	persisted, _ := env.tokens.Load(context.Background())
	assert.Equal(t, snap.Token, persisted)

	require.Len(t, seen, 1)
	assert.Equal(t, snap.Token, seen[0].Token)
	assert.NotNil(t, seen[0].User)
}

func TestSessionStore_LoginBadCredentials(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)

	_, err := env.session.Login(context.Background(), "ana@uni.edu", "wrong")
	require.Error(t, err)
	assert.True(t, status.Is(err, status.KindAuth))

	assert.False(t, env.session.Snapshot().Authenticated())
	persisted, _ := env.tokens.Load(context.Background())
	assert.Empty(t, persisted)
	assert.Equal(t, 0, env.backend.Calls("GET /api/me"))
}

func TestSessionStore_LoginRequiresFields(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.session.Login(context.Background(), "", "pw")
	assert.True(t, status.Is(err, status.KindValidation))
	assert.Equal(t, 0, env.backend.Calls("POST /api/token"))
}

func TestSessionStore_Logout(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t, "ana@uni.edu", models.RoleStudent)

	var seen []models.Session
	env.session.Subscribe(func(s models.Session) { seen = append(seen, s) })

	require.NoError(t, env.session.Logout(context.Background()))

	snap := env.session.Snapshot()
	assert.Empty(t, snap.Token)
	assert.Nil(t, snap.User)
	persisted, _ := env.tokens.Load(context.Background())
	assert.Empty(t, persisted)
	require.Len(t, seen, 1)
	assert.False(t, seen[0].Authenticated())
}

func TestSessionStore_Unsubscribe(t *testing.T) {
	env := setupTestEnv(t)
	calls := 0
	stop := env.session.Subscribe(func(models.Session) { calls++ })
	stop()

	env.login(t, "ana@uni.edu", models.RoleStudent)
	assert.Equal(t, 0, calls)
}

func TestSessionStore_StaleIdentityResponseDropped(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("ana@uni.edu", "pw", models.RoleStudent)
	require.NoError(t, env.tokens.Save(context.Background(), env.backend.IssueToken("ana@uni.edu")))

	release := env.backend.Hold("GET /api/me")

	var wg sync.WaitGroup
	var restoreErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		restoreErr = env.session.Restore(context.Background())
	}()

	require.Eventually(t, func() bool { return env.backend.Calls("GET /api/me") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, env.session.Logout(context.Background()))
	release()
	wg.Wait()

	assert.ErrorIs(t, restoreErr, status.ErrSuperseded)
	snap := env.session.Snapshot()
	assert.Empty(t, snap.Token)
	assert.Nil(t, snap.User)
}

func TestSessionStore_Register(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.AddUser("taken@uni.edu", "pw", models.RoleTeacher)
	ctx := context.Background()

	tests := []struct {
		name   string
		reg    models.Registration
		kind   status.Kind
		detail string
	}{
		{name: "bad email", reg: models.Registration{Email: "nope", Password: "x"}, kind: status.KindValidation, detail: "a valid email is required"},
		{name: "no password", reg: models.Registration{Email: "a@b.c"}, kind: status.KindValidation, detail: "password is required"},
		{name: "admin role", reg: models.Registration{Email: "a@b.c", Password: "x", Role: models.RoleAdmin}, kind: status.KindValidation, detail: "role must be one of student, teacher, employee"},
		{name: "duplicate", reg: models.Registration{Email: "taken@uni.edu", Password: "x", Role: models.RoleTeacher}, kind: status.KindValidation, detail: "Email already registered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.session.Register(ctx, tt.reg)
			require.Error(t, err)
			assert.True(t, status.Is(err, tt.kind))
			assert.Equal(t, tt.detail, status.DetailOf(err))
		})
	}

	require.NoError(t, env.session.Register(ctx, models.Registration{Email: "new@uni.edu", Password: "pw"}))
	assert.False(t, env.session.Snapshot().Authenticated(), "registering does not sign in")

	user, err := env.session.Login(ctx, "new@uni.edu", "pw")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
}
