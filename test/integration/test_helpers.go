//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/config"
	"go-auth-service/internal/database"
	"go-auth-service/internal/event"
	"go-auth-service/internal/handler"
	"go-auth-service/internal/metrics"
	"go-auth-service/internal/middleware"
	"go-auth-service/internal/model"
	"go-auth-service/internal/repository"
	"go-auth-service/internal/router"
	"go-auth-service/internal/security"
	"go-auth-service/internal/service"
	"go-auth-service/internal/token"
)

const testSecret = "integration-secret-0123456789abcdef"

var (
	dbOnce sync.Once
	testDB *database.DB
	dbErr  error
)

// openDB connects to DATABASE_URL once per test binary and applies the
// migrations. Tests are skipped when no database is configured.
func openDB(t *testing.T) *database.DB {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	dbOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		testDB, dbErr = database.New(ctx, database.Options{URL: databaseURL, MaxConns: 20, ConnectAttempts: 3})
		if dbErr != nil {
			return
		}
		dbErr = testDB.Migrate(ctx)
	})
	require.NoError(t, dbErr)

	return testDB
}

// mailbox records reset links instead of sending them.
type mailbox struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *mailbox) SendRegistrationConfirmation(context.Context, string, string) {}

func (m *mailbox) SendPasswordReset(_ context.Context, email string, link string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[email] = link
}

func (m *mailbox) resetToken(t *testing.T, email string) string {
	t.Helper()

	m.mu.Lock()
	link := m.links[email]
	m.mu.Unlock()

	require.NotEmpty(t, link, "no reset link for %s", email)
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

type testServer struct {
	*httptest.Server
	mail   *mailbox
	users  *repository.UserRepository
	tokens *repository.TokenRepository
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	db := openDB(t)

	cfg := &config.Config{
		JWTSecret:        testSecret,
		JWTIssuer:        "auth-integration",
		JWTAudience:      "clients",
		JWTAccessTTL:     15 * time.Minute,
		JWTRefreshTTL:    24 * time.Hour,
		ResetTokenTTL:    time.Hour,
		ResetPasswordURL: "http://localhost/reset-password",
		RequestTimeout:   10 * time.Second,
		CORSOrigins:      []string{"*"},
		RateLimitRPM:     10000,
		AuthRateLimitRPM: 10000,
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	issuer, err := token.NewIssuer(token.Options{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
		ResetTTL:   cfg.ResetTokenTTL,
	})
	require.NoError(t, err)

	m := metrics.New()
	users := repository.NewUserRepository(db.Pool, security.NewBcryptHasher(4))
	tokens := repository.NewTokenRepository(db.Pool)
	audit := service.NewAuditService(repository.NewAuditRepository(db.Pool))
	mail := &mailbox{links: map[string]string{}}
	bus := event.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go audit.Run(ctx, bus)

	authService := service.NewAuthService(users, tokens, issuer, mail, service.AuthOptions{
		ResetPasswordURL: cfg.ResetPasswordURL,
		Bus:              bus,
		Metrics:          m,
	})

	server := httptest.NewServer(router.New(cfg, middleware.NewAuthMiddleware(issuer), router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		Audit:  handler.NewAuditHandler(audit),
		Docs:   handler.NewDocsHandler(),
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{"database": db.Health}),
	}, m))
	t.Cleanup(server.Close)

	return &testServer{Server: server, mail: mail, users: users, tokens: tokens}
}

// newIdentity returns a unique email and phone so parallel tests share the
// database without colliding.
func newIdentity() (string, string, string) {
	id := uuid.NewString()[:8]
	return "user-" + id + "@test.com", "+1" + id, "user_" + id
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func (s *testServer) post(t *testing.T, path string, payload any, accessToken string) (int, envelope) {
	t.Helper()
	return s.do(t, http.MethodPost, path, payload, accessToken)
}

func (s *testServer) do(t *testing.T, method string, path string, payload any, accessToken string) (int, envelope) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req, err := http.NewRequest(method, s.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *testServer) signUp(t *testing.T, email string, phone string, username string, password string) model.TokenPair {
	t.Helper()

	status, env := s.post(t, "/api/v1/auth/signup", map[string]string{
		"email":       email,
		"phoneNumber": phone,
		"userName":    username,
		"fullName":    "Integration User",
		"password":    password,
	}, "")
	require.Equal(t, http.StatusOK, status, "%+v", env.Error)

	return decodePair(t, env)
}

func decodePair(t *testing.T, env envelope) model.TokenPair {
	t.Helper()

	var pair model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}
