package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SinaHo/phone-auth-backend/api/v1/authrpc"
	"github.com/SinaHo/phone-auth-backend/internal/config"
	"github.com/SinaHo/phone-auth-backend/internal/database"
	"github.com/SinaHo/phone-auth-backend/internal/delivery"
	"github.com/SinaHo/phone-auth-backend/internal/handler"
	"github.com/SinaHo/phone-auth-backend/internal/metrics"
	"github.com/SinaHo/phone-auth-backend/internal/middleware"
	"github.com/SinaHo/phone-auth-backend/internal/repository"
	"github.com/SinaHo/phone-auth-backend/internal/service"
	"github.com/SinaHo/phone-auth-backend/internal/token"
)

type testApp struct {
	e        *echo.Echo
	db       *sqlx.DB
	issuer   *token.Issuer
	auth     service.AuthService
	profiles service.ProfileService
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := zap.NewNop().Sugar()
	m := metrics.New(prometheus.NewRegistry())
	users := repository.NewUserRepository(db)
	codes := repository.NewCodeRepository(rdb, "test", 5)
	issuer := token.NewIssuer([]byte("test-secret"), "phone-auth", 15*time.Minute, 24*time.Hour)

	dispatcher := delivery.NewDispatcher(delivery.NewLogSender(log), log, m, time.Second)
	t.Cleanup(func() { _ = dispatcher.Wait(context.Background()) })

	auth := service.NewAuthService(users, codes, issuer, dispatcher, config.AuthConfig{
		CodeTTL:    5 * time.Minute,
		ExposeCode: true,
	}, log, m)
	profiles := service.NewProfileService(users, codes, log, m)

	e := echo.New()
	handler.NewUserHandler(auth, profiles, log).Register(e, middleware.JWTAuth(log, issuer))
	e.GET("/health", handler.NewHealthHandler(log, map[string]handler.HealthCheck{
		"db":    db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}).Health)

	return &testApp{
		e:        e,
		db:       db,
		issuer:   issuer,
		auth:     auth,
		profiles: profiles,
		logger:   log,
		metrics:  m,
	}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}, accessToken string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if accessToken != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type session struct {
	userID uuid.UUID
	access string
	tokens authrpc.TokenResponse
}

// login runs the two-step login and returns the resulting session.
func (a *testApp) login(t *testing.T, phone string) session {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/users/login", authrpc.RequestCodeRequest{Phone: phone}, "")
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	var issued authrpc.RequestCodeResponse
	decode(t, rec, &issued)

	rec = a.do(t, http.MethodPut, "/users/login", authrpc.VerifyCodeRequest{Phone: phone, AuthCode: issued.TestCode}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tokens authrpc.TokenResponse
	decode(t, rec, &tokens)

	claims, err := a.issuer.Parse(tokens.AccessToken, token.TypeAccess)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	return session{userID: id, access: tokens.AccessToken, tokens: tokens}
}

func (a *testApp) makeStaff(t *testing.T, id uuid.UUID) {
	t.Helper()
	_, err := a.db.Exec(a.db.Rebind(`UPDATE users SET is_staff = ? WHERE id = ?`), true, id)
	require.NoError(t, err)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func strPtr(s string) *string { return &s }
