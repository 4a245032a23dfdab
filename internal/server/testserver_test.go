package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"betelconnect/internal/config"
	"betelconnect/internal/middleware"
	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJWTSecret = "server-test-secret-0123456789abcdef0123456789"

type testServer struct {
	*Server
	app *fiber.App
	db  *gorm.DB
	mr  *miniredis.Miniredis
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:            "0",
		Env:             "test",
		JWTSecret:       testJWTSecret,
		AllowedOrigins:  "http://localhost:5173",
		BlobDir:         t.TempDir(),
		BlobBaseURL:     "/media",
		BlobMaxUploadMB: 2,
		UserCacheSize:   64,
	}
}

// newTestServer builds a server on sqlite and miniredis. Events travel through
// Redis, so tests that assert on socket delivery use newLocalServer instead.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	db := testutil.OpenTestDB(t)
	s, err := NewServerWithDeps(testConfig(t), db, rdb)
	require.NoError(t, err)
	return &testServer{Server: s, app: s.App(), db: db, mr: mr}
}

// newLocalServer builds a server without Redis; events are delivered in-process.
func newLocalServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.OpenTestDB(t)
	s, err := NewServerWithDeps(testConfig(t), db, nil)
	require.NoError(t, err)
	return &testServer{Server: s, app: s.App(), db: db}
}

func (ts *testServer) user(t *testing.T, name, role string) (*models.User, string) {
	t.Helper()
	u := testutil.CreateUser(t, ts.db, name, role)
	token, err := middleware.IssueToken(testJWTSecret, u.ID, u.Role, time.Hour)
	require.NoError(t, err)
	return u, token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// socket registers a connection-less client in userID's room.
func (ts *testServer) socket(t *testing.T, userID uint) *notifications.Client {
	t.Helper()
	c, err := ts.hub.Register(userID, nil)
	require.NoError(t, err)
	return c
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// drain returns every frame queued on c.
func drain(t *testing.T, c *notifications.Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func frameTypes(frames []frame) []string {
	types := make([]string, 0, len(frames))
	for _, f := range frames {
		types = append(types, f.Type)
	}
	return types
}

func send(t *testing.T, ts *testServer, c *notifications.Client, typ string, payload any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(t, err)
	ts.dispatch(context.Background(), c, b)
}
