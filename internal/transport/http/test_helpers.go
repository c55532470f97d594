package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkroom/talkroom-server/internal/auth"
	"github.com/talkroom/talkroom-server/internal/bus"
	"github.com/talkroom/talkroom-server/internal/config"
	"github.com/talkroom/talkroom-server/internal/core"
	"github.com/talkroom/talkroom-server/internal/store/sqlite"
)

// testEnv wires the full server stack onto an in-memory store and an
// in-process bus, fronted by an httptest server.
type testEnv struct {
	srv   *httptest.Server
	store *sqlite.SQLiteStore
	hub   *core.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "talkroom",
		Audience: "talkroom",
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	hub := core.NewHub(st, bus.NewLocalBus(), &logger)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("failed to start hub: %v", err)
	}

	cfg := config.Default()
	server := NewServer(hub, authService, st, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{srv: ts, store: st, hub: hub}
}

// registerUser registers a fresh user through the API and returns its token.
func (e *testEnv) registerUser(t *testing.T, username string) string {
	t.Helper()

	status, body := e.request(t, stdhttp.MethodPost, "/api/register", "", map[string]any{
		"username": username,
		"password": "password123",
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("register %s: status %d, body %s", username, status, body)
	}

	var resp AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token
}

// request performs one API call; payload, when non-nil, is sent as JSON.
func (e *testEnv) request(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := stdhttp.NewRequest(method, e.srv.URL+path, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := stdhttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, body
}

func decodeJSON[T any](t *testing.T, body []byte) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode response %s: %v", body, err)
	}
	return v
}
