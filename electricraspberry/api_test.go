package electricraspberry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIToken = "test-token"

// newTestBot returns a headless bot with the API enabled. The database
// is closed when the test finishes.
func newTestBot(t *testing.T) *ElectricRaspberry {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.Token = testAPIToken

	bot, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, err := bot.db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return bot
}

func apiRequest(t *testing.T, bot *ElectricRaspberry, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIToken)

	w := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAPI_HealthCheck(t *testing.T) {
	bot := newTestBot(t)

	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set(xRequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(xRequestIDHeader))
	resp := decodeJSON[healthCheckResponse](t, w)
	assert.False(t, resp.Sleeping)
	assert.False(t, resp.DiscordGatewayConnected)

	// request IDs are generated when missing
	w = httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, apiHealthCheck, nil))
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))
}

func TestAPI_Auth(t *testing.T) {
	bot := newTestBot(t)
	path := apiPrefix + apiPathStatus

	testCases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testAPIToken, http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + testAPIToken, http.StatusOK},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, path, nil)
				if tc.header != "" {
					req.Header.Set("Authorization", tc.header)
				}
				w := httptest.NewRecorder()
				bot.api.engine.ServeHTTP(w, req)
				assert.Equal(t, tc.code, w.Code)
			},
		)
	}
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", authMiddleware(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAPI_Status(t *testing.T) {
	bot := newTestBot(t)
	now := time.Now()
	bot.buffers.AddEvent("c1", newTestEvent("c1", "alice", "one", now))
	bot.buffers.AddEvent("c1", newTestEvent("c1", "bob", "two", now))
	bot.buffers.AddEvent("c2", newTestEvent("c2", "alice", "three", now))
	require.NoError(t, bot.catchup.AddToCatchupQueue(context.Background(), newTestEvent("c3", "carol", "zzz", now)))

	w := apiRequest(t, bot, http.MethodGet, apiPrefix+apiPathStatus, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[statusResponse](t, w)
	assert.Equal(t, 2, resp.Buffers)
	assert.Equal(t, 3, resp.BufferedEvents)
	assert.Equal(t, int64(1), resp.CatchupPending)
	assert.InDelta(t, DefaultStaminaMax, resp.Stamina, 0.01)
	assert.False(t, resp.Sleeping)
	assert.Empty(t, resp.HeldLocks)

	assert.Equal(t, 1, bot.api.RequestMetrics()["GET /api/status"])
}

func TestAPI_Channel(t *testing.T) {
	bot := newTestBot(t)
	e := newTestEvent("c1", "alice", "hello", time.Now())
	bot.buffers.AddEvent("c1", e)
	bot.regulator.RecordChannelMessage("c1", false, e.Timestamp)
	bot.regulator.RecordChannelMessage("quiet", false, e.Timestamp)

	w := apiRequest(t, bot, http.MethodGet, apiPrefix+"/channels/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON[struct {
		ChannelID string `json:"channel_id"`
		Activity  struct {
			WindowMessageCount int `json:"window_message_count"`
		} `json:"activity"`
		Events []struct {
			ID string `json:"id"`
		} `json:"events"`
	}](t, w)
	assert.Equal(t, "c1", resp.ChannelID)
	assert.Equal(t, 1, resp.Activity.WindowMessageCount)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, e.ID, resp.Events[0].ID)

	// tracked, but nothing buffered
	w = apiRequest(t, bot, http.MethodGet, apiPrefix+"/channels/quiet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events":[]`)

	w = apiRequest(t, bot, http.MethodGet, apiPrefix+"/channels/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_Stamina(t *testing.T) {
	bot := newTestBot(t)
	path := apiPrefix + apiPathStamina

	w := apiRequest(t, bot, http.MethodPost, path, staminaRequest{Action: staminaActionSleep})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bot.stamina.IsSleeping())
	time.Sleep(5 * time.Millisecond)
	assert.True(t, bot.stamina.IsSleeping(), "stays asleep at full stamina")

	w = apiRequest(t, bot, http.MethodPost, path, staminaRequest{Action: staminaActionWake})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, bot.stamina.IsSleeping())

	for _, body := range []any{staminaRequest{Action: "nap"}, map[string]string{}} {
		w = apiRequest(t, bot, http.MethodPost, path, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, fmt.Sprintf("%v", body))
	}
}

func TestAPI_Maintenance(t *testing.T) {
	bot := newTestBot(t)
	ctx := context.Background()

	// asleep when these arrived, re-buffered by maintenance
	require.NoError(t, bot.catchup.AddToCatchupQueue(ctx, newTestEvent("c1", "alice", "hi", time.Now())))

	w := apiRequest(t, bot, http.MethodPost, apiPrefix+apiPathMaintenance, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "maintenance complete", decodeJSON[httpReply](t, w).Message)
	assert.Len(t, bot.buffers.PeekEvents("c1"), 1)

	n, err := bot.catchup.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAPI_ServeShutdown(t *testing.T) {
	bot := newTestBot(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	bot.api.listener = ln

	served := make(chan error, 1)
	go func() {
		served <- bot.api.Serve(context.Background())
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s%s", ln.Addr(), apiHealthCheck))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bot.api.Shutdown(ctx))

	select {
	case err = <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server didn't stop")
	}
}
