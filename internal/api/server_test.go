package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littletone/littletone/internal/chat"
	"github.com/littletone/littletone/internal/history"
	"github.com/littletone/littletone/internal/image"
	"github.com/littletone/littletone/internal/knowledge"
	"github.com/littletone/littletone/internal/log"
	"github.com/littletone/littletone/internal/ratelimit"
	"github.com/littletone/littletone/internal/testutil"
)

const modelOutput = `{"reply":"先穩住，不用馬上回。","key_change":"降溫","analysis":"對方在等你的反應","tip":"晚十分鐘再回"}`

// newTestHandler builds the full HTTP stack against the mock model. A zero
// cooldown disables throttling unless a test asks for one.
func newTestHandler(t *testing.T, cooldown time.Duration) http.Handler {
	t.Helper()
	g := genkit.Init(context.Background())

	mock := testutil.NewMockModel(modelOutput)
	mock.Register(g)

	store := history.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	svc, err := chat.NewService(chat.ServiceConfig{
		Genkit:        g,
		ModelName:     testutil.MockModelName,
		Retriever:     knowledge.NewRetriever("testdata/none_dict.json", "testdata/none_scenarios.json", log.NewNop()),
		Images:        image.NewProcessor(log.NewNop()),
		Store:         store,
		HistoryWindow: 10,
		Logger:        log.NewNop(),
	})
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(time.Hour), cooldown, log.NewNop())

	srv, err := NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Service:     svc,
		Limiter:     limiter,
		CORSOrigins: []string{"https://app.littletone.tw"},
	})
	require.NoError(t, err)
	return srv.Handler()
}

func postChat(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestChatEndpoint_Success(t *testing.T) {
	handler := newTestHandler(t, 0)

	w := postChat(handler, `{"message":"主管又傳「在嗎」給我"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp struct {
		Status    string     `json:"status"`
		Data      chat.Reply `json:"data"`
		SessionID string     `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "先穩住，不用馬上回。", resp.Data.Reply)
	assert.NotEmpty(t, resp.SessionID)
}

func TestChatEndpoint_SessionIDRoundTrip(t *testing.T) {
	handler := newTestHandler(t, 0)

	w := postChat(handler, `{"message":"嗨","session_id":"abc-123"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp.SessionID)
}

func TestChatEndpoint_BadRequests(t *testing.T) {
	handler := newTestHandler(t, 0)

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"blank message and image", `{"message":"","image":""}`},
		{"malformed json", `{"message":`},
		{"not json at all", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postChat(handler, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp struct {
				Status string `json:"status"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
		})
	}
}

func TestChatEndpoint_OversizedImage(t *testing.T) {
	handler := newTestHandler(t, 0)

	// 4 MiB + 1 of base64 payload inside a body under the 5 MiB body cap.
	img := strings.Repeat("A", 4<<20+1)
	w := postChat(handler, fmt.Sprintf(`{"image":%q}`, img))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var resp struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "image too large", resp.Message)
}

func TestChatEndpoint_OversizedBody(t *testing.T) {
	handler := newTestHandler(t, 0)

	var body bytes.Buffer
	body.WriteString(`{"message":"`)
	body.WriteString(strings.Repeat("x", 5<<20))
	body.WriteString(`"}`)

	w := postChat(handler, body.String())
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestChatEndpoint_RateLimited(t *testing.T) {
	handler := newTestHandler(t, 5*time.Second)

	first := postChat(handler, `{"message":"第一則"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := postChat(handler, `{"message":"第二則"}`)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	var resp struct {
		Status     string `json:"status"`
		Message    string `json:"message"`
		ErrorType  string `json:"error_type"`
		RetryAfter int    `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "rate_limit", resp.ErrorType)
	assert.Contains(t, resp.Message, "秒後再試")
	assert.GreaterOrEqual(t, resp.RetryAfter, 1)
	assert.LessOrEqual(t, resp.RetryAfter, 5)
}

func TestChatEndpoint_RateLimitIsPerClient(t *testing.T) {
	handler := newTestHandler(t, 5*time.Second)

	send := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"嗨"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, send("192.0.2.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1:2222"))
	assert.Equal(t, http.StatusOK, send("192.0.2.2:1111"))
}

func TestChatEndpoint_UpstreamFailureDegradesToFallback(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := testutil.NewMockModel(modelOutput)
	mock.Register(g)
	mock.FailWith(testutil.ErrUpstream)

	store := history.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	svc, err := chat.NewService(chat.ServiceConfig{
		Genkit:        g,
		ModelName:     testutil.MockModelName,
		Retriever:     knowledge.NewRetriever("testdata/none_dict.json", "testdata/none_scenarios.json", log.NewNop()),
		Store:         store,
		HistoryWindow: 10,
		Logger:        log.NewNop(),
	})
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{
		Service: svc,
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore(time.Hour), 0, log.NewNop()),
	})
	require.NoError(t, err)

	w := postChat(srv.Handler(), `{"message":"測試"}`)

	// Model failures are absorbed into the fallback object, still a 200.
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status string     `json:"status"`
		Data   chat.Reply `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, chat.FallbackReply().Reply, resp.Data.Reply)
}

func TestChatEndpoint_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t, 5*time.Second)

	// Health bypasses the middleware stack, so it is never throttled.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	handler := newTestHandler(t, 0)

	t.Run("allowed origin gets headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.Header.Set("Origin", "https://app.littletone.tw")
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.littletone.tw", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		handler.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestNewServer_Validation(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(time.Hour), 0, log.NewNop())

	_, err := NewServer(ServerConfig{Limiter: limiter})
	assert.Error(t, err, "missing service must be rejected")

	_, err = NewServer(ServerConfig{Service: &chat.Service{}})
	assert.Error(t, err, "missing limiter must be rejected")
}
