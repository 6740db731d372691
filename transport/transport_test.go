package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-car/rpckit"
)

func newEngine(t *testing.T) *rpckit.Engine {
	t.Helper()
	e, err := rpckit.New(rpckit.WithLogger(nil))
	require.NoError(t, err)

	require.NoError(t, e.Register("add", rpckit.Typed(func(ctx context.Context, p struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (int, error) {
		return p.A + p.B, nil
	})))
	require.NoError(t, e.Register("whoami", func(ctx context.Context, params rpckit.Params, rc *rpckit.RequestContext) (any, error) {
		return map[string]string{"token": rc.Token, "remote": rc.RemoteAddr}, nil
	}))
	return e
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(NewHTTPHandler(newEngine(t), WithMaxRequestSize(256)))
	defer srv.Close()

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		headers     map[string]string
		wantStatus  int
		wantBody    string
	}{
		{
			name:        "call",
			method:      http.MethodPost,
			contentType: "application/json; charset=utf-8",
			body:        `{"jsonrpc":"2.0","method":"add","params":{"a":5,"b":3},"id":1}`,
			wantStatus:  http.StatusOK,
			wantBody:    `{"jsonrpc":"2.0","result":8,"id":1}`,
		},
		{
			name:        "notification",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","method":"add","params":{"a":5,"b":3}}`,
			wantStatus:  http.StatusNoContent,
		},
		{
			name:        "parse error is a JSON-RPC response",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{`,
			wantStatus:  http.StatusOK,
			wantBody:    `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error","data":{"detail":"malformed JSON"}},"id":null}`,
		},
		{
			name:        "bearer token and remote address",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","method":"whoami","id":1}`,
			headers:     map[string]string{"Authorization": "Bearer s3cret"},
			wantStatus:  http.StatusOK,
			wantBody:    `{"jsonrpc":"2.0","result":{"token":"s3cret","remote":"127.0.0.1"},"id":1}`,
		},
		{
			name:       "GET not allowed",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:        "wrong content type",
			method:      http.MethodPost,
			contentType: "text/plain",
			body:        `{}`,
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:        "too large",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","method":"add","params":{"pad":"` + strings.Repeat("x", 300) + `"},"id":1}`,
			wantStatus:  http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantBody != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
				assert.JSONEq(t, tt.wantBody, string(body))
			}
		})
	}
}

func TestHTTPHandler_Origins(t *testing.T) {
	h := NewHTTPHandler(newEngine(t), WithAllowedOrigins("https://app.example.com"))

	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHTTPHandler_TrustProxy(t *testing.T) {
	h := NewHTTPHandler(newEngine(t), WithTrustProxy(true))

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"whoami","id":1}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{"token":"","remote":"203.0.113.7"},"id":1}`, rec.Body.String())
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer  abc ", want: "abc"},
		{header: "Basic dXNlcjo=", want: ""},
		{header: "", want: ""},
		{header: "Bearer", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BearerToken(tt.header), tt.header)
	}
}

func TestWebSocketHandler(t *testing.T) {
	h := NewWebSocketHandler(newEngine(t))
	srv := httptest.NewServer(h)
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer ws-token")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// a notification gets no reply, so the next message read answers the call
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"add","params":[1,1]}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1},{"jsonrpc":"2.0","method":"whoami","id":2}]`)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"jsonrpc":"2.0","result":3,"id":1},{"jsonrpc":"2.0","result":{"token":"ws-token","remote":"127.0.0.1"},"id":2}]`, string(data))

	assert.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestServer_Handler(t *testing.T) {
	s := NewServer(newEngine(t), ServerConfig{WebSocketPath: DefaultWebSocketPath})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+DefaultHTTPPath, "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"add","params":[2,2],"id":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":4,"id":"x"}`, string(body))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+DefaultWebSocketPath, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer(newEngine(t), ServerConfig{Address: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStdioServer(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`,
		``,
		`{"jsonrpc":"2.0","method":"add","params":[1,2]}`,
		`{`,
		`{"jsonrpc":"2.0","method":"whoami","id":"w"}`,
	}, "\n"))
	var out strings.Builder

	err := NewStdioServer(newEngine(t), in, &out).Run(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":3,"id":1}`, lines[0])
	assert.Contains(t, lines[1], `"code":-32700`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{"token":"","remote":"stdio"},"id":"w"}`, lines[2])
}
