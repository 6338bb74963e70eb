package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJoinTargetURL_SlashHandling(t *testing.T) {
	want := "http://api.example/api/chat/send"
	cases := []struct{ base, path string }{
		{"http://api.example/api", "chat/send"},
		{"http://api.example/api/", "chat/send"},
		{"http://api.example/api", "/chat/send"},
		{"http://api.example/api/", "/chat/send"},
		{"http://api.example/api//", "//chat/send"},
	}
	for _, c := range cases {
		require.Equal(t, want, JoinTargetURL(c.base, c.path), "base=%q path=%q", c.base, c.path)
	}
	// applying the join to an already joined URL changes nothing
	require.Equal(t, want, JoinTargetURL(want, ""))
}

func requireCORS(t *testing.T, h http.Header) {
	t.Helper()
	require.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	require.Equal(t, "Content-Type, Authorization, Range", h.Get("Access-Control-Allow-Headers"))
}

func TestGateway_ForwardsAndPreservesStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"phone":"13800000000"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))
	defer backend.Close()

	gw := New(backend.URL, 25*time.Second, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/proxy/auth/login", strings.NewReader(`{"phone":"13800000000"}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"success":true,"message":"ok"}`, rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	requireCORS(t, rec.Header())
}

func TestGateway_RelabelsMislabeledJSON(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer backend.Close()

	gw := New(backend.URL, time.Second, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/auth/me", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestGateway_RelabelsNonJSONAsPlainText(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer backend.Close()

	gw := New(backend.URL, time.Second, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/auth/me", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "upstream exploded", rec.Body.String())
}

func TestGateway_OutboundContentTypeAlwaysJSON(t *testing.T) {
	var got string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Content-Type")
	}))
	defer backend.Close()

	gw := New(backend.URL, time.Second, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/chat/history/k1", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", got)
}

func TestGateway_ForwardsQueryString(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "page=2&size=10", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	gw := New(backend.URL, time.Second, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/chat/history/k1?page=2&size=10", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGateway_TimeoutMapsTo504(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer backend.Close()

	gw := New(backend.URL, 30*time.Millisecond, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/auth/me", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.Contains(t, rec.Body.String(), "Request timeout")
	requireCORS(t, rec.Header())
}

func TestGateway_UnreachableMapsTo502(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close() // nothing listens anymore

	gw := New(backend.URL, time.Second, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/auth/me", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "Backend service unavailable")
	requireCORS(t, rec.Header())
}

func TestGateway_PreflightNeverForwarded(t *testing.T) {
	var forwarded bool
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
	}))
	defer backend.Close()

	gw := New(backend.URL, time.Second, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/proxy/chat/send", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, forwarded)
	requireCORS(t, rec.Header())
}

func TestGateway_UpstreamCORSOverridden(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "http://only.example")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	gw := New(backend.URL, time.Second, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/auth/me", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
