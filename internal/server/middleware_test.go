package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

// TestDevIdentity verifies every request is attributed to the seeded local
// user when Tailscale is off.
func TestDevIdentity(t *testing.T) {
	var gotID int
	var gotInfo UserInfo
	handler := DevIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotInfo = userIDFromContext(r), userInfoFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if gotID != 1 || gotInfo != devUser {
		t.Errorf("identity = %d %+v, want 1 %+v", gotID, gotInfo, devUser)
	}
}

// TestIdentityFromContext verifies context lookups and their local-user fallback.
func TestIdentityFromContext(t *testing.T) {
	alice := UserInfo{Login: "alice@example.com", DisplayName: "Alice"}
	tests := []struct {
		name     string
		id       any
		info     any
		wantID   int
		wantInfo UserInfo
	}{
		{"unset", nil, nil, 1, devUser},
		{"set", 42, alice, 42, alice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			ctx := req.Context()
			if tt.id != nil {
				ctx = context.WithValue(ctx, userIDKey, tt.id)
				ctx = context.WithValue(ctx, userInfoKey, tt.info)
			}
			req = req.WithContext(ctx)

			if id := userIDFromContext(req); id != tt.wantID {
				t.Errorf("userIDFromContext = %d, want %d", id, tt.wantID)
			}
			if info := userInfoFromContext(req); info != tt.wantInfo {
				t.Errorf("userInfoFromContext = %+v, want %+v", info, tt.wantInfo)
			}
		})
	}
}

// TestRequestLoggingLevels verifies frame posts log at debug unless they fail
// and server errors log at error.
func TestRequestLoggingLevels(t *testing.T) {
	tests := []struct {
		method string
		path   string
		status int
		want   string
	}{
		{http.MethodGet, "/api/v1/workouts", http.StatusOK, "INFO"},
		{http.MethodPost, "/api/v1/sessions/abc/frames", http.StatusOK, "DEBUG"},
		{http.MethodPost, "/api/v1/sessions/abc/frames", http.StatusConflict, "INFO"},
		{http.MethodGet, "/api/v1/reps", http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+strconv.Itoa(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			handler := RequestLogging(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			var entry struct {
				Level  string `json:"level"`
				Status int    `json:"status"`
			}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("decoding log line %q: %v", buf.String(), err)
			}
			if entry.Level != tt.want || entry.Status != tt.status {
				t.Errorf("logged level=%s status=%d, want %s %d", entry.Level, entry.Status, tt.want, tt.status)
			}
		})
	}
}

// TestCORSHeaders verifies that CORS headers are set on responses.
func TestCORSHeaders(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin = %q, want *", got)
	}
}

// TestCORSPreflight verifies that OPTIONS requests get 204 with CORS headers.
func TestCORSPreflight(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called for OPTIONS")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

// TestAPIKeyAuth verifies missing keys get 401, wrong keys 403, and the right key passes.
func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusForbidden},
		{"valid", "secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// TestTailscaleIdentityCachesUser verifies the user lookup runs once per login.
func TestTailscaleIdentityCachesUser(t *testing.T) {
	store := &countingUsers{}
	mw := TailscaleIdentity(fakeWhoIs{"100.64.0.1:1": "carol@example.com"}, store, slog.Default())
	var got []int
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, userIDFromContext(r))
		if info := userInfoFromContext(r); info.Login != "carol@example.com" {
			t.Errorf("login = %q", info.Login)
		}
	}))

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "100.64.0.1:1"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if store.calls != 1 {
		t.Errorf("GetOrCreateUser called %d times, want 1", store.calls)
	}
	if len(got) != 3 || got[2] != 9 {
		t.Errorf("user IDs = %v", got)
	}
}

type countingUsers struct{ calls int }

func (c *countingUsers) GetOrCreateUser(context.Context, string, string) (int, error) {
	c.calls++
	return 9, nil
}
