package replay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/pose"
	"github.com/google/uuid"
)

// fakeLive mimics the live session endpoints. failFrames makes that many
// frame posts fail with 503 before succeeding; conflictAt answers 409 for
// the frame with that timestamp.
type fakeLive struct {
	mu         sync.Mutex
	id         uuid.UUID
	keys       []string
	frames     int
	failFrames int
	conflictAt int64
	deleted    bool
}

func (f *fakeLive) handler() http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1/sessions/" + f.id.String()
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("POST /api/v1/sessions/{$}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.keys = append(f.keys, r.Header.Get("X-API-Key"))
		f.mu.Unlock()
		write(w, http.StatusCreated, map[string]any{"id": f.id})
	})
	mux.HandleFunc("POST "+base+"/exercises", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusCreated, map[string]any{"exercise": "squat", "active": true})
	})
	mux.HandleFunc("POST "+base+"/frames", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Exercise    string `json:"exercise"`
			TimestampMs int64  `json:"timestamp_ms"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failFrames > 0 {
			f.failFrames--
			write(w, http.StatusServiceUnavailable, map[string]string{"error": "busy"})
			return
		}
		if body.TimestampMs == f.conflictAt {
			write(w, http.StatusConflict, map[string]string{"error": "frame out of order"})
			return
		}
		f.frames++
		var out engine.Output
		if f.frames == 1 {
			out.Rejected = "low_confidence"
		}
		write(w, http.StatusOK, out)
	})
	mux.HandleFunc("DELETE "+base+"/exercises/squat", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, engine.SessionState{Exercise: engine.Squat, RepCount: 2, CurrentScore: 81, ScoreHistory: []float64{78, 84}})
	})
	mux.HandleFunc("DELETE "+base, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = true
		f.mu.Unlock()
		write(w, http.StatusOK, map[string]any{"id": f.id})
	})
	return mux
}

func testFrames(n int) []pose.Frame {
	frames := make([]pose.Frame, n)
	for i := range frames {
		frames[i] = pose.Frame{Timestamp: time.UnixMilli(int64(i+1) * 33), Landmarks: squatLandmarks(0)}
	}
	return frames
}

// TestClientStream verifies a trace is streamed over the live API, conflicting
// frames are skipped and the session is closed.
func TestClientStream(t *testing.T) {
	live := &fakeLive{id: uuid.New(), conflictAt: 66}
	ts := httptest.NewServer(live.handler())
	defer ts.Close()

	c := NewClient(ts.URL, "secret")
	res, err := c.Stream(t.Context(), engine.Squat, testFrames(4))
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID != live.id || res.Frames != 3 || res.Rejected != 1 || res.Reps != 2 || res.AvgScore != 81 {
		t.Errorf("result = %+v", res)
	}
	if !live.deleted {
		t.Error("session not ended")
	}
	if len(live.keys) != 1 || live.keys[0] != "secret" {
		t.Errorf("api keys sent = %v", live.keys)
	}
}

// TestClientRetriesServerErrors verifies 5xx responses are retried with backoff.
func TestClientRetriesServerErrors(t *testing.T) {
	live := &fakeLive{id: uuid.New(), failFrames: 2, conflictAt: -1}
	ts := httptest.NewServer(live.handler())
	defer ts.Close()

	c := NewClient(ts.URL, "secret")
	c.backoff = time.Millisecond
	res, err := c.Stream(t.Context(), engine.Squat, testFrames(2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Frames != 2 {
		t.Errorf("frames accepted = %d, want 2", res.Frames)
	}
}

// TestClientGivesUp verifies persistent failures surface after three attempts
// and client errors are not retried.
func TestClientGivesUp(t *testing.T) {
	live := &fakeLive{id: uuid.New(), failFrames: 3, conflictAt: -1}
	ts := httptest.NewServer(live.handler())
	defer ts.Close()

	c := NewClient(ts.URL, "secret")
	c.backoff = time.Millisecond
	if _, err := c.Stream(t.Context(), engine.Squat, testFrames(1)); err == nil {
		t.Fatal("expected error after repeated 503s")
	}
	if !live.deleted {
		t.Error("session not ended after failure")
	}

	calls := 0
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
	}))
	defer bad.Close()
	if _, err := NewClient(bad.URL, "").Stream(t.Context(), engine.Squat, testFrames(1)); err == nil {
		t.Fatal("expected error for 401")
	}
	if calls != 1 {
		t.Errorf("401 attempted %d times, want 1", calls)
	}
}

// TestRunRemote verifies the replayer streams traces to the server instead of
// storing them itself.
func TestRunRemote(t *testing.T) {
	live := &fakeLive{id: uuid.New(), conflictAt: -1}
	ts := httptest.NewServer(live.handler())
	defer ts.Close()

	rec := newFakeRecorder()
	r := New(rec, nil, nil, 1, false, quietLogger())
	r.SetRemote(NewClient(ts.URL, "secret"))
	stats, err := r.Run(t.Context(), traceDir(t))
	if err != nil {
		t.Fatal(err)
	}
	if stats.SessionsCreated != 1 || stats.RepsInserted != 2 || stats.FramesRead != len(squatTrace()) {
		t.Errorf("stats = %+v", stats)
	}
	if len(rec.sessions) != 0 {
		t.Errorf("local store written in remote mode: %+v", rec.sessions)
	}
	if len(stats.Results) != 1 || stats.Results[0].SessionID != live.id {
		t.Errorf("results = %+v", stats.Results)
	}
}
