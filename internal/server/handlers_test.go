package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/pose"
	"github.com/google/uuid"
	"tailscale.com/client/tailscale/apitype"
	"tailscale.com/tailcfg"
)

const testAPIKey = "test-key"

// TestHandleMeDefault verifies the /api/v1/me endpoint returns the dev user
// identity when no Tailscale middleware is active.
func TestHandleMeDefault(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	ctx := context.WithValue(req.Context(), userInfoKey, UserInfo{Login: "local", DisplayName: "Local Dev User"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	s.handleMe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var info UserInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if info.Login != "local" {
		t.Errorf("login = %q, want %q", info.Login, "local")
	}
	if info.DisplayName != "Local Dev User" {
		t.Errorf("display_name = %q, want %q", info.DisplayName, "Local Dev User")
	}
}

// TestHandleMeTailscaleUser verifies the /api/v1/me endpoint returns the
// Tailscale user identity when set in context.
func TestHandleMeTailscaleUser(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	ctx := context.WithValue(req.Context(), userInfoKey, UserInfo{Login: "alice@example.com", DisplayName: "Alice"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	s.handleMe(rec, req)

	var info UserInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if info.Login != "alice@example.com" {
		t.Errorf("login = %q, want %q", info.Login, "alice@example.com")
	}
}

// testEnv is a server backed by in-memory fakes.
type testEnv struct {
	t     *testing.T
	srv   *Server
	store *memStore
	pub   *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	pub := &recordingPublisher{}
	return &testEnv{t: t, srv: New(store, nil, pub, testAPIKey, quietLogger()), store: store, pub: pub}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func (e *testEnv) createSession() uuid.UUID {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/sessions", nil)
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create session status = %d: %s", rec.Code, rec.Body)
	}
	return decode[sessionResponse](e.t, rec).ID
}

func (e *testEnv) startExercise(id uuid.UUID, ex engine.Exercise) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/sessions/"+id.String()+"/exercises", map[string]any{"exercise": ex})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("start exercise status = %d: %s", rec.Code, rec.Body)
	}
}

// squatLandmarks places the joints of a squat at depth (0 standing, 1 hips at ankles).
func squatLandmarks(depth float64) pose.Landmarks {
	const ankleY = 2.0
	hipY := ankleY - (1 - depth)
	lm := func(x, y float64) pose.Landmark { return pose.Landmark{X: x, Y: y, Confidence: 0.9} }
	return pose.Landmarks{
		pose.LeftShoulder:  lm(0.4, hipY-0.5),
		pose.RightShoulder: lm(0.6, hipY-0.5),
		pose.LeftHip:       lm(0.4, hipY),
		pose.RightHip:      lm(0.6, hipY),
		pose.LeftKnee:      lm(0.4, (hipY+ankleY)/2),
		pose.RightKnee:     lm(0.6, (hipY+ankleY)/2),
		pose.LeftAnkle:     lm(0.4, ankleY),
		pose.RightAnkle:    lm(0.6, ankleY),
	}
}

func (e *testEnv) frame(id uuid.UUID, ms int64, depth float64) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, "/api/v1/sessions/"+id.String()+"/frames", map[string]any{
		"exercise":     engine.Squat,
		"timestamp_ms": ms,
		"landmarks":    squatLandmarks(depth),
	})
}

// rep streams one descend-hold-ascend cycle at 20 ms intervals starting after
// ms and returns the last timestamp sent.
func (e *testEnv) rep(id uuid.UUID, ms int64) int64 {
	e.t.Helper()
	send := func(depth float64) {
		ms += 20
		if rec := e.frame(id, ms, depth); rec.Code != http.StatusOK {
			e.t.Fatalf("frame at %d ms status = %d: %s", ms, rec.Code, rec.Body)
		}
	}
	for i := 1; i <= 30; i++ {
		send(0.55 * float64(i) / 30)
	}
	for range 10 {
		send(0.55)
	}
	for i := 1; i <= 25; i++ {
		send(0.55 - 0.5*float64(i)/25)
	}
	return ms
}

// TestLiveSessionCountsAndStoresRep verifies a full rep streamed over HTTP is
// counted, stored against the open set and published.
func TestLiveSessionCountsAndStoresRep(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession()
	e.startExercise(id, engine.Squat)

	if rec := e.frame(id, 0, 0); rec.Code != http.StatusOK {
		t.Fatalf("calibration frame status = %d: %s", rec.Code, rec.Body)
	}
	e.rep(id, 0)

	if len(e.store.reps) != 1 {
		t.Fatalf("stored %d reps, want 1", len(e.store.reps))
	}
	sets := e.store.setsFor(id)
	if len(sets) != 1 {
		t.Fatalf("got %d sets, want 1", len(sets))
	}
	rep := e.store.reps[0]
	if rep.SetID != sets[0].ID || rep.SessionID != id || rep.RepNumber != 1 || rep.Exercise != "squat" {
		t.Errorf("stored rep = %+v", rep)
	}
	if len(e.pub.events) != 1 || e.pub.events[0].SessionID != id {
		t.Errorf("published events = %+v", e.pub.events)
	}

	rec := e.do(http.MethodDelete, "/api/v1/sessions/"+id.String()+"/exercises/squat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end exercise status = %d: %s", rec.Code, rec.Body)
	}
	state := decode[engine.SessionState](t, rec)
	if state.Active || state.RepCount != 1 {
		t.Errorf("final state active=%v reps=%d", state.Active, state.RepCount)
	}
	set := e.store.setsFor(id)[0]
	if set.EndedAt == nil || set.RepCount != 1 || set.AvgScore == nil {
		t.Errorf("set summary = %+v", set)
	}

	rec = e.do(http.MethodDelete, "/api/v1/sessions/"+id.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session status = %d", rec.Code)
	}
	if e.store.sessions[id].EndedAt == nil {
		t.Error("session end time not stored")
	}
	if rec := e.do(http.MethodGet, "/api/v1/sessions/"+id.String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("ended session lookup status = %d, want 404", rec.Code)
	}
}

// TestFrameOutOfOrder verifies a frame not after its predecessor is rejected with 409.
func TestFrameOutOfOrder(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession()
	e.startExercise(id, engine.Squat)

	if rec := e.frame(id, 1000, 0); rec.Code != http.StatusOK {
		t.Fatalf("first frame status = %d", rec.Code)
	}
	for _, ms := range []int64{1000, 980} {
		rec := e.frame(id, ms, 0)
		if rec.Code != http.StatusConflict {
			t.Errorf("frame at %d ms status = %d, want 409", ms, rec.Code)
		}
		if body := decode[map[string]string](t, rec); body["ignore_reason"] != engine.IgnoreOutOfOrder {
			t.Errorf("ignore_reason = %q", body["ignore_reason"])
		}
	}
}

// TestFrameErrors verifies malformed and misrouted frames are rejected.
func TestFrameErrors(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession()
	path := "/api/v1/sessions/" + id.String() + "/frames"

	tests := []struct {
		name string
		body any
		want int
	}{
		{"not started", map[string]any{"exercise": "squat", "timestamp_ms": 1, "landmarks": squatLandmarks(0)}, http.StatusNotFound},
		{"unknown exercise", map[string]any{"exercise": "deadlift", "timestamp_ms": 1}, http.StatusBadRequest},
		{"bad landmarks", map[string]any{"exercise": "squat", "timestamp_ms": 1, "landmarks": "nope"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.do(http.MethodPost, path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}

	if rec := e.do(http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/frames", tests[0].body); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

// TestStartExerciseConfig verifies config overrides are validated and applied.
func TestStartExerciseConfig(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession()
	path := "/api/v1/sessions/" + id.String() + "/exercises"

	rec := e.do(http.MethodPost, path, map[string]any{
		"exercise": "squat",
		"config":   map[string]any{"weights": map[string]float64{"form": 1, "depth": 1, "alignment": 1, "balance": 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid config status = %d, want 400: %s", rec.Code, rec.Body)
	}
	if len(e.store.setsFor(id)) != 0 {
		t.Error("set stored for rejected start")
	}

	rec = e.do(http.MethodPost, path, map[string]any{"exercise": "squat", "config": map[string]any{"depth_target": 0.7}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("override status = %d: %s", rec.Code, rec.Body)
	}
	var cfg engine.Config
	if err := json.Unmarshal(e.store.setsFor(id)[0].Config, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.DepthTarget != 0.7 || cfg.MinRepDuration != engine.DefaultConfig(engine.Squat).MinRepDuration {
		t.Errorf("stored config = %+v", cfg)
	}

	if rec := e.do(http.MethodPost, path, map[string]any{"exercise": "squat"}); rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}
}

// TestResetStartsNewSet verifies a reset closes the current set and opens another.
func TestResetStartsNewSet(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession()
	e.startExercise(id, engine.Squat)
	e.frame(id, 0, 0)
	e.rep(id, 0)

	rec := e.do(http.MethodPost, "/api/v1/sessions/"+id.String()+"/exercises/squat/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d: %s", rec.Code, rec.Body)
	}
	if s := decode[engine.SessionState](t, rec); s.RepCount != 0 || !s.Active {
		t.Errorf("reset state reps=%d active=%v", s.RepCount, s.Active)
	}

	sets := e.store.setsFor(id)
	if len(sets) != 2 {
		t.Fatalf("got %d sets, want 2", len(sets))
	}
	var closed int
	for _, s := range sets {
		if s.EndedAt != nil {
			closed++
			if s.RepCount != 1 {
				t.Errorf("closed set reps = %d, want 1", s.RepCount)
			}
		}
	}
	if closed != 1 {
		t.Errorf("closed sets = %d, want 1", closed)
	}
}

// TestResetAfterEndConflicts verifies an ended exercise cannot be revived by a
// reset and no extra set is opened.
func TestResetAfterEndConflicts(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession()
	e.startExercise(id, engine.Squat)
	base := "/api/v1/sessions/" + id.String() + "/exercises/squat"

	if rec := e.do(http.MethodDelete, base, nil); rec.Code != http.StatusOK {
		t.Fatalf("end status = %d: %s", rec.Code, rec.Body)
	}
	if rec := e.do(http.MethodPost, base+"/reset", nil); rec.Code != http.StatusConflict {
		t.Errorf("reset after end status = %d, want 409", rec.Code)
	}
	if rec := e.frame(id, 20, 0); rec.Code != http.StatusConflict {
		t.Errorf("frame after reset attempt status = %d, want 409", rec.Code)
	}
	if sets := e.store.setsFor(id); len(sets) != 1 {
		t.Errorf("got %d sets, want 1", len(sets))
	}
}

// TestSessionsRequireAPIKey verifies live endpoints reject missing keys.
func TestSessionsRequireAPIKey(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

type fakeWhoIs map[string]string

func (f fakeWhoIs) WhoIs(_ context.Context, addr string) (*apitype.WhoIsResponse, error) {
	login, ok := f[addr]
	if !ok {
		return nil, errors.New("no such peer")
	}
	return &apitype.WhoIsResponse{UserProfile: &tailcfg.UserProfile{LoginName: login, DisplayName: login}}, nil
}

// TestSessionOwnership verifies one tailnet user cannot reach another's session.
func TestSessionOwnership(t *testing.T) {
	e := newTestEnv(t)
	e.srv.SetTailscale(fakeWhoIs{"100.64.0.1:1000": "alice@example.com", "100.64.0.2:1000": "bob@example.com"})

	as := func(addr, method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(""))
		req.RemoteAddr = addr
		req.Header.Set("X-API-Key", testAPIKey)
		rec := httptest.NewRecorder()
		e.srv.ServeHTTP(rec, req)
		return rec
	}

	rec := as("100.64.0.1:1000", http.MethodPost, "/api/v1/sessions")
	if rec.Code != http.StatusCreated {
		t.Fatalf("alice create status = %d: %s", rec.Code, rec.Body)
	}
	id := decode[sessionResponse](t, rec).ID

	if rec := as("100.64.0.2:1000", http.MethodGet, "/api/v1/sessions/"+id.String()); rec.Code != http.StatusNotFound {
		t.Errorf("bob lookup status = %d, want 404", rec.Code)
	}
	if rec := as("100.64.0.1:1000", http.MethodGet, "/api/v1/sessions/"+id.String()); rec.Code != http.StatusOK {
		t.Errorf("alice lookup status = %d, want 200", rec.Code)
	}
	if rec := as("100.64.0.9:1000", http.MethodGet, "/api/v1/me"); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown peer status = %d, want 401", rec.Code)
	}
}

// TestShutdownClosesSessions verifies live sessions are ended and summarized on shutdown.
func TestShutdownClosesSessions(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession()
	e.startExercise(id, engine.Squat)

	e.srv.Shutdown(context.Background())

	if n := e.srv.live.count(); n != 0 {
		t.Errorf("%d live sessions after shutdown", n)
	}
	if e.store.sessions[id].EndedAt == nil {
		t.Error("session not ended")
	}
	if sets := e.store.setsFor(id); len(sets) != 1 || sets[0].EndedAt == nil {
		t.Errorf("sets after shutdown = %+v", sets)
	}
}

// TestIdleSessionsSwept verifies sessions without requests past the idle
// timeout are ended and stored, and active ones are kept.
func TestIdleSessionsSwept(t *testing.T) {
	e := newTestEnv(t)
	idle := e.createSession()
	e.startExercise(idle, engine.Squat)
	e.frame(idle, 0, 0)
	e.rep(idle, 0)
	active := e.createSession()

	if n := e.srv.SweepIdle(context.Background(), time.Minute, time.Now()); n != 0 {
		t.Fatalf("swept %d fresh sessions", n)
	}

	ls, ok := e.srv.live.get(active, 1)
	if !ok {
		t.Fatal("active session not registered")
	}
	ls.touch(time.Now().Add(2 * time.Minute))
	if n := e.srv.SweepIdle(context.Background(), time.Minute, time.Now().Add(90*time.Second)); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}

	if rec := e.do(http.MethodGet, "/api/v1/sessions/"+idle.String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("idle session status = %d, want 404", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/api/v1/sessions/"+active.String(), nil); rec.Code != http.StatusOK {
		t.Errorf("active session status = %d, want 200", rec.Code)
	}
	if e.store.sessions[idle].EndedAt == nil {
		t.Error("idle session not ended")
	}
	sets := e.store.setsFor(idle)
	if len(sets) != 1 || sets[0].EndedAt == nil || sets[0].RepCount != 1 {
		t.Errorf("idle session sets = %+v, want one closed set with 1 rep", sets)
	}
}

// TestHistoryEndpoints verifies query parameters are validated and forwarded.
func TestHistoryEndpoints(t *testing.T) {
	e := newTestEnv(t)

	if rec := e.do(http.MethodGet, "/api/v1/reps?exercise=lunge&limit=20", nil); rec.Code != http.StatusOK {
		t.Errorf("reps status = %d", rec.Code)
	}
	if e.store.lastRepQ.exercise != "lunge" || e.store.lastRepQ.limit != 20 {
		t.Errorf("rep query = %+v", e.store.lastRepQ)
	}
	e.do(http.MethodGet, "/api/v1/reps", nil)
	if e.store.lastRepQ.limit != defaultRepLimit {
		t.Errorf("default limit = %d", e.store.lastRepQ.limit)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/reps?exercise=deadlift", http.StatusBadRequest},
		{"/api/v1/workouts?start=yesterday", http.StatusBadRequest},
		{"/api/v1/workouts/not-a-uuid", http.StatusBadRequest},
		{"/api/v1/workouts/" + uuid.NewString(), http.StatusNotFound},
		{"/api/v1/exercises/squat/stats?start=2026-01-01", http.StatusOK},
		{"/api/v1/exercises/deadlift/stats", http.StatusBadRequest},
		{"/api/v1/replays", http.StatusOK},
	}
	for _, tt := range tests {
		if rec := e.do(http.MethodGet, tt.path, nil); rec.Code != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	rec := e.do(http.MethodGet, "/api/v1/exercises", nil)
	catalog := decode[[]engine.ExerciseInfo](t, rec)
	if len(catalog) != len(engine.Exercises()) {
		t.Errorf("catalog has %d entries", len(catalog))
	}
}
