package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/models"
	"github.com/claude/formcheck/internal/storage"
	"github.com/google/uuid"
)

// HTTPClient implements DataSource by calling the FormCheck REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	return body, nil
}

// getJSON fetches path and decodes the body into v.
func (c *HTTPClient) getJSON(ctx context.Context, path string, params url.Values, what string, v any) error {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", what, err)
	}
	return nil
}

func timeParams(start, end time.Time) url.Values {
	v := url.Values{}
	v.Set("start", start.Format(time.RFC3339))
	v.Set("end", end.Format(time.RFC3339))
	return v
}

func (c *HTTPClient) QueryWorkoutSessions(ctx context.Context, start, end time.Time, _ int, exercise string) ([]models.WorkoutSessionRow, error) {
	params := timeParams(start, end)
	if exercise != "" {
		params.Set("exercise", exercise)
	}

	var sessions []models.WorkoutSessionRow
	if err := c.getJSON(ctx, "/api/v1/workouts", params, "workout sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *HTTPClient) GetWorkoutSession(ctx context.Context, id uuid.UUID, _ int) (*storage.WorkoutSessionDetail, error) {
	var detail storage.WorkoutSessionDetail
	if err := c.getJSON(ctx, "/api/v1/workouts/"+id.String(), nil, "workout session", &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *HTTPClient) QueryReps(ctx context.Context, start, end time.Time, _ int, exercise string, limit int) ([]models.RepRow, error) {
	params := timeParams(start, end)
	if exercise != "" {
		params.Set("exercise", exercise)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var reps []models.RepRow
	if err := c.getJSON(ctx, "/api/v1/reps", params, "reps", &reps); err != nil {
		return nil, err
	}
	return reps, nil
}

func (c *HTTPClient) GetExerciseStats(ctx context.Context, _ int, exercise string, start, end time.Time) (*storage.ExerciseStats, error) {
	var stats storage.ExerciseStats
	path := "/api/v1/exercises/" + url.PathEscape(exercise) + "/stats"
	if err := c.getJSON(ctx, path, timeParams(start, end), "exercise stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTPClient) ListExercises(ctx context.Context) ([]engine.ExerciseInfo, error) {
	var catalog []engine.ExerciseInfo
	if err := c.getJSON(ctx, "/api/v1/exercises", nil, "exercises", &catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}
