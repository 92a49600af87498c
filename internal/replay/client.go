package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/pose"
	"github.com/google/uuid"
)

// Client streams traces to a running formcheck server over the live API.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a new HTTP client for the formcheck server.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: serverURL,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: time.Second,
	}
}

// statusError is a non-2xx response from the server.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// retryable reports whether a failed attempt is worth repeating.
func retryable(err error) bool {
	var se *statusError
	return !errors.As(err, &se) || se.status >= 500
}

// do sends one request and decodes a 2xx JSON response into out (if non-nil).
// Transport errors and 5xx responses are retried up to 3 times with
// exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var data []byte
	if in != nil {
		var err error
		if data, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff << uint(attempt-1)):
			}
		}

		lastErr = c.once(ctx, method, path, data, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("after 3 attempts: %w", lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, data []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{status: resp.StatusCode, body: string(bytes.TrimSpace(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

type remoteSession struct {
	ID uuid.UUID `json:"id"`
}

type remoteFrame struct {
	Exercise    engine.Exercise `json:"exercise"`
	TimestampMs int64           `json:"timestamp_ms"`
	Landmarks   pose.Landmarks  `json:"landmarks"`
}

// Stream opens a live session, feeds it the frames of one exercise, and ends
// it. It returns the result computed by the server. Frames the server ignores
// are skipped.
func (c *Client) Stream(ctx context.Context, ex engine.Exercise, frames []pose.Frame) (FileResult, error) {
	res := FileResult{Exercise: ex}

	var sess remoteSession
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/", struct{}{}, &sess); err != nil {
		return res, fmt.Errorf("creating session: %w", err)
	}
	res.SessionID = sess.ID
	base := "/api/v1/sessions/" + sess.ID.String()

	// The session is closed even if streaming fails part-way.
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		c.do(ctx, http.MethodDelete, base, nil, nil)
	}()

	start := map[string]any{"exercise": ex}
	if err := c.do(ctx, http.MethodPost, base+"/exercises", start, nil); err != nil {
		return res, fmt.Errorf("starting %s: %w", ex, err)
	}

	for _, f := range frames {
		var out engine.Output
		err := c.do(ctx, http.MethodPost, base+"/frames", remoteFrame{
			Exercise:    ex,
			TimestampMs: f.Timestamp.UnixMilli(),
			Landmarks:   f.Landmarks,
		}, &out)
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusConflict {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("sending frame: %w", err)
		}
		res.Frames++
		if out.Rejected != "" {
			res.Rejected++
		}
	}

	var final engine.SessionState
	if err := c.do(ctx, http.MethodDelete, base+"/exercises/"+string(ex), nil, &final); err != nil {
		return res, fmt.Errorf("ending %s: %w", ex, err)
	}
	res.Reps = final.RepCount
	res.Discarded = final.DiscardedReps
	res.AvgScore = final.CurrentScore
	res.Scores = final.ScoreHistory
	return res, nil
}
