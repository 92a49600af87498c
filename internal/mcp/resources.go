package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) recentSessions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uid := UserIDFromContext(ctx)
	end := time.Now()
	start := end.AddDate(0, 0, -14)

	sessions, err := h.ds.QueryWorkoutSessions(ctx, start, end, uid, "")
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, sessions)
}

func (h *handlers) exerciseCatalog(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	catalog, err := h.ds.ListExercises(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, catalog)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
