package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/docrouter/internal/store"
)

func (h *handlers) registerRecentResource(s *server.MCPServer) {
	resource := mcp.NewResource(
		"docrouter://history/recent",
		"Recent Classifications",
		mcp.WithResourceDescription("The 5 most recent classification log entries."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		h.mu.Lock()
		defer h.mu.Unlock()

		entries, err := h.store.List(ctx, store.ListOpts{Limit: defaultHistoryLimit})
		if err != nil {
			return nil, fmt.Errorf("listing recent entries: %w", err)
		}
		total, err := h.store.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting entries: %w", err)
		}

		payload := map[string]any{
			"entries": viewEntries(entries),
			"count":   len(entries),
			"total":   total,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
