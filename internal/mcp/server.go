// Package mcp provides a Model Context Protocol server for docrouter.
//
// It exposes document classification and the classification log as MCP
// tools, and the most recent log entries as an MCP resource. The server
// speaks stdio, so any MCP client can drive the pipeline.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/docrouter/internal/logging"
	"github.com/hurttlocker/docrouter/internal/pipeline"
	"github.com/hurttlocker/docrouter/internal/store"
)

const (
	defaultHistoryLimit = 5
	maxHistoryLimit     = 100
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Router  *pipeline.Router
	Store   store.Store
	Version string // version string for MCP server info
	Logger  *slog.Logger
}

// handlers holds the state shared by one server's tool and resource
// handlers. mu serializes calls that touch the database; mcp-go dispatches
// handlers concurrently.
type handlers struct {
	mu     sync.Mutex
	router *pipeline.Router
	store  store.Store
	logger *slog.Logger
}

// NewServer creates a configured MCP server with all docrouter tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	h := &handlers{router: cfg.Router, store: cfg.Store, logger: logging.OrDiscard(cfg.Logger)}

	s := server.NewMCPServer(
		"docrouter",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	h.registerClassifyTool(s)
	h.registerHistoryTool(s)
	h.registerIntentsTool(s)
	h.registerDeleteTool(s)
	h.registerClearTool(s)

	h.registerRecentResource(s)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// entryView renders a log entry with its extraction inlined as JSON.
type entryView struct {
	ID        int64           `json:"id"`
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	Intent    string          `json:"intent"`
	Extracted json.RawMessage `json:"extracted"`
	Timestamp string          `json:"timestamp"`
}

func viewEntries(entries []*store.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		extracted := json.RawMessage(e.Extracted)
		if !json.Valid(extracted) {
			extracted, _ = json.Marshal(e.Extracted)
		}
		ts := ""
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.Format(time.RFC3339Nano)
		}
		out = append(out, entryView{
			ID:        e.ID,
			Source:    e.Source,
			Type:      e.Type,
			Intent:    e.Intent,
			Extracted: extracted,
			Timestamp: ts,
		})
	}
	return out
}

// --- Tools ---

func (h *handlers) registerClassifyTool(s *server.MCPServer) {
	tool := mcp.NewTool("docrouter_classify",
		mcp.WithDescription("Classify a document by format and intent, extract structured fields, and record the result in the log. Pass text as 'content' or binary (e.g. PDF) as 'content_base64'."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Document filename; the extension selects the format (.pdf, .json, .txt, .eml)"),
		),
		mcp.WithString("content",
			mcp.Description("Document text"),
		),
		mcp.WithString("content_base64",
			mcp.Description("Document bytes, base64-encoded. Takes precedence over content."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.mu.Lock()
		defer h.mu.Unlock()

		if h.router == nil {
			return mcp.NewToolResultError("classification is not configured"), nil
		}

		filename, err := req.RequireString("filename")
		if err != nil || filename == "" {
			return mcp.NewToolResultError("filename is required"), nil
		}

		var raw []byte
		if b64 := req.GetString("content_base64", ""); b64 != "" {
			raw, err = base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid content_base64: %v", err)), nil
			}
		} else {
			raw = []byte(req.GetString("content", ""))
		}

		out, err := h.router.ClassifyAndRoute(ctx, pipeline.Document{Filename: filename, Content: raw})
		if out == nil {
			return mcp.NewToolResultError(fmt.Sprintf("classify error: %v", err)), nil
		}

		payload := map[string]any{
			"run_id":      out.RunID,
			"filename":    out.Filename,
			"file_format": out.Format,
			"intent":      out.Intent,
			"result":      json.RawMessage(out.Serialized),
		}
		if err != nil {
			h.logger.Warn("mcp.classify.record_failed", "run_id", out.RunID, "error", err)
			payload["record_error"] = err.Error()
		} else {
			payload["entry_id"] = out.EntryID
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (h *handlers) registerHistoryTool(s *server.MCPServer) {
	tool := mcp.NewTool("docrouter_history",
		mcp.WithDescription("List classification log entries, newest first. Optionally filter by intent."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("intent",
			mcp.Description("Only entries with exactly this intent (e.g., 'Email+Invoice'). Empty = all."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries (default: 5, max: 100)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.mu.Lock()
		defer h.mu.Unlock()

		opts := store.ListOpts{Limit: defaultHistoryLimit, Intent: req.GetString("intent", "")}
		if limitVal, err := req.RequireFloat("limit"); err == nil {
			limit := int(limitVal)
			if limit > maxHistoryLimit {
				limit = maxHistoryLimit
			}
			if limit > 0 {
				opts.Limit = limit
			}
		}

		entries, err := h.store.List(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("history error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(viewEntries(entries), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (h *handlers) registerIntentsTool(s *server.MCPServer) {
	tool := mcp.NewTool("docrouter_intents",
		mcp.WithDescription("List the distinct intents currently present in the classification log."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.mu.Lock()
		defer h.mu.Unlock()

		intents, err := h.store.DistinctIntents(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("intents error: %v", err)), nil
		}
		if intents == nil {
			intents = []string{}
		}
		data, _ := json.MarshalIndent(intents, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (h *handlers) registerDeleteTool(s *server.MCPServer) {
	tool := mcp.NewTool("docrouter_delete",
		mcp.WithDescription("Delete one classification log entry by id."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Log entry id"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.mu.Lock()
		defer h.mu.Unlock()

		idVal, err := req.RequireFloat("id")
		if err != nil || idVal <= 0 {
			return mcp.NewToolResultError("id must be a positive number"), nil
		}
		id := int64(idVal)

		if err := h.store.Delete(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("entry %d not found", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("delete error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted entry %d", id)), nil
	})
}

func (h *handlers) registerClearTool(s *server.MCPServer) {
	tool := mcp.NewTool("docrouter_clear",
		mcp.WithDescription("Delete every classification log entry. Requires confirm=true."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithBoolean("confirm",
			mcp.Required(),
			mcp.Description("Must be true to clear the log"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.mu.Lock()
		defer h.mu.Unlock()

		confirm, err := req.RequireBool("confirm")
		if err != nil || !confirm {
			return mcp.NewToolResultError("refusing to clear the log without confirm=true"), nil
		}
		n, err := h.store.DeleteAll(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("clear error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted %d entries", n)), nil
	})
}
