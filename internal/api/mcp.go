package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/convoanchor/internal/storage"
)

// NewMCPServer creates an MCP server exposing the daemon's operator
// tools over stdio.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"convoanchor",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("convoanchor — conversation ingestion, analytics, and content-hash anchoring with simulated on-chain registries."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("scheduler_status",
			mcp.WithDescription("Report the ingestion scheduler's state: running flag, last fetch time, interval, and batch size."),
		),
		mcpSchedulerStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_fetch",
			mcp.WithDescription("Run one ingestion cycle now. Subject to the hourly rate limit."),
		),
		mcpTriggerFetch(deps),
	)

	s.AddTool(
		mcp.NewTool("search_conversations",
			mcp.WithDescription("List stored conversations with optional filters."),
			mcp.WithString("user_id", mcp.Description("Filter by owning user")),
			mcp.WithString("sentiment", mcp.Description("Filter by sentiment label: positive, negative, or neutral")),
			mcp.WithNumber("min_quality", mcp.Description("Minimum quality score, 0 to 1")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchConversations(deps),
	)

	s.AddTool(
		mcp.NewTool("tokenize_conversation",
			mcp.WithDescription("Anchor and mint a stored conversation's current content, returning the new anchor and token ids."),
			mcp.WithString("id", mcp.Description("Conversation id"), mcp.Required()),
			mcp.WithString("owner", mcp.Description("Wallet to mint the token to (defaults to the service owner)")),
		),
		mcpTokenizeConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("verify_anchor",
			mcp.WithDescription("Verify that a stored conversation's content still matches its anchored digest."),
			mcp.WithString("id", mcp.Description("Conversation id"), mcp.Required()),
		),
		mcpVerifyAnchor(deps),
	)

	return s
}

func mcpSchedulerStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Scheduler.Status())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTriggerFetch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Scheduler.ManualFetch(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("fetch cycle failed: %v", err)), nil
		}
		if res.Skipped {
			return mcpText("fetch skipped: rate limited"), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchConversations(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := storage.Filter{
			UserID:         req.GetString("user_id", ""),
			SentimentLabel: req.GetString("sentiment", ""),
			Limit:          req.GetInt("limit", 10),
		}
		if f.Limit <= 0 {
			f.Limit = 10
		}
		if f.Limit > 100 {
			f.Limit = 100
		}
		if q := req.GetFloat("min_quality", -1); q >= 0 {
			f.MinQuality = &q
		}

		convs, err := deps.Store.ListConversations(f)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(convs) == 0 {
			return mcpText("[]"), nil
		}

		type convResult struct {
			ID             string   `json:"id"`
			ExternalID     string   `json:"external_id"`
			Title          string   `json:"title"`
			SentimentLabel string   `json:"sentiment_label"`
			Topics         []string `json:"topics,omitempty"`
			QualityScore   float64  `json:"quality_score"`
			AnchorID       int64    `json:"anchor_id,omitempty"`
			TokenID        int64    `json:"token_id,omitempty"`
		}

		results := make([]convResult, len(convs))
		for i, c := range convs {
			results[i] = convResult{
				ID:             c.ID,
				ExternalID:     c.ExternalID,
				Title:          c.Summary.Title,
				SentimentLabel: c.SentimentLabel,
				Topics:         c.Topics,
				QualityScore:   c.QualityScore,
				AnchorID:       c.AnchorID,
				TokenID:        c.TokenID,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTokenizeConversation(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		owner := req.GetString("owner", deps.Owner)

		c, err := deps.Store.GetConversation(id)
		if err != nil {
			return mcpError(fmt.Sprintf("conversation %s not found", id)), nil
		}

		tokenURI := c.TokenURI
		if tokenURI == "" {
			tokenURI = "https://buddi.ai/memory/" + c.ExternalID
		}

		res, err := deps.Coordinator.Tokenize(c.Record(), owner, tokenURI)
		if err != nil {
			return mcpError(fmt.Sprintf("tokenization failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpVerifyAnchor(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		c, err := deps.Store.GetConversation(id)
		if err != nil {
			return mcpError(fmt.Sprintf("conversation %s not found", id)), nil
		}
		if c.AnchorID == 0 {
			return mcpError(fmt.Sprintf("conversation %s has no anchor", id)), nil
		}

		verified := deps.Coordinator.VerifyConversation(c.AnchorID, c.MerkleRoot)
		b, err := json.Marshal(map[string]any{
			"conversation_id": c.ID,
			"anchor_id":       c.AnchorID,
			"verified":        verified,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
