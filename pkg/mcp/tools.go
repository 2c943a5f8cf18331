package mcp

import (
	"context"
	"encoding/json"

	"github.com/killer-ai/killer/pkg/models"
)

type textArgs struct {
	Text string `json:"text"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"killer_explain":     modeHandler(models.ModeExplain),
	"killer_answer":      modeHandler(models.ModeAnswer),
	"killer_quota":       handleQuota,
	"killer_cache_stats": handleCacheStats,
}

var textSchema = map[string]any{
	"type":     "object",
	"required": []string{"text"},
	"properties": map[string]any{
		"text": map[string]any{
			"type":        "string",
			"description": "The selected text",
		},
	},
}

var toolDefinitions = []toolDefinition{
	{
		Name:        "killer_explain",
		Description: "Explain the given text in simple terms. Counts against the daily quota unless cached.",
		InputSchema: textSchema,
	},
	{
		Name:        "killer_answer",
		Description: "Answer the given question. Multiple-choice questions get only the correct option.",
		InputSchema: textSchema,
	},
	{
		Name:        "killer_quota",
		Description: "Show today's remote call usage against the daily limit.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "killer_cache_stats",
		Description: "Show response cache occupancy and hit rate.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func modeHandler(mode models.Mode) toolHandler {
	return func(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
		var args textArgs
		if len(rawArgs) > 0 {
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return errorResult("invalid arguments: " + err.Error())
			}
		}
		res, err := s.core.Handle(ctx, models.Request{Mode: mode, Text: args.Text})
		if err != nil {
			return errorResult(err.Error())
		}
		return textResult(formatResult(res))
	}
}

func handleQuota(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatQuotaStatus(s.core.QuotaStatus(ctx)))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatCacheStats(s.core.CacheStats()))
}
