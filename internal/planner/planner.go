// Package planner turns a free-text extraction intent into an extraction
// plan. The LLM-backed resolver enforces a JSON-only contract; callers fall
// back to the default plan when it fails, so plan resolution can never hard-
// fail the pipeline.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/webtapi/internal/extract"
)

// Resolver produces an extraction plan from a natural-language intent.
type Resolver interface {
	Resolve(ctx context.Context, intent string) (extract.Plan, error)
}

// Client is the minimal chat-completion surface the LLM resolver needs, so
// any OpenAI-compatible backend (or a test fake) can serve it.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const systemMessage = `You convert website extraction requests into structured instructions. Respond ONLY with valid JSON in this format:
{"elements": ["text", "images", "tables", "links", "custom"], "filters": {"include_selectors": ["css.selectors.here"], "exclude_selectors": ["unwanted.selectors"]}, "structured_format": "list|dict|table"}
Only include relevant element types. For custom elements, provide CSS selectors in include_selectors. Never include explanatory text.`

// LLMResolver calls an OpenAI-compatible endpoint. Any failure (transport,
// non-JSON output, bad plan) is returned as an error so the caller can
// choose the default plan.
type LLMResolver struct {
	Client Client
	Model  string
}

func (r *LLMResolver) Resolve(ctx context.Context, intent string) (extract.Plan, error) {
	if r.Client == nil || r.Model == "" {
		return extract.Plan{}, errors.New("plan resolver not configured")
	}
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return extract.Plan{}, errors.New("empty intent")
	}

	resp, err := r.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: "Convert this website extraction request to structured instructions: " + quote(intent)},
		},
		Temperature: 0.2,
		N:           1,
	})
	if err != nil {
		return extract.Plan{}, fmt.Errorf("resolver call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return extract.Plan{}, errors.New("no choices")
	}

	raw := extractJSON(resp.Choices[0].Message.Content)
	if raw == "" {
		return extract.Plan{}, errors.New("no JSON object in model output")
	}
	var plan extract.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return extract.Plan{}, fmt.Errorf("parse plan json: %w", err)
	}
	plan = plan.Normalize()
	log.Debug().Str("model", r.Model).Int("elements", len(plan.Elements)).Msg("planner: resolved plan")
	return plan, nil
}

// StaticResolver always yields the default plan. Used when no model is
// configured.
type StaticResolver struct{}

func (StaticResolver) Resolve(context.Context, string) (extract.Plan, error) {
	return extract.DefaultPlan(), nil
}

// extractJSON pulls the first top-level JSON object out of model output
// that may be wrapped in narration or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
