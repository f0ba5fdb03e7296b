package planner

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/webtapi/internal/extract"
)

type fakeClient struct {
	content string
	err     error
	gotReq  openai.ChatCompletionRequest
}

func (f *fakeClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func TestLLMResolver_ParsesPlanFromNarratedOutput(t *testing.T) {
	fc := &fakeClient{content: "Sure, here is the plan:\n```json\n" +
		`{"elements": ["tables", "custom"], "filters": {"include_selectors": [".price"]}, "structured_format": "table"}` +
		"\n```"}
	r := &LLMResolver{Client: fc, Model: "test-model"}

	plan, err := r.Resolve(context.Background(), "get product prices from the tables")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(plan.Elements) != 2 || plan.Elements[0] != extract.ElementTables || plan.Elements[1] != extract.ElementCustom {
		t.Fatalf("elements = %v", plan.Elements)
	}
	if len(plan.Filters.IncludeSelectors) != 1 || plan.Filters.IncludeSelectors[0] != ".price" {
		t.Fatalf("selectors = %v", plan.Filters.IncludeSelectors)
	}
	if plan.StructuredFormat != extract.FormatTable {
		t.Fatalf("format = %q", plan.StructuredFormat)
	}
	if fc.gotReq.Model != "test-model" || len(fc.gotReq.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", fc.gotReq)
	}
}

func TestLLMResolver_NormalizesModelOutput(t *testing.T) {
	fc := &fakeClient{content: `{"elements": ["TEXT", "text", "bogus"]}`}
	r := &LLMResolver{Client: fc, Model: "m"}

	plan, err := r.Resolve(context.Background(), "just the text")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(plan.Elements) != 1 || plan.Elements[0] != extract.ElementText {
		t.Fatalf("expected normalized [text], got %v", plan.Elements)
	}
}

func TestLLMResolver_Errors(t *testing.T) {
	cases := []struct {
		name   string
		client Client
		model  string
		intent string
	}{
		{"unconfigured", nil, "", "anything"},
		{"empty intent", &fakeClient{content: "{}"}, "m", "   "},
		{"transport failure", &fakeClient{err: errors.New("connection refused")}, "m", "anything"},
		{"no json in output", &fakeClient{content: "I cannot help with that."}, "m", "anything"},
		{"invalid json", &fakeClient{content: `{"elements": [}`}, "m", "anything"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &LLMResolver{Client: c.client, Model: c.model}
			if _, err := r.Resolve(context.Background(), c.intent); err == nil {
				t.Fatalf("expected an error so the caller can fall back")
			}
		})
	}
}

type emptyClient struct{}

func (emptyClient) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

func TestLLMResolver_NoChoices(t *testing.T) {
	r := &LLMResolver{Client: emptyClient{}, Model: "m"}
	if _, err := r.Resolve(context.Background(), "anything"); err == nil {
		t.Fatalf("expected error on empty choice list")
	}
}

func TestStaticResolver(t *testing.T) {
	plan, err := StaticResolver{}.Resolve(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("static resolver must not fail: %v", err)
	}
	def := extract.DefaultPlan()
	if len(plan.Elements) != len(def.Elements) {
		t.Fatalf("expected the default plan, got %v", plan.Elements)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"prefix {\"a\":1} suffix", `{"a":1}`},
		{"no object here", ""},
		{"}{", ""},
	}
	for _, c := range cases {
		if got := extractJSON(c.in); got != c.want {
			t.Errorf("extractJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
