package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workshop-deck/internal/config"
	"workshop-deck/internal/models"
)

type fakeGenerator struct {
	last GenerateRequest
	text string
	err  error
}

func (f *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &GenerateResult{
		Text:  f.text,
		Usage: models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

type staticSlides struct {
	slides []models.Slide
	index  int
}

func (s staticSlides) Slides() []models.Slide { return s.slides }
func (s staticSlides) CurrentSlideIndex() int { return s.index }

func assistantSlides() staticSlides {
	return staticSlides{slides: []models.Slide{
		{ID: 1, Type: models.SlideTypeTitle, Title: "Welcome"},
		{ID: 2, Type: models.SlideTypeWorkshop, Title: "Five-Line Builder", Content: models.SlideContent{
			Description: "Write a prompt with five lines.",
			Goal:        "Draft one reusable prompt",
		}},
	}, index: 1}
}

func TestAssistant_ChatWithoutGenerator(t *testing.T) {
	svc := NewAssistantService(nil, assistantSlides(), config.DefaultConfig().Assistant, zap.NewNop())

	resp := svc.Chat(context.Background(), ChatRequest{Message: "hi"})
	assert.Empty(t, resp.Content)
	assert.Contains(t, resp.Error, "API key is required")
	assert.False(t, svc.Available())

	resp = svc.TestPrompt(context.Background(), PromptTestRequest{Prompt: "hi"})
	assert.Contains(t, resp.Error, "API key is required")
}

func TestAssistant_ChatBuildsSlideContext(t *testing.T) {
	gen := &fakeGenerator{text: "answer"}
	cfg := config.DefaultConfig().Assistant
	svc := NewAssistantService(gen, assistantSlides(), cfg, zap.NewNop())

	history := []models.ChatMessage{{Role: models.ChatRoleUser, Content: "earlier"}}
	resp := svc.Chat(context.Background(), ChatRequest{Message: "how?", History: history})

	require.Empty(t, resp.Error)
	assert.Equal(t, "answer", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "how?", gen.last.Prompt)
	assert.Equal(t, history, gen.last.History)
	assert.Equal(t, cfg.MaxTokens, gen.last.MaxTokens)
	assert.Equal(t, cfg.ThinkingBudget, gen.last.ThinkingBudget)
	assert.InDelta(t, cfg.Temperature, gen.last.Temperature, 1e-6)

	prompt := gen.last.SystemPrompt
	assert.Contains(t, prompt, `Current slide: "Five-Line Builder" (2)`)
	assert.Contains(t, prompt, "hands-on workshop slide")
	assert.Contains(t, prompt, "Workshop goal: Draft one reusable prompt")
	assert.Contains(t, prompt, endCap)
	assert.NotContains(t, prompt, "Knowledge Base")
}

func TestAssistant_ChatSlideOverrideAndKnowledgeBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WORKSHOP.md")
	require.NoError(t, os.WriteFile(path, []byte("# Habits\nframe, schema, verify"), 0o644))

	gen := &fakeGenerator{}
	cfg := config.DefaultConfig().Assistant
	cfg.KnowledgeBasePath = path
	svc := NewAssistantService(gen, assistantSlides(), cfg, zap.NewNop())

	index := 0
	temp := float32(0.2)
	svc.Chat(context.Background(), ChatRequest{Message: "q", SlideIndex: &index, Temperature: &temp, MaxTokens: 50})

	assert.Contains(t, gen.last.SystemPrompt, `Current slide: "Welcome" (1)`)
	assert.Contains(t, gen.last.SystemPrompt, "frame, schema, verify")
	assert.Equal(t, 50, gen.last.MaxTokens)
	assert.InDelta(t, 0.2, gen.last.Temperature, 1e-6)
}

func TestAssistant_GeneratorErrorIsReported(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	svc := NewAssistantService(gen, assistantSlides(), config.DefaultConfig().Assistant, zap.NewNop())

	resp := svc.Chat(context.Background(), ChatRequest{Message: "q"})
	assert.Equal(t, "quota exceeded", resp.Error)
	assert.Nil(t, resp.Usage)
}

func TestAssistant_TestPromptUsesSmallBudget(t *testing.T) {
	gen := &fakeGenerator{text: "ok"}
	svc := NewAssistantService(gen, assistantSlides(), config.DefaultConfig().Assistant, zap.NewNop())

	resp := svc.TestPrompt(context.Background(), PromptTestRequest{Prompt: "raw"})

	assert.Equal(t, "ok", resp.Content)
	assert.Empty(t, gen.last.SystemPrompt)
	assert.Equal(t, testPromptMaxTokens, gen.last.MaxTokens)
	assert.Equal(t, testPromptThinkingBudget, gen.last.ThinkingBudget)
}

func TestSlideContext_TruncatesDescription(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'x'
	}
	slides := []models.Slide{{ID: 1, Type: models.SlideTypeContent, Title: "T", Content: models.SlideContent{Description: string(long)}}}

	hints := slideContext(slides, 0)
	assert.Contains(t, hints, string(long[:150])+"...")
	assert.Empty(t, slideContext(slides, 5))
}

func TestNewGeminiGenerator_RequiresKey(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), "", "gemini-2.5-flash")
	assert.ErrorIs(t, err, ErrAPIKeyMissing)
}

func TestBuildGenerateConfig(t *testing.T) {
	req := GenerateRequest{
		SystemPrompt:   "sys",
		History:        []models.ChatMessage{{Role: models.ChatRoleAssistant, Content: "prev"}},
		Prompt:         "now",
		Temperature:    0.7,
		MaxTokens:      6000,
		ThinkingBudget: 2048,
	}

	cfg := buildGenerateConfig(req)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.7, *cfg.Temperature, 1e-6)
	assert.Equal(t, int32(6000), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.ThinkingConfig)
	assert.Equal(t, int32(2048), *cfg.ThinkingConfig.ThinkingBudget)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "sys", cfg.SystemInstruction.Parts[0].Text)

	contents := buildContents(req)
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[0].Role)
	assert.Equal(t, "user", contents[1].Role)
	assert.Equal(t, "now", contents[1].Parts[0].Text)
}

func TestValidateSchema(t *testing.T) {
	schema := map[string]any{"dish_name": "", "origin_country": "", "primary_ingredients": []any{}}

	ok := ValidateSchema(`{"dish_name":"Pad Thai","origin_country":"Thailand","primary_ingredients":["noodles"],"taste_profile":"umami","personal_rating_out_of_10":9}`, schema)
	assert.True(t, ok.IsValid)
	assert.Empty(t, ok.Errors)
	assert.Empty(t, ok.Warnings)

	bad := ValidateSchema(`{"dish_name":"","primary_ingredients":"noodles","taste_profile":"spicy","personal_rating_out_of_10":11}`, schema)
	assert.False(t, bad.IsValid)
	assert.Len(t, bad.Errors, 4)
	assert.Len(t, bad.Warnings, 1)

	broken := ValidateSchema(`{`, schema)
	assert.False(t, broken.IsValid)
	assert.Equal(t, []string{"Invalid JSON format"}, broken.Errors)
}
