package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"workshop-deck/internal/config"
	"workshop-deck/internal/models"
)

// ErrAPIKeyMissing means the assistant has no credentials to call the model
var ErrAPIKeyMissing = errors.New("API key is required")

const (
	testPromptMaxTokens      = 1000
	testPromptThinkingBudget = 1024
	descriptionExcerptLen    = 150
)

const defaultSystemPrompt = `ROLE: AI literacy facilitator and friendly learning companion
AUDIENCE: broad public, curious practitioners
GOAL: clarify first principles; enable safe, useful practice
VOICE: warm, candid, concrete; no hype or jargon
RULES
- Answer first in 3-6 sentences. Then exactly 1 next step.
- If unsure, say "unknown" and propose a quick check.
- Gently push back on faulty premises; note material risks or bias.
- Prefer 1 small real example; ask at most 1 clarifying question only if needed.
- No slide narration.
OUTPUT
- Concept | Why it matters | Small practice | Check
- When planning, use the Five-Line Template: Task, Constraints, Facts, Output, Quality Bar
- When structure is requested, return strict JSON
CONTEXT
- Treat context as optional hints. Use at most 2 items, never quote them.`

const endCap = `CAP: Do not narrate slides or quote context. Answer first (3-6 sentences), then 1 next step. If unsure say "unknown" and a quick check. Use the Five-Line Template for plans; return strict JSON when structure is useful.`

// GenerateRequest is one model call
type GenerateRequest struct {
	SystemPrompt   string
	History        []models.ChatMessage
	Prompt         string
	Temperature    float32
	MaxTokens      int
	ThinkingBudget int
}

// GenerateResult is the model's answer
type GenerateResult struct {
	Text  string
	Usage models.TokenUsage
}

// Generator calls a language model
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ChatRequest is a participant question
type ChatRequest struct {
	Message     string               `json:"message"`
	History     []models.ChatMessage `json:"history,omitempty"`
	SlideIndex  *int                 `json:"slideIndex,omitempty"`
	Temperature *float32             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"maxTokens,omitempty"`
}

// PromptTestRequest is a raw prompt sent from a prompt-tester element
type PromptTestRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// SlideLookup resolves slides for prompt context
type SlideLookup interface {
	Slides() []models.Slide
	CurrentSlideIndex() int
}

// AssistantService answers participant questions with slide context
type AssistantService struct {
	generator     Generator
	slides        SlideLookup
	cfg           config.AssistantConfig
	timeout       time.Duration
	systemPrompt  string
	knowledgeBase string
	engagement    *EngagementTracker
	logger        *zap.Logger
}

// AssistantOption configures an AssistantService
type AssistantOption func(*AssistantService)

// WithEngagementTracker lets the assistant record help requests and serve
// proactive prompts and metrics
func WithEngagementTracker(t *EngagementTracker) AssistantOption {
	return func(s *AssistantService) { s.engagement = t }
}

// NewAssistantService creates the assistant. generator may be nil when no API
// key is configured; calls then answer with an error message.
func NewAssistantService(generator Generator, slides SlideLookup, cfg config.AssistantConfig, logger *zap.Logger, opts ...AssistantOption) *AssistantService {
	s := &AssistantService{
		generator:    generator,
		slides:       slides,
		cfg:          cfg,
		timeout:      60 * time.Second,
		systemPrompt: defaultSystemPrompt,
		logger:       logger.Named("assistant"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		s.timeout = d
	}
	if cfg.KnowledgeBasePath != "" {
		if err := s.LoadKnowledgeBase(cfg.KnowledgeBasePath); err != nil {
			s.logger.Warn("Failed to load knowledge base", zap.String("path", cfg.KnowledgeBasePath), zap.Error(err))
		}
	}
	return s
}

// LoadKnowledgeBase reads markdown appended to every chat system prompt
func (s *AssistantService) LoadKnowledgeBase(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read knowledge base: %w", err)
	}
	s.knowledgeBase = string(data)
	s.logger.Info("Knowledge base loaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// Available reports whether a model is configured
func (s *AssistantService) Available() bool {
	return s.generator != nil
}

// Chat answers a question using the current (or requested) slide as context.
// Model failures are reported in the response, not as an error.
func (s *AssistantService) Chat(ctx context.Context, req ChatRequest) models.AssistantResponse {
	index := s.slides.CurrentSlideIndex()
	if req.SlideIndex != nil {
		index = *req.SlideIndex
	}
	if slide, ok := s.slideAt(index); ok && s.engagement != nil {
		s.engagement.MarkHelpRequested(slide.ID)
	}

	if s.generator == nil {
		return models.AssistantResponse{Error: ErrAPIKeyMissing.Error() + " for chat functionality"}
	}

	gen := GenerateRequest{
		SystemPrompt:   s.buildSystemPrompt(index),
		History:        req.History,
		Prompt:         req.Message,
		Temperature:    s.cfg.Temperature,
		MaxTokens:      s.cfg.MaxTokens,
		ThinkingBudget: s.cfg.ThinkingBudget,
	}
	if req.Temperature != nil {
		gen.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		gen.MaxTokens = req.MaxTokens
	}

	return s.generate(ctx, "chat", gen)
}

// QuickActions returns the canned questions for the slide at index, or the
// current slide when index is nil
func (s *AssistantService) QuickActions(index *int) []models.QuickAction {
	slide, _ := s.resolveSlide(index)
	return QuickActions(slide.Type)
}

// ProactivePrompts returns the open help prompts for the slide at index, or
// the current slide when index is nil
func (s *AssistantService) ProactivePrompts(index *int) []models.ProactivePrompt {
	slide, ok := s.resolveSlide(index)
	if !ok || s.engagement == nil || s.cfg.DisableProactivePrompts {
		return []models.ProactivePrompt{}
	}
	return s.engagement.Prompts(slide.ID)
}

// DismissPrompt hides a proactive prompt. Unknown ids report false.
func (s *AssistantService) DismissPrompt(id string) bool {
	if s.engagement == nil {
		return false
	}
	return s.engagement.DismissPrompt(id)
}

// EngagementMetrics summarizes participant activity across visited slides
func (s *AssistantService) EngagementMetrics() models.EngagementMetrics {
	if s.engagement == nil {
		return models.EngagementMetrics{}
	}
	return s.engagement.Metrics()
}

func (s *AssistantService) resolveSlide(index *int) (models.Slide, bool) {
	i := s.slides.CurrentSlideIndex()
	if index != nil {
		i = *index
	}
	return s.slideAt(i)
}

func (s *AssistantService) slideAt(index int) (models.Slide, bool) {
	slides := s.slides.Slides()
	if index < 0 || index >= len(slides) {
		return models.Slide{}, false
	}
	return slides[index], true
}

// TestPrompt sends a raw prompt with a smaller token budget
func (s *AssistantService) TestPrompt(ctx context.Context, req PromptTestRequest) models.AssistantResponse {
	if s.generator == nil {
		return models.AssistantResponse{Error: ErrAPIKeyMissing.Error() + " for testing prompts"}
	}

	gen := GenerateRequest{
		Prompt:         req.Prompt,
		Temperature:    s.cfg.Temperature,
		MaxTokens:      testPromptMaxTokens,
		ThinkingBudget: testPromptThinkingBudget,
	}
	if req.Temperature != nil {
		gen.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		gen.MaxTokens = req.MaxTokens
	}

	return s.generate(ctx, "prompt-test", gen)
}

func (s *AssistantService) generate(ctx context.Context, kind string, req GenerateRequest) models.AssistantResponse {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.logger.Error("Assistant request failed", zap.String("kind", kind), zap.Error(err))
		return models.AssistantResponse{Error: err.Error()}
	}

	s.logger.Info("Assistant request completed",
		zap.String("kind", kind),
		zap.Int("historyMessages", len(req.History)),
		zap.Int("totalTokens", result.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	usage := result.Usage
	return models.AssistantResponse{Content: result.Text, Usage: &usage}
}

// buildSystemPrompt appends slide context, the knowledge base and the closing cap
func (s *AssistantService) buildSystemPrompt(index int) string {
	var b strings.Builder
	b.WriteString(s.systemPrompt)

	if hints := slideContext(s.slides.Slides(), index); hints != "" {
		b.WriteString("\n\n**Current Context:**\n")
		b.WriteString(hints)
	}
	if s.knowledgeBase != "" {
		b.WriteString("\n\n**Full Workshop Knowledge Base:**\n")
		b.WriteString(s.knowledgeBase)
	}
	b.WriteString("\n\n")
	b.WriteString(endCap)
	return b.String()
}

func slideContext(slides []models.Slide, index int) string {
	if index < 0 || index >= len(slides) {
		return ""
	}
	slide := slides[index]

	var b strings.Builder
	fmt.Fprintf(&b, "Current slide: %q (%d)", slide.Title, index+1)

	switch slide.Type {
	case models.SlideTypeWorkshop:
		b.WriteString("\n- This is a hands-on workshop slide - provide practical guidance and examples")
	case models.SlideTypeQA:
		b.WriteString("\n- This is a Q&A section - focus on clarifying concepts and key takeaways")
	case models.SlideTypeContent:
		b.WriteString("\n- This is a content slide covering important AI concepts")
	}

	if d := slide.Content.Description; d != "" {
		b.WriteString("\n- Key topic: ")
		b.WriteString(excerpt(d, descriptionExcerptLen))
	}
	if g := slide.Content.Goal; g != "" {
		b.WriteString("\n- Workshop goal: ")
		b.WriteString(g)
	}
	return b.String()
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// SchemaValidation is the result of checking a participant's JSON answer
type SchemaValidation struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
}

var tasteProfiles = map[string]bool{"sweet": true, "sour": true, "salty": true, "bitter": true, "umami": true}

// ValidateSchema checks a JSON answer against the fields named in schema.
// Only the fields of the dish exercise are understood.
func ValidateSchema(response string, schema map[string]any) SchemaValidation {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return SchemaValidation{Errors: []string{"Invalid JSON format"}}
	}

	result := SchemaValidation{Errors: []string{}}
	wants := func(field string) bool {
		_, ok := schema[field]
		return ok
	}

	if wants("dish_name") && isBlank(parsed["dish_name"]) {
		result.Errors = append(result.Errors, `Missing "dish_name" field - add a string naming the dish (e.g., "dish_name": "Pad Thai")`)
	}
	if wants("origin_country") && isBlank(parsed["origin_country"]) {
		result.Errors = append(result.Errors, `Missing "origin_country" field - add the country the dish comes from (e.g., "origin_country": "Thailand")`)
	}
	if wants("primary_ingredients") {
		if _, ok := parsed["primary_ingredients"].([]any); !ok {
			result.Errors = append(result.Errors, `Missing or invalid "primary_ingredients" field - use an array of strings (e.g., "primary_ingredients": ["rice noodles", "shrimp"])`)
		}
	}
	if taste, ok := parsed["taste_profile"].(string); ok && taste != "" && !tasteProfiles[taste] {
		result.Warnings = append(result.Warnings, `Invalid "taste_profile" - use one of sweet, sour, salty, bitter or umami`)
	}
	if rating, present := parsed["personal_rating_out_of_10"]; present {
		n, ok := rating.(float64)
		if !ok || n < 0 || n > 10 {
			result.Errors = append(result.Errors, `Invalid "personal_rating_out_of_10" - use a number between 0 and 10`)
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	}
	return false
}

// GeminiGenerator calls Gemini through the genai SDK
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini API client. It returns ErrAPIKeyMissing
// when apiKey is empty.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyMissing
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Generate implements Generator
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, buildContents(req), buildGenerateConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	result := &GenerateResult{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		result.Usage = models.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

func buildContents(req GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		role := genai.Role(genai.RoleUser)
		if msg.Role == models.ChatRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
}

func buildGenerateConfig(req GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(req.ThinkingBudget))}
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.SystemPrompt)},
		}
	}
	return cfg
}
