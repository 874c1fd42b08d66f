package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"workshop-deck/internal/services"
)

// AssistantHandler handles HTTP requests for the workshop assistant
type AssistantHandler struct {
	assistant *services.AssistantService
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(assistant *services.AssistantService) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

// ValidateSchemaRequest carries a participant's JSON answer and the expected fields
type ValidateSchemaRequest struct {
	Response string         `json:"response"`
	Schema   map[string]any `json:"schema"`
}

// StatusResponse reports whether the assistant can answer
type StatusResponse struct {
	Available bool `json:"available"`
}

// Status reports whether a model is configured
// GET /api/assistant/status
func (ah *AssistantHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Available: ah.assistant.Available()})
}

// Chat answers a participant question. Model errors are returned in the
// body's error field with status 200.
// POST /api/assistant/chat
func (ah *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req services.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, ah.assistant.Chat(r.Context(), req))
}

// TestPrompt runs a raw prompt from a prompt-tester element
// POST /api/assistant/test-prompt
func (ah *AssistantHandler) TestPrompt(w http.ResponseWriter, r *http.Request) {
	var req services.PromptTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, ah.assistant.TestPrompt(r.Context(), req))
}

// ValidateSchema checks a JSON answer for the schema exercise
// POST /api/assistant/validate-schema
func (ah *AssistantHandler) ValidateSchema(w http.ResponseWriter, r *http.Request) {
	var req ValidateSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, services.ValidateSchema(req.Response, req.Schema))
}

// slideQuery reads the optional ?slide= index. ok is false when the value
// is present but not a number.
func slideQuery(r *http.Request) (index *int, ok bool) {
	raw := r.URL.Query().Get("slide")
	if raw == "" {
		return nil, true
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false
	}
	return &i, true
}

// QuickActions lists the canned questions for the current or given slide
// GET /api/assistant/actions?slide={index}
func (ah *AssistantHandler) QuickActions(w http.ResponseWriter, r *http.Request) {
	index, ok := slideQuery(r)
	if !ok {
		http.Error(w, "Invalid slide index", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ah.assistant.QuickActions(index))
}

// Prompts lists open proactive prompts for the current or given slide
// GET /api/assistant/prompts?slide={index}
func (ah *AssistantHandler) Prompts(w http.ResponseWriter, r *http.Request) {
	index, ok := slideQuery(r)
	if !ok {
		http.Error(w, "Invalid slide index", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ah.assistant.ProactivePrompts(index))
}

// DismissPrompt hides a proactive prompt
// POST /api/assistant/prompts/{id}/dismiss
func (ah *AssistantHandler) DismissPrompt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !ah.assistant.DismissPrompt(id) {
		http.Error(w, "Prompt not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "dismissed": true})
}

// Metrics reports engagement across visited slides
// GET /api/assistant/metrics
func (ah *AssistantHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ah.assistant.EngagementMetrics())
}
