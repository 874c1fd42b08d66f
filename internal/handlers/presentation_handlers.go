package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"workshop-deck/internal/persistence"
	"workshop-deck/internal/services"
)

// maxImportSize bounds the body of an import request
const maxImportSize = 10 << 20

// PresentationHandler handles HTTP requests for the presentation state
type PresentationHandler struct {
	store   *services.PresentationStore
	gateway *persistence.Gateway
	logger  *zap.Logger
}

// NewPresentationHandler creates a new presentation handler
func NewPresentationHandler(store *services.PresentationStore, gateway *persistence.Gateway, logger *zap.Logger) *PresentationHandler {
	return &PresentationHandler{
		store:   store,
		gateway: gateway,
		logger:  logger.Named("http"),
	}
}

// NavigationResponse is returned by every navigation endpoint
type NavigationResponse struct {
	Moved bool                      `json:"moved"`
	State services.PresentationView `json:"state"`
}

// GotoRequest selects a slide by index
type GotoRequest struct {
	Index *int `json:"index"`
}

// CompleteActivityRequest marks an activity as done
type CompleteActivityRequest struct {
	ActivityID string `json:"activityId"`
	Result     any    `json:"result,omitempty"`
}

// CodeWindowRequest replaces the code of a code window
type CodeWindowRequest struct {
	Code string `json:"code"`
}

// ElementRequest carries a partial interactive element update
type ElementRequest struct {
	Data map[string]any `json:"data"`
}

// NoteRequest carries a participant note
type NoteRequest struct {
	Text string `json:"text"`
}

// BookmarkResponse reports the bookmark state after a toggle
type BookmarkResponse struct {
	SlideID    int  `json:"slideId"`
	Bookmarked bool `json:"bookmarked"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intVar(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)[name])
	return n, err == nil
}

// GetState returns the presentation summary
// GET /api/presentation
func (h *PresentationHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.View())
}

// GetSnapshot returns the full persistable state
// GET /api/presentation/snapshot
func (h *PresentationHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// ListSlides returns the deck
// GET /api/slides
func (h *PresentationHandler) ListSlides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Slides())
}

// GetSlide returns one slide by zero-based index
// GET /api/slides/{index}
func (h *PresentationHandler) GetSlide(w http.ResponseWriter, r *http.Request) {
	index, ok := intVar(r, "index")
	slides := h.store.Slides()
	if !ok || index < 0 || index >= len(slides) {
		http.Error(w, "Slide not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, slides[index])
}

// Next moves forward one slide
// POST /api/navigation/next
func (h *PresentationHandler) Next(w http.ResponseWriter, r *http.Request) {
	moved := h.store.Next()
	writeJSON(w, http.StatusOK, NavigationResponse{Moved: moved, State: h.store.View()})
}

// Previous moves back one slide
// POST /api/navigation/previous
func (h *PresentationHandler) Previous(w http.ResponseWriter, r *http.Request) {
	moved := h.store.Previous()
	writeJSON(w, http.StatusOK, NavigationResponse{Moved: moved, State: h.store.View()})
}

// Goto jumps to a slide. Out-of-range indices leave the position unchanged.
// POST /api/navigation/goto
func (h *PresentationHandler) Goto(w http.ResponseWriter, r *http.Request) {
	var req GotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Index == nil {
		http.Error(w, "index is required", http.StatusBadRequest)
		return
	}

	moved := h.store.NavigateTo(*req.Index)
	writeJSON(w, http.StatusOK, NavigationResponse{Moved: moved, State: h.store.View()})
}

// CompleteActivity records a completed activity on the current slide
// POST /api/activities
func (h *PresentationHandler) CompleteActivity(w http.ResponseWriter, r *http.Request) {
	var req CompleteActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ActivityID == "" {
		http.Error(w, "activityId is required", http.StatusBadRequest)
		return
	}

	h.store.CompleteActivity(req.ActivityID, req.Result)
	writeJSON(w, http.StatusOK, h.store.View())
}

// GetCodeWindow returns a code window's state
// GET /api/code-windows/{id}
func (h *PresentationHandler) GetCodeWindow(w http.ResponseWriter, r *http.Request) {
	state, ok := h.store.CodeWindow(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Code window not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// UpdateCodeWindow replaces a code window's code
// PUT /api/code-windows/{id}
func (h *PresentationHandler) UpdateCodeWindow(w http.ResponseWriter, r *http.Request) {
	var req CodeWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.store.UpdateCodeWindow(id, req.Code); err != nil {
		h.writeStoreError(w, err)
		return
	}
	state, _ := h.store.CodeWindow(id)
	writeJSON(w, http.StatusOK, state)
}

// GetElement returns an interactive element's state
// GET /api/elements/{id}
func (h *PresentationHandler) GetElement(w http.ResponseWriter, r *http.Request) {
	state, ok := h.store.InteractiveElement(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Interactive element not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// UpdateElement merges data into an interactive element
// PATCH /api/elements/{id}
func (h *PresentationHandler) UpdateElement(w http.ResponseWriter, r *http.Request) {
	var req ElementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.store.UpdateInteractiveElement(id, req.Data); err != nil {
		h.writeStoreError(w, err)
		return
	}
	state, _ := h.store.InteractiveElement(id)
	writeJSON(w, http.StatusOK, state)
}

func (h *PresentationHandler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrNotRegistered) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("Store update failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// GetNote returns the note for a slide, from memory or durable storage
// GET /api/notes/{slideId}
func (h *PresentationHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	slideID, ok := intVar(r, "slideId")
	if !ok {
		http.Error(w, "Invalid slide id", http.StatusBadRequest)
		return
	}

	text, found := h.store.ParticipantNote(slideID)
	if !found {
		var err error
		text, found, err = h.gateway.LoadNotes(r.Context(), slideID)
		if err != nil {
			h.logger.Error("Failed to load notes", zap.Int("slideId", slideID), zap.Error(err))
			http.Error(w, "Failed to load notes", http.StatusInternalServerError)
			return
		}
	}
	if !found {
		http.Error(w, "Note not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, NoteRequest{Text: text})
}

// PutNote saves the note for a slide
// PUT /api/notes/{slideId}
func (h *PresentationHandler) PutNote(w http.ResponseWriter, r *http.Request) {
	slideID, ok := intVar(r, "slideId")
	if !ok {
		http.Error(w, "Invalid slide id", http.StatusBadRequest)
		return
	}
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	h.store.AddParticipantNote(r.Context(), slideID, req.Text)
	w.WriteHeader(http.StatusNoContent)
}

// ToggleBookmark flips a slide's bookmark
// POST /api/bookmarks/{slideId}/toggle
func (h *PresentationHandler) ToggleBookmark(w http.ResponseWriter, r *http.Request) {
	slideID, ok := intVar(r, "slideId")
	if !ok {
		http.Error(w, "Invalid slide id", http.StatusBadRequest)
		return
	}
	bookmarked := h.store.ToggleBookmark(slideID)
	writeJSON(w, http.StatusOK, BookmarkResponse{SlideID: slideID, Bookmarked: bookmarked})
}

// Reset starts the session over and clears durable state
// POST /api/reset
func (h *PresentationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.store.Reset(r.Context())
	writeJSON(w, http.StatusOK, h.store.View())
}

// GetWorkshopData returns a stored workshop payload
// GET /api/workshop-data/{id}
func (h *PresentationHandler) GetWorkshopData(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, found, err := h.gateway.LoadWorkshopData(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load workshop data", zap.String("id", id), zap.Error(err))
		http.Error(w, "Failed to load workshop data", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Workshop data not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// PutWorkshopData stores a workshop payload
// PUT /api/workshop-data/{id}
func (h *PresentationHandler) PutWorkshopData(w http.ResponseWriter, r *http.Request) {
	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.gateway.SaveWorkshopData(r.Context(), id, payload); err != nil {
		h.logger.Error("Failed to save workshop data", zap.String("id", id), zap.Error(err))
		http.Error(w, "Failed to save workshop data", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export downloads every persisted collection as one JSON document
// GET /api/export
func (h *PresentationHandler) Export(w http.ResponseWriter, r *http.Request) {
	// Persist the live session first so the export is current.
	h.store.SaveAndWait()

	data, err := h.gateway.ExportData(r.Context())
	if err != nil {
		h.logger.Error("Export failed", zap.Error(err))
		http.Error(w, "Export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="workshop-progress.json"`)
	w.Write(data)
}

// Import replays an export document and reloads the session from it
// POST /api/import
func (h *PresentationHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	err = h.store.Import(r.Context(), func(ctx context.Context) error {
		return h.gateway.ImportData(ctx, body)
	})
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidImport) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Import failed", zap.Error(err))
		http.Error(w, "Import failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, h.store.View())
}
