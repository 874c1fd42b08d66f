package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workshop-deck/internal/config"
	"workshop-deck/internal/db"
	"workshop-deck/internal/deck"
	"workshop-deck/internal/models"
	"workshop-deck/internal/persistence"
	"workshop-deck/internal/services"
)

type testEnv struct {
	router  *mux.Router
	store   *services.PresentationStore
	gateway *persistence.Gateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	kv, err := persistence.NewKeyValueStore(t.TempDir(), logger)
	require.NoError(t, err)
	gateway := persistence.NewGateway(nil, kv, logger, persistence.ExportOptions{
		NoteSlots:   10,
		WorkshopIDs: []string{"five-line-builder"},
	})
	gateway.Init(context.Background())
	queue := persistence.NewSaveQueue(gateway, logger)
	t.Cleanup(queue.Close)

	slides, err := deck.Default()
	require.NoError(t, err)
	engagement := services.NewEngagementTracker(logger)
	store := services.NewPresentationStore(queue, gateway, logger, services.WithEngagement(engagement))
	store.Initialize(slides)

	database, err := db.InitDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	assistant := services.NewAssistantService(nil, store, config.DefaultConfig().Assistant, logger,
		services.WithEngagementTracker(engagement))
	router := SetupRoutes(Router{
		Presentation: NewPresentationHandler(store, gateway, logger),
		Assistant:    NewAssistantHandler(assistant),
		Clicker:      NewClickerHandler(services.NewClickerService(database, store, logger), logger),
		Health:       func() map[string]any { return map[string]any{"storage": string(gateway.Mode())} },
		Logger:       logger,
	})
	return &testEnv{router: router, store: store, gateway: gateway}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "fallback", body["storage"])
}

func TestNavigationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/navigation/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nav := decode[NavigationResponse](t, rec)
	assert.True(t, nav.Moved)
	assert.Equal(t, 1, nav.State.CurrentSlideIndex)

	rec = env.do(t, http.MethodPost, "/api/navigation/goto", map[string]int{"index": 3})
	nav = decode[NavigationResponse](t, rec)
	assert.True(t, nav.Moved)
	assert.Equal(t, 3, nav.State.CurrentSlideIndex)
	require.NotNil(t, nav.State.CurrentSlide)
	assert.Equal(t, 4, nav.State.CurrentSlide.ID)

	rec = env.do(t, http.MethodPost, "/api/navigation/goto", map[string]int{"index": 99})
	nav = decode[NavigationResponse](t, rec)
	assert.False(t, nav.Moved)
	assert.Equal(t, 3, nav.State.CurrentSlideIndex)

	rec = env.do(t, http.MethodPost, "/api/navigation/goto", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/navigation/previous", nil)
	assert.Equal(t, 2, decode[NavigationResponse](t, rec).State.CurrentSlideIndex)
}

func TestSlidesEndpoints(t *testing.T) {
	env := newTestEnv(t)

	slides := decode[[]models.Slide](t, env.do(t, http.MethodGet, "/api/slides", nil))
	assert.Len(t, slides, len(env.store.Slides()))

	slide := decode[models.Slide](t, env.do(t, http.MethodGet, "/api/slides/0", nil))
	assert.Equal(t, 1, slide.ID)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/slides/99", nil).Code)
}

func TestCompleteActivityEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/navigation/goto", map[string]int{"index": 3})

	rec := env.do(t, http.MethodPost, "/api/activities", CompleteActivityRequest{ActivityID: "ws1-notes", Result: "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[services.PresentationView](t, rec)
	assert.Equal(t, 50, view.OverallProgress)
	assert.Equal(t, []string{"ws1-notes"}, view.CompletedActivities)

	rec = env.do(t, http.MethodPost, "/api/activities", CompleteActivityRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCodeWindowAndElementEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/code-windows/ws2-prompt", CodeWindowRequest{Code: "Task: plan"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Task: plan", decode[models.CodeWindowState](t, rec).Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/code-windows/nope", CodeWindowRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/code-windows/nope", nil).Code)

	rec = env.do(t, http.MethodPatch, "/api/elements/ws1-notes", ElementRequest{Data: map[string]any{"draft": "x"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPatch, "/api/elements/ws1-notes", ElementRequest{Data: map[string]any{"final": true}})
	state := decode[models.InteractiveElementState](t, rec)
	assert.Equal(t, map[string]any{"draft": "x", "final": true}, state.Data)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPatch, "/api/elements/nope", ElementRequest{}).Code)
}

func TestNotesEndpoints(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/notes/3", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/notes/abc", nil).Code)

	rec := env.do(t, http.MethodPut, "/api/notes/3", NoteRequest{Text: "key insight"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/notes/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "key insight", decode[NoteRequest](t, rec).Text)

	text, ok, err := env.gateway.LoadNotes(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "key insight", text)
}

func TestBookmarkAndReset(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/bookmarks/2/toggle", nil)
	assert.True(t, decode[BookmarkResponse](t, rec).Bookmarked)

	env.do(t, http.MethodPost, "/api/navigation/goto", map[string]int{"index": 4})
	rec = env.do(t, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[services.PresentationView](t, rec)
	assert.Equal(t, 0, view.CurrentSlideIndex)
	assert.Empty(t, view.Bookmarks)

	snapshot, err := env.gateway.LoadProgress(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestWorkshopDataEndpoints(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/workshop-data/five-line-builder", nil).Code)

	rec := env.do(t, http.MethodPut, "/api/workshop-data/five-line-builder", map[string]any{"task": "summarize"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/workshop-data/five-line-builder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"task": "summarize"}, decode[map[string]any](t, rec))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/workshop-data/x", "{bad").Code)
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/navigation/goto", map[string]int{"index": 5})
	env.do(t, http.MethodPut, "/api/notes/6", NoteRequest{Text: "schemas help"})
	env.do(t, http.MethodPut, "/api/workshop-data/five-line-builder", map[string]any{"task": "t"})

	rec := env.do(t, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	exported := rec.Body.String()

	export := decode[persistence.Export](t, rec)
	require.NotNil(t, export.Progress)
	assert.Equal(t, 5, export.Progress.CurrentSlideIndex)
	assert.Equal(t, "schemas help", export.Notes[6])
	assert.Contains(t, export.WorkshopData, "five-line-builder")

	env.do(t, http.MethodPost, "/api/reset", nil)
	require.Equal(t, 0, env.store.CurrentSlideIndex())

	rec = env.do(t, http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, env.store.CurrentSlideIndex())
	text, _ := env.store.ParticipantNote(6)
	assert.Equal(t, "schemas help", text)
}

func TestImportRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/import", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid import data format")
}

func TestAssistantEndpointsWithoutKey(t *testing.T) {
	env := newTestEnv(t)

	status := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/assistant/status", nil))
	assert.False(t, status.Available)

	rec := env.do(t, http.MethodPost, "/api/assistant/chat", services.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[models.AssistantResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.Error, "API key is required"))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/assistant/chat", services.ChatRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/assistant/test-prompt", services.PromptTestRequest{}).Code)

	rec = env.do(t, http.MethodPost, "/api/assistant/validate-schema", ValidateSchemaRequest{
		Response: `{"dish_name":"Pho"}`,
		Schema:   map[string]any{"dish_name": ""},
	})
	assert.True(t, decode[services.SchemaValidation](t, rec).IsValid)
}

func TestAssistantEngagementEndpoints(t *testing.T) {
	env := newTestEnv(t)

	// Slide index 3 of the default deck is the first workshop.
	rec := env.do(t, http.MethodPost, "/api/navigation/goto", map[string]int{"index": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	workshop := env.store.Slides()[3]
	require.Equal(t, models.SlideTypeWorkshop, workshop.Type)

	actions := decode[[]models.QuickAction](t, env.do(t, http.MethodGet, "/api/assistant/actions", nil))
	require.Len(t, actions, 3)
	assert.Equal(t, "workshop-hint", actions[2].ID)

	actions = decode[[]models.QuickAction](t, env.do(t, http.MethodGet, "/api/assistant/actions?slide=0", nil))
	assert.Len(t, actions, 1)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/assistant/actions?slide=x", nil).Code)

	prompts := decode[[]models.ProactivePrompt](t, env.do(t, http.MethodGet, "/api/assistant/prompts", nil))
	require.Len(t, prompts, 1)
	assert.Equal(t, models.TriggerWorkshopStart, prompts[0].Trigger)

	rec = env.do(t, http.MethodPost, "/api/assistant/prompts/"+prompts[0].ID+"/dismiss", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.ProactivePrompt](t, env.do(t, http.MethodGet, "/api/assistant/prompts", nil)))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/assistant/prompts/unknown/dismiss", nil).Code)

	env.do(t, http.MethodPost, "/api/assistant/chat", services.ChatRequest{Message: "help"})
	metrics := decode[models.EngagementMetrics](t, env.do(t, http.MethodGet, "/api/assistant/metrics", nil))
	assert.Equal(t, 1, metrics.SlidesVisited)
	assert.Equal(t, 1, metrics.HelpRequests)
}

func TestClickerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/clicker/press", ClickerPressRequest{MACAddress: "aa:bb:cc:dd:ee:ff"})
	require.Equal(t, http.StatusOK, rec.Code)
	press := decode[ClickerPressResponse](t, rec)
	assert.True(t, press.Processed)
	assert.Equal(t, 1, press.SlideIndex)
	assert.Equal(t, 1, env.store.CurrentSlideIndex())

	rec = env.do(t, http.MethodPost, "/api/clicker/press", ClickerPressRequest{MACAddress: "AABBCCDDEEFF", Direction: services.PressPrevious})
	assert.Equal(t, 0, decode[ClickerPressResponse](t, rec).SlideIndex)

	list := decode[[]models.Clicker](t, env.do(t, http.MethodGet, "/api/clicker/list", nil))
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].PressCount)

	rec = env.do(t, http.MethodPut, "/api/clicker/AABBCCDDEEFF/active", SetActiveRequest{Active: false})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/clicker/press", ClickerPressRequest{MACAddress: "AABBCCDDEEFF"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decode[ClickerPressResponse](t, rec).Success)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/clicker/AABBCCDDEEFF", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/clicker/AABBCCDDEEFF", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/clicker/register", RegisterClickerRequest{}).Code)
}

func TestClickerRoutesAbsentWithoutStructuredStore(t *testing.T) {
	env := newTestEnv(t)
	router := SetupRoutes(Router{Presentation: NewPresentationHandler(env.store, env.gateway, zap.NewNop())})

	req := httptest.NewRequest(http.MethodGet, "/api/clicker/list", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
