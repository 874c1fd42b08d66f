package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HealthFunc reports runtime status for /api/health
type HealthFunc func() map[string]any

// Router groups the handlers served by SetupRoutes. Clicker may be nil when
// the structured store is not available.
type Router struct {
	Presentation *PresentationHandler
	Assistant    *AssistantHandler
	Clicker      *ClickerHandler
	WebSocket    http.Handler
	StaticDir    string
	Health       HealthFunc
	Logger       *zap.Logger
}

// SetupRoutes builds the HTTP router
func SetupRoutes(rt Router) *mux.Router {
	router := mux.NewRouter()
	if rt.Logger != nil {
		router.Use(requestLogger(rt.Logger.Named("http")))
	}

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		if rt.Health != nil {
			for k, v := range rt.Health() {
				status[k] = v
			}
		}
		writeJSON(w, http.StatusOK, status)
	}).Methods(http.MethodGet)

	p := rt.Presentation
	api.HandleFunc("/presentation", p.GetState).Methods(http.MethodGet)
	api.HandleFunc("/presentation/snapshot", p.GetSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/slides", p.ListSlides).Methods(http.MethodGet)
	api.HandleFunc("/slides/{index:[0-9]+}", p.GetSlide).Methods(http.MethodGet)
	api.HandleFunc("/navigation/next", p.Next).Methods(http.MethodPost)
	api.HandleFunc("/navigation/previous", p.Previous).Methods(http.MethodPost)
	api.HandleFunc("/navigation/goto", p.Goto).Methods(http.MethodPost)
	api.HandleFunc("/activities", p.CompleteActivity).Methods(http.MethodPost)
	api.HandleFunc("/code-windows/{id}", p.GetCodeWindow).Methods(http.MethodGet)
	api.HandleFunc("/code-windows/{id}", p.UpdateCodeWindow).Methods(http.MethodPut)
	api.HandleFunc("/elements/{id}", p.GetElement).Methods(http.MethodGet)
	api.HandleFunc("/elements/{id}", p.UpdateElement).Methods(http.MethodPatch)
	api.HandleFunc("/notes/{slideId}", p.GetNote).Methods(http.MethodGet)
	api.HandleFunc("/notes/{slideId}", p.PutNote).Methods(http.MethodPut)
	api.HandleFunc("/bookmarks/{slideId}/toggle", p.ToggleBookmark).Methods(http.MethodPost)
	api.HandleFunc("/reset", p.Reset).Methods(http.MethodPost)
	api.HandleFunc("/workshop-data/{id}", p.GetWorkshopData).Methods(http.MethodGet)
	api.HandleFunc("/workshop-data/{id}", p.PutWorkshopData).Methods(http.MethodPut)
	api.HandleFunc("/export", p.Export).Methods(http.MethodGet)
	api.HandleFunc("/import", p.Import).Methods(http.MethodPost)

	if a := rt.Assistant; a != nil {
		api.HandleFunc("/assistant/status", a.Status).Methods(http.MethodGet)
		api.HandleFunc("/assistant/chat", a.Chat).Methods(http.MethodPost)
		api.HandleFunc("/assistant/test-prompt", a.TestPrompt).Methods(http.MethodPost)
		api.HandleFunc("/assistant/validate-schema", a.ValidateSchema).Methods(http.MethodPost)
		api.HandleFunc("/assistant/actions", a.QuickActions).Methods(http.MethodGet)
		api.HandleFunc("/assistant/prompts", a.Prompts).Methods(http.MethodGet)
		api.HandleFunc("/assistant/prompts/{id}/dismiss", a.DismissPrompt).Methods(http.MethodPost)
		api.HandleFunc("/assistant/metrics", a.Metrics).Methods(http.MethodGet)
	}

	if c := rt.Clicker; c != nil {
		api.HandleFunc("/clicker/press", c.Press).Methods(http.MethodPost)
		api.HandleFunc("/clicker/register", c.Register).Methods(http.MethodPost)
		api.HandleFunc("/clicker/list", c.List).Methods(http.MethodGet)
		api.HandleFunc("/clicker/{macAddress}", c.Get).Methods(http.MethodGet)
		api.HandleFunc("/clicker/{macAddress}", c.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/clicker/{macAddress}/active", c.SetActive).Methods(http.MethodPut)
	}

	if rt.WebSocket != nil {
		router.Handle("/ws", rt.WebSocket).Methods(http.MethodGet)
	}

	if rt.StaticDir != "" {
		if info, err := os.Stat(rt.StaticDir); err == nil && info.IsDir() {
			router.PathPrefix("/").Handler(http.FileServer(http.Dir(rt.StaticDir)))
		} else if rt.Logger != nil {
			rt.Logger.Warn("Static directory not found, UI will not be served", zap.String("dir", rt.StaticDir))
		}
	}

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				// The upgrade needs the original writer's Hijacker.
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
