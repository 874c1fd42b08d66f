package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"workshop-deck/internal/services"
)

// ClickerHandler handles HTTP requests for hardware presenter remotes
type ClickerHandler struct {
	clickers *services.ClickerService
	logger   *zap.Logger
}

// NewClickerHandler creates a new clicker handler
func NewClickerHandler(clickers *services.ClickerService, logger *zap.Logger) *ClickerHandler {
	return &ClickerHandler{
		clickers: clickers,
		logger:   logger.Named("http"),
	}
}

// ClickerPressRequest is sent by the device firmware
type ClickerPressRequest struct {
	MACAddress string                  `json:"macAddress"`
	Direction  services.PressDirection `json:"direction,omitempty"`
}

// ClickerPressResponse represents the response to a press
type ClickerPressResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Processed  bool   `json:"processed"`
	SlideIndex int    `json:"slideIndex"`
}

// RegisterClickerRequest represents a clicker registration request
type RegisterClickerRequest struct {
	MACAddress string `json:"macAddress"`
	Name       string `json:"name,omitempty"`
}

// SetActiveRequest enables or disables a clicker
type SetActiveRequest struct {
	Active bool `json:"active"`
}

func (ch *ClickerHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrClickerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidMAC):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		ch.logger.Error("Clicker request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Press handles a button press from a clicker. Unknown devices are
// registered on the fly.
// POST /api/clicker/press
func (ch *ClickerHandler) Press(w http.ResponseWriter, r *http.Request) {
	var req ClickerPressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.MACAddress == "" {
		http.Error(w, "MAC address is required", http.StatusBadRequest)
		return
	}

	result, err := ch.clickers.Press(r.Context(), req.MACAddress, req.Direction)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, services.ErrClickerInactive) && !errors.Is(err, services.ErrInvalidMAC) {
			ch.logger.Error("Clicker press failed", zap.String("mac", req.MACAddress), zap.Error(err))
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, ClickerPressResponse{Success: false, Message: err.Error()})
		return
	}

	message := "Slide changed"
	if !result.Moved {
		message = "Slide unchanged"
	}
	writeJSON(w, http.StatusOK, ClickerPressResponse{
		Success:    true,
		Message:    message,
		Processed:  result.Moved,
		SlideIndex: result.SlideIndex,
	})
}

// Register registers a new clicker
// POST /api/clicker/register
func (ch *ClickerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterClickerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.MACAddress == "" {
		http.Error(w, "MAC address is required", http.StatusBadRequest)
		return
	}

	clicker, err := ch.clickers.Register(r.Context(), req.MACAddress, req.Name)
	if err != nil {
		ch.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clicker)
}

// List returns all registered clickers
// GET /api/clicker/list
func (ch *ClickerHandler) List(w http.ResponseWriter, r *http.Request) {
	clickers, err := ch.clickers.List(r.Context())
	if err != nil {
		ch.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clickers)
}

// Get returns a clicker by MAC address
// GET /api/clicker/{macAddress}
func (ch *ClickerHandler) Get(w http.ResponseWriter, r *http.Request) {
	clicker, err := ch.clickers.Get(r.Context(), mux.Vars(r)["macAddress"])
	if err != nil {
		ch.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clicker)
}

// SetActive enables or disables a clicker
// PUT /api/clicker/{macAddress}/active
func (ch *ClickerHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ch.clickers.SetActive(r.Context(), mux.Vars(r)["macAddress"], req.Active); err != nil {
		ch.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a clicker
// DELETE /api/clicker/{macAddress}
func (ch *ClickerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := ch.clickers.Delete(r.Context(), mux.Vars(r)["macAddress"]); err != nil {
		ch.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
