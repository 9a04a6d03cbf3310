package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/evhome/wallbox-csms/internal/service"
	"github.com/evhome/wallbox-csms/internal/state"
)

// Handler serves the UI-facing REST surface. It reads session snapshots and
// invokes the command protocols; it never mutates state directly.
type Handler struct {
	store   *state.Store
	charger *service.Charger
}

// NewHandler creates a new API handler.
func NewHandler(store *state.Store, charger *service.Charger) *Handler {
	return &Handler{store: store, charger: charger}
}

// Response is the standard API response envelope.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// GetStatus returns the current session snapshot plus derived liveness.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	sendResponse(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"session": snap,
			"alive":   h.store.Alive(time.Now()),
		},
	})
}

// GetDevice returns the identity reported by the last BootNotification.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	sendResponse(w, http.StatusOK, Response{Success: true, Data: h.store.Device()})
}

// StartCharging starts a charging session.
func (h *Handler) StartCharging(w http.ResponseWriter, r *http.Request) {
	sendResult(w, h.charger.StartCharging(r.Context()))
}

// StopCharging pauses the charging session.
func (h *Handler) StopCharging(w http.ResponseWriter, r *http.Request) {
	sendResult(w, h.charger.StopCharging(r.Context()))
}

// ResumeCharging resumes the charging session, optionally at explicit amps.
func (h *Handler) ResumeCharging(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amps float64 `json:"amps"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	sendResult(w, h.charger.ResumeCharging(r.Context(), req.Amps))
}

// StartChargingWithReset starts charging, rebooting the wallbox first when a
// plain start fails.
func (h *Handler) StartChargingWithReset(w http.ResponseWriter, r *http.Request) {
	sendResult(w, h.charger.StartChargingWithReset(r.Context()))
}

// ResetWallbox reboots the wallbox.
func (h *Handler) ResetWallbox(w http.ResponseWriter, r *http.Request) {
	sendResult(w, h.charger.ResetWallbox(r.Context()))
}

// SetCurrentLimit changes the charging current limit.
func (h *Handler) SetCurrentLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amps float64 `json:"amps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.charger.SetCurrentLimit(r.Context(), req.Amps); err != nil {
		sendErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	sendResponse(w, http.StatusOK, Response{Success: true, Message: "Current limit updated"})
}

// TriggerMeterValues requests an immediate meter report from the wallbox.
func (h *Handler) TriggerMeterValues(w http.ResponseWriter, r *http.Request) {
	if err := h.charger.TriggerMeterValues(r.Context()); err != nil {
		sendErrorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	sendResponse(w, http.StatusOK, Response{Success: true, Message: "Meter values requested"})
}

// SetLedBrightness sets the status LED brightness (0-100).
func (h *Handler) SetLedBrightness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Brightness int `json:"brightness"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.charger.SetLedBrightness(r.Context(), req.Brightness); err != nil {
		sendErrorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	sendResponse(w, http.StatusOK, Response{Success: true, Message: "LED brightness updated"})
}

// HealthCheck reports process liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sendResponse(w, http.StatusOK, Response{Success: true, Message: "OK"})
}

func sendResult(w http.ResponseWriter, res service.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	sendResponse(w, status, Response{
		Success: res.Success,
		Message: res.Message,
		Data:    map[string]string{"action": res.Action},
	})
}

func sendResponse(w http.ResponseWriter, status int, response Response) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func sendErrorResponse(w http.ResponseWriter, status int, message string) {
	sendResponse(w, status, Response{Success: false, Message: message})
}
