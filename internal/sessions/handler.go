package sessions

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/internal/composer"
	"github.com/jogardn/order-console/internal/editlock"
	"github.com/jogardn/order-console/pkg/models"
)

// Handler exposes the order edit workflow over REST.
type Handler struct {
	manager *Manager
	logger  *logrus.Logger
}

func NewHandler(manager *Manager, logger *logrus.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/sessions", h.OpenSession).Methods("POST")
	router.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	router.HandleFunc("/sessions/{id}/lines", h.AddLine).Methods("POST")
	router.HandleFunc("/sessions/{id}/lines/{key}", h.SetLineQuantity).Methods("PUT")
	router.HandleFunc("/sessions/{id}/lines/{key}", h.RemoveLine).Methods("DELETE")
	router.HandleFunc("/sessions/{id}/shipping", h.UpdateShipping).Methods("PUT")
	router.HandleFunc("/sessions/{id}/submit", h.Submit).Methods("POST")
	router.HandleFunc("/sessions/{id}/cancel", h.Cancel).Methods("POST")
}

type openSessionRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		h.respondWithError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	session, err := h.manager.Open(r.Context(), req.OrderID)
	if err != nil {
		h.respondWithWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"session_id": session.ID,
		"session":    session.Composer.Snapshot(),
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": session.Composer.Snapshot(),
	})
}

type addLineRequest struct {
	Product  models.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req addLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Quantity < 1 {
		h.respondWithError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	line, err := session.Composer.AddLine(req.Product, req.Quantity)
	if err != nil {
		h.respondWithWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"line":    line,
		"summary": session.Composer.Summary(),
	})
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) SetLineQuantity(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Quantity < 1 {
		h.respondWithError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	key := mux.Vars(r)["key"]
	if err := session.Composer.SetLineQuantity(key, req.Quantity); err != nil {
		h.respondWithWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": session.Composer.Summary(),
	})
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	key := mux.Vars(r)["key"]
	if err := session.Composer.RemoveLine(key); err != nil {
		h.respondWithWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": session.Composer.Summary(),
	})
}

func (h *Handler) UpdateShipping(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var update composer.ShippingUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := session.Composer.ApplyShipping(update); err != nil {
		h.respondWithWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"shipping": session.Composer.Snapshot().Shipping,
		"summary":  session.Composer.Summary(),
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	snapshot, err := h.manager.Submit(r.Context(), sessionID)
	if err != nil {
		h.respondWithWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Order updated successfully",
		"session": snapshot,
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.manager.Cancel(r.Context(), sessionID); err != nil {
		h.respondWithWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Edit session cancelled, changes discarded",
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sessionID := mux.Vars(r)["id"]
	session, err := h.manager.Get(sessionID)
	if err != nil {
		h.respondWithError(w, http.StatusNotFound, "Edit session not found")
		return nil, false
	}
	return session, true
}

// respondWithWorkflowError maps workflow errors onto HTTP statuses: lock
// conflicts and wrong-state edits are 409, unmet aggregate invariants are
// 422, backend failures are 502.
func (h *Handler) respondWithWorkflowError(w http.ResponseWriter, err error) {
	var validationErr *composer.ValidationError
	var fetchErr *composer.FetchError
	var submitErr *composer.SubmitError

	switch {
	case errors.Is(err, ErrSessionNotFound):
		h.respondWithError(w, http.StatusNotFound, "Edit session not found")
	case errors.Is(err, editlock.ErrLocked):
		h.respondWithError(w, http.StatusConflict, "Order is being edited in another session")
	case errors.As(err, &validationErr):
		h.respondWithError(w, http.StatusUnprocessableEntity, validationErr.Error())
	case errors.As(err, &fetchErr):
		h.logger.WithError(err).Error("Failed to open edit session")
		h.respondWithError(w, http.StatusBadGateway, "Failed to load order from backend")
	case errors.As(err, &submitErr):
		h.logger.WithError(err).Error("Order update rejected")
		h.respondWithError(w, http.StatusBadGateway, submitErr.Error())
	case errors.Is(err, composer.ErrNotEditable):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, composer.ErrClosed):
		h.respondWithError(w, http.StatusGone, "Edit session is closed")
	default:
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
