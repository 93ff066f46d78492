package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/facturaAR/invoice-admin-service/internal/cuit"
	"github.com/facturaAR/invoice-admin-service/internal/models"
)

// GetEmitters returns every registered emitter.
func (h *Handler) GetEmitters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	emitters, err := h.db.ListEmitters(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"emitters": emitters,
		"count":    len(emitters),
	})
}

// CreateEmitter registers an invoice issuer. The CUIT must carry a valid
// verifier digit; duplicates are a conflict.
func (h *Handler) CreateEmitter(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		CUIT   string `json:"cuit"`
		Nombre string `json:"nombre"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	normalized, err := cuit.Normalize(req.CUIT)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid cuit: "+err.Error())
		return
	}
	if !cuit.Valid(normalized) {
		h.sendError(w, http.StatusBadRequest, "invalid cuit: verifier digit does not check out")
		return
	}
	if strings.TrimSpace(req.Nombre) == "" {
		h.sendError(w, http.StatusBadRequest, "nombre is required")
		return
	}

	emitter := &models.Emitter{CUIT: normalized, Name: strings.TrimSpace(req.Nombre)}
	if err := h.db.CreateEmitter(r.Context(), emitter); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(emitter)
}

// DeleteEmitter removes an emitter. When invoices, expected rows or
// unlinked documents still reference its CUIT the deletion is refused and
// the 409 payload carries the per-source breakdown.
func (h *Handler) DeleteEmitter(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid emitter id")
		return
	}

	refs, err := h.db.DeleteEmitter(r.Context(), id)
	if err != nil {
		if refs != nil {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":      err.Error(),
				"references": refs,
			})
			return
		}
		h.writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "emitter deleted",
	})
}
