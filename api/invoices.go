package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/facturaAR/invoice-admin-service/internal/db"
)

// GetInvoices returns finalized invoices, newest first, optionally
// filtered by emitter CUIT and category.
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	q := r.URL.Query()
	filter := db.InvoiceFilter{
		EmitterCUIT: q.Get("cuit"),
		Category:    q.Get("categoria"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	invoices, err := h.db.ListInvoices(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// GetInvoice returns a single finalized invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	invoice, err := h.db.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(invoice)
}

// UpdateInvoice re-categorizes an invoice and/or reassigns its emitter.
// The natural key itself is immutable; a wrong key means deleting the
// invoice and reprocessing the document.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	var req struct {
		Categoria *string    `json:"categoria"`
		EmisorID  *uuid.UUID `json:"emisor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Categoria == nil && req.EmisorID == nil {
		h.sendError(w, http.StatusBadRequest, "no valid fields to update")
		return
	}

	if req.Categoria != nil {
		if err := h.db.UpdateInvoiceCategory(ctx, id, *req.Categoria); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.EmisorID != nil {
		if err := h.db.ReassignInvoiceEmitter(ctx, id, *req.EmisorID); err != nil {
			h.writeError(w, err)
			return
		}
	}

	invoice, err := h.db.GetInvoice(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"invoice": invoice,
	})
}

// DeleteInvoice removes a finalized invoice. Its source document returns
// to pending review and a consumed expected row reopens.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	if err := h.db.DeleteInvoice(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "invoice deleted",
	})
}
