package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/facturaAR/invoice-admin-service/internal/importer"
	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

// ListExpected browses the expected ledger. Without an estado filter it
// returns every open row (the resolver's zero-criteria mode); with one it
// returns rows in that lifecycle state.
func (h *Handler) ListExpected(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	if estado := q.Get("estado"); estado != "" {
		rows, err := h.db.ListExpectedByStatus(ctx, models.ExpectedStatus(estado), limit)
		if err != nil {
			h.writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"expected": rows,
			"count":    len(rows),
		})
		return
	}

	if limit <= 0 {
		limit = 100
	}
	candidates, err := h.resolver.FindCandidates(ctx, recon.Criteria{Limit: limit})
	if err != nil {
		h.writeError(w, err)
		return
	}

	rows := make([]models.ExpectedInvoice, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, *c.Expected)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"expected": rows,
		"count":    len(rows),
	})
}

// GetCandidates runs the partial-match search over the open ledger with
// whatever key fields the query supplies.
func (h *Handler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	q := r.URL.Query()
	criteria := recon.Criteria{
		CUIT:        q.Get("cuit"),
		InvoiceType: models.InvoiceType(q.Get("tipo_comprobante")),
	}
	criteria.PointOfSale, _ = strconv.Atoi(q.Get("punto_venta"))
	criteria.InvoiceNumber, _ = strconv.Atoi(q.Get("numero"))
	criteria.Limit, _ = strconv.Atoi(q.Get("limit"))

	candidates, err := h.resolver.FindCandidates(r.Context(), criteria)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// ConfirmRequest is the body of a human match confirmation: which
// document to link and what was extracted from it.
type ConfirmRequest struct {
	FileID    uuid.UUID              `json:"file_id"`
	Extracted models.ExtractedRecord `json:"extracted"`
}

// ConfirmExpected applies a human's confirmation that a document matches
// an expected invoice. The match score is recomputed server-side.
func (h *Handler) ConfirmExpected(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	expectedID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid expected invoice id")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == uuid.Nil {
		h.sendError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	file, err := h.db.GetFile(ctx, req.FileID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if file.InvoiceID != nil {
		h.writeError(w, &recon.ConflictError{Message: "document is already linked to an invoice"})
		return
	}

	invoice, err := h.gate.Confirm(ctx, expectedID, req.FileID, req.Extracted)
	if err != nil {
		h.writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"invoice": invoice,
	})
}

// UpdateExpectedStatus moves an open row between lifecycle states
// (pendiente, discrepancia, manual, ignorada). The matched state can only
// be reached by confirming a document.
func (h *Handler) UpdateExpectedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	expectedID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid expected invoice id")
		return
	}

	var req struct {
		Estado models.ExpectedStatus `json:"estado"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Estado {
	case models.StatusPending, models.StatusDiscrepancy, models.StatusManual, models.StatusIgnored:
	default:
		h.sendError(w, http.StatusBadRequest, "invalid estado")
		return
	}

	if err := h.db.UpdateExpectedStatus(r.Context(), expectedID, req.Estado); err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"estado":  req.Estado,
	})
}

// ImportExpected ingests an AFIP "Mis Comprobantes Recibidos" Excel
// export into the expected ledger. Rows whose natural key is already in
// the ledger are skipped.
func (h *Handler) ImportExpected(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' field)")
		return
	}
	defer file.Close()

	result, err := importer.Parse(file)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := h.db.InsertExpectedBatch(ctx, result.Rows)
	if err != nil {
		h.writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"parsed":     result.Parsed,
		"inserted":   inserted,
		"duplicates": result.Parsed - inserted,
		"skipped":    result.Skipped,
		"errors":     result.Errors,
	})
}
