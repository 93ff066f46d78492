package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/facturaAR/invoice-admin-service/internal/extractor"
	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
	"github.com/facturaAR/invoice-admin-service/internal/storage"
)

// DocumentResult is the per-document outcome of an upload batch. A batch
// never fails as a whole: each document carries its own outcome or error.
type DocumentResult struct {
	FileID     uuid.UUID               `json:"file_id,omitempty"`
	Filename   string                  `json:"filename"`
	Outcome    recon.Outcome           `json:"outcome,omitempty"`
	Invoice    *models.Invoice         `json:"invoice,omitempty"`
	Expected   *models.ExpectedInvoice `json:"expected,omitempty"`
	Candidates []models.MatchCandidate `json:"candidates,omitempty"`
	Extracted  *models.ExtractedRecord `json:"extracted,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// UploadDocuments stores one or more documents and runs each through the
// full pipeline: store file, extract fields, resolve against the expected
// ledger, gate the outcome.
func (h *Handler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, 10*MaxUploadSize)
	if err := r.ParseMultipartForm(10 * MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	headers := documentHeaders(r)
	if len(headers) == 0 {
		h.sendError(w, http.StatusBadRequest, "No file provided (use 'files', 'file' or 'image' field)")
		return
	}

	providerName := r.FormValue("aiProvider")
	modelName := r.FormValue("model")

	results := make([]DocumentResult, 0, len(headers))
	for _, header := range headers {
		results = append(results, h.handleUpload(ctx, header, providerName, modelName))
	}

	processed := 0
	for _, res := range results {
		if res.Error == "" {
			processed++
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"processed": processed,
		"failed":    len(results) - processed,
		"results":   results,
	})
}

// documentHeaders collects the uploaded parts under the field names the
// frontends use.
func documentHeaders(r *http.Request) []*multipart.FileHeader {
	var headers []*multipart.FileHeader
	if r.MultipartForm == nil {
		return headers
	}
	for _, field := range []string{"files", "file", "image"} {
		headers = append(headers, r.MultipartForm.File[field]...)
	}
	return headers
}

// handleUpload runs the pipeline for one document of a batch. Failures
// are reported per document so one broken upload never aborts the rest.
func (h *Handler) handleUpload(ctx context.Context, header *multipart.FileHeader, providerName, modelName string) DocumentResult {
	result := DocumentResult{Filename: header.Filename}

	part, err := header.Open()
	if err != nil {
		result.Error = fmt.Sprintf("failed to open upload: %v", err)
		return result
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read upload: %v", err)
		return result
	}
	if len(data) > MaxUploadSize {
		result.Error = "document exceeds the 10MB limit"
		return result
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	// Generate unique filename
	filename := fmt.Sprintf("%s_%s%s",
		time.Now().Format("20060102_150405"),
		uuid.New().String()[:8],
		storage.GetFileExtension(contentType),
	)
	objectName := storage.ObjectName(filename)

	if h.store != nil {
		if _, err := h.store.Upload(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			result.Error = fmt.Sprintf("failed to store document: %v", err)
			return result
		}
	} else {
		log.Printf("Warning: storage not configured, document %s kept in DB only", header.Filename)
		objectName = ""
	}

	file := &models.UploadedFile{
		ID:          uuid.New(),
		Name:        header.Filename,
		ObjectName:  objectName,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Status:      models.FileProcessing,
	}
	if err := h.db.SaveFile(ctx, file); err != nil {
		result.Error = fmt.Sprintf("failed to save document record: %v", err)
		return result
	}
	result.FileID = file.ID

	gateResult, rec, err := h.processDocument(ctx, file, data, providerName, modelName)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Outcome = gateResult.Outcome
	result.Invoice = gateResult.Invoice
	result.Expected = gateResult.Expected
	result.Candidates = gateResult.Candidates
	result.Extracted = rec
	return result
}

// processDocument extracts fields from the document bytes and passes them
// through the confidence gate, recording the pipeline state on the file
// row at each step.
func (h *Handler) processDocument(ctx context.Context, file *models.UploadedFile, data []byte, providerName, modelName string) (*recon.Result, *models.ExtractedRecord, error) {
	provider, err := h.createProvider(providerName, modelName)
	if err != nil {
		_ = h.db.UpdateFileExtraction(ctx, file.ID, models.FileFailed, "", 0)
		return nil, nil, err
	}

	rec, _, err := extractor.New(provider).Extract(ctx, data, file.ContentType)
	if err != nil {
		_ = h.db.UpdateFileExtraction(ctx, file.ID, models.FileFailed, "", 0)
		return nil, nil, fmt.Errorf("extraction failed: %w", err)
	}

	// Record what was read before the gate decides; a commit will advance
	// the state to procesado itself.
	if err := h.db.UpdateFileExtraction(ctx, file.ID, models.FileProcessing, rec.CUIT, rec.Confidence); err != nil {
		return nil, nil, err
	}

	gateResult, err := h.gate.Process(ctx, file.ID, *rec)
	if err != nil {
		_ = h.db.UpdateFileExtraction(ctx, file.ID, models.FileFailed, rec.CUIT, rec.Confidence)
		return nil, nil, err
	}

	switch gateResult.Outcome {
	case recon.OutcomePendingReview:
		err = h.db.UpdateFileExtraction(ctx, file.ID, models.FilePendingReview, rec.CUIT, rec.Confidence)
	case recon.OutcomeFailed:
		err = h.db.UpdateFileExtraction(ctx, file.ID, models.FileFailed, rec.CUIT, rec.Confidence)
	}
	if err != nil {
		return nil, nil, err
	}

	return gateResult, rec, nil
}

// ReprocessDocument re-runs the pipeline on a stored document, discarding
// the previous attempt's extraction. Documents already linked to an
// invoice are immutable; delete the invoice first.
func (h *Handler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	fileID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	file, err := h.db.GetFile(ctx, fileID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if file.InvoiceID != nil {
		h.writeError(w, &recon.ConflictError{Message: "document is already linked to an invoice"})
		return
	}
	if h.store == nil || file.ObjectName == "" {
		h.sendError(w, http.StatusServiceUnavailable, "stored document is not available")
		return
	}

	obj, err := h.store.Get(ctx, file.ObjectName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to read stored document")
		return
	}

	gateResult, rec, err := h.processDocument(ctx, file, data, r.URL.Query().Get("aiProvider"), r.URL.Query().Get("model"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(DocumentResult{
		FileID:     file.ID,
		Filename:   file.Name,
		Outcome:    gateResult.Outcome,
		Invoice:    gateResult.Invoice,
		Expected:   gateResult.Expected,
		Candidates: gateResult.Candidates,
		Extracted:  rec,
	})
}

// GetDocumentFile streams the stored source document.
func (h *Handler) GetDocumentFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		h.sendError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	file, err := h.db.GetFile(ctx, fileID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		h.writeError(w, err)
		return
	}
	if h.store == nil || file.ObjectName == "" {
		w.Header().Set("Content-Type", "application/json")
		h.sendError(w, http.StatusNotFound, "stored document is not available")
		return
	}

	obj, err := h.store.Get(ctx, file.ObjectName)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		h.writeError(w, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.Name))
	if _, err := io.Copy(w, obj); err != nil {
		log.Printf("failed to stream document %s: %v", fileID, err)
	}
}

// GetDocument returns one uploaded-document record.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	fileID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	file, err := h.db.GetFile(r.Context(), fileID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(file)
}

// ListDocuments returns uploaded documents, optionally filtered by state.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := models.FileStatus(r.URL.Query().Get("estado"))

	files, err := h.db.ListFiles(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

// DeleteDocument removes an unlinked document and its stored object.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	fileID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	file, err := h.db.GetFile(ctx, fileID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.db.DeleteFile(ctx, fileID); err != nil {
		h.writeError(w, err)
		return
	}

	if h.store != nil && file.ObjectName != "" {
		// Best effort; the record is already gone.
		_ = h.store.Delete(ctx, file.ObjectName)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "document deleted",
	})
}
