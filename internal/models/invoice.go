package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceType is the AFIP comprobante letter (Factura A, B, C, E, M, X).
type InvoiceType string

const (
	TypeA InvoiceType = "A"
	TypeB InvoiceType = "B"
	TypeC InvoiceType = "C"
	TypeE InvoiceType = "E"
	TypeM InvoiceType = "M"
	TypeX InvoiceType = "X"
)

// Valid reports whether t is one of the known comprobante letters.
func (t InvoiceType) Valid() bool {
	switch t {
	case TypeA, TypeB, TypeC, TypeE, TypeM, TypeX:
		return true
	}
	return false
}

// ExpectedStatus is the lifecycle state of an expected invoice imported
// from an AFIP/ARCA "Mis Comprobantes" export.
type ExpectedStatus string

const (
	StatusPending     ExpectedStatus = "pendiente"
	StatusMatched     ExpectedStatus = "matched"
	StatusDiscrepancy ExpectedStatus = "discrepancia"
	StatusManual      ExpectedStatus = "manual"
	StatusIgnored     ExpectedStatus = "ignorada"
)

// Open reports whether the expected invoice can still be matched against
// an uploaded document. Once matched, the row is consumed.
func (s ExpectedStatus) Open() bool {
	return s != StatusMatched
}

// FileStatus is the processing state of an uploaded document.
type FileStatus string

const (
	FileProcessing    FileStatus = "procesando"
	FilePendingReview FileStatus = "pendiente_revision"
	FileProcessed     FileStatus = "procesado"
	FileFailed        FileStatus = "error"
)

// ExtractedRecord is the best-effort structured data pulled out of a
// scanned or digital factura. Zero values mean the extractor could not
// read the field; CUIT is digits-only when present.
type ExtractedRecord struct {
	CUIT          string          `json:"cuit,omitempty"`
	IssueDate     string          `json:"fecha_emision,omitempty"` // YYYY-MM-DD
	InvoiceType   InvoiceType     `json:"tipo_comprobante,omitempty"`
	PointOfSale   int             `json:"punto_venta,omitempty"`   // 1-99999
	InvoiceNumber int             `json:"numero,omitempty"`        // 1-99999999
	Total         decimal.Decimal `json:"importe_total"`
	EmitterName   string          `json:"denominacion_emisor,omitempty"`
	Confidence    int             `json:"confianza"` // 0-100, self-reported
}

// Empty reports whether extraction produced no usable data at all:
// nothing to score against, nothing to create an invoice from.
func (r ExtractedRecord) Empty() bool {
	return r.CUIT == "" && r.InvoiceType == "" && r.PointOfSale == 0 &&
		r.InvoiceNumber == 0 && r.IssueDate == "" && r.Total.IsZero()
}

// HasFullKey reports whether all four natural-key fields were extracted.
func (r ExtractedRecord) HasFullKey() bool {
	return r.CUIT != "" && r.InvoiceType != "" && r.PointOfSale > 0 && r.InvoiceNumber > 0
}

// ExpectedInvoice is a row of the expected ledger: an invoice AFIP says
// the taxpayer received, pending reconciliation with an uploaded document.
// The natural key (cuit, tipo, punto de venta, numero) is unique.
type ExpectedInvoice struct {
	ID            int64           `json:"id"`
	CUIT          string          `json:"cuit"`
	InvoiceType   InvoiceType     `json:"tipo_comprobante"`
	PointOfSale   int             `json:"punto_venta"`
	InvoiceNumber int             `json:"numero"`
	IssueDate     *time.Time      `json:"fecha_emision,omitempty"`
	EmitterName   string          `json:"denominacion_emisor,omitempty"`
	Total         decimal.Decimal `json:"importe_total"`
	Status        ExpectedStatus  `json:"estado"`

	// Set only on transition to matched.
	MatchedFileID    *uuid.UUID `json:"matched_file_id,omitempty"`
	MatchedInvoiceID *uuid.UUID `json:"matched_invoice_id,omitempty"`
	MatchScore       *int       `json:"match_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// InvoiceSource records which path created a finalized invoice.
type InvoiceSource string

const (
	SourceAutoExact      InvoiceSource = "auto_exact"
	SourceAutoConfidence InvoiceSource = "auto_confidence"
	SourceManual         InvoiceSource = "manual"
)

// Invoice is the authoritative record of a processed, confirmed factura.
// The natural key (cuit_emisor, tipo, punto de venta, numero) is unique
// across the system; inserting a duplicate is a conflict, never an
// overwrite.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	EmitterCUIT   string          `json:"cuit_emisor"`
	EmitterID     *uuid.UUID      `json:"emisor_id,omitempty"`
	InvoiceType   InvoiceType     `json:"tipo_comprobante"`
	PointOfSale   int             `json:"punto_venta"`
	InvoiceNumber int             `json:"numero"`
	IssueDate     *time.Time      `json:"fecha_emision,omitempty"`
	Total         decimal.Decimal `json:"importe_total"`
	Category      string          `json:"categoria,omitempty"`
	FileID        *uuid.UUID      `json:"archivo_id,omitempty"`
	ExpectedID    *int64          `json:"esperada_id,omitempty"`
	Source        InvoiceSource   `json:"origen"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MatchCandidate is a scored partial match between an extracted record and
// an expected invoice. Candidates are never persisted; they are consumed
// by the confidence gate or shown to a human for confirmation.
type MatchCandidate struct {
	ExpectedID    int64            `json:"expected_id"`
	Expected      *ExpectedInvoice `json:"expected"`
	MatchScore    int              `json:"match_score"` // 0-100
	MatchedFields []string         `json:"matched_fields"`
}

// UploadedFile is a stored source document (PDF or image) and the state of
// its processing pipeline.
type UploadedFile struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"nombre"`
	ObjectName    string     `json:"object_name"`
	ContentType   string     `json:"content_type"`
	SizeBytes     int64      `json:"size_bytes"`
	Status        FileStatus `json:"estado"`
	ExtractedCUIT string     `json:"cuit_extraido,omitempty"`
	Confidence    int        `json:"confianza"`
	InvoiceID     *uuid.UUID `json:"factura_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Emitter is a known invoice issuer (proveedor).
type Emitter struct {
	ID        uuid.UUID `json:"id"`
	CUIT      string    `json:"cuit"`
	Name      string    `json:"nombre"`
	CreatedAt time.Time `json:"created_at"`
}

// EmitterRefs is the reference-count breakdown guarding emitter deletion.
type EmitterRefs struct {
	Invoices int `json:"facturas"`
	Expected int `json:"facturas_esperadas"`
	Files    int `json:"archivos"`
}

// Total is the combined reference count across all three sources.
func (r EmitterRefs) Total() int {
	return r.Invoices + r.Expected + r.Files
}

// User is an admin-tool account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"nombre"`
	Role         string    `json:"rol"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
