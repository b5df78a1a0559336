package httptransport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"document-processing-service/internal/entity"
	"document-processing-service/internal/repository/postgresql"
	"document-processing-service/internal/service"
)

const maxUploadBytes = 32 << 20

type Handler struct {
	docSvc     *service.DocumentService
	extractSvc *service.ExtractionService
}

func NewHandler(docSvc *service.DocumentService, extractSvc *service.ExtractionService) *Handler {
	return &Handler{docSvc: docSvc, extractSvc: extractSvc}
}

type processingResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type failedResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type extractedTextResp struct {
	ID            string `json:"id"`
	OriginalName  string `json:"original_name"`
	TextExtracted bool   `json:"text_extracted"`
	ExtractedText string `json:"extracted_text"`
}

type anonymizedResp struct {
	ID             string `json:"id"`
	OriginalName   string `json:"original_name"`
	AnonymizedName string `json:"anonymized_name"`
	AnonymizedText string `json:"anonymized_text"`
}

type summaryResp struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	Summary      string `json:"summary"`
}

func (h *Handler) documentID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) mapServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postgresql.ErrNotFound):
		writeErr(w, http.StatusNotFound, "document not found")
	case errors.Is(err, service.ErrUnsupportedContentType):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTextNotExtracted):
		writeErr(w, http.StatusConflict, "text extraction is required first")
	case errors.Is(err, service.ErrQueueUnavailable):
		writeErr(w, http.StatusServiceUnavailable, "queue unavailable")
	default:
		writeErrDetail(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// UploadDocument godoc
// @Summary Upload a document
// @Description Stores the file on disk and creates its record. Extraction is a separate, explicit request.
// @Tags documents
// @Accept mpfd
// @Produce json
// @Param file formData file true "document to upload"
// @Success 201 {object} entity.Document
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /files [post]
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	doc, err := h.docSvc.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.mapServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// ListDocuments godoc
// @Summary List documents
// @Tags documents
// @Produce json
// @Success 200 {array} entity.Document
// @Failure 500 {object} apiError
// @Router /files [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docSvc.List(r.Context())
	if err != nil {
		h.mapServiceErr(w, err)
		return
	}
	if docs == nil {
		docs = []*entity.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetDocument godoc
// @Summary Get document by id
// @Tags documents
// @Produce json
// @Param id path string true "document id (uuid)"
// @Success 200 {object} entity.Document
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /files/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := h.documentID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	doc, err := h.docSvc.Get(r.Context(), id)
	if err != nil {
		h.mapServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// SubmitExtraction godoc
// @Summary Start text extraction
// @Description Enqueues a background extraction task and returns immediately. Poll GET /files/{id}/text for completion. Re-submitting while one is in flight is coalesced.
// @Tags extraction
// @Produce json
// @Param id path string true "document id (uuid)"
// @Success 202 {object} processingResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 503 {object} apiError
// @Router /files/{id}/extract [post]
func (h *Handler) SubmitExtraction(w http.ResponseWriter, r *http.Request) {
	id, err := h.documentID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.extractSvc.Submit(r.Context(), id); err != nil {
		h.mapServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, processingResp{ID: id.String(), Status: "processing"})
}

// GetExtractedText godoc
// @Summary Poll extraction status
// @Description Read-only poll: 202 while processing, 200 with the text when done, 200 with status "failed" after a terminal extraction failure.
// @Tags extraction
// @Produce json
// @Param id path string true "document id (uuid)"
// @Success 200 {object} extractedTextResp
// @Success 202 {object} processingResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /files/{id}/text [get]
func (h *Handler) GetExtractedText(w http.ResponseWriter, r *http.Request) {
	id, err := h.documentID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	doc, err := h.extractSvc.Status(r.Context(), id)
	if err != nil {
		h.mapServiceErr(w, err)
		return
	}

	switch doc.ExtractionState() {
	case entity.ExtractionDone:
		writeJSON(w, http.StatusOK, extractedTextResp{
			ID:            doc.ID.String(),
			OriginalName:  doc.OriginalName,
			TextExtracted: true,
			ExtractedText: *doc.ExtractedText,
		})
	case entity.ExtractionFailed:
		writeJSON(w, http.StatusOK, failedResp{
			ID:     doc.ID.String(),
			Status: string(entity.ExtractionFailed),
			Error:  *doc.ExtractionError,
		})
	default:
		writeJSON(w, http.StatusAccepted, processingResp{
			ID:     doc.ID.String(),
			Status: string(entity.ExtractionPending),
		})
	}
}

// AnonymizeDocument godoc
// @Summary Redact a term from the extracted text
// @Tags anonymization
// @Produce json
// @Param id path string true "document id (uuid)"
// @Param term query string true "term to redact"
// @Success 200 {object} anonymizedResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /files/{id}/anonymized [get]
func (h *Handler) AnonymizeDocument(w http.ResponseWriter, r *http.Request) {
	id, err := h.documentID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	term := r.URL.Query().Get("term")
	if term == "" {
		writeErr(w, http.StatusBadRequest, "term query parameter is required")
		return
	}

	doc, err := h.docSvc.Anonymize(r.Context(), id, term)
	if err != nil {
		h.mapServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, anonymizedResp{
		ID:             doc.ID.String(),
		OriginalName:   doc.OriginalName,
		AnonymizedName: *doc.AnonymizedName,
		AnonymizedText: *doc.AnonymizedText,
	})
}

// GetSummary godoc
// @Summary Summarize the extracted text
// @Description Returns the cached summary or generates one via the configured model.
// @Tags summary
// @Produce json
// @Param id path string true "document id (uuid)"
// @Success 200 {object} summaryResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Failure 502 {object} apiError
// @Router /files/{id}/summary [get]
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := h.documentID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	doc, err := h.docSvc.Summarize(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) || errors.Is(err, service.ErrTextNotExtracted) {
			h.mapServiceErr(w, err)
			return
		}
		writeErr(w, http.StatusBadGateway, "summary generation failed")
		return
	}

	writeJSON(w, http.StatusOK, summaryResp{
		ID:           doc.ID.String(),
		OriginalName: doc.OriginalName,
		Summary:      *doc.Summary,
	})
}
