// Package chi implements the HTTP API: question answering, document
// management, health and metrics.
package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/domain"
	"github.com/lumora-cloud/ragserve/internal/repository/history"
	healthuc "github.com/lumora-cloud/ragserve/internal/usecase/health"
)

// Error codes returned in the JSON error body.
const (
	codeBadRequest        = "bad_request"
	codeValidationFailed  = "validation_failed"
	codeDocumentNotFound  = "document_not_found"
	codeUnsupportedFormat = "unsupported_format"
	codeEmptyDocument     = "empty_document"
	codeProviderError     = "provider_error"
	codeInternalError     = "internal_error"
)

// Answerer runs the question answering pipeline.
type Answerer interface {
	Answer(ctx context.Context, query, chatMemory string) (string, error)
	Invalidate()
}

// Ingestor turns uploads into stored documents.
type Ingestor interface {
	IngestPDF(ctx context.Context, title string, r io.ReaderAt, size int64) (domain.Document, error)
	IngestText(ctx context.Context, title, text string) (domain.Document, error)
}

// DocumentReader lists and deletes stored documents.
type DocumentReader interface {
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// HistoryStore keeps per-session chat turns.
type HistoryStore interface {
	Recent(ctx context.Context, sessionID string) ([]history.Turn, error)
	Append(ctx context.Context, sessionID string, turn history.Turn) error
}

// HealthService aggregates component health checks.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server implements the HTTP API handlers.
type Server struct {
	answers       Answerer
	ingest        Ingestor
	documents     DocumentReader
	history       HistoryStore
	health        HealthService
	logger        *zap.Logger
	maxUploadSize int64
	errorHandlers []errorHandler
}

// Options tunes the server.
type Options struct {
	MaxUploadMB int
}

// NewServer creates an HTTP API server. history can be nil when sessions are
// disabled.
func NewServer(
	answers Answerer,
	ingest Ingestor,
	documents DocumentReader,
	hist HistoryStore,
	health HealthService,
	opts Options,
	logger *zap.Logger,
) *Server {
	maxMB := opts.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 32
	}
	s := &Server{
		answers:       answers,
		ingest:        ingest,
		documents:     documents,
		history:       hist,
		health:        health,
		logger:        logger,
		maxUploadSize: int64(maxMB) << 20,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrUnsupportedFormat, http.StatusBadRequest, codeUnsupportedFormat),
		sentinelHandler(domain.ErrEmptyDocument, http.StatusBadRequest, codeEmptyDocument),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrGenerationProviderError, http.StatusBadGateway, codeProviderError),
	}
	return s
}

// Register mounts the API routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/ask", s.Ask)
	r.Post("/documents", s.UploadDocument)
	r.Get("/documents", s.ListDocuments)
	r.Delete("/documents/{id}", s.DeleteDocument)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type askRequest struct {
	Query       string `json:"query"`
	SessionID   string `json:"session_id,omitempty"`
	ChatHistory string `json:"chat_history,omitempty"`
}

type askResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id,omitempty"`
}

// Ask handles POST /ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	chatMemory := s.chatMemory(r.Context(), req)

	answer, err := s.answers.Answer(r.Context(), req.Query, chatMemory)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	s.recordTurn(r.Context(), req.SessionID, req.Query, answer)

	writeJSON(w, http.StatusOK, askResponse{Answer: answer, SessionID: req.SessionID})
}

// chatMemory combines stored session history with history the client sent
// inline. Stored turns come first, oldest to newest.
func (s *Server) chatMemory(ctx context.Context, req askRequest) string {
	var parts []string

	if req.SessionID != "" && s.history != nil {
		turns, err := s.history.Recent(ctx, req.SessionID)
		if err != nil {
			// history is best effort, the question can still be answered
			s.logger.Warn("Failed to load chat history",
				zap.String("session_id", req.SessionID), zap.Error(err))
		} else if len(turns) > 0 {
			parts = append(parts, history.Render(turns))
		}
	}

	if req.ChatHistory != "" {
		parts = append(parts, req.ChatHistory)
	}

	return strings.Join(parts, "\n")
}

func (s *Server) recordTurn(ctx context.Context, sessionID, question, answer string) {
	if sessionID == "" || s.history == nil {
		return
	}
	if err := s.history.Append(ctx, sessionID, history.Turn{Question: question, Answer: answer}); err != nil {
		s.logger.Warn("Failed to record chat turn",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

type documentResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Fragments  int       `json:"fragments"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// UploadDocument handles POST /documents (multipart, field "file").
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid multipart body: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "failed to read upload")
		return
	}
	if int64(len(data)) > s.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, codeValidationFailed, "upload too large")
		return
	}

	title := header.Filename
	var doc domain.Document
	switch strings.ToLower(filepath.Ext(title)) {
	case ".pdf":
		doc, err = s.ingest.IngestPDF(r.Context(), title, bytes.NewReader(data), int64(len(data)))
	case ".txt", ".md", ".text":
		doc, err = s.ingest.IngestText(r.Context(), title, string(data))
	default:
		writeError(w, http.StatusBadRequest, codeUnsupportedFormat,
			"unsupported document format: only pdf and plain text are accepted")
		return
	}
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, documentToResponse(doc))
}

type documentListResponse struct {
	Items []documentResponse `json:"items"`
	Total int                `json:"total"`
}

// ListDocuments handles GET /documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.ListDocuments(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]documentResponse, len(docs))
	for i, d := range docs {
		items[i] = documentToResponse(d)
	}

	writeJSON(w, http.StatusOK, documentListResponse{Items: items, Total: len(items)})
}

// DeleteDocument handles DELETE /documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "document id is required")
		return
	}

	if err := s.documents.DeleteDocument(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}

	// the corpus changed under any cached snapshot
	s.answers.Invalidate()

	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func documentToResponse(d domain.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		Title:      d.Title,
		Fragments:  d.Fragments,
		UploadedAt: d.UploadedAt,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrUnsupportedFormat,
		domain.ErrEmptyDocument,
		domain.ErrVectorDimMismatch,
		domain.ErrEmbeddingProviderError,
		domain.ErrGenerationProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
