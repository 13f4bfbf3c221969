package chi

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/domain"
	"github.com/lumora-cloud/ragserve/internal/repository/history"
	healthuc "github.com/lumora-cloud/ragserve/internal/usecase/health"
)

type mockAnswerer struct {
	answer          string
	err             error
	lastQuery       string
	lastMemory      string
	invalidateCalls int
}

func (m *mockAnswerer) Answer(_ context.Context, query, chatMemory string) (string, error) {
	m.lastQuery = query
	m.lastMemory = chatMemory
	return m.answer, m.err
}

func (m *mockAnswerer) Invalidate() { m.invalidateCalls++ }

type mockIngestor struct {
	doc      domain.Document
	err      error
	pdfCalls int
	txtCalls int
	lastText string
	lastName string
}

func (m *mockIngestor) IngestPDF(_ context.Context, title string, _ io.ReaderAt, _ int64) (domain.Document, error) {
	m.pdfCalls++
	m.lastName = title
	return m.doc, m.err
}

func (m *mockIngestor) IngestText(_ context.Context, title, text string) (domain.Document, error) {
	m.txtCalls++
	m.lastName = title
	m.lastText = text
	return m.doc, m.err
}

type mockDocReader struct {
	docs      []domain.Document
	listErr   error
	deleteErr error
	deletedID string
}

func (m *mockDocReader) ListDocuments(_ context.Context) ([]domain.Document, error) {
	return m.docs, m.listErr
}

func (m *mockDocReader) DeleteDocument(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedID = id
	return nil
}

type mockHistory struct {
	turns      []history.Turn
	recentErr  error
	appendErr  error
	lastTurn   history.Turn
	appendedTo string
}

func (m *mockHistory) Recent(_ context.Context, _ string) ([]history.Turn, error) {
	return m.turns, m.recentErr
}

func (m *mockHistory) Append(_ context.Context, sessionID string, turn history.Turn) error {
	m.appendedTo = sessionID
	m.lastTurn = turn
	return m.appendErr
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(_ context.Context) healthuc.Report { return m.report }

type serverDeps struct {
	answers *mockAnswerer
	ingest  *mockIngestor
	docs    *mockDocReader
	history *mockHistory
	health  *mockHealth
}

func defaultServerDeps() *serverDeps {
	return &serverDeps{
		answers: &mockAnswerer{answer: "Cats are mammals."},
		ingest: &mockIngestor{doc: domain.Document{
			ID:         "doc-1",
			Title:      "notes.txt",
			Fragments:  3,
			UploadedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		}},
		docs:    &mockDocReader{},
		history: &mockHistory{},
		health: &mockHealth{report: healthuc.Report{
			Status: healthuc.Healthy,
			Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckOK},
		}},
	}
}

func newTestRouter(t *testing.T, deps *serverDeps) http.Handler {
	t.Helper()
	srv := NewServer(deps.answers, deps.ingest, deps.docs, deps.history, deps.health,
		Options{}, zap.NewNop())
	r := chirouter.NewRouter()
	srv.Register(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// multipartUpload builds a multipart body with one "file" part.
func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}
