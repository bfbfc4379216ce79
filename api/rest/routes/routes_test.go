package routes

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"stem-splitter/api/rest/handlers"
	"stem-splitter/core/delivery"
	"stem-splitter/core/executor"
	"stem-splitter/core/models"
	"stem-splitter/core/monitoring"
	"stem-splitter/core/orchestrator"
	"stem-splitter/core/scheduler"
	"stem-splitter/core/workspace"
	"stem-splitter/notifications"
	"stem-splitter/storage"

	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"
)

// stemRunner stands in for demucs: it writes stems into the -o directory
type stemRunner struct {
	exitCode int
}

func (s *stemRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	if s.exitCode != 0 {
		return []byte("RuntimeError: CUDA out of memory"), s.exitCode, fmt.Errorf("exit status %d", s.exitCode)
	}
	outDir := args[3]
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, -1, err
	}
	for _, stem := range []string{"bass.wav", "drums.wav", "vocals.wav"} {
		if err := os.WriteFile(filepath.Join(outDir, stem), []byte(stem), 0o644); err != nil {
			return nil, -1, err
		}
	}
	return []byte("done"), 0, nil
}

type memoryMailer struct {
	mu   sync.Mutex
	sent []notifications.Message
}

func (m *memoryMailer) Send(ctx context.Context, msg notifications.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type testServer struct {
	router  *mux.Router
	sched   *scheduler.Scheduler
	mailer  *memoryMailer
	tracker *monitoring.JobTracker
}

func newTestServer(t *testing.T, runner executor.CommandRunner, withMail bool) *testServer {
	t.Helper()
	return newTestServerWithLimit(t, runner, withMail, 10<<20)
}

func newTestServerWithLimit(t *testing.T, runner executor.CommandRunner, withMail bool, maxUploadBytes int64) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	workspaces, err := workspace.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	invoker := executor.NewSeparationInvoker("demucs", map[models.ModelVariant]string{
		models.VariantGeneral:   "htdemucs_6s",
		models.VariantFineTuned: "htdemucs_ft",
	}, runner, logger)
	tracker := monitoring.NewJobTracker(nil, 0, logger)
	sched := scheduler.NewScheduler(1, logger)
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	mailer := &memoryMailer{}
	var email delivery.Strategy
	var emailErr error
	if withMail {
		email = delivery.NewEmail(mailer, "stems@example.com", "")
	} else {
		emailErr = fmt.Errorf("%w: MAIL_FROM is not set", models.ErrMailNotConfigured)
	}

	orch := orchestrator.New(workspaces, invoker, storage.NewArchivePackager(logger), tracker, sched,
		email, emailErr, orchestrator.Options{NotifyOnDeliveryFailure: true}, logger)

	docs, err := handlers.NewDocsHandler()
	if err != nil {
		t.Fatalf("NewDocsHandler() error = %v", err)
	}

	r := mux.NewRouter()
	SetupRoutes(r, Handlers{
		Separation: handlers.NewSeparationHandler(orch, maxUploadBytes, logger),
		Jobs:       handlers.NewJobHandler(tracker, nil, logger),
		Dashboard: handlers.NewDashboardHandler(tracker,
			monitoring.NewMetricsExporter(tracker, workspaces), workspaces, orch.MailAvailable),
		Docs: docs,
	})
	return &testServer{router: r, sched: sched, mailer: mailer, tracker: tracker}
}

func multipartRequest(t *testing.T, path string, fields map[string]string, withFile bool) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if withFile {
		fw, err := mw.CreateFormFile("file", "song.mp3")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write([]byte("ID3 fake audio"))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestSeparateReturnsZip(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)

	rec := s.do(multipartRequest(t, "/separate", nil, true))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("content type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "stems.zip") {
		t.Fatalf("content disposition = %q", got)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"bass.wav", "drums.wav", "vocals.wav"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("entries = %v, want %v", names, want)
	}
}

func TestSeparateIgnoresRangeHeader(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)

	req := multipartRequest(t, "/separate", nil, true)
	req.Header.Set("Range", "bytes=0-9")
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "" {
		t.Fatalf("content range = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != fmt.Sprint(rec.Body.Len()) {
		t.Fatalf("content length = %q, body is %d bytes", got, rec.Body.Len())
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("response is not a complete zip: %v", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("entries = %d, want 3", len(zr.File))
	}
}

func TestSeparateUploadTooLarge(t *testing.T) {
	s := newTestServerWithLimit(t, &stemRunner{}, false, 1<<10)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "song.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(bytes.Repeat([]byte{0x52}, 64<<10))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/separate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := s.do(req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (%s)", rec.Code, rec.Body.String())
	}
	if resp := decodeDetail(t, rec); !strings.Contains(resp.Detail, "1024") {
		t.Fatalf("detail = %q", resp.Detail)
	}
	if len(s.tracker.Snapshot()) != 0 {
		t.Fatal("rejected uploads must not create jobs")
	}
}

func TestSeparateMissingFile(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)

	rec := s.do(multipartRequest(t, "/separate", map[string]string{"model": "general"}, false))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "application/zip" {
		t.Fatal("no archive may be returned for a missing file")
	}
	if resp := decodeDetail(t, rec); resp.Detail != "file is required" {
		t.Fatalf("detail = %q", resp.Detail)
	}
}

func TestSeparateUnknownModel(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)

	rec := s.do(multipartRequest(t, "/separate", map[string]string{"model": "karaoke"}, true))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSeparateToolFailure(t *testing.T) {
	s := newTestServer(t, &stemRunner{exitCode: 1}, false)

	rec := s.do(multipartRequest(t, "/separate", nil, true))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeDetail(t, rec)
	if resp.Stage != string(models.StageSeparation) || resp.JobID == "" {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.Contains(resp.Detail, "CUDA out of memory") {
		t.Fatalf("detail should carry the tool diagnostics: %q", resp.Detail)
	}
}

func TestSeparateEmailAcknowledges(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, true)

	rec := s.do(multipartRequest(t, "/separate/email", map[string]string{"email": "user@example.com"}, true))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp handlers.SeparateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Detail != "Processing started. Results will be emailed to user@example.com." {
		t.Fatalf("detail = %q", resp.Detail)
	}

	s.sched.Stop()

	s.mailer.mu.Lock()
	sent := len(s.mailer.sent)
	s.mailer.mu.Unlock()
	if sent != 1 {
		t.Fatalf("sent %d mails, want 1", sent)
	}

	jobRec := s.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/"+resp.JobID, nil))
	if jobRec.Code != http.StatusOK {
		t.Fatalf("job status code = %d", jobRec.Code)
	}
	var job handlers.JobResponse
	if err := json.Unmarshal(jobRec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != string(models.JobStatusDelivered) || job.Mode != string(models.DeliveryAsynchronous) {
		t.Fatalf("job = %+v", job)
	}

	eventsRec := s.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/"+resp.JobID+"/events", nil))
	if eventsRec.Code != http.StatusOK || !strings.Contains(eventsRec.Body.String(), "acknowledged") {
		t.Fatalf("events = %d %s", eventsRec.Code, eventsRec.Body.String())
	}
}

func TestSeparateEmailValidation(t *testing.T) {
	tests := []struct {
		name     string
		withMail bool
		fields   map[string]string
		withFile bool
		want     int
	}{
		{"missing email", true, nil, true, http.StatusBadRequest},
		{"malformed email", true, map[string]string{"email": "not-an-address"}, true, http.StatusBadRequest},
		{"missing file", true, map[string]string{"email": "user@example.com"}, false, http.StatusBadRequest},
		{"mail unconfigured", false, map[string]string{"email": "user@example.com"}, true, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &stemRunner{}, tt.withMail)
			rec := s.do(multipartRequest(t, "/separate/email", tt.fields, tt.withFile))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if len(s.tracker.Snapshot()) != 0 {
				t.Fatal("rejected requests must not create jobs")
			}
		})
	}
}

func TestMailUnconfiguredDetail(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)
	rec := s.do(multipartRequest(t, "/separate/email", map[string]string{"email": "user@example.com"}, true))

	resp := decodeDetail(t, rec)
	if !strings.Contains(resp.Detail, "MAIL_FROM") {
		t.Fatalf("detail = %q", resp.Detail)
	}
}

func TestRootRedirectsToDocs(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/docs" {
		t.Fatalf("redirect = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	doc := s.do(httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	var parsed map[string]interface{}
	if err := json.Unmarshal(doc.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("openapi document is not JSON: %v", err)
	}
	paths, _ := parsed["paths"].(map[string]interface{})
	if _, ok := paths["/separate/email"]; !ok {
		t.Fatalf("paths = %v", paths)
	}
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)

	for _, path := range []string{"/v1/jobs/missing", "/v1/jobs/missing/events"} {
		if rec := s.do(httptest.NewRequest(http.MethodGet, path, nil)); rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &stemRunner{}, false)
	s.do(multipartRequest(t, "/separate", nil, true))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	var health handlers.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "OK" || health.Workspaces.Acquired != 1 || health.Workspaces.Released != 1 {
		t.Fatalf("health = %+v", health)
	}
	if health.Jobs["delivered"] != 1 {
		t.Fatalf("jobs = %v", health.Jobs)
	}

	metrics := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)).Body.String()
	if !strings.Contains(metrics, `stems_jobs{status="delivered"} 1`) {
		t.Fatalf("metrics = %s", metrics)
	}
}
