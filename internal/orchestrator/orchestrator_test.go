package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/local/debooklet/internal/pdftest"
	"github.com/local/debooklet/internal/queue"
	"github.com/local/debooklet/internal/statuscheck"
	"github.com/local/debooklet/internal/store"
)

type fakeQueue struct {
	mu        sync.Mutex
	jobs      []queue.Job
	cancelled []string
}

func (q *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) CancelJob(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	return nil
}

type fakeStatus struct {
	mu sync.Mutex
	m  map[string]store.Status
}

func (s *fakeStatus) Set(_ context.Context, id string, st store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = st
	return nil
}

func (s *fakeStatus) Get(_ context.Context, id string) (store.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	return st, ok, nil
}

type mapFetcher map[string][]byte

func (f mapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, ok := f[ref]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

type fakeHealth struct{ sum statuscheck.Summary }

func (h fakeHealth) Summary(context.Context) statuscheck.Summary { return h.sum }

type server struct {
	q      *fakeQueue
	status *fakeStatus
	docs   mapFetcher
	dir    string
	srv    *httptest.Server
}

func newServer(t *testing.T, cfg Config) *server {
	t.Helper()
	s := &server{
		q:      &fakeQueue{},
		status: &fakeStatus{m: map[string]store.Status{}},
		docs:   mapFetcher{},
		dir:    t.TempDir(),
	}
	cfg.UploadDir = s.dir
	o := New(cfg, Dependencies{
		Queue:   s.q,
		Status:  s.status,
		Fetcher: s.docs,
		Health:  fakeHealth{statuscheck.Summary{Redis: statuscheck.Status{OK: true, Message: "Connected"}}},
	})
	s.srv = httptest.NewServer(o.Router())
	t.Cleanup(s.srv.Close)
	return s
}

func (s *server) postJSON(t *testing.T, path string, body any, header http.Header) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *server) upload(t *testing.T, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	resp, err := http.Post(s.srv.URL+"/convert_upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestLayoutEndpoint(t *testing.T) {
	s := newServer(t, Config{})

	resp, err := http.Get(s.srv.URL + "/layout?pages=16")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	got := decode[layoutResp](t, resp)
	if got.TotalPages != 16 || len(got.Sheets) != 8 || len(got.Pages) != 16 {
		t.Fatalf("unexpected layout %+v", got)
	}
	if got.Sheets[0].Left != 16 || got.Sheets[0].Right != 1 {
		t.Errorf("sheet 0 = %+v", got.Sheets[0])
	}
	if p := got.Pages[0]; p.Page != 1 || p.SheetIndex != 0 || !p.RightSide || p.Side != "right" {
		t.Errorf("page 1 = %+v", p)
	}

	for q, want := range map[string]int{"6": http.StatusUnprocessableEntity, "0": http.StatusUnprocessableEntity, "abc": http.StatusBadRequest} {
		resp, err := http.Get(s.srv.URL + "/layout?pages=" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("pages=%s: status %d, want %d", q, resp.StatusCode, want)
		}
	}
}

func TestConvertSubmitAndProgress(t *testing.T) {
	s := newServer(t, Config{})
	s.docs["s3://in/booklet.pdf"] = pdftest.Booklet(pdftest.Options{Sheets: 4})

	resp := s.postJSON(t, "/convert", map[string]string{"file_url": "s3://in/booklet.pdf", "output_url": "s3://out/x.pdf"}, nil)
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	created := decode[convertResp](t, resp)
	if created.JobID == "" {
		t.Fatal("missing job id")
	}

	if len(s.q.jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(s.q.jobs))
	}
	job := s.q.jobs[0]
	if job.ID != created.JobID || job.Sheets != 4 || job.Attempt != 1 || job.OutputRef != "s3://out/x.pdf" || job.Source != "api" {
		t.Errorf("unexpected job %+v", job)
	}

	pr, err := http.Get(s.srv.URL + "/progress/" + created.JobID)
	if err != nil {
		t.Fatal(err)
	}
	defer pr.Body.Close()
	progress := decode[map[string]any](t, pr)
	if progress["status"] != store.StateQueued {
		t.Errorf("unexpected progress %v", progress)
	}

	missing, err := http.Get(s.srv.URL + "/progress/nope")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job: status %d", missing.StatusCode)
	}
}

func TestConvertRejectsBadInputs(t *testing.T) {
	s := newServer(t, Config{})
	s.docs["odd.pdf"] = pdftest.Booklet(pdftest.Options{Sheets: 3})
	s.docs["notes.pdf"] = []byte("just some text, not a pdf")

	tests := []struct {
		body map[string]string
		want int
	}{
		{map[string]string{}, http.StatusBadRequest},
		{map[string]string{"file_url": "odd.pdf"}, http.StatusUnprocessableEntity},
		{map[string]string{"file_url": "notes.pdf"}, http.StatusUnsupportedMediaType},
		{map[string]string{"file_url": "missing.pdf"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		resp := s.postJSON(t, "/convert", tt.body, nil)
		if resp.StatusCode != tt.want {
			t.Errorf("%v: status %d, want %d", tt.body, resp.StatusCode, tt.want)
		}
	}
	if len(s.q.jobs) != 0 {
		t.Errorf("rejected inputs must not be queued, got %d jobs", len(s.q.jobs))
	}
}

func TestConvertUpload(t *testing.T) {
	s := newServer(t, Config{MaxUploadBytes: 1 << 20})

	resp := s.upload(t, "notes.pdf", []byte("plain text"))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("non-PDF upload: status %d", resp.StatusCode)
	}
	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d files", len(entries))
	}

	resp = s.upload(t, "booklet.pdf", pdftest.Booklet(pdftest.Options{Sheets: 2}))
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	created := decode[convertResp](t, resp)
	if len(s.q.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(s.q.jobs))
	}
	want := "file://" + filepath.Join(s.dir, created.JobID+".pdf")
	if job := s.q.jobs[0]; job.InputRef != want || job.Source != "upload" || job.Sheets != 2 {
		t.Errorf("unexpected job %+v, want input %s", job, want)
	}
}

func TestDownloadAndPreview(t *testing.T) {
	s := newServer(t, Config{})
	result := filepath.Join(s.dir, "done_unbooklet.pdf")
	data := pdftest.Booklet(pdftest.Options{Sheets: 2, Width: 400, Height: 300})
	if err := os.WriteFile(result, data, 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	s.status.m["done"] = store.Status{Status: store.StateSuccess, Progress: 100, End: &now,
		Metadata: map[string]any{"result_local_path": result, "result_location": result}}
	s.status.m["busy"] = store.Status{Status: store.StateProcessing}
	s.status.m["remote"] = store.Status{Status: store.StateSuccess,
		Metadata: map[string]any{"result_location": "s3://out/remote_unbooklet.pdf"}}

	resp, err := http.Get(s.srv.URL + "/download/done")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, data) {
		t.Fatalf("download: status %d, %d bytes", resp.StatusCode, len(body))
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "done_unbooklet.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	for id, want := range map[string]int{"busy": http.StatusAccepted, "remote": http.StatusConflict, "nope": http.StatusNotFound} {
		resp, err := http.Get(s.srv.URL + "/download/" + id)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("download %s: status %d, want %d", id, resp.StatusCode, want)
		}
	}

	resp, err = http.Get(s.srv.URL + "/preview/done?page=2")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("preview: status %d, type %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(s.srv.URL + "/preview/done?page=9")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("preview out of range: status %d", resp.StatusCode)
	}
}

func TestCancel(t *testing.T) {
	s := newServer(t, Config{})
	s.status.m["q"] = store.Status{Status: store.StateQueued}
	s.status.m["done"] = store.Status{Status: store.StateSuccess}

	resp := s.postJSON(t, "/cancel", cancelReq{JobID: "q", Reason: "user request"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if st := s.status.m["q"]; st.Status != store.StateCancelled || st.Message != "Cancelled: user request" || st.End == nil {
		t.Errorf("unexpected status %+v", st)
	}
	if len(s.q.cancelled) != 1 || s.q.cancelled[0] != "q" {
		t.Errorf("queue not notified: %v", s.q.cancelled)
	}

	if resp := s.postJSON(t, "/cancel", cancelReq{JobID: "done"}, nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel finished job: status %d", resp.StatusCode)
	}
	if resp := s.postJSON(t, "/cancel", cancelReq{}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("cancel without id: status %d", resp.StatusCode)
	}
}

func TestTokenAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s := newServer(t, Config{APITokenHash: string(hash)})
	s.docs["b.pdf"] = pdftest.Booklet(pdftest.Options{Sheets: 2})
	body := map[string]string{"file_url": "b.pdf"}

	if resp := s.postJSON(t, "/convert", body, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d", resp.StatusCode)
	}
	if resp := s.postJSON(t, "/convert", body, http.Header{"Authorization": {"Bearer wrong"}}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d", resp.StatusCode)
	}
	if resp := s.postJSON(t, "/convert", body, http.Header{"Authorization": {"Bearer s3cret"}}); resp.StatusCode != http.StatusCreated {
		t.Errorf("valid token: status %d", resp.StatusCode)
	}

	// read-only routes stay open
	resp, err := http.Get(s.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newServer(t, Config{})
	resp, err := http.Get(s.srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	sum := decode[statuscheck.Summary](t, resp)
	if !sum.Redis.OK {
		t.Errorf("unexpected summary %+v", sum)
	}
}
