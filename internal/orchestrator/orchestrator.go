package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/local/debooklet/internal/filetype"
	"github.com/local/debooklet/internal/imagerender"
	"github.com/local/debooklet/internal/imposition"
	"github.com/local/debooklet/internal/metrics"
	"github.com/local/debooklet/internal/queue"
	"github.com/local/debooklet/internal/statuscheck"
	"github.com/local/debooklet/internal/storage"
	"github.com/local/debooklet/internal/store"
)

type Queue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	CancelJob(ctx context.Context, jobID string) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type HealthChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Fetcher Fetcher
	Health  HealthChecker
}

type Config struct {
	UploadDir      string
	MaxUploadBytes int64
	APITokenHash   string
	FetchTimeout   time.Duration
}

type Orchestrator struct {
	deps Dependencies
	cfg  Config
}

func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.UploadDir == "" {
		cfg.UploadDir = "data/uploads"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Router returns a router with all routes registered.
func (o *Orchestrator) Router() *mux.Router {
	r := mux.NewRouter()
	o.RegisterRoutes(r)
	return r
}

func (o *Orchestrator) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", o.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/layout", o.handleLayout).Methods(http.MethodGet)
	r.HandleFunc("/progress/{id}", o.handleProgress).Methods(http.MethodGet)

	r.Handle("/convert", o.requireToken(http.HandlerFunc(o.handleConvert))).Methods(http.MethodPost)
	r.Handle("/convert_upload", o.requireToken(http.HandlerFunc(o.handleConvertUpload))).Methods(http.MethodPost)
	r.Handle("/cancel", o.requireToken(http.HandlerFunc(o.handleCancel))).Methods(http.MethodPost)
	r.Handle("/download/{id}", o.requireToken(http.HandlerFunc(o.handleDownload))).Methods(http.MethodGet)
	r.Handle("/preview/{id}", o.requireToken(http.HandlerFunc(o.handlePreview))).Methods(http.MethodGet)
}

type convertReq struct {
	FileURL   string `json:"file_url"`
	FilePath  string `json:"file_path"`
	OutputURL string `json:"output_url"`
	Source    string `json:"source"`
}

type convertResp struct {
	Status   string         `json:"status"`
	JobID    string         `json:"job_id"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (o *Orchestrator) handleConvert(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req convertReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ref := req.FileURL
	if ref == "" {
		ref = req.FilePath
	}
	if ref == "" {
		http.Error(w, "missing file_url", http.StatusBadRequest)
		return
	}
	if o.deps.Fetcher == nil {
		http.Error(w, "fetcher not configured", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), o.cfg.FetchTimeout)
	data, err := o.deps.Fetcher.Fetch(ctx, ref)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("file", ref).Msg("input fetch failed")
		http.Error(w, "cannot read input: "+err.Error(), fetchStatus(err))
		return
	}

	sheets, err := inspectBooklet(data)
	if err != nil {
		http.Error(w, err.Error(), inspectStatus(err))
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	o.submit(w, r, queue.Job{InputRef: ref, OutputRef: req.OutputURL, Sheets: sheets, Source: source},
		map[string]any{"file_path": ref})
}

// handleConvertUpload accepts a multipart "file" field, stores it in the
// upload dir and queues it.
func (o *Orchestrator) handleConvertUpload(w http.ResponseWriter, r *http.Request) {
	if o.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, o.cfg.MaxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	jobID := uuid.NewString()
	localPath, err := storage.SaveUploadLocal(o.cfg.UploadDir, jobID, file, o.cfg.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		log.Error().Err(err).Msg("cannot save upload")
		http.Error(w, "cannot save upload", http.StatusInternalServerError)
		return
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		http.Error(w, "cannot read upload", http.StatusInternalServerError)
		return
	}
	sheets, err := inspectBooklet(data)
	if err != nil {
		_ = os.Remove(localPath)
		http.Error(w, err.Error(), inspectStatus(err))
		return
	}

	o.submit(w, r, queue.Job{ID: jobID, InputRef: "file://" + localPath, OutputRef: r.FormValue("output_url"), Sheets: sheets, Source: "upload"},
		map[string]any{"file_local": localPath})
}

func (o *Orchestrator) submit(w http.ResponseWriter, r *http.Request, job queue.Job, meta map[string]any) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Attempt = 1
	job.SubmittedAt = time.Now().UTC()

	pages := imposition.TotalPagesForSheets(job.Sheets)
	meta["source"] = job.Source
	meta["sheets"] = job.Sheets
	meta["total_pages"] = pages

	start := time.Now()
	_ = o.deps.Status.Set(r.Context(), job.ID, store.Status{Status: store.StateQueued, Message: "queued", Start: &start, Metadata: meta})
	if err := o.deps.Queue.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		end := time.Now()
		_ = o.deps.Status.Set(r.Context(), job.ID, store.Status{Status: store.StateFailed, Message: "queue unavailable", Start: &start, End: &end, Metadata: meta})
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("job_id", job.ID).Str("file", job.InputRef).Int("sheets", job.Sheets).Str("source", job.Source).Msg("job created")

	writeJSON(w, http.StatusCreated, convertResp{
		Status:   "ok",
		JobID:    job.ID,
		Message:  "Conversion job created",
		Metadata: map[string]any{"sheets": job.Sheets, "total_pages": pages},
	})
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	resp := map[string]any{
		"success":    st.Status == store.StateSuccess,
		"job_id":     id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	}
	if st.Status == store.StateSuccess {
		if _, local := st.Metadata["result_local_path"].(string); local {
			resp["download_url"] = "/download/" + id
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// resultPath resolves the local output of a finished job. It writes the
// error response itself and returns ok=false when there is nothing to serve.
func (o *Orchestrator) resultPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil || !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return "", false
	}
	if st.Status != store.StateSuccess {
		http.Error(w, "not ready", http.StatusAccepted)
		return "", false
	}
	p, _ := st.Metadata["result_local_path"].(string)
	if p == "" {
		loc, _ := st.Metadata["result_location"].(string)
		http.Error(w, "result stored remotely: "+loc, http.StatusConflict)
		return "", false
	}
	return p, true
}

func (o *Orchestrator) handleDownload(w http.ResponseWriter, r *http.Request) {
	p, ok := o.resultPath(w, r)
	if !ok {
		return
	}
	f, err := os.Open(p)
	if err != nil {
		http.Error(w, "failed to read", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "failed to read", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", filetype.PDF)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", storage.ResultFileName(mux.Vars(r)["id"])))
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func (o *Orchestrator) handlePreview(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = n
	}
	p, ok := o.resultPath(w, r)
	if !ok {
		return
	}
	res, err := imagerender.RenderFile(p, page, imagerender.DefaultOptions)
	if err != nil {
		if errors.Is(err, imagerender.ErrPageRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("file", p).Msg("preview render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(res.JPEG)
}

type layoutResp struct {
	TotalPages int                `json:"total_pages"`
	Sheets     []imposition.Sheet `json:"sheets"`
	Pages      []layoutPage       `json:"pages"`
}

type layoutPage struct {
	Page int `json:"page"`
	imposition.Position
	Side string `json:"side"`
}

func (o *Orchestrator) handleLayout(w http.ResponseWriter, r *http.Request) {
	total, err := strconv.Atoi(r.URL.Query().Get("pages"))
	if err != nil {
		http.Error(w, "pages must be an integer", http.StatusBadRequest)
		return
	}
	positions, err := imposition.Layout(total)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sheets, err := imposition.Sheets(total)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	resp := layoutResp{TotalPages: total, Sheets: sheets, Pages: make([]layoutPage, len(positions))}
	for i, pos := range positions {
		resp.Pages[i] = layoutPage{Page: i + 1, Position: pos, Side: pos.Side().String()}
	}
	writeJSON(w, http.StatusOK, resp)
}

type cancelReq struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

func (o *Orchestrator) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	st, ok, _ := o.deps.Status.Get(r.Context(), req.JobID)
	if ok && store.Terminal(st.Status) {
		http.Error(w, "job already "+st.Status, http.StatusConflict)
		return
	}
	if err := o.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	st.Status = store.StateCancelled
	st.Progress = 0
	if req.Reason != "" {
		st.Message = fmt.Sprintf("Cancelled: %s", req.Reason)
	} else {
		st.Message = "Cancelled"
	}
	now := time.Now()
	st.End = &now
	_ = o.deps.Status.Set(r.Context(), req.JobID, st)
	log.Info().Str("job_id", req.JobID).Str("reason", req.Reason).Msg("job cancelled")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": req.JobID, "status": store.StateCancelled})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if o.deps.Health == nil {
		http.Error(w, "status checks not configured", http.StatusServiceUnavailable)
		return
	}
	sum := o.deps.Health.Summary(r.Context())
	code := http.StatusOK
	if !sum.Redis.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func fetchStatus(err error) int {
	var httpErr *storage.HTTPStatusError
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrInvalidS3URL), errors.Is(err, storage.ErrS3Unavailable):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist), errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
		return http.StatusUnprocessableEntity
	case strings.Contains(strings.ToLower(err.Error()), "nosuchkey"):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func inspectStatus(err error) int {
	switch {
	case errors.Is(err, filetype.ErrNotPDF):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusUnprocessableEntity
	}
}
