package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrS3Unavailable is returned when an s3:// reference is used without a
// configured object store.
var ErrS3Unavailable = errors.New("s3 storage not configured")

// ErrTooLarge is returned when a fetched document exceeds the size limit.
var ErrTooLarge = errors.New("document exceeds size limit")

// HTTPStatusError is a non-200 response while fetching an input.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: http %d", e.URL, e.StatusCode)
}

// Fetcher resolves input references into bytes. Supported forms:
//   - file://path or plain filesystem paths
//   - http(s):// URLs
//   - s3://bucket/key
type Fetcher struct {
	S3       ObjectStore
	HTTP     *http.Client
	MaxBytes int64
}

// Fetch reads the document named by ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}

	switch {
	case strings.HasPrefix(ref, "s3://"):
		obj, err := ParseS3URL(ref)
		if err != nil {
			return nil, err
		}
		if f.S3 == nil {
			return nil, ErrS3Unavailable
		}
		data, err := f.S3.Download(ctx, obj)
		if err != nil {
			return nil, err
		}
		return f.limit(data)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	default:
		path := strings.TrimPrefix(ref, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return f.limit(data)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return f.limit(data)
}

func (f *Fetcher) limit(data []byte) ([]byte, error) {
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.MaxBytes)
	}
	return data, nil
}

// ResultFileName is the local file name of a finished job.
func ResultFileName(jobID string) string { return jobID + "_unbooklet.pdf" }

// SaveResultLocal stores data under dir and returns the file path.
func SaveResultLocal(dir, jobID string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, ResultFileName(jobID))
	if err := WriteFileAtomic(p, data); err != nil {
		return "", err
	}
	return p, nil
}

// SaveUploadLocal copies r into dir as <jobID>.pdf, reading at most limit
// bytes when limit > 0.
func SaveUploadLocal(dir, jobID string, r io.Reader, limit int64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return "", fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	p := filepath.Join(dir, jobID+".pdf")
	if err := WriteFileAtomic(p, data); err != nil {
		return "", err
	}
	return p, nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename result: %w", err)
	}
	return nil
}

// Results decides where finished documents go.
type Results struct {
	Dir    string
	S3     ObjectStore
	Bucket string
	Prefix string
}

// Save stores data for jobID and returns its location. An explicit
// outputRef (s3:// URL, file:// URL or path) wins; otherwise the result goes
// to the configured bucket, or to Dir when no bucket is set.
func (r *Results) Save(ctx context.Context, jobID string, data []byte, outputRef string) (string, error) {
	switch {
	case strings.HasPrefix(outputRef, "s3://"):
		obj, err := ParseS3URL(outputRef)
		if err != nil {
			return "", err
		}
		return r.upload(ctx, jobID, obj, data)
	case outputRef != "":
		path := strings.TrimPrefix(outputRef, "file://")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := WriteFileAtomic(path, data); err != nil {
			return "", err
		}
		return path, nil
	case r.Bucket != "" && r.S3 != nil:
		key := ResultFileName(jobID)
		if r.Prefix != "" {
			key = r.Prefix + "/" + key
		}
		return r.upload(ctx, jobID, ObjectRef{Bucket: r.Bucket, Key: key}, data)
	default:
		return SaveResultLocal(r.Dir, jobID, data)
	}
}

func (r *Results) upload(ctx context.Context, jobID string, obj ObjectRef, data []byte) (string, error) {
	if r.S3 == nil {
		return "", ErrS3Unavailable
	}
	meta := map[string]string{"job-id": jobID}
	if err := r.S3.Upload(ctx, obj, data, "application/pdf", meta); err != nil {
		return "", err
	}
	log.Info().Str("job_id", jobID).Str("location", obj.String()).Msg("result uploaded")
	return obj.String(), nil
}
