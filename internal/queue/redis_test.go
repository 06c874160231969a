package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeJob(t *testing.T) {
	job := Job{ID: "abc", InputRef: "s3://in/b.pdf", Sheets: 8, Attempt: 2, SubmittedAt: time.Unix(1700000000, 0).UTC()}
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range []any{string(raw), raw} {
		got, err := decodeJob(v)
		if err != nil {
			t.Fatalf("decode %T: %v", v, err)
		}
		if got.ID != "abc" || got.InputRef != job.InputRef || got.Sheets != 8 || got.Attempt != 2 || !got.SubmittedAt.Equal(job.SubmittedAt) {
			t.Errorf("unexpected job %+v", got)
		}
	}

	if _, err := decodeJob(nil); err == nil {
		t.Error("expected error for missing data")
	}
	if _, err := decodeJob("{not json"); err == nil {
		t.Error("expected error for malformed data")
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := (Job{ID: "42"}).IdempotencyKey(); got != "job:42" {
		t.Errorf("got %q", got)
	}
}

func TestIsBusyGroupErr(t *testing.T) {
	if !isBusyGroupErr(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("expected BUSYGROUP to be recognized")
	}
	if isBusyGroupErr(errors.New("ERR wrong type")) || isBusyGroupErr(nil) {
		t.Error("unexpected match")
	}
}
