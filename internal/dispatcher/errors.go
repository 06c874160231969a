package dispatcher

import "fmt"

// StageError records which step of a job failed.
type StageError struct {
	JobID string
	Stage string // fetch, convert, store
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
