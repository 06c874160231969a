package dispatcher

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/local/debooklet/internal/convert"
	"github.com/local/debooklet/internal/storage"
)

// isFatalError reports errors that will fail the same way on every attempt.
// Such jobs go straight to the DLQ.
func isFatalError(err error) bool {
	if err == nil {
		return false
	}
	if convert.IsPermanent(err) {
		return true
	}
	if errors.Is(err, storage.ErrInvalidS3URL) ||
		errors.Is(err, storage.ErrS3Unavailable) ||
		errors.Is(err, storage.ErrTooLarge) ||
		errors.Is(err, fs.ErrNotExist) {
		return true
	}

	// HTTP 4xx errors (except 429)
	var httpErr *storage.HTTPStatusError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "nosuchkey") ||
		strings.Contains(errStr, "nosuchbucket") ||
		strings.Contains(errStr, "access denied")
}

// isTimeoutError checks if error is specifically a timeout
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}
