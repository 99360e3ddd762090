package fetch

import (
	"errors"
	"fmt"

	"github.com/maltedev/search-spider/internal/models"
)

var (
	// ErrBlocked means the site answered with a captcha or robot check.
	ErrBlocked = errors.New("blocked by bot protection")
	// ErrStatus means the final attempt returned a non-2xx status.
	ErrStatus = errors.New("unexpected status code")
	// ErrBodyTooLarge means the response body exceeded MaxBodySize.
	ErrBodyTooLarge = errors.New("response body exceeds limit")
)

// Failure is the error returned for a request that could not be fetched.
type Failure struct {
	Request  models.RequestDescriptor
	Status   int
	Attempts int
	Cause    error
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempt(s) with status %d: %v",
			f.Request.URL(), f.Attempts, f.Status, f.Cause)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", f.Request.URL(), f.Attempts, f.Cause)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}
