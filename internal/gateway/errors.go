package gateway

import (
	"errors"
	"fmt"
)

// ErrNotFound means the requested appointment or location does not exist in
// the scheduling system.
var ErrNotFound = errors.New("not found in scheduling system")

// UpstreamError carries a non-2xx upstream response (or a transport failure)
// so callers can pass the original status and body through. The interactive
// path never retries these; reconciliation closes any resulting gaps.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scheduling gateway: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("scheduling gateway: %s: status %d", e.Op, e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
