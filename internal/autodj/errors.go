package autodj

import (
	"errors"
	"fmt"
)

var (
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrPreloadFailed     = errors.New("preload failed")
	ErrStaleTransaction  = errors.New("stale transaction")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTransactionActive = errors.New("transaction already active")
)

// PreloadFailedError reports a target deck that could not load the queued
// item. It matches ErrPreloadFailed under errors.Is.
type PreloadFailedError struct {
	Locator string
	Reason  string
}

func (e *PreloadFailedError) Error() string {
	return fmt.Sprintf("preload %s: %s", e.Locator, e.Reason)
}

func (e *PreloadFailedError) Is(target error) bool {
	return target == ErrPreloadFailed
}
