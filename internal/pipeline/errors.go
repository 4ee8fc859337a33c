package pipeline

import (
	"errors"
	"fmt"
)

// Terminal extraction errors. The messages are user facing and returned
// verbatim by the upload service.
var (
	ErrVideoOpen         = errors.New("Could not open video")
	ErrNoFramesExtracted = errors.New("No frames extracted")
	ErrModelsNotLoaded   = errors.New("Models not loaded")
)

// OutputWriteError reports a failed thumbnail write. Files listed in Written
// were persisted before the failure and are left in place.
type OutputWriteError struct {
	Path    string
	Written []string
	Err     error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("failed to write %s (%d thumbnails written): %v", e.Path, len(e.Written), e.Err)
}

func (e *OutputWriteError) Unwrap() error { return e.Err }
