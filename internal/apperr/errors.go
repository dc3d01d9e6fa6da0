// Package apperr defines the error taxonomy used across the extraction pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap them with %w and test with errors.Is.
var (
	// ErrUnreadableDocument means the source could not be opened as a paginated document.
	ErrUnreadableDocument = errors.New("unreadable document")
	// ErrPageRender means a single page could not be rasterized.
	ErrPageRender = errors.New("page render failed")
	// ErrRecognition means the OCR engine failed on a page.
	ErrRecognition = errors.New("recognition failed")
	// ErrAdmissionRejected means the orchestrator had no capacity for the job.
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrTimedOut          = errors.New("timed out")
	ErrCancelled         = errors.New("cancelled")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrShuttingDown      = errors.New("shutting down")
)

// Error codes carried by AppError.
const (
	CodeUnreadable = "UNREADABLE_DOCUMENT"
	CodeAdmission  = "ADMISSION_REJECTED"
	CodeNotFound   = "NOT_FOUND"
	CodeInvalid    = "INVALID_REQUEST"
	CodeInternal   = "INTERNAL"
)

// AppError is an error with a stable code for callers at the API boundary.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New builds an AppError.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Stage names used by PageError.
const (
	StageRender    = "render"
	StageRecognize = "recognize"
	StageLayout    = "layout"
)

// PageError scopes a failure to one page and pipeline stage.
type PageError struct {
	Page  int
	Stage string
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %s: %v", e.Page, e.Stage, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// NewRenderError wraps err as a PageRenderError for the page.
func NewRenderError(page int, err error) error {
	return &PageError{Page: page, Stage: StageRender, Err: fmt.Errorf("%w: %w", ErrPageRender, err)}
}

// NewRecognitionError wraps err as a RecognitionError for the page.
func NewRecognitionError(page int, err error) error {
	return &PageError{Page: page, Stage: StageRecognize, Err: fmt.Errorf("%w: %w", ErrRecognition, err)}
}

// Code maps an error onto an AppError code.
func Code(err error) string {
	var ae *AppError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ae):
		return ae.Code
	case errors.Is(err, ErrUnreadableDocument):
		return CodeUnreadable
	case errors.Is(err, ErrAdmissionRejected), errors.Is(err, ErrShuttingDown):
		return CodeAdmission
	case errors.Is(err, ErrJobNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalid
	default:
		return CodeInternal
	}
}
