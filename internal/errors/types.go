package errors

import (
	"errors"
	"fmt"
	"time"
)

// AnnotationError represents an error raised by the annotation pipeline with enough
// context for the caller to decide whether to surface, retry or ignore it
type AnnotationError struct {
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	Context     string    `json:"context,omitempty"`
	DocumentID  string    `json:"document_id,omitempty"`
	Page        int       `json:"page,omitempty"`
	Field       string    `json:"field,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
	cause       error
}

// ErrorType represents the categories of annotation errors
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeInvalidZoom
	ErrorTypeGestureDiscarded
	ErrorTypeUnboundField
	ErrorTypeUnparseableDate
	ErrorTypeDocumentLoadFailure
	ErrorTypePersistenceWriteFailure
	ErrorTypeInvalidArgument
	ErrorTypeNotFound
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Sentinel values for errors.Is. Matching is done on the error type only.
var (
	ErrInvalidZoom      = &AnnotationError{Type: ErrorTypeInvalidZoom}
	ErrGestureDiscarded = &AnnotationError{Type: ErrorTypeGestureDiscarded}
	ErrUnboundField     = &AnnotationError{Type: ErrorTypeUnboundField}
	ErrUnparseableDate  = &AnnotationError{Type: ErrorTypeUnparseableDate}
	ErrDocumentLoad     = &AnnotationError{Type: ErrorTypeDocumentLoadFailure}
	ErrPersistenceWrite = &AnnotationError{Type: ErrorTypePersistenceWriteFailure}
	ErrInvalidArgument  = &AnnotationError{Type: ErrorTypeInvalidArgument}
	ErrNotFound         = &AnnotationError{Type: ErrorTypeNotFound}
)

// Error implements the error interface
func (e *AnnotationError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type.String(), e.Message)
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.cause != nil && e.cause.Error() != e.Message {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any
func (e *AnnotationError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AnnotationError of the same type
func (e *AnnotationError) Is(target error) bool {
	var t *AnnotationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeInvalidZoom:
		return "INVALID_ZOOM"
	case ErrorTypeGestureDiscarded:
		return "GESTURE_DISCARDED"
	case ErrorTypeUnboundField:
		return "UNBOUND_FIELD"
	case ErrorTypeUnparseableDate:
		return "UNPARSEABLE_DATE"
	case ErrorTypeDocumentLoadFailure:
		return "DOCUMENT_LOAD_FAILURE"
	case ErrorTypePersistenceWriteFailure:
		return "PERSISTENCE_WRITE_FAILURE"
	case ErrorTypeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// GetSeverity returns the severity level for a given error type
func (et ErrorType) GetSeverity() ErrorSeverity {
	switch et {
	case ErrorTypeInvalidZoom, ErrorTypeGestureDiscarded:
		return SeverityInfo
	case ErrorTypeUnboundField, ErrorTypeUnparseableDate:
		return SeverityWarning
	case ErrorTypePersistenceWriteFailure, ErrorTypeInvalidArgument, ErrorTypeNotFound:
		return SeverityError
	case ErrorTypeDocumentLoadFailure:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// IsRecoverable determines if an error type leaves the session usable
func (et ErrorType) IsRecoverable() bool {
	switch et {
	case ErrorTypeInvalidZoom, ErrorTypeGestureDiscarded:
		return true // Clamped or ignored
	case ErrorTypeUnboundField:
		return true // Re-prompt
	case ErrorTypeUnparseableDate:
		return true // Raw text kept
	case ErrorTypePersistenceWriteFailure:
		return true // Retry from the pending buffer
	case ErrorTypeInvalidArgument, ErrorTypeNotFound:
		return true
	default:
		return false
	}
}

// IsBlocking reports whether the error must be shown to the user before
// anything else can proceed
func (et ErrorType) IsBlocking() bool {
	return et == ErrorTypeDocumentLoadFailure
}

// IsSilent reports whether the error is never surfaced to the user
func (et ErrorType) IsSilent() bool {
	return et == ErrorTypeGestureDiscarded
}

// New creates a new AnnotationError
func New(errorType ErrorType, message string) *AnnotationError {
	return &AnnotationError{
		Type:        errorType,
		Message:     message,
		Recoverable: errorType.IsRecoverable(),
		Timestamp:   time.Now(),
	}
}

// Newf creates a new AnnotationError with a formatted message
func Newf(errorType ErrorType, format string, args ...any) *AnnotationError {
	return New(errorType, fmt.Sprintf(format, args...))
}

// Wrap wraps err as an AnnotationError of the given type. The original error
// stays reachable through errors.Unwrap.
func Wrap(errorType ErrorType, message string, err error) *AnnotationError {
	e := New(errorType, message)
	e.cause = err
	return e
}

// WithContext adds context to an existing AnnotationError
func (e *AnnotationError) WithContext(context string) *AnnotationError {
	e.Context = context
	return e
}

// WithDocument adds the document identity
func (e *AnnotationError) WithDocument(documentID string) *AnnotationError {
	e.DocumentID = documentID
	return e
}

// WithPage adds the page index
func (e *AnnotationError) WithPage(page int) *AnnotationError {
	e.Page = page
	return e
}

// WithField adds the field name
func (e *AnnotationError) WithField(field string) *AnnotationError {
	e.Field = field
	return e
}

// GetSeverity returns the severity of this specific error
func (e *AnnotationError) GetSeverity() ErrorSeverity {
	return e.Type.GetSeverity()
}

// IsCritical returns true if this error is critical
func (e *AnnotationError) IsCritical() bool {
	return e.GetSeverity() == SeverityCritical
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown when err is not an
// AnnotationError
func TypeOf(err error) ErrorType {
	var ae *AnnotationError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ErrorTypeUnknown
}

// ErrorCollection gathers errors and warnings produced while handling one request
type ErrorCollection struct {
	Errors     []*AnnotationError `json:"errors"`
	Warnings   []*AnnotationError `json:"warnings"`
	DocumentID string             `json:"document_id,omitempty"`
}

// NewErrorCollection creates a new error collection
func NewErrorCollection(documentID string) *ErrorCollection {
	return &ErrorCollection{
		Errors:     make([]*AnnotationError, 0),
		Warnings:   make([]*AnnotationError, 0),
		DocumentID: documentID,
	}
}

// Add adds an error to the appropriate collection based on severity.
// Silent errors are dropped.
func (ec *ErrorCollection) Add(err *AnnotationError) {
	if err == nil || err.Type.IsSilent() {
		return
	}
	if err.DocumentID == "" && ec.DocumentID != "" {
		err.DocumentID = ec.DocumentID
	}

	severity := err.GetSeverity()
	if severity == SeverityWarning || severity == SeverityInfo {
		ec.Warnings = append(ec.Warnings, err)
	} else {
		ec.Errors = append(ec.Errors, err)
	}
}

// AddError adds err when it is an AnnotationError, otherwise wraps it as unknown
func (ec *ErrorCollection) AddError(err error) {
	if err == nil {
		return
	}
	var ae *AnnotationError
	if errors.As(err, &ae) {
		ec.Add(ae)
		return
	}
	ec.Add(Wrap(ErrorTypeUnknown, err.Error(), err))
}

// HasCriticalErrors returns true if any critical errors exist
func (ec *ErrorCollection) HasCriticalErrors() bool {
	for _, err := range ec.Errors {
		if err.IsCritical() {
			return true
		}
	}
	return false
}

// Count returns the total number of errors and warnings
func (ec *ErrorCollection) Count() (errors, warnings int) {
	return len(ec.Errors), len(ec.Warnings)
}

// Summary returns a text summary of all errors and warnings
func (ec *ErrorCollection) Summary() string {
	errorCount, warningCount := ec.Count()
	if errorCount == 0 && warningCount == 0 {
		return "No errors or warnings"
	}

	summary := fmt.Sprintf("Found %d error(s) and %d warning(s)", errorCount, warningCount)

	if ec.HasCriticalErrors() {
		summary += " (including critical errors)"
	}

	return summary
}
