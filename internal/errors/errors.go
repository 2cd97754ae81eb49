package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents a category of backup/restore failure
type Kind string

const (
	// KindValidation represents rejected input or an invalid archive
	KindValidation Kind = "validation"
	// KindInvalidName represents a caller-supplied filename that failed the safety contract
	KindInvalidName Kind = "invalid_name"
	// KindNotFound represents a missing archive
	KindNotFound Kind = "not_found"
	// KindExtract represents a corrupt or unreadable archive container
	KindExtract Kind = "extract"
	// KindDump represents a failed database export
	KindDump Kind = "dump"
	// KindWipe represents a failure while dropping schema objects
	KindWipe Kind = "wipe"
	// KindRestore represents a failed import of a dump
	KindRestore Kind = "restore"
	// KindRollback represents a failed rollback; the system needs manual attention
	KindRollback Kind = "rollback"
	// KindCleanup represents stray temporary directories
	KindCleanup Kind = "cleanup"
	// KindBusy represents a rejected request because another operation holds the lock
	KindBusy Kind = "busy"
	// KindStorage represents local or remote storage failures
	KindStorage Kind = "storage"
	// KindConfig represents configuration errors
	KindConfig Kind = "config"
	// KindUnknown represents unclassified errors
	KindUnknown Kind = "unknown"
)

// Sentinels for errors.Is matching against a kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrInvalidName = &Error{Kind: KindInvalidName}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrExtract     = &Error{Kind: KindExtract}
	ErrDump        = &Error{Kind: KindDump}
	ErrWipe        = &Error{Kind: KindWipe}
	ErrRestore     = &Error{Kind: KindRestore}
	ErrRollback    = &Error{Kind: KindRollback}
	ErrCleanup     = &Error{Kind: KindCleanup}
	ErrBusy        = &Error{Kind: KindBusy}
	ErrStorage     = &Error{Kind: KindStorage}
	ErrConfig      = &Error{Kind: KindConfig}
)

// Error is the error type shared by every backup/restore component
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
	Context map[string]interface{}

	// ExitCode and Stderr are set for failures of external tools.
	ExitCode int
	Stderr   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Op == "" && t.Cause == nil && t.Kind == e.Kind
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOp records the operation that failed
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// New creates a new Error of the given kind
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func Validation(message string, cause error) *Error {
	return New(KindValidation, message, cause)
}

func InvalidName(name, reason string) *Error {
	return New(KindInvalidName, fmt.Sprintf("invalid archive name %q: %s", name, reason), nil).
		WithContext("name", name)
}

func NotFound(name string) *Error {
	return New(KindNotFound, fmt.Sprintf("archive %q not found", name), nil).
		WithContext("name", name)
}

func Extract(message string, cause error) *Error {
	return New(KindExtract, message, cause)
}

// Dump reports a failed export; exitCode and stderr come from the dump tool
func Dump(message string, exitCode int, stderr string, cause error) *Error {
	e := New(KindDump, message, cause)
	e.ExitCode = exitCode
	e.Stderr = stderr
	return e
}

func Wipe(message string, cause error) *Error {
	return New(KindWipe, message, cause)
}

// RestoreFailed reports a failed import; exitCode and stderr come from the client tool
func RestoreFailed(message string, exitCode int, stderr string, cause error) *Error {
	e := New(KindRestore, message, cause)
	e.ExitCode = exitCode
	e.Stderr = stderr
	return e
}

func Cleanup(message string, cause error) *Error {
	return New(KindCleanup, message, cause)
}

// Busy reports that holder currently owns the single-flight lock
func Busy(holder string) *Error {
	return New(KindBusy, fmt.Sprintf("another operation is in progress: %s", holder), nil).
		WithContext("holder", holder)
}

func Storage(message string, cause error) *Error {
	return New(KindStorage, message, cause)
}

func Config(message string, cause error) *Error {
	return New(KindConfig, message, cause)
}

// RollbackError is returned when a failed restore could not be rolled back.
// It never hides the original failure: both Original and Cause satisfy errors.Is.
type RollbackError struct {
	Original error
	Cause    error
	// SnapshotDir is the retained pre-restore snapshot, left for manual recovery.
	SnapshotDir string
}

// Rollback creates a RollbackError
func Rollback(original, cause error, snapshotDir string) *RollbackError {
	return &RollbackError{Original: original, Cause: cause, SnapshotDir: snapshotDir}
}

func (e *RollbackError) Error() string {
	msg := fmt.Sprintf("rollback: restore failed (%v) and rollback failed (%v)", e.Original, e.Cause)
	if e.SnapshotDir != "" {
		msg += fmt.Sprintf("; pre-restore snapshot kept at %s", e.SnapshotDir)
	}
	return msg
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Original, e.Cause}
}

func (e *RollbackError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t == ErrRollback
}

// KindOf returns the kind of err, or KindUnknown
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var rbErr *RollbackError
	if errors.As(err, &rbErr) {
		return KindRollback
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ValidationIssue describes a single validation failure
type ValidationIssue struct {
	Field   string      `json:"field" yaml:"field"`
	Message string      `json:"message" yaml:"message"`
	Value   interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

func (i ValidationIssue) Error() string {
	return fmt.Sprintf("validation error for '%s': %s", i.Field, i.Message)
}

// ValidationErrors is a collection of validation issues; empty means valid
type ValidationErrors []ValidationIssue

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add appends an issue
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationIssue{Field: field, Message: message, Value: value})
}

// HasErrors returns true if there are validation issues
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns nil when empty, otherwise a KindValidation error wrapping the collection
func (e ValidationErrors) Err(message string) error {
	if len(e) == 0 {
		return nil
	}
	return Validation(message, e)
}
