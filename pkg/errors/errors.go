// Package errors defines the error taxonomy shared by the counting pipeline:
// sentinels for every failure class, typed wrappers that carry the document or
// shard they concern, and the mapping from fatal errors to process exit codes.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrDictionaryLoad      = errors.New("dictionary load failed")
	ErrInvalidShard        = errors.New("invalid shard")
	ErrMalformedDocument   = errors.New("malformed document")
	ErrMissingDocument     = errors.New("missing document")
	ErrJoinKeyMismatch     = errors.New("join key mismatch")
	ErrIncompleteShardSet  = errors.New("incomplete shard set")
	ErrMergeLocked         = errors.New("merge already taken")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnsupportedNgramLen = errors.New("unsupported n-gram length")
)

// Exit codes returned by the CLI for fatal errors.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitDictionary = 3
	ExitMerge      = 4
)

// DocumentError attributes a recoverable failure to one document and n-gram
// length. Line is 0 when the failure is not tied to a line.
type DocumentError struct {
	DocumentID string
	Length     int
	Line       int
	Err        error
	Detail     string
}

func (e *DocumentError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: document %s ngram%d line %d: %s", e.Err.Error(), e.DocumentID, e.Length, e.Line, e.Detail)
	}
	return fmt.Sprintf("%s: document %s ngram%d: %s", e.Err.Error(), e.DocumentID, e.Length, e.Detail)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// Malformed builds a DocumentError wrapping ErrMalformedDocument.
func Malformed(docID string, length, line int, format string, args ...any) *DocumentError {
	return &DocumentError{
		DocumentID: docID,
		Length:     length,
		Line:       line,
		Err:        ErrMalformedDocument,
		Detail:     fmt.Sprintf(format, args...),
	}
}

// Missing builds a DocumentError wrapping ErrMissingDocument.
func Missing(docID string, length int, path string) *DocumentError {
	return &DocumentError{
		DocumentID: docID,
		Length:     length,
		Err:        ErrMissingDocument,
		Detail:     fmt.Sprintf("frequency file %s not found", path),
	}
}

// ShardError reports an invalid shard selection.
type ShardError struct {
	Index int
	Total int
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("%s: shard %d of %d (index must be in 1..total, total >= 1)", ErrInvalidShard.Error(), e.Index, e.Total)
}

func (e *ShardError) Unwrap() error {
	return ErrInvalidShard
}

// DictionaryError reports a dictionary that could not be loaded.
type DictionaryError struct {
	Perspective string
	Path        string
	Err         error
}

func (e *DictionaryError) Error() string {
	return fmt.Sprintf("%s: perspective %q from %s: %v", ErrDictionaryLoad.Error(), e.Perspective, e.Path, e.Err)
}

func (e *DictionaryError) Unwrap() []error {
	return []error{ErrDictionaryLoad, e.Err}
}

// Invalidf wraps ErrInvalidConfig with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// IsRecoverable reports whether err is a per-document or per-row failure
// that is logged and skipped rather than aborting the run.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMalformedDocument) ||
		errors.Is(err, ErrMissingDocument) ||
		errors.Is(err, ErrJoinKeyMismatch)
}

// ExitCode maps a fatal error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidShard), errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnsupportedNgramLen):
		return ExitUsage
	case errors.Is(err, ErrDictionaryLoad):
		return ExitDictionary
	case errors.Is(err, ErrIncompleteShardSet), errors.Is(err, ErrMergeLocked):
		return ExitMerge
	default:
		return ExitFailure
	}
}
