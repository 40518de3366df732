package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestDocumentErrorUnwrap(t *testing.T) {
	err := Malformed("doc1", 2, 7, "expected 2 fields, got %d", 1)
	if !errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument, got %v", err)
	}
	want := "malformed document: document doc1 ngram2 line 7: expected 2 fields, got 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var docErr *DocumentError
	wrapped := fmt.Errorf("counting: %w", Missing("doc2", 3, "/x/doc2-ngram3.txt"))
	if !errors.As(wrapped, &docErr) {
		t.Fatal("expected errors.As to find DocumentError")
	}
	if docErr.DocumentID != "doc2" || docErr.Length != 3 {
		t.Errorf("unexpected document error %+v", docErr)
	}
	if !errors.Is(wrapped, ErrMissingDocument) {
		t.Error("expected ErrMissingDocument")
	}
}

func TestDictionaryErrorMatchesBoth(t *testing.T) {
	err := &DictionaryError{Perspective: "cultural", Path: "/nope", Err: fs.ErrNotExist}
	if !errors.Is(err, ErrDictionaryLoad) {
		t.Error("expected ErrDictionaryLoad")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected underlying fs.ErrNotExist")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"shard", &ShardError{Index: 4, Total: 3}, ExitUsage},
		{"config", Invalidf("lengths must not be empty"), ExitUsage},
		{"dictionary", &DictionaryError{Perspective: "p", Path: "x", Err: fs.ErrNotExist}, ExitDictionary},
		{"merge", fmt.Errorf("merge: %w", ErrIncompleteShardSet), ExitMerge},
		{"locked", ErrMergeLocked, ExitMerge},
		{"other", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(Malformed("d", 1, 1, "x")) {
		t.Error("malformed should be recoverable")
	}
	if IsRecoverable(&ShardError{Index: 0, Total: 1}) {
		t.Error("invalid shard must be fatal")
	}
}
