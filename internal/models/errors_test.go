package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_WrapsKind(t *testing.T) {
	err := NewError("create_or_append", "doc1", Errorf(ErrDimensionMismatch, "got 3, want 4"))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatal("errors.Is should see the wrapped kind")
	}
	if got, want := err.Error(), "create_or_append [document=doc1]: dimension mismatch: got 3, want 4"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	var opErr *Error
	if !errors.As(fmt.Errorf("outer: %w", err), &opErr) || opErr.DocumentID != "doc1" {
		t.Errorf("errors.As failed: %+v", opErr)
	}
	if got := NewError("stats", "", ErrPersistence).Error(); got != "stats: persistence failure" {
		t.Errorf("Error() without document = %q", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrDimensionMismatch, "dimension_mismatch"},
		{Errorf(ErrInvalidArgument, "x"), "invalid_argument"},
		{NewError("op", "d", ErrNotFound), "not_found"},
		{fmt.Errorf("save: %w", ErrPersistence), "persistence_failure"},
		{ErrCorruptSnapshot, "corrupt_snapshot"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
