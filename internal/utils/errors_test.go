package utils

import (
	"errors"
	"testing"
)

func TestWrapOp(t *testing.T) {
	if WrapOp("flush", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	base := errors.New("disk full")
	err := WrapOp("flush", base)
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error must unwrap to the cause")
	}
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Op != "flush" {
		t.Fatalf("expected an AppError for op flush, got %v", err)
	}
	if err.Error() != "flush: failed: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
