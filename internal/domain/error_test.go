//go:build !integration

package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindStatusCodes(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{KindValidation, 400},
		{KindUnauthorized, 401},
		{KindForbidden, 403},
		{KindNotFound, 404},
		{KindRateLimited, 429},
		{KindProvider, 502},
		{KindInternal, 500},
		{ErrorKind("unknown"), 500},
	}
	for _, tt := range tests {
		if got := tt.kind.StatusCode(); got != tt.want {
			t.Errorf("%s.StatusCode() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	if !Retryable(E(KindProvider, "boom")) {
		t.Error("provider errors must be retryable")
	}
	if !Retryable(errors.New("unclassified")) {
		t.Error("unclassified errors default to internal, which is retryable")
	}
	for _, k := range []ErrorKind{KindValidation, KindNotFound, KindUnauthorized, KindForbidden, KindRateLimited} {
		if Retryable(E(k, "x")) {
			t.Errorf("%s must fail fast", k)
		}
	}
	if Retryable(nil) {
		t.Error("nil error is never retryable")
	}
}

func TestKindOfSentinels(t *testing.T) {
	if got := KindOf(fmt.Errorf("load job: %w", ErrNotFound)); got != KindNotFound {
		t.Errorf("wrapped ErrNotFound classified as %s", got)
	}
	if got := KindOf(ErrInvalidArgument); got != KindValidation {
		t.Errorf("ErrInvalidArgument classified as %s", got)
	}
	if got := KindOf(ErrCircuitOpen); got != KindProvider {
		t.Errorf("ErrCircuitOpen classified as %s", got)
	}
}

func TestUserMessageNeverLeaksInternals(t *testing.T) {
	err := Wrap(KindInternal, "", errors.New("pq: duplicate key value violates unique constraint"))
	if msg := UserMessage(err); msg != KindInternal.DefaultMessage() {
		t.Errorf("internal error leaked detail: %q", msg)
	}
	verr := E(KindValidation, "message exceeds 4000 characters")
	if msg := UserMessage(verr); msg != "message exceeds 4000 characters" {
		t.Errorf("validation detail lost: %q", msg)
	}
}
