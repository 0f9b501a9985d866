package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("fetch user: %w", New(AuthExpired, "expired"))
	if KindOf(err) != AuthExpired {
		t.Fatalf("expected auth_expired, got %v", KindOf(err))
	}
	if !KindOf(err).IsAuth() {
		t.Fatalf("expected auth kind")
	}
}

func TestKindOf_Deadline(t *testing.T) {
	if KindOf(context.DeadlineExceeded) != Transient {
		t.Fatalf("expected transient")
	}
	if KindOf(errors.New("boom")) != Unknown {
		t.Fatalf("expected unknown")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(New(NotFound, "Chat not found")); got != "Chat not found" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(&Error{Kind: Transient}); got == "" {
		t.Fatalf("expected generic transient message")
	}
}
