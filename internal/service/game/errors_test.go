package game

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatching(t *testing.T) {
	roomFull := NewError(KindPreconditionFailed, "room is full")
	alreadyJoined := NewError(KindPreconditionFailed, "already joined")

	if !errors.Is(roomFull, ErrPreconditionFailed) {
		t.Fatalf("kind sentinel should match")
	}

	if errors.Is(alreadyJoined, roomFull) {
		t.Fatalf("errors with messages should only match themselves")
	}

	wrapped := fmt.Errorf("join: %w", roomFull)
	if !errors.Is(wrapped, roomFull) || KindOf(wrapped) != KindPreconditionFailed {
		t.Fatalf("wrapped error lost its kind: %v", wrapped)
	}

	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no kind")
	}
}
