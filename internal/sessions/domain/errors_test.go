package sessions

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("start: %w", NewError(KindCommandFailed, "start command not delivered", cause))
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed")
	}
	if errors.Is(err, ErrDeviceInUse) || errors.Is(err, ErrNetwork) {
		t.Fatalf("matched wrong sentinel")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if KindOf(err) != KindCommandFailed {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
	if KindOf(cause) != "" {
		t.Fatalf("plain errors have no kind")
	}
}
