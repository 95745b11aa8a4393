package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("resolve book: %w", Missing(MsgBookNotFound))
	if got := KindOf(err); got != NotFound {
		t.Fatalf("KindOf = %v, want NOT_FOUND", got)
	}
	if got := PublicMessage(err); got != MsgBookNotFound {
		t.Fatalf("PublicMessage = %q", got)
	}
}

func TestInfrastructureDetailIsHidden(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	for _, err := range []error{cause, Internal("list books", cause)} {
		if KindOf(err) != Infrastructure {
			t.Fatalf("KindOf(%v) should be infrastructure", err)
		}
		if got := PublicMessage(err); got != InternalMessage {
			t.Fatalf("PublicMessage leaked %q", got)
		}
	}
	if !errors.Is(Internal("list books", cause), cause) {
		t.Fatal("internal error should unwrap to its cause")
	}
}

func TestCodes(t *testing.T) {
	cases := map[Kind]string{
		Unauthenticated: "UNAUTHENTICATED",
		Forbidden:       "FORBIDDEN",
		NoProfile:       "NO_PROFILE",
		Kind(99):        "INTERNAL",
	}
	for kind, want := range cases {
		if got := kind.Code(); got != want {
			t.Fatalf("Code(%d) = %q, want %q", kind, got, want)
		}
	}
}
