package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelMatchSurvivesDetailAndWrap(t *testing.T) {
	err := ErrNotAParticipant.WithDetail("conv=c1")
	if !errors.Is(err, ErrNotAParticipant) {
		t.Fatal("WithDetail copy lost sentinel identity")
	}

	wrapped := ErrDependencyUnavailable.WrapMsg("redis: connection refused")
	if !errors.Is(wrapped, ErrDependencyUnavailable) {
		t.Fatal("WrapMsg lost sentinel identity")
	}
	if errors.Is(wrapped, ErrNotAParticipant) {
		t.Fatal("different codes must not match")
	}
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrNotFound.WithDetail("message m1")
	if ErrNotFound.Detail != "" {
		t.Fatalf("sentinel mutated: %q", ErrNotFound.Detail)
	}
}

func TestAsCodeError(t *testing.T) {
	if ce := AsCodeError(ErrForbidden.WrapMsg("x")); ce == nil || ce.Code != ErrForbidden.Code {
		t.Fatalf("AsCodeError = %+v", ce)
	}
	if ce := AsCodeError(errors.New("plain")); ce != nil {
		t.Fatalf("plain error produced %+v", ce)
	}
	if ce := AsCodeError(nil); ce != nil {
		t.Fatalf("nil produced %+v", ce)
	}
}

func TestErrorStringCarriesDetail(t *testing.T) {
	err := ErrInvalidToken.WithDetail("kid mismatch")
	if !strings.Contains(err.Error(), "kid mismatch") {
		t.Fatalf("Error() = %q", err.Error())
	}
}
