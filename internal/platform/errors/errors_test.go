package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeDuplicateVote, "voter already voted")
	if !errors.Is(err, New(CodeDuplicateVote, "other message")) {
		t.Fatal("expected errors with same code to match")
	}
	if errors.Is(err, New(CodeSessionNotOpen, "voter already voted")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeExecutorUnreachable, "dispatch action", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause in chain")
	}
	if got := CodeOf(err); got != CodeExecutorUnreachable {
		t.Fatalf("code = %q, want %q", got, CodeExecutorUnreachable)
	}
}

func TestCodeOfThroughWrapping(t *testing.T) {
	inner := New(CodeRateLimited, "one outstanding prompt per user")
	outer := fmt.Errorf("submit: %w", inner)
	if got := CodeOf(outer); got != CodeRateLimited {
		t.Fatalf("code = %q, want %q", got, CodeRateLimited)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodePromptEmpty, http.StatusBadRequest},
		{CodeInvalidCandidate, http.StatusBadRequest},
		{CodeDuplicateVote, http.StatusConflict},
		{CodeSessionNotOpen, http.StatusConflict},
		{CodeExecutionInvalidState, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeQueueFull, http.StatusServiceUnavailable},
		{CodeModeratorGrantInvalid, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeSynthesisFailed, http.StatusBadGateway},
		{CodeExecutorUnreachable, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("%s status = %d, want %d", tc.code, got, tc.want)
		}
	}
}
