package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: CodeNotFound, Message: "hunk missing"}
	if got, want := err.Error(), "NOT_FOUND: hunk missing"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("boom")
	err = Malformed("abc123", "missing path line", cause)
	if !errors.Is(err, cause) {
		t.Error("Malformed should wrap its cause")
	}
	if err.Details["subject"] != "abc123" {
		t.Errorf("Details[subject] = %v, want abc123", err.Details["subject"])
	}
}

func TestIs_Wrapped(t *testing.T) {
	base := BudgetExceeded("hunk", 500, 100)
	wrapped := fmt.Errorf("serving round 2: %w", base)

	if !Is(wrapped, CodeBudgetExceeded) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if Is(wrapped, CodeMalformed) {
		t.Error("Is matched the wrong code")
	}
	if CodeOf(wrapped) != CodeBudgetExceeded {
		t.Errorf("CodeOf = %q", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf plain error should be empty")
	}
}

func TestIsSoft(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"exhausted", BudgetExhausted("snippet"), true},
		{"exceeded", BudgetExceeded("hunk", 10, 5), true},
		{"limit", LimitExceeded("total hunk bytes", 10, 11), false},
		{"malformed", Malformed("x", "y", nil), false},
		{"invalid", InvalidRequest("bad path %q", "../x"), false},
		{"plain", errors.New("x"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSoft(tt.err); got != tt.want {
				t.Errorf("IsSoft(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
