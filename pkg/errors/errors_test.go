package errors

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidInput, "test message: %s", "value")

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidInput)
	}

	if err.Message != "test message: value" {
		t.Errorf("Message = %v, want %v", err.Message, "test message: value")
	}

	expected := "INVALID_INPUT: test message: value"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeCodec, cause, "failed to encode")

	if err.Code != ErrCodeCodec {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeCodec)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeInvalidTransform, "test"),
			code:     ErrCodeInvalidTransform,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeInvalidTransform, "test"),
			code:     ErrCodeInvalidAspectRatio,
			expected: false,
		},
		{
			name:     "wrapped error",
			err:      Wrap(ErrCodeCodec, New(ErrCodeInvalidInput, "inner"), "outer"),
			code:     ErrCodeCodec,
			expected: true,
		},
		{
			name:     "build error",
			err:      &BuildError{Failures: []Failure{{Src: "a.jpg", Err: New(ErrCodeCodec, "boom")}}},
			code:     ErrCodeBuildFailed,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeInvalidInput,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeInvalidInput,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeSourceNotFound, "test"),
			expected: ErrCodeSourceNotFound,
		},
		{
			name:     "plain error",
			err:      errors.New("plain"),
			expected: "",
		},
		{
			name:     "nil",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeInvalidInput, "friendly message"),
			expected: "friendly message",
		},
		{
			name:     "Error with cause",
			err:      Wrap(ErrCodeCodec, errors.New("decode failed"), "transform /cat.jpg"),
			expected: "transform /cat.jpg: decode failed",
		},
		{
			name:     "plain error",
			err:      errors.New("plain error"),
			expected: "plain error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.expected {
				t.Errorf("UserMessage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{ErrCodeInvalidTransform, http.StatusBadRequest},
		{ErrCodeInvalidAspectRatio, http.StatusBadRequest},
		{ErrCodeInvalidFormat, http.StatusBadRequest},
		{ErrCodeInvalidPath, http.StatusBadRequest},
		{ErrCodeSourceNotFound, http.StatusNotFound},
		{ErrCodeCodec, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(New(tt.code, "x")); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}

	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain) = %d, want 500", got)
	}
}

func TestBuildError(t *testing.T) {
	cause := New(ErrCodeSourceNotFound, "missing")
	err := &BuildError{Failures: []Failure{
		{Src: "/a.jpg", Key: "src=/a.jpg&w=1&h=1&f=png", Err: cause},
		{Src: "/b.jpg", Key: "src=/b.jpg&w=2&h=2&f=png", Err: errors.New("codec exploded")},
	}}

	msg := err.Error()
	for _, want := range []string{"2 image(s) failed", "/a.jpg", "/b.jpg", "codec exploded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find a failure cause")
	}

	if err.Code() != ErrCodeBuildFailed {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeBuildFailed)
	}
}
