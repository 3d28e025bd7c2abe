package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNoCoverage, status: http.StatusInternalServerError, publicMsg: "cannot quote this destination"},
		{code: CodeGateway, status: http.StatusInternalServerError, publicMsg: "could not start checkout", retryable: true},
		{code: CodeSignature, status: http.StatusBadRequest, publicMsg: "invalid signature"},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
	if meta.PublicMessage != "internal server error" {
		t.Fatalf("unexpected public message %q", meta.PublicMessage)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "postal code is required")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "postal code is required" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]string{"zip": "is required"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("carrier timeout")
	wrapped := Wrap(CodeNoCoverage, cause, "cannot quote this destination")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeNoCoverage {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if !strings.Contains(wrapped.Error(), "carrier timeout") {
		t.Fatalf("error text should include the cause, got %q", wrapped.Error())
	}

	if nilCause := Wrap(CodeGateway, nil, "no url"); nilCause.Unwrap() != nil {
		t.Fatalf("wrapping nil should not invent a cause")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := fmt.Errorf("checkout: %w", New(CodeGateway, "stripe down"))
	if got := As(err); got == nil || got.Code() != CodeGateway {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatalf("As on an untyped error should return nil")
	}
}

func TestHasCodeWalksTheChain(t *testing.T) {
	inner := New(CodeNoCoverage, "no rates")
	outer := Wrap(CodeGateway, fmt.Errorf("pricing: %w", inner), "could not start checkout")

	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{name: "outermost code", err: outer, code: CodeGateway, want: true},
		{name: "inner code", err: outer, code: CodeNoCoverage, want: true},
		{name: "absent code", err: outer, code: CodeSignature, want: false},
		{name: "untyped error", err: stdErrors.New("boom"), code: CodeInternal, want: false},
		{name: "nil error", err: nil, code: CodeInternal, want: false},
	}
	for _, tt := range tests {
		if got := HasCode(tt.err, tt.code); got != tt.want {
			t.Fatalf("%s: HasCode(%s) = %v, want %v", tt.name, tt.code, got, tt.want)
		}
	}
}

func TestDumpFlattensChain(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("dial tcp"), "redis ping failed")
	dump := Dump(err)
	if dump.Code != CodeDependency {
		t.Fatalf("unexpected dump code %s", dump.Code)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", dump.Chain)
	}
	if got := Dump(nil); got.TopMessage != "" || got.Chain != nil {
		t.Fatalf("Dump(nil) should be empty, got %+v", got)
	}
}
