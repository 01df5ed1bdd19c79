package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindStorage, http.StatusInternalServerError},
		{KindConsistency, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "code", "message")
			if got := HTTPStatus(err); got != tt.want {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.want)
			}
		})
	}

	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain error) = %d, want 500", got)
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := New(KindNotFound, "image_not_found", "image not found")
	outer := fmt.Errorf("handling request: %w", inner)

	if KindOf(outer) != KindNotFound {
		t.Errorf("KindOf = %q, want %q", KindOf(outer), KindNotFound)
	}
	if CodeOf(outer) != "image_not_found" {
		t.Errorf("CodeOf = %q", CodeOf(outer))
	}
	if MessageOf(outer) != "image not found" {
		t.Errorf("MessageOf = %q", MessageOf(outer))
	}
}

func TestUnclassifiedDefaults(t *testing.T) {
	err := errors.New("connection refused")
	if KindOf(err) != KindStorage {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindStorage)
	}
	if CodeOf(err) != "internal_error" {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}
	if MessageOf(err) != "internal server error" {
		t.Errorf("MessageOf = %q", MessageOf(err))
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := Wrap(KindStorage, "storage_write_failed", "could not write object", cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}
