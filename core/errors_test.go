package core

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestMapError_AssignsStableCodes(t *testing.T) {
	mapped := MapError(fmt.Errorf("load shipment: %w", ErrNotFound))
	if mapped.TextCode != CourierErrorNotFound || mapped.Code != http.StatusNotFound {
		t.Fatalf("expected not found envelope, got %q/%d", mapped.TextCode, mapped.Code)
	}

	mapped = MapError(fmt.Errorf("%w: qc_pending -> disposed", ErrInvalidRTOStatusTransition))
	if mapped.TextCode != CourierErrorInvalidTransition || mapped.Category != goerrors.CategoryConflict {
		t.Fatalf("expected invalid transition conflict, got %q/%q", mapped.TextCode, mapped.Category)
	}

	mapped = MapError(ErrActorRequired)
	if mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", mapped.Code)
	}

	mapped = MapError(context.DeadlineExceeded)
	if mapped.TextCode != CourierErrorTimeout {
		t.Fatalf("expected timeout text code, got %q", mapped.TextCode)
	}
}

func TestMapError_PreservesRichErrors(t *testing.T) {
	original := NewCourierError("bad signature", goerrors.CategoryAuth, CourierErrorInvalidSignature)
	mapped := MapError(fmt.Errorf("verify: %w", original))
	if mapped != original {
		t.Fatalf("expected the original envelope to be returned")
	}
	if mapped.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", mapped.Code)
	}
	if !HasTextCode(fmt.Errorf("wrapped: %w", original), CourierErrorInvalidSignature) {
		t.Fatalf("expected text code lookup through wrapping")
	}
}
