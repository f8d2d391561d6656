package query

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-courier-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestGetNDRMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetNDRMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.CourierErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.CourierErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 {
		t.Fatalf("expected validation errors in envelope")
	}
	if validation[0].Field != "id" {
		t.Fatalf("expected id validation field, got %q", validation[0].Field)
	}
}

func TestListRTOsMessage_RejectsOversizedLimit(t *testing.T) {
	err := (ListRTOsMessage{Filter: core.RTOFilter{Limit: MaxPageSize + 1}}).Validate()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if validation := rich.AllValidationErrors(); len(validation) == 0 || validation[0].Field != "limit" {
		t.Fatalf("expected limit validation field, got %#v", validation)
	}
}

func TestGetNDRQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetNDRQuery
	_, err := q.Query(context.Background(), GetNDRMessage{})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.CourierErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.CourierErrorInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}
