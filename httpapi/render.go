package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goliatone/go-courier-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

var errNotConfigured = errors.New("httpapi: operation is not configured")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Fields   []fieldError   `json:"fields,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, 0, err)
}

// writeErrorStatus renders err as an envelope. A non-zero status overrides
// the envelope's HTTP code.
func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	if errors.Is(err, errNotConfigured) {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: errorDetail{
			Category: string(goerrors.CategoryOperation),
			Code:     core.CourierErrorInternal,
			Message:  err.Error(),
		}})
		return
	}
	rich := core.MapError(err)
	if status == 0 {
		status = rich.Code
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}
	detail := errorDetail{
		Category: string(rich.Category),
		Code:     rich.TextCode,
		Message:  rich.Message,
		Metadata: rich.Metadata,
	}
	for _, field := range rich.AllValidationErrors() {
		detail.Fields = append(detail.Fields, fieldError{Field: field.Field, Message: field.Message})
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return core.NewCourierError("httpapi: request body is not valid json", goerrors.CategoryBadInput, core.CourierErrorBadInput).
			WithMetadata(map[string]any{"cause": err.Error()})
	}
	return nil
}
