package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rendis/flowgraph/pkg/schema"
)

const maxBodyBytes = 4 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a FlowError as JSON with a status derived from its code.
// Errors without a code become 500s.
func writeError(w http.ResponseWriter, err error) {
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		fe = schema.NewError("INTERNAL", err.Error())
	}
	writeJSON(w, statusFor(fe.Code), map[string]any{"error": fe})
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeDuplicateID, schema.ErrCodeConflict, schema.ErrCodePortOccupied, schema.ErrCodeSingletonViolation:
		return http.StatusConflict
	case schema.ErrCodeValidation, schema.ErrCodeInvalidPort, schema.ErrCodeSelfLoop, schema.ErrCodeInvalidKind,
		schema.ErrCodeInvalidExpression, schema.ErrCodeEvaluation:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeDecode:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return schema.NewError(schema.ErrCodeDecode, "invalid request body").WithCause(err)
	}
	return nil
}

// readBody reads a raw request body.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDecode, "read request body").WithCause(err)
	}
	return data, nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
