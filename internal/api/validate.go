package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	perrors "github.com/khgapparov/flipApp/internal/errors"
)

// RequireFields checks that the JSON object raw carries every field. It is opt-in and
// not part of Do's path.
func RequireFields(raw []byte, fields ...string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		apiErr := perrors.NewAPIError(perrors.KindMalformed, 500, "Invalid response: not a JSON object")
		apiErr.Err = err
		return apiErr
	}
	var missing []string
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return perrors.NewAPIError(perrors.KindServer, 500,
			fmt.Sprintf("Invalid response: missing fields %s", strings.Join(missing, ", ")))
	}
	return nil
}

// ValidateSchema checks raw against a JSON Schema document.
func ValidateSchema(raw []byte, schemaJSON string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return perrors.NewAPIError(perrors.KindServer, 500, "Invalid response: "+strings.Join(msgs, "; "))
}
