/**
 * @description
 * Request decoding and validation for the API surface. Validation failures
 * are returned as a structured list of field-level issues; they are caught
 * here and never reach the claim engine.
 *
 * @dependencies
 * - github.com/go-playground/validator/v10: Struct-tag driven validation.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FieldIssue describes one invalid request field.
type FieldIssue struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value string `json:"value,omitempty"`
}

// decodeAndValidate parses the request body into dst and validates it.
// The returned issues are non-nil only for validation failures; a decode
// failure returns an error with no issues.
func decodeAndValidate(r *http.Request, dst interface{}) ([]FieldIssue, error) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return nil, errors.New("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			issues := make([]FieldIssue, 0, len(verrs))
			for _, fe := range verrs {
				issues = append(issues, FieldIssue{
					Field: strings.ToLower(fe.Field()),
					Rule:  fe.Tag(),
				})
			}
			return issues, errors.New("validation failed")
		}
		return nil, err
	}
	return nil, nil
}
