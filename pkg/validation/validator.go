package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// MaxFieldKey bounds the length of a document field name
	MaxFieldKey = 100

	docIDPattern = regexp.MustCompile(`^[^_\s][^\s]*$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("fieldkey", func(fl validator.FieldLevel) bool {
		return ValidateFieldKey(fl.Field().String()) == nil
	})
	_ = validate.RegisterValidation("docid", func(fl validator.FieldLevel) bool {
		return docIDPattern.MatchString(fl.Field().String())
	})
}

// DocumentRequest is the body of a create call
type DocumentRequest struct {
	ID     string         `json:"_id,omitempty" validate:"omitempty,max=256,docid"`
	Fields map[string]any `json:"fields" validate:"required,max=200,dive,keys,fieldkey,endkeys"`
}

// UpdateRequest is the body of an update call: the new field values plus the
// snapshot they were edited from
type UpdateRequest struct {
	Fields   map[string]any  `json:"fields" validate:"required,max=200,dive,keys,fieldkey,endkeys"`
	Original json.RawMessage `json:"original" validate:"required"`
}

// ValidateDocumentRequest validates a create request
func ValidateDocumentRequest(req *DocumentRequest) error {
	if req == nil {
		return errors.New("document request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateUpdateRequest validates an update request
func ValidateUpdateRequest(req *UpdateRequest) error {
	if req == nil {
		return errors.New("update request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateFieldKey rejects keys the store or the merge bookkeeping reserve
func ValidateFieldKey(key string) error {
	if key == "" {
		return errors.New("field key cannot be empty")
	}
	if len(key) > MaxFieldKey {
		return fmt.Errorf("field key '%s' exceeds maximum length of %d characters", key, MaxFieldKey)
	}
	if strings.HasPrefix(key, "_") || strings.HasPrefix(key, "$") {
		return fmt.Errorf("field key '%s' is reserved (must not start with '_' or '$')", key)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Field()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "fieldkey":
			return fmt.Errorf("%s: %w", field, ValidateFieldKey(fmt.Sprint(e.Value())))
		case "docid":
			return fmt.Errorf("%s: '%v' is not a valid document id", field, e.Value())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
