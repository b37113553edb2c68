package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request bodies carry go-playground/validator struct tags; JSON field names
// are used in error messages.

// DictionaryAddRequest is the body of POST /api/dictionary.
type DictionaryAddRequest struct {
	Words     []string `json:"words" validate:"required,min=1,max=1000,dive,required,max=100"`
	Languages []string `json:"languages" validate:"omitempty,max=16,dive,required,max=8"`
}

// RecordStartRequest is the optional body of POST /api/record/start.
type RecordStartRequest struct {
	BypassLLM *bool `json:"bypass_llm"`
}

// historyQuery is the validated query of GET /api/history.
type historyQuery struct {
	Limit int `json:"limit" validate:"gte=1,lte=1000"`
}

// validate is the shared validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// fieldError is one entry of a 400 validation response.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

// decodeAndValidate reads a JSON body into dst and validates it. It returns
// false after writing a 400 response. An empty body is accepted when
// optional is set.
func decodeAndValidate[T any](w http.ResponseWriter, r *http.Request, dst *T, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !(optional && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	return validateStruct(w, dst)
}

func validateStruct(w http.ResponseWriter, v any) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}
	resp := validationResponse{Error: "validation failed"}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range verrs {
			resp.Fields = append(resp.Fields, fieldError{Field: e.Field(), Message: validationMessage(e)})
		}
	} else {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
	return false
}

// validationMessage turns a validator error into a short sentence.
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s long", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
