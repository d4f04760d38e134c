package http

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Request body schemas. Amounts are decimal strings so no precision is lost
// in transit.
const (
	amountPattern = `^(0|[1-9][0-9]*)(\\.[0-9]+)?$`

	createSessionSchema = `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"amount": {"type": "string", "pattern": "` + amountPattern + `"},
			"memo": {"type": "string", "maxLength": 256}
		}
	}`

	updateSessionSchema = `{
		"type": "object",
		"additionalProperties": false,
		"minProperties": 1,
		"properties": {
			"amount": {"type": ["string", "null"], "pattern": "` + amountPattern + `"},
			"memo": {"type": ["string", "null"], "maxLength": 256}
		}
	}`
)

var (
	createSessionLoader = gojsonschema.NewStringLoader(createSessionSchema)
	updateSessionLoader = gojsonschema.NewStringLoader(updateSessionSchema)
)

// ValidationResult is the outcome of checking a body against a schema
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateCreateSession checks a POST /sessions body
func ValidateCreateSession(body []byte) ValidationResult {
	return validate(createSessionLoader, body)
}

// ValidateUpdateSession checks a PATCH /sessions/:id body
func ValidateUpdateSession(body []byte) ValidationResult {
	return validate(updateSessionLoader, body)
}

func validate(schema gojsonschema.JSONLoader, body []byte) ValidationResult {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{
		Valid:  false,
		Errors: errors,
	}
}
