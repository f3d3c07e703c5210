package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const webhookSchema = `{
  "type": "object",
  "required": ["executionId"],
  "properties": {
    "executionId": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {"type": "integer"}
      ]
    }
  },
  "anyOf": [
    {"required": ["data"]},
    {"required": ["result"]}
  ]
}`

const querySchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "minLength": 1},
    "params": {"type": "object"},
    "useCache": {"type": "boolean"}
  }
}`

const clearCacheSchema = `{
  "type": "object",
  "properties": {
    "params": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// Compiled request schemas. They are constants, so compilation cannot fail at runtime.
var (
	WebhookSchema    = mustCompile("webhook", webhookSchema)
	QuerySchema      = mustCompile("query", querySchema)
	ClearCacheSchema = mustCompile("clear-cache", clearCacheSchema)
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Summary joins the errors into one line.
func (r *ValidationResult) Summary() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(parts, "; ")
}

func mustCompile(name, schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return s
}

// ValidateJSON validates a raw JSON document. Malformed JSON is reported as a
// single error on the root field rather than returned.
func ValidateJSON(document []byte, schema *gojsonschema.Schema) *ValidationResult {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: fmt.Sprintf("malformed JSON: %v", err),
				Code:    "MALFORMED_JSON",
			}},
		}
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, re := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   re.Field(),
			Message: re.Description(),
			Code:    strings.ToUpper(re.Type()),
		})
	}
	return out
}
