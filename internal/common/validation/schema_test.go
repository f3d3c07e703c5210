package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateJSON_Webhook(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"string id with data", `{"executionId":"exec-1","data":{"list":[]}}`, true},
		{"numeric id with result", `{"executionId":42,"result":[1,2]}`, true},
		{"null data still present", `{"executionId":"exec-1","data":null}`, true},
		{"missing id", `{"data":{}}`, false},
		{"empty id", `{"executionId":"","data":{}}`, false},
		{"missing payload", `{"executionId":"exec-1"}`, false},
		{"not an object", `[1,2,3]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateJSON([]byte(tt.body), WebhookSchema)
			assert.Equal(t, tt.valid, res.Valid, res.Summary())
			if !tt.valid {
				assert.NotEmpty(t, res.Errors)
			}
		})
	}
}

func TestValidateJSON_Query(t *testing.T) {
	assert.True(t, ValidateJSON([]byte(`{"action":"hot","params":{"catId":"1"},"useCache":false}`), QuerySchema).Valid)
	assert.True(t, ValidateJSON([]byte(`{"action":"hot"}`), QuerySchema).Valid)

	res := ValidateJSON([]byte(`{"params":{},"useCache":"yes"}`), QuerySchema)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Summary(), "action")
	assert.Contains(t, res.Summary(), "useCache")
}

func TestValidateJSON_ClearCache(t *testing.T) {
	assert.True(t, ValidateJSON([]byte(`{}`), ClearCacheSchema).Valid)
	assert.True(t, ValidateJSON([]byte(`{"params":{"action":"high","catId":"1"}}`), ClearCacheSchema).Valid)
	assert.False(t, ValidateJSON([]byte(`{"params":{"catId":"1"}}`), ClearCacheSchema).Valid)
}

func TestValidateJSON_Malformed(t *testing.T) {
	res := ValidateJSON([]byte(`{"executionId":`), WebhookSchema)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, "MALFORMED_JSON", res.Errors[0].Code)
}
