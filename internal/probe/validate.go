package probe

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"github.com/filipmarinca/api-monitor/internal/model"
)

// validateResponse applies the monitor's validation rules in order: expected
// status code, JSON schema, body regex. All configured rules must pass. A
// schema or regex that fails to compile counts as a failed check, not an
// engine error.
func validateResponse(m *model.Monitor, statusCode int, body []byte) (bool, string) {
	if m.ExpectedStatus != 0 && statusCode != m.ExpectedStatus {
		return false, fmt.Sprintf("validation failed: expected status %d, got %d", m.ExpectedStatus, statusCode)
	}

	if m.JSONSchema != "" {
		if ok, reason := validateSchema(m.JSONSchema, body); !ok {
			return false, reason
		}
	}

	if m.BodyRegex != "" {
		re, err := regexp.Compile(m.BodyRegex)
		if err != nil {
			return false, fmt.Sprintf("invalid body regex: %v", err)
		}
		if !re.Match(body) {
			return false, fmt.Sprintf("response body did not match regex %q", m.BodyRegex)
		}
	}

	return true, ""
}

func validateSchema(schema string, body []byte) (bool, string) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		// Covers both an invalid schema document and a non-JSON body.
		return false, fmt.Sprintf("json schema validation error: %v", err)
	}
	if !result.Valid() {
		if errs := result.Errors(); len(errs) > 0 {
			return false, fmt.Sprintf("json schema violation: %s", errs[0].String())
		}
		return false, "json schema violation"
	}
	return true, ""
}
