package daemon

import (
	"encoding/json"
	"fmt"

	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// Centralized parameter validation. Handlers decode params into a generic
// map through these helpers so domain code only ever sees validated
// values. Every failure is a KindValidation error, which the router maps
// to -32602.

type params map[string]json.RawMessage

func decodeParams(raw json.RawMessage) (params, error) {
	if len(raw) == 0 {
		return params{}, nil
	}
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ccerr.Validation("params", "params must be an object")
	}
	return p, nil
}

func (p params) requiredString(field string) (string, error) {
	raw, ok := p[field]
	if !ok {
		return "", ccerr.Validation(field, field+" is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", ccerr.Validation(field, field+" must be a string")
	}
	if s == "" {
		return "", ccerr.Validation(field, field+" must not be empty")
	}
	return s, nil
}

func (p params) optionalString(field, def string) (string, error) {
	raw, ok := p[field]
	if !ok {
		return def, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", ccerr.Validation(field, field+" must be a string")
	}
	return s, nil
}

func (p params) optionalInt(field string, def, min, max int) (int, error) {
	raw, ok := p[field]
	if !ok {
		return def, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, ccerr.Validation(field, field+" must be an integer")
	}
	if v < min || v > max {
		return 0, ccerr.Validation(field, fmt.Sprintf("%s must be between %d and %d", field, min, max))
	}
	return v, nil
}

func (p params) optionalFloat(field string, def, min, max float64) (float64, error) {
	raw, ok := p[field]
	if !ok {
		return def, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, ccerr.Validation(field, field+" must be a number")
	}
	if v < min || v > max {
		return 0, ccerr.Validation(field, fmt.Sprintf("%s must be between %g and %g", field, min, max))
	}
	return v, nil
}

func (p params) optionalBool(field string, def bool) (bool, error) {
	raw, ok := p[field]
	if !ok {
		return def, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, ccerr.Validation(field, field+" must be a boolean")
	}
	return v, nil
}

func (p params) optionalStringList(field string) ([]string, error) {
	raw, ok := p[field]
	if !ok {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		// Accept a single string as a one-element list.
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 == nil {
			return []string{s}, nil
		}
		return nil, ccerr.Validation(field, field+" must be a string or array of strings")
	}
	return list, nil
}

// enumString validates a string against a closed set, returning def when
// the field is absent.
func (p params) enumString(field, def string, allowed ...string) (string, error) {
	s, err := p.optionalString(field, def)
	if err != nil {
		return "", err
	}
	if s == def {
		return s, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", ccerr.Validation(field, fmt.Sprintf("%s must be one of %v", field, allowed))
}

// maxLen enforces a length cap on string parameters.
func maxLen(field, value string, cap int) error {
	if len(value) > cap {
		return ccerr.Validation(field, fmt.Sprintf("%s exceeds maximum length %d", field, cap))
	}
	return nil
}
