package executor

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/codeready-toolchain/agentrun/pkg/faults"
)

// ErrInvalidResult is wrapped by every result the validator rejects.
var ErrInvalidResult = errors.New("invalid agent result")

var placeholders = map[string]struct{}{
	"...":         {},
	"…":           {},
	"placeholder": {},
	"tbd":         {},
	"todo":        {},
	"n/a":         {},
}

type statuser interface {
	Status() string
}

// ValidateResult rejects results that look like an agent died silently: no
// value, an empty string, a placeholder, or a status that is empty or a
// placeholder. Rejections are non-recoverable validation errors.
func ValidateResult(v any) error {
	if reason := invalidReason(v); reason != "" {
		return faults.Wrap(fmt.Errorf("%w: %s", ErrInvalidResult, reason),
			faults.CategoryValidation, faults.CodeValidation, false)
	}
	return nil
}

func invalidReason(v any) string {
	if isNil(v) {
		return "result is nil"
	}
	switch r := v.(type) {
	case string:
		return checkText("result", r)
	case map[string]any:
		if status, ok := r["status"]; ok {
			s, isString := status.(string)
			if !isString {
				return ""
			}
			return checkText("status", s)
		}
	case statuser:
		return checkText("status", r.Status())
	}
	return ""
}

func checkText(what, s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return what + " is empty"
	}
	if _, ok := placeholders[strings.ToLower(trimmed)]; ok {
		return fmt.Sprintf("%s is a placeholder (%q)", what, trimmed)
	}
	return ""
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
