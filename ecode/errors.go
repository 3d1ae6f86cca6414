package ecode

import (
	"fmt"
)

const (
	requiredMsg = "required"
	invalidMsg  = "invalid"
)

func withField(msg string, k []string) string {
	if len(k) > 0 {
		return fmt.Sprintf("%s %s", k[0], msg)
	}
	return msg
}

// FieldIsRequired returns field required message
func FieldIsRequired(k ...string) string { return withField(requiredMsg, k) }

// FieldIsInvalidf returns an invalid message with the offending value.
func FieldIsInvalidf(field string, value any) string {
	return fmt.Sprintf("%s %s: %v", field, invalidMsg, value)
}
