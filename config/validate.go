package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// errorMessages maps validation tags to messages taking the field path and the tag parameter.
var errorMessages = map[string]string{
	"required": "%s is required",
	"gt":       "%s must be greater than %s",
	"gte":      "%s must be greater than or equal to %s",
	"oneof":    "%s must be one of [%s]",
}

// validateStruct runs the struct tags of s and reports the first failure
// under the given config section, e.g. "cache.default_ttl must be greater than 0".
func validateStruct(section string, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	e := verrs[0]
	field := section + "." + e.Field()
	if msg, ok := errorMessages[e.Tag()]; ok {
		if strings.Count(msg, "%s") == 1 {
			return fmt.Errorf(msg, field)
		}
		return fmt.Errorf(msg, field, e.Param())
	}
	return fmt.Errorf("%s failed on the '%s' rule", field, e.Tag())
}
