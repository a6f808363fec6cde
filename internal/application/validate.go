package application

import (
	"errors"
	"net/mail"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

func structValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names so messages match what the caller sent.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// mailbox accepts RFC 5322 addresses including "Name <addr@example.com>".
		_ = validate.RegisterValidation("mailbox", func(fl validator.FieldLevel) bool {
			_, err := mail.ParseAddress(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// ValidateStruct checks validate tags on v and converts failures to a ValidationError.
// Non-struct values pass unchanged.
func ValidateStruct(v interface{}) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := structValidator().Struct(rv.Interface())
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &ValidationError{Message: err.Error()}
	}

	fields := make([]FieldError, 0, len(validationErrors))
	missing := true
	for _, e := range validationErrors {
		if e.Tag() != "required" {
			missing = false
		}
		fields = append(fields, FieldError{
			Field:   fieldPath(e),
			Message: validationMessage(rv.Type(), e),
		})
	}

	message := "invalid parameters"
	if missing {
		message = "missing required parameters"
	}
	return &ValidationError{Message: message, Fields: fields}
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return e.Field()
}

// jsonParam maps a field-name parameter such as required_without's to the JSON
// name of the sibling field, so messages name what the caller sent.
func jsonParam(root reflect.Type, e validator.FieldError) string {
	parent := root
	segments := strings.Split(e.StructNamespace(), ".")
	if len(segments) > 2 {
		for _, seg := range segments[1 : len(segments)-1] {
			if idx := strings.Index(seg, "["); idx >= 0 {
				seg = seg[:idx]
			}
			f, ok := parent.FieldByName(seg)
			if !ok {
				return e.Param()
			}
			parent = f.Type
			for parent.Kind() == reflect.Ptr || parent.Kind() == reflect.Slice || parent.Kind() == reflect.Array || parent.Kind() == reflect.Map {
				parent = parent.Elem()
			}
			if parent.Kind() != reflect.Struct {
				return e.Param()
			}
		}
	}

	names := strings.Fields(e.Param())
	for i, goName := range names {
		f, ok := parent.FieldByName(goName)
		if !ok {
			continue
		}
		if name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			names[i] = name
		}
	}
	return strings.Join(names, ", ")
}

func validationMessage(root reflect.Type, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "required_without":
		return "Required when " + jsonParam(root, e) + " is not set"
	case "email":
		return "Invalid email format"
	case "mailbox":
		return "Invalid email address, expected addr@example.com or Name <addr@example.com>"
	case "min":
		switch e.Kind() {
		case reflect.String:
			return "Must be at least " + e.Param() + " characters"
		case reflect.Slice, reflect.Map:
			return "Must contain at least " + e.Param() + " items"
		}
		return "Must be at least " + e.Param()
	case "max":
		switch e.Kind() {
		case reflect.String:
			return "Must be at most " + e.Param() + " characters"
		case reflect.Slice, reflect.Map:
			return "Must contain at most " + e.Param() + " items"
		}
		return "Must be at most " + e.Param()
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "url":
		return "Invalid URL format"
	case "base64":
		return "Must be base64 encoded"
	default:
		return "Invalid value"
	}
}
