package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/router-for-me/PromptLedger/internal/completion"
)

var registerValidatorsOnce sync.Once

// RegisterValidators installs the custom binding tags used by request bodies.
func RegisterValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		_ = v.RegisterValidation("allowedmodel", func(fl validator.FieldLevel) bool {
			return completion.IsAllowedModel(fl.Field().String())
		})
		_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
			limit, errParse := strconv.Atoi(fl.Param())
			if errParse != nil {
				return false
			}
			return len(fl.Field().String()) <= limit
		})
	})
}

// normalizer is implemented by request bodies that clean their fields before validation.
type normalizer interface {
	normalize()
}

// bindJSON decodes the request body into obj, normalizes it when supported,
// then runs the binding validators.
func bindJSON(c *gin.Context, obj any) error {
	if c.Request == nil || c.Request.Body == nil {
		return errors.New("invalid request")
	}
	if errDecode := json.NewDecoder(c.Request.Body).Decode(obj); errDecode != nil {
		return errDecode
	}
	if n, ok := obj.(normalizer); ok {
		n.normalize()
	}
	if binding.Validator == nil {
		return nil
	}
	return binding.Validator.ValidateStruct(obj)
}

// jsonFieldName reports struct fields by their JSON name in validation errors.
func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// fieldError describes one rejected input field.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// abortValidation writes the 422 body for a failed bind.
func abortValidation(c *gin.Context, errBind error) {
	abortFieldErrors(c, validationDetails(errBind))
}

// abortFieldErrors writes the 422 body for the given field errors.
func abortFieldErrors(c *gin.Context, details []fieldError) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
		"error":   "validation failed",
		"details": details,
	})
}

// validationDetails converts binding errors into field-level messages.
func validationDetails(err error) []fieldError {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		out := make([]fieldError, 0, len(validationErrs))
		for _, fe := range validationErrs {
			out = append(out, fieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
		return out
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return []fieldError{{Field: field, Message: typeMessage(typeErr.Type)}}
	}

	return []fieldError{{Field: "body", Message: "invalid json"}}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "maxbytes":
		return fmt.Sprintf("must be at most %s bytes", fe.Param())
	case "contains":
		return fmt.Sprintf("must contain %q", fe.Param())
	case "allowedmodel":
		return "must be one of: " + strings.Join(completion.AllowedModels, ", ")
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func typeMessage(t reflect.Type) string {
	if t == nil {
		return "has an invalid type"
	}
	switch t.Kind() {
	case reflect.Map:
		return "must be a JSON object"
	case reflect.String:
		return "must be a string"
	default:
		return "has an invalid type"
	}
}
