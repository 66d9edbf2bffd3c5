package middleware

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var customValidations = map[string]validator.Func{
	"costing_method":  validateCostingMethod,
	"document_stage":  validateDocumentStage,
	"document_action": validateDocumentAction,
}

// InitValidator registers the ledger's custom tags on a standalone
// validator and on gin's binding validator.
func InitValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		register(validate)

		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			register(v)
		}
	})
	return validate
}

func register(v *validator.Validate) {
	for tag, fn := range customValidations {
		_ = v.RegisterValidation(tag, fn)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

func validateCostingMethod(fl validator.FieldLevel) bool {
	return domain.CostingMethod(fl.Field().String()).IsValid()
}

func validateDocumentStage(fl validator.FieldLevel) bool {
	return domain.DocumentStage(fl.Field().String()).IsValid()
}

// An empty action defaults to DEDUCT.
func validateDocumentAction(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || domain.DocumentAction(value).IsValid()
}

// ValidationErrorFormatter formats validation errors into a map
func ValidationErrorFormatter(err error) map[string]string {
	fields := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if stderrors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			fields[e.Namespace()] = formatValidationError(e)
		}
	}
	return fields
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "costing_method":
		return "must be one of: FIFO, WEIGHTED_AVERAGE, FIXED_COST"
	case "document_stage":
		return "must be one of: RESERVED, COMPLETED"
	case "document_action":
		return "must be one of: DEDUCT, RESERVE"
	default:
		return "is invalid"
	}
}

// BindAndValidate binds the JSON body into obj and validates it
func BindAndValidate(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindJSON(obj); err != nil {
		var validationErrors validator.ValidationErrors
		if stderrors.As(err, &validationErrors) {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(validationErrors))
		}
		return errors.ErrBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// ValidateStruct validates a struct using the validator
func ValidateStruct(obj interface{}) *errors.AppError {
	if err := InitValidator().Struct(obj); err != nil {
		var validationErrors validator.ValidationErrors
		if stderrors.As(err, &validationErrors) {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(validationErrors))
		}
		return errors.ErrBadRequest("validation failed: " + err.Error())
	}
	return nil
}
