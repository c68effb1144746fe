package serialization

import (
	"encoding/json"
	"errors"

	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/internal/serviceerrors"
	validator "github.com/go-playground/validator/v10"
)

// Unmarshal decodes a request body and validates it. Both failures are reported as
// RequestValidationFailed service errors.
func Unmarshal(validate *validator.Validate, executionContext *executioncontext.ExecutionContext, jsonBytes []byte, v any) error {
	if err := json.Unmarshal(jsonBytes, v); err != nil {
		return serviceerrors.NewServiceError(messages.RequestValidationFailed, "Error", err.Error()).WithCause(err)
	}
	if validate == nil {
		return nil
	}
	// now validate the unmarshalled data
	if err := validate.StructCtx(executionContext.Ctx, v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, validationError := range validationErrors {
				executionContext.Logger.Info("Validation error", "field", validationError.Field(), "tag", validationError.Tag(), "value", validationError.Value())
			}
		}
		return serviceerrors.NewServiceError(messages.RequestValidationFailed, "Error", err.Error()).WithCause(err)
	}
	return nil
}
