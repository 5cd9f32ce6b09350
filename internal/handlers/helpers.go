package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/pkg/logger"
	"github.com/hourse/backend/pkg/utils"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// parseOptionalUUID returns nil for an empty value.
func parseOptionalUUID(value string) (*uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseBody decodes and validates a request body. The returned error
// message is safe to show to clients.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return errors.New("invalid request body")
	}
	return validationError(validate.Struct(out))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.New("invalid request body")
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("invalid %s", fe.Field())
	}
}

// respondError maps a service error onto the envelope. Internal errors are
// logged and replaced by fallback.
func respondError(c *fiber.Ctx, err error, fallback string) error {
	status := services.StatusCode(err)
	if status >= fiber.StatusInternalServerError {
		logger.ErrorWithUser(userIDString(c), "request_failed", err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
		return utils.Error(c, status, fallback)
	}
	return utils.Error(c, status, err.Error())
}

func userIDString(c *fiber.Ctx) string {
	if id := logger.GetUserIDFromContext(c); id != nil {
		return *id
	}
	return ""
}
