package validator

import (
	"errors"
	"fmt"
	"strings"

	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Details renders the errors as field -> message for API responses.
func (v ValidationErrors) Details() map[string]any {
	details := make(map[string]any, len(v))
	for _, err := range v {
		details[err.Field] = err.Message
	}
	return details
}

type AppointmentValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewAppointmentValidator(log *logger.Logger) *AppointmentValidator {
	v := validator.New()

	if err := v.RegisterValidation("appointment_status", validateStatus); err != nil {
		log.Fatal("Failed to register 'appointment_status' validator", "error", err)
	}

	return &AppointmentValidator{
		validate: v,
		logger:   log,
	}
}

func validateStatus(fl validator.FieldLevel) bool {
	status, ok := fl.Field().Interface().(model.AppointmentStatus)
	return ok && (status == model.StatusPending || status.IsTerminal())
}

func (v *AppointmentValidator) ValidateRequest(req *model.AppointmentRequest) error {
	return v.run(req)
}

func (v *AppointmentValidator) ValidateAppointment(appointment *model.Appointment) error {
	return v.run(appointment)
}

func (v *AppointmentValidator) run(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		v.logger.Error("Unexpected validation error", "error", err)
		return err
	}

	var result ValidationErrors
	for _, fe := range validationErrs {
		result = append(result, ValidationError{
			Field:   jsonFieldName(fe.Field()),
			Message: message(fe),
		})
	}
	return result
}

func jsonFieldName(field string) string {
	switch field {
	case "ID":
		return "id"
	case "FarmerID":
		return "farmerId"
	case "ExpertID":
		return "expertId"
	}
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "mongodb":
		return "must be a valid id"
	case "nefield":
		return "farmer and expert must be different users"
	case "oneof", "appointment_status":
		return "must be one of pending, accepted, declined"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
