package validation

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var yesNoPrefixes = []string{
	"is ", "are ", "does ", "do ", "did ", "can ", "could ", "should ",
	"would ", "will ", "has ", "have ", "had ", "was ", "were ",
}

// NewValidator creates the validator used for all the request bodies with the
// custom tags of the service registered:
//   - notblank: the string must contain something other than white space
//   - yesno: the string must be a yes/no question, starting with an auxiliary verb and ending with '?'
//   - participant_id: a participant identity, not blank and without white space
func NewValidator() (*validator.Validate, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		return nil, err
	}
	if err := validate.RegisterValidation("yesno", func(fl validator.FieldLevel) bool {
		return IsYesNoQuestion(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	if err := validate.RegisterValidation("participant_id", func(fl validator.FieldLevel) bool {
		return IsParticipantID(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	return validate, nil
}

// IsYesNoQuestion reports whether the question can be answered with yes or no.
func IsYesNoQuestion(question string) bool {
	normalized := strings.ToLower(strings.TrimSpace(question))
	if !strings.HasSuffix(normalized, "?") {
		return false
	}
	for _, prefix := range yesNoPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}

func IsParticipantID(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	return strings.IndexFunc(id, unicode.IsSpace) < 0
}
