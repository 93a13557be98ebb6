package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MaxSubjectLen = 50
	MaxContentLen = 2000
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewCard is the input of a study action.
type NewCard struct {
	Owner       string `validate:"required,max=64"`
	Subject     string `validate:"required,max=50"`
	Original    string `validate:"required,max=2000"`
	Translation string `validate:"max=2000"`
}

// Normalize trims surrounding whitespace from every field.
func (n NewCard) Normalize() NewCard {
	return NewCard{
		Owner:       strings.TrimSpace(n.Owner),
		Subject:     strings.TrimSpace(n.Subject),
		Original:    strings.TrimSpace(n.Original),
		Translation: strings.TrimSpace(n.Translation),
	}
}

// Validate checks the lengths of a normalized card.
func (n NewCard) Validate() error {
	return toValidationError(validate.Struct(n))
}

// ValidateSubject checks a subject label on its own, e.g. before starting a session.
func ValidateSubject(subject string) error {
	if err := validate.Var(strings.TrimSpace(subject), "required,max=50"); err != nil {
		return toValidationError(err, "Subject")
	}
	return nil
}

func toValidationError(err error, field ...string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := fe.Field()
	if len(field) > 0 {
		name = field[0]
	}
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "must not be empty"
	case "max":
		reason = fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return &ValidationError{Field: strings.ToLower(name), Reason: reason}
}
