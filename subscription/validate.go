package subscription

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	extErrors "github.com/pkg/errors"
)

var subscriptionIDPattern = regexp.MustCompile(`^sub_[A-Za-z0-9]{1,250}$`)

var validate *validator.Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("subscription_id", func(fl validator.FieldLevel) bool {
		return subscriptionIDPattern.MatchString(fl.Field().String())
	})
	return v
}

func invalidInput(err error) error {
	return extErrors.Wrap(ErrInvalidInput, err.Error())
}

func validateQuery(userID, websiteID string) error {
	if err := validate.Var(userID, "required,max=128"); err != nil {
		return invalidInput(extErrors.Wrap(err, "userId"))
	}
	if err := validate.Var(websiteID, "required,uuid4"); err != nil {
		return invalidInput(extErrors.Wrap(err, "websiteId"))
	}
	return nil
}
