package api

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	verifier = emailverifier.NewVerifier()

	googleAdsIDPattern = regexp.MustCompile(`^(\d{3}-\d{3}-\d{4}|\d{10})$`)
	metaAccountPattern = regexp.MustCompile(`^(act_)?\d+$`)
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		mustRegister("google_ads_id", func(fl validator.FieldLevel) bool {
			return googleAdsIDPattern.MatchString(fl.Field().String())
		})
		mustRegister("meta_account_id", func(fl validator.FieldLevel) bool {
			return metaAccountPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

// validateStruct returns a single readable message for the first failures,
// or nil when v is valid.
func validateStruct(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fieldMessage(fe))
	}
	return errors.New(strings.Join(messages, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "numeric":
		return field + " must be numeric"
	case "google_ads_id":
		return field + " must look like 123-456-7890"
	case "meta_account_id":
		return field + " must be digits, optionally prefixed with act_"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// checkSpecialistEmail rejects syntactically invalid or disposable addresses.
// Only offline checks are used.
func checkSpecialistEmail(email string) error {
	syntax := verifier.ParseAddress(email)
	if !syntax.Valid {
		return errors.New("specialist_email must be a valid email address")
	}
	if verifier.IsDisposable(syntax.Domain) {
		return errors.New("specialist_email uses a disposable email domain")
	}
	return nil
}
