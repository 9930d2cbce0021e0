package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

// Validator checks request structs against their validate tags and renders
// failures as English messages keyed by JSON field name.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

// NewValidator creates a Validator with English translations.
func NewValidator() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")

	if err := entranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	// The default eqfield message names the Go field; name the JSON field instead.
	err := validate.RegisterTranslation("eqfield", trans,
		func(t ut.Translator) error {
			return t.Add("eqfield", "{0} must match {1}", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T("eqfield", fe.Field(), strings.ToLower(fe.Param()))
			return msg
		},
	)
	if err != nil {
		return nil, err
	}

	return &Validator{validate: validate, trans: trans}, nil
}

// Struct validates s and returns the messages per field, or nil when s is valid.
func (v *Validator) Struct(s any) map[string][]string {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string][]string{"request": {err.Error()}}
	}

	out := make(map[string][]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = append(out[fe.Field()], fe.Translate(v.trans))
	}
	return out
}
