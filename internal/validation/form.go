// Package validation проверяет пользовательский ввод формы оформления заказа.
package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// OrderForm — данные формы адреса доставки, присланные при оформлении заказа.
type OrderForm struct {
	FullName       string `json:"full_name" validate:"required,max=50"`
	Email          string `json:"email" validate:"required,email,max=254"`
	PhoneNumber    string `json:"phone_number" validate:"required,max=20"`
	Country        string `json:"country" validate:"required,max=40"`
	Postcode       string `json:"postcode" validate:"omitempty,max=20"`
	TownOrCity     string `json:"town_or_city" validate:"required,max=40"`
	StreetAddress1 string `json:"street_address1" validate:"required,max=80"`
	StreetAddress2 string `json:"street_address2" validate:"omitempty,max=80"`
	County         string `json:"county" validate:"omitempty,max=80"`
	ClientSecret   string `json:"client_secret" validate:"required"`
	SaveInfo       bool   `json:"save_info"`
}

var validate = validator.New()

// ValidateOrderForm проверяет обязательность и формат полей формы заказа.
func ValidateOrderForm(form *OrderForm) error {
	if err := validate.Struct(form); err != nil {
		return fmt.Errorf("invalid order form: %w", err)
	}
	return nil
}

// IsValidationError сообщает, является ли ошибка ошибкой проверки формы.
func IsValidationError(err error) bool {
	var vErrs validator.ValidationErrors
	return errors.As(err, &vErrs)
}
