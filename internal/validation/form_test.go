package validation

import (
	"errors"
	"strings"
	"testing"
)

func validForm() OrderForm {
	return OrderForm{
		FullName:       "Jane Doe",
		Email:          "jane@example.com",
		PhoneNumber:    "555-0100",
		Country:        "GB",
		TownOrCity:     "Springfield",
		StreetAddress1: "1 Main Street",
		ClientSecret:   "pi_test123_secret_abc",
	}
}

func TestValidateOrderForm_Valid(t *testing.T) {
	form := validForm()
	if err := ValidateOrderForm(&form); err != nil {
		t.Fatalf("valid form rejected: %v", err)
	}
}

func TestValidateOrderForm_OptionalFieldsMayBeEmpty(t *testing.T) {
	form := validForm()
	form.Postcode = ""
	form.StreetAddress2 = ""
	form.County = ""

	if err := ValidateOrderForm(&form); err != nil {
		t.Fatalf("form with empty optional fields rejected: %v", err)
	}
}

func TestValidateOrderForm_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *OrderForm)
	}{
		{name: "missing full name", mutate: func(f *OrderForm) { f.FullName = "" }},
		{name: "missing email", mutate: func(f *OrderForm) { f.Email = "" }},
		{name: "malformed email", mutate: func(f *OrderForm) { f.Email = "not-an-email" }},
		{name: "missing phone", mutate: func(f *OrderForm) { f.PhoneNumber = "" }},
		{name: "missing country", mutate: func(f *OrderForm) { f.Country = "" }},
		{name: "missing town", mutate: func(f *OrderForm) { f.TownOrCity = "" }},
		{name: "missing street", mutate: func(f *OrderForm) { f.StreetAddress1 = "" }},
		{name: "missing client secret", mutate: func(f *OrderForm) { f.ClientSecret = "" }},
		{name: "full name too long", mutate: func(f *OrderForm) { f.FullName = strings.Repeat("a", 51) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.mutate(&form)

			err := ValidateOrderForm(&form)
			if err == nil {
				t.Fatalf("invalid form accepted")
			}
			if !IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestIsValidationError_OtherErrors(t *testing.T) {
	if IsValidationError(errors.New("connection refused")) {
		t.Fatalf("plain error must not be a validation error")
	}
	if IsValidationError(nil) {
		t.Fatalf("nil must not be a validation error")
	}
}
