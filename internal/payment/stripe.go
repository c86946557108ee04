// Package payment инкапсулирует взаимодействие с платёжным провайдером Stripe.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// MetadataKeyBag хранит снимок корзины в метаданных платёжного намерения.
const (
	MetadataKeyBag = "bag"
	// MetadataKeySaveInfo хранит признак "сохранить адрес в профиле".
	MetadataKeySaveInfo = "save_info"
	// MetadataKeyUsername хранит имя пользователя либо анонимный маркер.
	MetadataKeyUsername = "username"
)

// AnonymousUser — маркер неавторизованного покупателя в метаданных платежа.
const AnonymousUser = "AnonymousUser"

// Intent содержит данные платёжного намерения, нужные клиентской стороне.
type Intent struct {
	ID           string
	ClientSecret string
}

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeClient создаёт и дополняет платёжные намерения через API Stripe.
type StripeClient struct {
	intents  stripeIntentAPI
	currency string
}

// NewStripeClient создаёт клиент Stripe с указанным секретным ключом и валютой.
func NewStripeClient(secretKey, currency string) *StripeClient {
	sc := client.New(secretKey, nil)
	return &StripeClient{
		intents:  sc.PaymentIntents,
		currency: currency,
	}
}

// CreateIntent создаёт платёжное намерение на сумму в минимальных единицах валюты.
func (c *StripeClient) CreateIntent(ctx context.Context, amountMinor int64, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(c.currency),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// UpdateIntentMetadata дописывает метаданные в существующее платёжное намерение.
// Вызывается перед подтверждением платежа, когда известен флаг save_info.
func (c *StripeClient) UpdateIntentMetadata(ctx context.Context, intentID string, metadata map[string]string) error {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	if _, err := c.intents.Update(intentID, params); err != nil {
		return fmt.Errorf("update payment intent: %w", err)
	}

	return nil
}

// IntentIDFromClientSecret выделяет идентификатор платёжного намерения
// из клиентского секрета вида "pi_..._secret_...".
func IntentIDFromClientSecret(clientSecret string) string {
	id, _, _ := strings.Cut(clientSecret, "_secret")
	return id
}
