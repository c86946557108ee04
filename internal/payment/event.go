package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82/webhook"
)

// EventTypePaymentSucceeded — событие успешно завершённого платежа.
const (
	EventTypePaymentSucceeded = "payment_intent.succeeded"
	// EventTypePaymentFailed — событие неуспешного платежа.
	EventTypePaymentFailed = "payment_intent.payment_failed"
)

// Event — проверенное событие вебхука платёжного провайдера.
type Event struct {
	Type   string
	Object json.RawMessage
}

// EventParser проверяет подпись входящих вебхуков и разбирает события.
type EventParser struct {
	signingSecret string
}

// NewEventParser создаёт парсер событий с секретом подписи вебхука.
func NewEventParser(signingSecret string) *EventParser {
	return &EventParser{signingSecret: signingSecret}
}

// Parse проверяет подпись тела запроса и возвращает типизированное событие.
func (p *EventParser) Parse(payload []byte, signatureHeader string) (Event, error) {
	ev, err := webhook.ConstructEvent(payload, signatureHeader, p.signingSecret)
	if err != nil {
		return Event{}, fmt.Errorf("verify webhook signature: %w", err)
	}

	return Event{
		Type:   string(ev.Type),
		Object: ev.Data.Raw,
	}, nil
}
