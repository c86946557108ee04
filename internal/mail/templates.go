package mail

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/mmeshcher/boutique-system/internal/model"
)

var subjectTemplate = template.Must(template.New("subject").Parse(
	`Boutique Confirmation for Order Number {{.Order.OrderNumber}}`,
))

var bodyTemplate = template.Must(template.New("body").Parse(
	`Hello {{.Order.FullName}}!

This is a confirmation of your order at Boutique. Your order information is below:

Order Number: {{.Order.OrderNumber}}
Order Date: {{.Order.Date.Format "02.01.2006"}}

Order Total: {{.Order.OrderTotal.StringFixed 2}}
Delivery: {{.Order.DeliveryCost.StringFixed 2}}
Grand Total: {{.Order.GrandTotal.StringFixed 2}}

{{if .Phone}}We've got your phone number on file as {{.Phone}}.

{{end}}If you have any questions, feel free to contact us at {{.ContactEmail}}.

Thank you for your order!

Sincerely,
Boutique
`,
))

type confirmationData struct {
	Order        *model.Order
	Phone        string
	ContactEmail string
}

func renderConfirmation(order *model.Order, contactEmail string) (subject, body string, err error) {
	data := confirmationData{Order: order, ContactEmail: contactEmail}
	if order.PhoneNumber != nil {
		data.Phone = *order.PhoneNumber
	}

	var subjectBuf strings.Builder
	if err := subjectTemplate.Execute(&subjectBuf, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}

	var bodyBuf strings.Builder
	if err := bodyTemplate.Execute(&bodyBuf, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}

	// Тема письма не должна содержать переводов строк.
	return strings.TrimSpace(subjectBuf.String()), bodyBuf.String(), nil
}
