// Package mail отправляет письма-подтверждения заказов через HTTP API почтового сервиса.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/boutique-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с почтовым сервисом.
type Client struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент почтового сервиса по указанному адресу.
// Письма отправляются от имени from; этот же адрес показывается
// покупателю как контактный.
func NewClient(baseURL, apiKey, from string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 5 * time.Second
	httpClient.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		from:       from,
		httpClient: httpClient,
	}
}

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendOrderConfirmation отправляет одно письмо-подтверждение на адрес из заказа.
func (c *Client) SendOrderConfirmation(ctx context.Context, order *model.Order) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("mail client not configured")
	}

	subject, body, err := renderConfirmation(order, c.from)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(message{
		From:    c.from,
		To:      order.Email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := c.baseURL + "/messages"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
