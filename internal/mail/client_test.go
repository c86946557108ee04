package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/boutique-system/internal/model"
)

func testOrder() *model.Order {
	phone := "555-0100"
	return &model.Order{
		ID:           1,
		OrderNumber:  "TESTORDERNUMBER",
		FullName:     "Jane Doe",
		Email:        "jane@example.com",
		PhoneNumber:  &phone,
		Date:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		DeliveryCost: decimal.RequireFromString("1.99"),
		OrderTotal:   decimal.RequireFromString("19.99"),
		GrandTotal:   decimal.RequireFromString("21.98"),
	}
}

func TestSendOrderConfirmation(t *testing.T) {
	var got message
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode message: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "shop@example.com")

	if err := client.SendOrderConfirmation(context.Background(), testOrder()); err != nil {
		t.Fatalf("send confirmation: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if got.From != "shop@example.com" || got.To != "jane@example.com" {
		t.Fatalf("addresses = %q -> %q", got.From, got.To)
	}
	if got.Subject != "Boutique Confirmation for Order Number TESTORDERNUMBER" {
		t.Fatalf("subject = %q", got.Subject)
	}
	if !strings.Contains(got.Body, "Grand Total: 21.98") {
		t.Fatalf("body must contain the grand total, got:\n%s", got.Body)
	}
	if !strings.Contains(got.Body, "555-0100") {
		t.Fatalf("body must mention the phone number, got:\n%s", got.Body)
	}
}

func TestSendOrderConfirmation_NoPhoneLine(t *testing.T) {
	var got message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode message: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "shop@example.com")

	order := testOrder()
	order.PhoneNumber = nil

	if err := client.SendOrderConfirmation(context.Background(), order); err != nil {
		t.Fatalf("send confirmation: %v", err)
	}

	if strings.Contains(got.Body, "phone number on file") {
		t.Fatalf("body must not mention a phone number, got:\n%s", got.Body)
	}
}

func TestSendOrderConfirmation_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "shop@example.com")

	if err := client.SendOrderConfirmation(context.Background(), testOrder()); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestSendOrderConfirmation_NotConfigured(t *testing.T) {
	client := NewClient("", "", "shop@example.com")

	if err := client.SendOrderConfirmation(context.Background(), testOrder()); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
