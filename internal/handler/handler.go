// Package handler содержит HTTP-обработчики API магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/boutique-system/internal/bag"
	"github.com/mmeshcher/boutique-system/internal/middleware"
	"github.com/mmeshcher/boutique-system/internal/model"
	"github.com/mmeshcher/boutique-system/internal/payment"
	"github.com/mmeshcher/boutique-system/internal/repository"
	"github.com/mmeshcher/boutique-system/internal/service"
	"github.com/mmeshcher/boutique-system/internal/validation"
	"github.com/mmeshcher/boutique-system/internal/webhook"
)

const maxWebhookBody = 64 * 1024

// Сообщения синхронного пути оформления заказа, видимые покупателю.
const (
	msgEmptyBag        = "There's nothing in your bag at the moment"
	msgInvalidForm     = "There was an error with your form. Please double check your information."
	msgProductMissing  = "One of the products in your bag wasn't found in our database. Please call us for assistance!"
	msgPublicKeyUnset  = "Stripe public key is missing. Did you forget to set it in your environment?"
	msgOrderProcessed  = "Order successfully processed! Your order number is %s. A confirmation email will be sent to %s."
	anonymousUserValue = payment.AnonymousUser
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	BagView(ctx context.Context, sessionID string) (*bag.Summary, error)
	AddToBag(ctx context.Context, sessionID string, productID int64, size string, quantity int) error
	UpdateBagItem(ctx context.Context, sessionID string, productID int64, size string, quantity int) error
	RemoveFromBag(ctx context.Context, sessionID string, productID int64, size string) error
	StartCheckout(ctx context.Context, sessionID, username string) (*service.Checkout, error)
	CacheCheckoutData(ctx context.Context, sessionID, clientSecret, username string, saveInfo bool) error
	SubmitCheckout(ctx context.Context, sessionID, username string, form *validation.OrderForm) (string, error)
	CheckoutSuccess(ctx context.Context, sessionID, orderNumber string) (*model.Order, error)
	OrderHistory(ctx context.Context, username string) ([]model.Order, error)
	UpdateProfile(ctx context.Context, username string, addr model.ShippingAddress) error
}

// Reconciler определяет контракт сверки событий платёжного провайдера.
type Reconciler interface {
	HandleEvent(ctx context.Context, ev payment.Event) webhook.Result
}

// EventParser проверяет подпись вебхука и разбирает событие.
type EventParser interface {
	Parse(payload []byte, signatureHeader string) (payment.Event, error)
}

// Handler реализует HTTP-обработчики API магазина.
type Handler struct {
	service    Service
	reconciler Reconciler
	events     EventParser
	logger     *zap.Logger
	sessions   *middleware.SessionMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, rec Reconciler, events EventParser, logger *zap.Logger, sessions *middleware.SessionMiddleware) *Handler {
	return &Handler{
		service:    s,
		reconciler: rec,
		events:     events,
		logger:     logger,
		sessions:   sessions,
	}
}

func usernameFromRequest(r *http.Request) string {
	if username := r.Header.Get("X-Username"); username != "" {
		return username
	}
	return anonymousUserValue
}

type bagItemResponse struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Size        string `json:"size,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
	Total       string `json:"total"`
}

type bagResponse struct {
	Items             []bagItemResponse `json:"items"`
	ProductCount      int               `json:"product_count"`
	Total             string            `json:"total"`
	Delivery          string            `json:"delivery"`
	FreeDeliveryDelta string            `json:"free_delivery_delta"`
	GrandTotal        string            `json:"grand_total"`
}

func newBagResponse(s *bag.Summary) bagResponse {
	resp := bagResponse{
		Items:             make([]bagItemResponse, 0, len(s.Items)),
		ProductCount:      s.ProductCount,
		Total:             s.Total.String(),
		Delivery:          s.Delivery.String(),
		FreeDeliveryDelta: s.FreeDeliveryDelta.String(),
		GrandTotal:        s.GrandTotal.String(),
	}
	for _, item := range s.Items {
		resp.Items = append(resp.Items, bagItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.Product.Name,
			Size:        item.Size,
			Quantity:    item.Quantity,
			Price:       item.Product.Price.String(),
			Total:       item.Total.String(),
		})
	}
	return resp
}

// GetBag возвращает итоги корзины текущей сессии.
func (h *Handler) GetBag(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	summary, err := h.service.BagView(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("bag view error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newBagResponse(summary))
}

type bagItemRequest struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

// AddBagItem добавляет товар в корзину текущей сессии.
func (h *Handler) AddBagItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bagItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.AddToBag(r.Context(), sessionID, req.ProductID, req.Size, req.Quantity)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("add to bag error", zap.Error(err), zap.Int64("product", req.ProductID))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateBagItem выставляет количество позиции корзины.
func (h *Handler) UpdateBagItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req bagItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateBagItem(r.Context(), sessionID, productID, req.Size, req.Quantity); err != nil {
		h.logger.Error("update bag error", zap.Error(err), zap.Int64("product", productID))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveBagItem удаляет позицию из корзины.
func (h *Handler) RemoveBagItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveFromBag(r.Context(), sessionID, productID, r.URL.Query().Get("size")); err != nil {
		h.logger.Error("remove from bag error", zap.Error(err), zap.Int64("product", productID))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type checkoutResponse struct {
	Bag             bagResponse `json:"bag"`
	ClientSecret    string      `json:"client_secret"`
	StripePublicKey string      `json:"stripe_public_key"`
	Warning         string      `json:"warning,omitempty"`
}

// StartCheckout пересчитывает корзину, создаёт платёжное намерение и
// возвращает данные для формы оформления заказа.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	checkout, err := h.service.StartCheckout(r.Context(), sessionID, usernameFromRequest(r))
	if err != nil {
		if errors.Is(err, service.ErrEmptyBag) {
			http.Error(w, msgEmptyBag, http.StatusBadRequest)
			return
		}
		h.logger.Error("start checkout error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := checkoutResponse{
		Bag:             newBagResponse(checkout.Summary),
		ClientSecret:    checkout.ClientSecret,
		StripePublicKey: checkout.StripePublicKey,
	}
	// Отсутствие публичного ключа не мешает отдать форму, но о нём нужно предупредить.
	if checkout.StripePublicKey == "" {
		resp.Warning = msgPublicKeyUnset
	}

	writeJSON(w, http.StatusOK, resp)
}

type cacheCheckoutRequest struct {
	ClientSecret string `json:"client_secret"`
	SaveInfo     bool   `json:"save_info"`
}

// CacheCheckoutData дописывает метаданные платежа перед его подтверждением.
func (h *Handler) CacheCheckoutData(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req cacheCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientSecret == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.CacheCheckoutData(r.Context(), sessionID, req.ClientSecret, usernameFromRequest(r), req.SaveInfo)
	if err != nil {
		h.logger.Error("cache checkout data error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type submitCheckoutResponse struct {
	OrderNumber string `json:"order_number"`
}

// SubmitCheckout проверяет форму адреса и создаёт заказ.
func (h *Handler) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var form validation.OrderForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orderNumber, err := h.service.SubmitCheckout(r.Context(), sessionID, usernameFromRequest(r), &form)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyBag):
			http.Error(w, msgEmptyBag, http.StatusBadRequest)
		case errors.Is(err, repository.ErrProductNotFound):
			http.Error(w, msgProductMissing, http.StatusBadRequest)
		case errors.Is(err, repository.ErrOrderExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case isValidationError(err):
			http.Error(w, msgInvalidForm, http.StatusBadRequest)
		default:
			h.logger.Error("submit checkout error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, submitCheckoutResponse{OrderNumber: orderNumber})
}

type lineItemResponse struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Size        string `json:"size,omitempty"`
	Quantity    int    `json:"quantity"`
	Total       string `json:"total"`
}

type orderResponse struct {
	OrderNumber  string             `json:"order_number"`
	FullName     string             `json:"full_name"`
	Email        string             `json:"email"`
	Date         string             `json:"date"`
	DeliveryCost string             `json:"delivery_cost"`
	OrderTotal   string             `json:"order_total"`
	GrandTotal   string             `json:"grand_total"`
	LineItems    []lineItemResponse `json:"line_items,omitempty"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		OrderNumber:  o.OrderNumber,
		FullName:     o.FullName,
		Email:        o.Email,
		Date:         o.Date.Format(time.RFC3339),
		DeliveryCost: o.DeliveryCost.String(),
		OrderTotal:   o.OrderTotal.String(),
		GrandTotal:   o.GrandTotal.String(),
	}
	for _, item := range o.LineItems {
		li := lineItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Total:       item.LineItemTotal.String(),
		}
		if item.ProductSize != nil {
			li.Size = *item.ProductSize
		}
		resp.LineItems = append(resp.LineItems, li)
	}
	return resp
}

type checkoutSuccessResponse struct {
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

// CheckoutSuccess возвращает подтверждение заказа и очищает корзину сессии.
func (h *Handler) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	orderNumber := chi.URLParam(r, "orderNumber")

	order, err := h.service.CheckoutSuccess(r.Context(), sessionID, orderNumber)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("checkout success error", zap.Error(err), zap.String("order", orderNumber))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, checkoutSuccessResponse{
		Message: formatOrderProcessed(order),
		Order:   newOrderResponse(order),
	})
}

// OrderHistory возвращает историю заказов пользователя.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	username := usernameFromRequest(r)
	if username == anonymousUserValue {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.OrderHistory(r.Context(), username)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("order history error", zap.Error(err), zap.String("username", username))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type profileRequest struct {
	PhoneNumber    string `json:"default_phone_number"`
	StreetAddress1 string `json:"default_street_address1"`
	StreetAddress2 string `json:"default_street_address2"`
	TownOrCity     string `json:"default_town_or_city"`
	Postcode       string `json:"default_postcode"`
	Country        string `json:"default_country"`
	County         string `json:"default_county"`
}

// UpdateProfile перезаписывает адрес доставки по умолчанию в профиле.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	username := usernameFromRequest(r)
	if username == anonymousUserValue {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	addr := model.ShippingAddress{
		PhoneNumber:    emptyToNil(req.PhoneNumber),
		StreetAddress1: emptyToNil(req.StreetAddress1),
		StreetAddress2: emptyToNil(req.StreetAddress2),
		TownOrCity:     emptyToNil(req.TownOrCity),
		Postcode:       emptyToNil(req.Postcode),
		Country:        emptyToNil(req.Country),
		County:         emptyToNil(req.County),
	}

	if err := h.service.UpdateProfile(r.Context(), username, addr); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update profile error", zap.Error(err), zap.String("username", username))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// StripeWebhook принимает события платёжного провайдера. Ответ 200 означает
// "событие обработано, не присылать повторно", 500 — "прислать ещё раз".
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ev, err := h.events.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res := h.reconciler.HandleEvent(r.Context(), ev)
	if !res.OK {
		h.logger.Error("webhook processing failed", zap.String("type", ev.Type), zap.String("message", res.Message))
		http.Error(w, res.Message, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Message))
}

func isValidationError(err error) bool {
	return validation.IsValidationError(err)
}

func formatOrderProcessed(order *model.Order) string {
	return fmt.Sprintf(msgOrderProcessed, order.OrderNumber, order.Email)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
