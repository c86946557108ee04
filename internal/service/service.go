// Package service реализует бизнес-логику магазина: корзину, оформление
// заказа и страницу подтверждения.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/boutique-system/internal/bag"
	"github.com/mmeshcher/boutique-system/internal/model"
	"github.com/mmeshcher/boutique-system/internal/payment"
	"github.com/mmeshcher/boutique-system/internal/repository"
	"github.com/mmeshcher/boutique-system/internal/validation"
)

// ErrEmptyBag возвращается при попытке оформить заказ с пустой корзиной.
var ErrEmptyBag = errors.New("bag is empty")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	CreateOrder(ctx context.Context, order *model.Order, b model.Bag) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	GetOrdersByProfile(ctx context.Context, profileID int64) ([]model.Order, error)
	GetProfileByUsername(ctx context.Context, username string) (*model.UserProfile, error)
	UpdateProfileAddress(ctx context.Context, profileID int64, addr model.ShippingAddress) error
}

// BagStore описывает контракт хранилища корзин сессий.
type BagStore interface {
	Bag(ctx context.Context, sessionID string) (model.Bag, error)
	SaveBag(ctx context.Context, sessionID string, b model.Bag) error
	ClearBag(ctx context.Context, sessionID string) error
}

// Intents описывает контракт платёжного провайдера для создания платежей.
type Intents interface {
	CreateIntent(ctx context.Context, amountMinor int64, metadata map[string]string) (*payment.Intent, error)
	UpdateIntentMetadata(ctx context.Context, intentID string, metadata map[string]string) error
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo      Repository
	bags      BagStore
	intents   Intents
	pricer    *bag.Pricer
	publicKey string
}

// NewService создаёт сервис магазина.
func NewService(repo Repository, bags BagStore, intents Intents, pricer *bag.Pricer, publicKey string) *Service {
	return &Service{
		repo:      repo,
		bags:      bags,
		intents:   intents,
		pricer:    pricer,
		publicKey: publicKey,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// BagView возвращает итоги текущей корзины сессии для отображения.
func (s *Service) BagView(ctx context.Context, sessionID string) (*bag.Summary, error) {
	b, err := s.bags.Bag(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.pricer.Summarize(ctx, b)
}

// AddToBag добавляет товар в корзину сессии. Для размерного товара
// обязателен размер; количество добавляется к уже лежащему в корзине.
func (s *Service) AddToBag(ctx context.Context, sessionID string, productID int64, size string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if product.HasSizes && size == "" {
		return fmt.Errorf("size is required for product %d", productID)
	}
	if !product.HasSizes && size != "" {
		return fmt.Errorf("product %d has no sizes", productID)
	}

	b, err := s.bags.Bag(ctx, sessionID)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%d", productID)
	entry := b[key]
	if size != "" {
		if entry.BySize == nil {
			entry = model.BagEntry{BySize: map[string]int{}}
		}
		entry.BySize[size] += quantity
	} else {
		entry = model.BagEntry{Quantity: entry.Quantity + quantity}
	}
	b[key] = entry

	return s.bags.SaveBag(ctx, sessionID, b)
}

// UpdateBagItem выставляет количество позиции корзины; ноль удаляет позицию.
func (s *Service) UpdateBagItem(ctx context.Context, sessionID string, productID int64, size string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("quantity must not be negative")
	}

	b, err := s.bags.Bag(ctx, sessionID)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%d", productID)
	entry, ok := b[key]
	if !ok {
		return nil
	}

	switch {
	case size != "" && entry.HasSizes():
		if quantity == 0 {
			delete(entry.BySize, size)
			if len(entry.BySize) == 0 {
				delete(b, key)
			}
		} else {
			entry.BySize[size] = quantity
			b[key] = entry
		}
	case size == "" && !entry.HasSizes():
		if quantity == 0 {
			delete(b, key)
		} else {
			b[key] = model.BagEntry{Quantity: quantity}
		}
	default:
		return fmt.Errorf("bag entry shape mismatch for product %d", productID)
	}

	return s.bags.SaveBag(ctx, sessionID, b)
}

// RemoveFromBag удаляет позицию корзины целиком (один размер — для размерной).
func (s *Service) RemoveFromBag(ctx context.Context, sessionID string, productID int64, size string) error {
	return s.UpdateBagItem(ctx, sessionID, productID, size, 0)
}

// Checkout — данные для отображения формы оформления заказа.
type Checkout struct {
	Summary         *bag.Summary
	ClientSecret    string
	StripePublicKey string
}

// StartCheckout пересчитывает корзину и создаёт платёжное намерение на её
// сумму. Пустая корзина — ошибка ErrEmptyBag. Снимок корзины и имя
// пользователя уезжают в метаданные платежа и вернутся в событии вебхука.
func (s *Service) StartCheckout(ctx context.Context, sessionID, username string) (*Checkout, error) {
	b, err := s.bags.Bag(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, ErrEmptyBag
	}

	summary, err := s.pricer.Summarize(ctx, b)
	if err != nil {
		return nil, err
	}

	snapshot, err := b.Encode()
	if err != nil {
		return nil, err
	}

	if username == "" {
		username = payment.AnonymousUser
	}

	intent, err := s.intents.CreateIntent(ctx, bag.MinorUnits(summary.GrandTotal), map[string]string{
		payment.MetadataKeyBag:      snapshot,
		payment.MetadataKeyUsername: username,
	})
	if err != nil {
		return nil, err
	}

	return &Checkout{
		Summary:         summary,
		ClientSecret:    intent.ClientSecret,
		StripePublicKey: s.publicKey,
	}, nil
}

// CacheCheckoutData дописывает в платёжное намерение метаданные, известные
// только в момент подтверждения платежа: актуальный снимок корзины, флаг
// save_info и имя пользователя.
func (s *Service) CacheCheckoutData(ctx context.Context, sessionID, clientSecret, username string, saveInfo bool) error {
	b, err := s.bags.Bag(ctx, sessionID)
	if err != nil {
		return err
	}

	snapshot, err := b.Encode()
	if err != nil {
		return err
	}

	if username == "" {
		username = payment.AnonymousUser
	}

	return s.intents.UpdateIntentMetadata(ctx, payment.IntentIDFromClientSecret(clientSecret), map[string]string{
		payment.MetadataKeyBag:      snapshot,
		payment.MetadataKeySaveInfo: fmt.Sprintf("%t", saveInfo),
		payment.MetadataKeyUsername: username,
	})
}

// SubmitCheckout проверяет форму адреса и создаёт заказ со всеми позициями
// из снимка корзины. Отсутствие любого товара из снимка откатывает заказ
// целиком — наружу уходит repository.ErrProductNotFound.
func (s *Service) SubmitCheckout(ctx context.Context, sessionID, username string, form *validation.OrderForm) (string, error) {
	if err := validation.ValidateOrderForm(form); err != nil {
		return "", err
	}

	b, err := s.bags.Bag(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", ErrEmptyBag
	}

	snapshot, err := b.Encode()
	if err != nil {
		return "", err
	}

	summary, err := s.pricer.Summarize(ctx, b)
	if err != nil {
		return "", err
	}

	order := &model.Order{
		FullName:       form.FullName,
		Email:          form.Email,
		PhoneNumber:    optional(form.PhoneNumber),
		Country:        optional(form.Country),
		Postcode:       optional(form.Postcode),
		TownOrCity:     optional(form.TownOrCity),
		StreetAddress1: optional(form.StreetAddress1),
		StreetAddress2: optional(form.StreetAddress2),
		County:         optional(form.County),
		DeliveryCost:   summary.Delivery,
		OrderTotal:     summary.Total,
		GrandTotal:     summary.GrandTotal,
		OriginalBag:    snapshot,
		StripePID:      payment.IntentIDFromClientSecret(form.ClientSecret),
	}

	if username != "" && username != payment.AnonymousUser {
		profile, err := s.repo.GetProfileByUsername(ctx, username)
		if err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
			return "", err
		}
		if profile != nil {
			order.UserProfileID = &profile.ID
		}
	}

	created, err := s.repo.CreateOrder(ctx, order, b)
	if err != nil {
		return "", err
	}

	return created.OrderNumber, nil
}

// CheckoutSuccess возвращает заказ для страницы подтверждения и очищает
// корзину сессии. Повторный заход на страницу безопасен: очистка пустой
// корзины — no-op.
func (s *Service) CheckoutSuccess(ctx context.Context, sessionID, orderNumber string) (*model.Order, error) {
	order, err := s.repo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	if err := s.bags.ClearBag(ctx, sessionID); err != nil {
		return nil, err
	}

	return order, nil
}

// OrderHistory возвращает историю заказов пользователя.
func (s *Service) OrderHistory(ctx context.Context, username string) ([]model.Order, error) {
	profile, err := s.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.repo.GetOrdersByProfile(ctx, profile.ID)
}

// UpdateProfile перезаписывает адрес доставки по умолчанию в профиле пользователя.
func (s *Service) UpdateProfile(ctx context.Context, username string, addr model.ShippingAddress) error {
	profile, err := s.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.repo.UpdateProfileAddress(ctx, profile.ID, addr)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
