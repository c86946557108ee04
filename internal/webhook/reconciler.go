// Package webhook сверяет события платёжного провайдера с заказами в БД.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/boutique-system/internal/bag"
	"github.com/mmeshcher/boutique-system/internal/model"
	"github.com/mmeshcher/boutique-system/internal/payment"
	"github.com/mmeshcher/boutique-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сверкой.
type Repository interface {
	GetProfileByUsername(ctx context.Context, username string) (*model.UserProfile, error)
	UpdateProfileAddress(ctx context.Context, profileID int64, addr model.ShippingAddress) error
	FindOrder(ctx context.Context, m repository.OrderMatch) (*model.Order, error)
	GetOrderByStripePID(ctx context.Context, pid string) (*model.Order, error)
	CreateOrder(ctx context.Context, order *model.Order, b model.Bag) (*model.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	MarkConfirmationSent(ctx context.Context, orderID int64) error
}

// Pricer считает итоги корзины по её снимку.
type Pricer interface {
	Summarize(ctx context.Context, b model.Bag) (*bag.Summary, error)
}

// MailSender отправляет письмо-подтверждение заказа.
type MailSender interface {
	SendOrderConfirmation(ctx context.Context, order *model.Order) error
}

// Result — ответ обработчику вебхука: OK означает "событие обработано,
// повторная доставка не нужна", иначе провайдер пришлёт событие ещё раз.
type Result struct {
	OK      bool
	Message string
}

const (
	defaultSearchAttempts = 5
	defaultSearchDelay    = 1 * time.Second
)

// Reconciler обрабатывает события платежей: находит существующий заказ
// либо создаёт его из снимка корзины, и отправляет ровно одно подтверждение.
type Reconciler struct {
	repo   Repository
	pricer Pricer
	mail   MailSender
	logger *zap.Logger

	// Синхронный путь оформления может ещё не закоммитить заказ к моменту
	// прихода события, поэтому поиск повторяется с паузами.
	searchAttempts uint64
	searchDelay    time.Duration
}

// NewReconciler создаёт обработчик событий платежей.
func NewReconciler(repo Repository, pricer Pricer, mail MailSender, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:           repo,
		pricer:         pricer,
		mail:           mail,
		logger:         logger,
		searchAttempts: defaultSearchAttempts,
		searchDelay:    defaultSearchDelay,
	}
}

// HandleEvent обрабатывает одно событие вебхука. Неизвестные типы событий
// и неуспешные платежи подтверждаются без обработки.
func (r *Reconciler) HandleEvent(ctx context.Context, ev payment.Event) Result {
	switch ev.Type {
	case payment.EventTypePaymentSucceeded:
		return r.handlePaymentSucceeded(ctx, ev)
	case payment.EventTypePaymentFailed:
		return Result{OK: true, Message: fmt.Sprintf("Webhook received: %s", ev.Type)}
	default:
		return Result{OK: true, Message: fmt.Sprintf("Unhandled webhook received: %s", ev.Type)}
	}
}

// intentPayload — платёжное намерение в том виде, в каком оно приходит
// внутри события вебхука.
type intentPayload struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Metadata struct {
		Bag      string `json:"bag"`
		SaveInfo string `json:"save_info"`
		Username string `json:"username"`
	} `json:"metadata"`
	Charges struct {
		Data []struct {
			Amount         int64 `json:"amount"`
			BillingDetails struct {
				Email string `json:"email"`
			} `json:"billing_details"`
		} `json:"data"`
	} `json:"charges"`
	Shipping struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Address struct {
			Line1      string `json:"line1"`
			Line2      string `json:"line2"`
			City       string `json:"city"`
			State      string `json:"state"`
			PostalCode string `json:"postal_code"`
			Country    string `json:"country"`
		} `json:"address"`
	} `json:"shipping"`
}

func (r *Reconciler) handlePaymentSucceeded(ctx context.Context, ev payment.Event) Result {
	var intent intentPayload
	if err := json.Unmarshal(ev.Object, &intent); err != nil {
		return failure(ev.Type, fmt.Errorf("decode payment intent: %w", err))
	}

	billingEmail := ""
	grandMinor := intent.Amount
	if len(intent.Charges.Data) > 0 {
		billingEmail = intent.Charges.Data[0].BillingDetails.Email
		grandMinor = intent.Charges.Data[0].Amount
	}
	grandTotal := bag.FromMinorUnits(grandMinor)

	// Провайдер присылает пустые строки там, где адресного поля нет.
	addr := model.ShippingAddress{
		PhoneNumber:    nullable(intent.Shipping.Phone),
		StreetAddress1: nullable(intent.Shipping.Address.Line1),
		StreetAddress2: nullable(intent.Shipping.Address.Line2),
		TownOrCity:     nullable(intent.Shipping.Address.City),
		Postcode:       nullable(intent.Shipping.Address.PostalCode),
		Country:        nullable(intent.Shipping.Address.Country),
		County:         nullable(intent.Shipping.Address.State),
	}

	profile, err := r.resolveProfile(ctx, intent.Metadata.Username, intent.Metadata.SaveInfo, addr)
	if err != nil {
		return failure(ev.Type, err)
	}

	match := repository.OrderMatch{
		FullName:       intent.Shipping.Name,
		Email:          billingEmail,
		PhoneNumber:    addr.PhoneNumber,
		Country:        addr.Country,
		Postcode:       addr.Postcode,
		TownOrCity:     addr.TownOrCity,
		StreetAddress1: addr.StreetAddress1,
		StreetAddress2: addr.StreetAddress2,
		County:         addr.County,
		GrandTotal:     grandTotal,
		OriginalBag:    intent.Metadata.Bag,
		StripePID:      intent.ID,
	}

	order, err := r.findOrderWithRetry(ctx, match)
	if err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
		return failure(ev.Type, err)
	}

	if order != nil {
		r.sendConfirmation(ctx, order)
		return success(ev.Type, "Verified order already in database")
	}

	order, res := r.createOrderFromEvent(ctx, ev.Type, &intent, billingEmail, grandTotal, addr, profile)
	if order == nil {
		return res
	}

	if err := r.mail.SendOrderConfirmation(ctx, order); err != nil {
		// Заказ без отправленного подтверждения удаляется: провайдер
		// доставит событие повторно, и вся обработка выполнится заново.
		if delErr := r.repo.DeleteOrder(ctx, order.ID); delErr != nil {
			r.logger.Error("delete order after email failure",
				zap.Error(delErr), zap.String("order", order.OrderNumber))
		}
		return failure(ev.Type, fmt.Errorf("send confirmation email: %w", err))
	}

	r.markConfirmationSent(ctx, order)

	return success(ev.Type, "Created order in webhook")
}

// resolveProfile находит профиль для неанонимного пользователя и при
// save_info перезаписывает его адрес по умолчанию. Отсутствие профиля,
// на который явно указывает событие, — жёсткая ошибка.
func (r *Reconciler) resolveProfile(ctx context.Context, username, saveInfo string, addr model.ShippingAddress) (*model.UserProfile, error) {
	if username == "" || username == payment.AnonymousUser {
		return nil, nil
	}

	profile, err := r.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve profile %q: %w", username, err)
	}

	if parseSaveInfo(saveInfo) {
		if err := r.repo.UpdateProfileAddress(ctx, profile.ID, addr); err != nil {
			return nil, fmt.Errorf("save profile address: %w", err)
		}
	}

	return profile, nil
}

func (r *Reconciler) findOrderWithRetry(ctx context.Context, match repository.OrderMatch) (*model.Order, error) {
	var order *model.Order

	backoff := retry.WithMaxRetries(r.searchAttempts-1, retry.NewConstant(r.searchDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := r.repo.FindOrder(ctx, match)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return retry.RetryableError(err)
			}
			return err
		}
		order = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// createOrderFromEvent создаёт заказ из снимка корзины события.
// Возвращает nil-заказ и готовый Result, если создание не удалось либо
// заказ успел появиться параллельно.
func (r *Reconciler) createOrderFromEvent(ctx context.Context, evType string, intent *intentPayload, billingEmail string, grandTotal decimal.Decimal, addr model.ShippingAddress, profile *model.UserProfile) (*model.Order, Result) {
	bagSnapshot, err := model.ParseBag(intent.Metadata.Bag)
	if err != nil {
		return nil, failure(evType, err)
	}

	summary, err := r.pricer.Summarize(ctx, bagSnapshot)
	if err != nil {
		return nil, failure(evType, err)
	}

	order := &model.Order{
		FullName:       intent.Shipping.Name,
		Email:          billingEmail,
		PhoneNumber:    addr.PhoneNumber,
		Country:        addr.Country,
		Postcode:       addr.Postcode,
		TownOrCity:     addr.TownOrCity,
		StreetAddress1: addr.StreetAddress1,
		StreetAddress2: addr.StreetAddress2,
		County:         addr.County,
		DeliveryCost:   summary.Delivery,
		OrderTotal:     summary.Total,
		GrandTotal:     grandTotal,
		OriginalBag:    intent.Metadata.Bag,
		StripePID:      intent.ID,
	}
	if profile != nil {
		order.UserProfileID = &profile.ID
	}

	created, err := r.repo.CreateOrder(ctx, order, bagSnapshot)
	if err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			// Конкурентная доставка того же события успела создать заказ.
			existing, getErr := r.repo.GetOrderByStripePID(ctx, intent.ID)
			if getErr != nil {
				return nil, failure(evType, getErr)
			}
			r.sendConfirmation(ctx, existing)
			return nil, success(evType, "Verified order already in database")
		}
		return nil, failure(evType, err)
	}

	return created, Result{}
}

// sendConfirmation отправляет подтверждение для уже существующего заказа,
// если оно ещё не отправлялось: повторная доставка того же события не
// должна приводить ко второму письму. Ошибка отправки здесь логируется
// и глотается: неуспех привёл бы к повторной доставке события по уже
// сохранённому заказу.
func (r *Reconciler) sendConfirmation(ctx context.Context, order *model.Order) {
	if order.ConfirmationSent {
		return
	}

	if err := r.mail.SendOrderConfirmation(ctx, order); err != nil {
		r.logger.Error("send confirmation email",
			zap.Error(err), zap.String("order", order.OrderNumber))
		return
	}

	r.markConfirmationSent(ctx, order)
}

func (r *Reconciler) markConfirmationSent(ctx context.Context, order *model.Order) {
	order.ConfirmationSent = true
	if err := r.repo.MarkConfirmationSent(ctx, order.ID); err != nil {
		r.logger.Error("mark confirmation sent",
			zap.Error(err), zap.String("order", order.OrderNumber))
	}
}

func success(evType, detail string) Result {
	return Result{OK: true, Message: fmt.Sprintf("Webhook received: %s | SUCCESS: %s", evType, detail)}
}

func failure(evType string, err error) Result {
	return Result{OK: false, Message: fmt.Sprintf("Webhook received: %s | ERROR: %v", evType, err)}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseSaveInfo(raw string) bool {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return v
}
