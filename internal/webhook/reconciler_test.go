package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/boutique-system/internal/bag"
	"github.com/mmeshcher/boutique-system/internal/model"
	"github.com/mmeshcher/boutique-system/internal/payment"
	"github.com/mmeshcher/boutique-system/internal/repository"
)

type stubRepo struct {
	findCalls    int
	findAfter    int
	foundOrder   *model.Order
	findOrderErr error

	profile    *model.UserProfile
	profileErr error

	updateAddrCalls int
	updatedAddr     model.ShippingAddress
	updateAddrErr   error

	createCalls  int
	createdOrder *model.Order
	createdBag   model.Bag
	createErr    error

	byPID    *model.Order
	byPIDErr error

	deleteCalls int
	deletedID   int64

	markCalls int
	markedID  int64
	markErr   error
}

func (s *stubRepo) GetProfileByUsername(ctx context.Context, username string) (*model.UserProfile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return s.profile, nil
}

func (s *stubRepo) UpdateProfileAddress(ctx context.Context, profileID int64, addr model.ShippingAddress) error {
	s.updateAddrCalls++
	s.updatedAddr = addr
	return s.updateAddrErr
}

func (s *stubRepo) FindOrder(ctx context.Context, m repository.OrderMatch) (*model.Order, error) {
	s.findCalls++
	if s.findOrderErr != nil {
		return nil, s.findOrderErr
	}
	if s.findCalls <= s.findAfter {
		return nil, repository.ErrOrderNotFound
	}
	if s.foundOrder == nil {
		return nil, repository.ErrOrderNotFound
	}
	return s.foundOrder, nil
}

func (s *stubRepo) GetOrderByStripePID(ctx context.Context, pid string) (*model.Order, error) {
	if s.byPIDErr != nil {
		return nil, s.byPIDErr
	}
	return s.byPID, nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, order *model.Order, b model.Bag) (*model.Order, error) {
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	created := *order
	created.ID = 100
	created.OrderNumber = "TESTORDERNUMBER"
	s.createdOrder = &created
	s.createdBag = b
	return &created, nil
}

func (s *stubRepo) DeleteOrder(ctx context.Context, id int64) error {
	s.deleteCalls++
	s.deletedID = id
	return nil
}

func (s *stubRepo) MarkConfirmationSent(ctx context.Context, orderID int64) error {
	s.markCalls++
	s.markedID = orderID
	return s.markErr
}

type stubPricer struct {
	summary *bag.Summary
	err     error
}

func (s *stubPricer) Summarize(ctx context.Context, b model.Bag) (*bag.Summary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.summary, nil
}

type stubMail struct {
	sendCalls int
	orders    []*model.Order
	err       error
}

func (s *stubMail) SendOrderConfirmation(ctx context.Context, order *model.Order) error {
	s.sendCalls++
	s.orders = append(s.orders, order)
	return s.err
}

func newTestReconciler(repo *stubRepo, pricer *stubPricer, mail *stubMail) *Reconciler {
	if pricer.summary == nil && pricer.err == nil {
		pricer.summary = &bag.Summary{
			Total:      decimal.RequireFromString("19.99"),
			Delivery:   decimal.RequireFromString("1.999"),
			GrandTotal: decimal.RequireFromString("21.989"),
		}
	}

	return &Reconciler{
		repo:           repo,
		pricer:         pricer,
		mail:           mail,
		logger:         zap.NewNop(),
		searchAttempts: defaultSearchAttempts,
		searchDelay:    time.Millisecond,
	}
}

func succeededEvent(t *testing.T, mutate func(obj map[string]any)) payment.Event {
	t.Helper()

	obj := map[string]any{
		"id":     "pi_test123",
		"amount": 2199,
		"metadata": map[string]any{
			"bag":       `{"7":2}`,
			"save_info": "false",
			"username":  payment.AnonymousUser,
		},
		"charges": map[string]any{
			"data": []any{
				map[string]any{
					"amount": 2199,
					"billing_details": map[string]any{
						"email": "buyer@example.com",
					},
				},
			},
		},
		"shipping": map[string]any{
			"name":  "Jane Doe",
			"phone": "555-0100",
			"address": map[string]any{
				"line1":       "1 Main Street",
				"line2":       "",
				"city":        "Springfield",
				"state":       "",
				"postal_code": "AB1 2CD",
				"country":     "GB",
			},
		},
	}
	if mutate != nil {
		mutate(obj)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}

	return payment.Event{Type: payment.EventTypePaymentSucceeded, Object: raw}
}

func TestHandleEvent_UnhandledType(t *testing.T) {
	rec := newTestReconciler(&stubRepo{}, &stubPricer{}, &stubMail{})

	res := rec.HandleEvent(context.Background(), payment.Event{Type: "charge.refunded"})

	if !res.OK {
		t.Fatalf("unhandled event must be acknowledged")
	}
	if res.Message != "Unhandled webhook received: charge.refunded" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestHandleEvent_PaymentFailed(t *testing.T) {
	repo := &stubRepo{}
	rec := newTestReconciler(repo, &stubPricer{}, &stubMail{})

	res := rec.HandleEvent(context.Background(), payment.Event{Type: payment.EventTypePaymentFailed})

	if !res.OK {
		t.Fatalf("failed payment event must be acknowledged")
	}
	if repo.findCalls != 0 || repo.createCalls != 0 {
		t.Fatalf("failed payment must not touch orders")
	}
}

func TestHandleEvent_OrderFoundFirstTry(t *testing.T) {
	repo := &stubRepo{
		foundOrder: &model.Order{ID: 5, OrderNumber: "FOUND", Email: "buyer@example.com"},
	}
	mail := &stubMail{}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Message)
	}
	if !strings.Contains(res.Message, "Verified order already in database") {
		t.Fatalf("message = %q", res.Message)
	}
	if repo.findCalls != 1 {
		t.Fatalf("find calls = %d, want 1", repo.findCalls)
	}
	if repo.createCalls != 0 {
		t.Fatalf("found order must not be created again")
	}
	if mail.sendCalls != 1 {
		t.Fatalf("mail sends = %d, want 1", mail.sendCalls)
	}
	if repo.markCalls != 1 || repo.markedID != 5 {
		t.Fatalf("confirmation must be marked for order 5, got %d calls for id %d", repo.markCalls, repo.markedID)
	}
}

func TestHandleEvent_OrderFoundAfterRetries(t *testing.T) {
	repo := &stubRepo{
		findAfter:  2,
		foundOrder: &model.Order{ID: 5, OrderNumber: "FOUND"},
	}
	mail := &stubMail{}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Message)
	}
	if repo.findCalls != 3 {
		t.Fatalf("find calls = %d, want 3", repo.findCalls)
	}
	if mail.sendCalls != 1 {
		t.Fatalf("mail sends = %d, want 1", mail.sendCalls)
	}
}

func TestHandleEvent_RedeliveryDoesNotResendNotice(t *testing.T) {
	repo := &stubRepo{
		foundOrder: &model.Order{ID: 5, OrderNumber: "FOUND", ConfirmationSent: true},
	}
	mail := &stubMail{}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Message)
	}
	if mail.sendCalls != 0 {
		t.Fatalf("mail sends = %d, want 0 for redelivered event", mail.sendCalls)
	}
	if repo.markCalls != 0 {
		t.Fatalf("already sent confirmation must not be marked again")
	}
}

func TestHandleEvent_CreatesOrderWhenNotFound(t *testing.T) {
	repo := &stubRepo{}
	mail := &stubMail{}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Message)
	}
	if !strings.Contains(res.Message, "Created order in webhook") {
		t.Fatalf("message = %q", res.Message)
	}
	if repo.findCalls != defaultSearchAttempts {
		t.Fatalf("find calls = %d, want %d", repo.findCalls, defaultSearchAttempts)
	}
	if repo.createCalls != 1 {
		t.Fatalf("create calls = %d, want 1", repo.createCalls)
	}
	if mail.sendCalls != 1 {
		t.Fatalf("mail sends = %d, want 1", mail.sendCalls)
	}
	if repo.markCalls != 1 {
		t.Fatalf("confirmation must be marked after sending")
	}

	order := repo.createdOrder
	if order.FullName != "Jane Doe" || order.Email != "buyer@example.com" {
		t.Fatalf("order identity = %q / %q", order.FullName, order.Email)
	}
	if order.StripePID != "pi_test123" {
		t.Fatalf("stripe pid = %q", order.StripePID)
	}
	if order.OriginalBag != `{"7":2}` {
		t.Fatalf("original bag = %q", order.OriginalBag)
	}
	if !order.GrandTotal.Equal(decimal.RequireFromString("21.99")) {
		t.Fatalf("grand total = %s, want charge amount 21.99", order.GrandTotal)
	}
	if !order.DeliveryCost.Equal(decimal.RequireFromString("1.999")) {
		t.Fatalf("delivery = %s, want priced 1.999", order.DeliveryCost)
	}
	if order.StreetAddress2 != nil {
		t.Fatalf("empty address line must become NULL, got %q", *order.StreetAddress2)
	}
	if order.TownOrCity == nil || *order.TownOrCity != "Springfield" {
		t.Fatalf("town must be kept")
	}
	if repo.createdBag["7"].Quantity != 2 {
		t.Fatalf("line items must come from the bag snapshot")
	}
}

func TestHandleEvent_InvalidBagSnapshot(t *testing.T) {
	repo := &stubRepo{}
	mail := &stubMail{}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	ev := succeededEvent(t, func(obj map[string]any) {
		obj["metadata"].(map[string]any)["bag"] = "not json"
	})

	res := rec.HandleEvent(context.Background(), ev)

	if res.OK {
		t.Fatalf("expected failure for unparsable bag snapshot")
	}
	if !strings.Contains(res.Message, "ERROR") {
		t.Fatalf("message = %q", res.Message)
	}
	if repo.createCalls != 0 || mail.sendCalls != 0 {
		t.Fatalf("nothing must be created from a broken snapshot")
	}
}

func TestHandleEvent_CreateFailure(t *testing.T) {
	repo := &stubRepo{createErr: errors.New("insert failed")}
	mail := &stubMail{}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if res.OK {
		t.Fatalf("expected failure when order creation fails")
	}
	if mail.sendCalls != 0 {
		t.Fatalf("no confirmation must be sent without an order")
	}
}

func TestHandleEvent_ConcurrentCreateTreatedAsFound(t *testing.T) {
	repo := &stubRepo{
		createErr: repository.ErrOrderExists,
		byPID:     &model.Order{ID: 7, OrderNumber: "RACED"},
	}
	mail := &stubMail{}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Message)
	}
	if !strings.Contains(res.Message, "Verified order already in database") {
		t.Fatalf("message = %q", res.Message)
	}
	if mail.sendCalls != 1 {
		t.Fatalf("mail sends = %d, want 1", mail.sendCalls)
	}
	if mail.orders[0].OrderNumber != "RACED" {
		t.Fatalf("confirmation must go to the existing order")
	}
}

func TestHandleEvent_MailFailureRollsBackCreatedOrder(t *testing.T) {
	repo := &stubRepo{}
	mail := &stubMail{err: errors.New("smtp down")}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if res.OK {
		t.Fatalf("expected failure when confirmation cannot be sent")
	}
	if repo.deleteCalls != 1 || repo.deletedID != 100 {
		t.Fatalf("created order must be deleted, delete calls = %d id = %d", repo.deleteCalls, repo.deletedID)
	}
	if repo.markCalls != 0 {
		t.Fatalf("unsent confirmation must not be marked")
	}
}

func TestHandleEvent_MailFailureForFoundOrderIsSwallowed(t *testing.T) {
	repo := &stubRepo{
		foundOrder: &model.Order{ID: 5, OrderNumber: "FOUND"},
	}
	mail := &stubMail{err: errors.New("smtp down")}
	rec := newTestReconciler(repo, &stubPricer{}, mail)

	res := rec.HandleEvent(context.Background(), succeededEvent(t, nil))

	if !res.OK {
		t.Fatalf("found order must be acknowledged even if mail fails, got %q", res.Message)
	}
	if repo.deleteCalls != 0 {
		t.Fatalf("existing order must not be deleted")
	}
	if repo.markCalls != 0 {
		t.Fatalf("failed send must not be marked as sent")
	}
}

func TestHandleEvent_MissingProfileIsHardError(t *testing.T) {
	repo := &stubRepo{profileErr: repository.ErrProfileNotFound}
	rec := newTestReconciler(repo, &stubPricer{}, &stubMail{})

	ev := succeededEvent(t, func(obj map[string]any) {
		obj["metadata"].(map[string]any)["username"] = "jane"
	})

	res := rec.HandleEvent(context.Background(), ev)

	if res.OK {
		t.Fatalf("missing profile referenced by the event must fail")
	}
	if repo.findCalls != 0 {
		t.Fatalf("order search must not start without a profile")
	}
}

func TestHandleEvent_SaveInfoUpdatesProfileAddress(t *testing.T) {
	repo := &stubRepo{
		profile:    &model.UserProfile{ID: 3, Username: "jane"},
		foundOrder: &model.Order{ID: 5, OrderNumber: "FOUND"},
	}
	rec := newTestReconciler(repo, &stubPricer{}, &stubMail{})

	ev := succeededEvent(t, func(obj map[string]any) {
		meta := obj["metadata"].(map[string]any)
		meta["username"] = "jane"
		meta["save_info"] = "true"
	})

	res := rec.HandleEvent(context.Background(), ev)

	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Message)
	}
	if repo.updateAddrCalls != 1 {
		t.Fatalf("profile address updates = %d, want 1", repo.updateAddrCalls)
	}
	if repo.updatedAddr.StreetAddress2 != nil {
		t.Fatalf("empty address line must be saved as NULL")
	}
	if repo.updatedAddr.StreetAddress1 == nil || *repo.updatedAddr.StreetAddress1 != "1 Main Street" {
		t.Fatalf("street address must be saved")
	}
}

func TestHandleEvent_SaveInfoFalseLeavesProfileUntouched(t *testing.T) {
	repo := &stubRepo{
		profile:    &model.UserProfile{ID: 3, Username: "jane"},
		foundOrder: &model.Order{ID: 5, OrderNumber: "FOUND"},
	}
	rec := newTestReconciler(repo, &stubPricer{}, &stubMail{})

	ev := succeededEvent(t, func(obj map[string]any) {
		obj["metadata"].(map[string]any)["username"] = "jane"
	})

	res := rec.HandleEvent(context.Background(), ev)

	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Message)
	}
	if repo.updateAddrCalls != 0 {
		t.Fatalf("profile must not be updated without save_info")
	}
}
