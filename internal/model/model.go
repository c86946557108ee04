// Package model содержит доменные сущности интернет-магазина.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product представляет товар каталога.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	HasSizes bool
}

// UserProfile содержит адрес доставки по умолчанию зарегистрированного покупателя.
type UserProfile struct {
	ID                    int64
	Username              string
	DefaultPhoneNumber    *string
	DefaultStreetAddress1 *string
	DefaultStreetAddress2 *string
	DefaultTownOrCity     *string
	DefaultPostcode       *string
	DefaultCountry        *string
	DefaultCounty         *string
	CreatedAt             time.Time
}

// ShippingAddress описывает нормализованный адрес доставки. Пустые строки
// от платёжного провайдера приводятся к nil до записи в БД.
type ShippingAddress struct {
	PhoneNumber    *string
	StreetAddress1 *string
	StreetAddress2 *string
	TownOrCity     *string
	Postcode       *string
	Country        *string
	County         *string
}

// Order описывает оформленный заказ.
type Order struct {
	ID             int64
	OrderNumber    string
	UserProfileID  *int64
	FullName       string
	Email          string
	PhoneNumber    *string
	Country        *string
	Postcode       *string
	TownOrCity     *string
	StreetAddress1 *string
	StreetAddress2 *string
	County         *string
	Date           time.Time
	DeliveryCost   decimal.Decimal
	OrderTotal     decimal.Decimal
	GrandTotal     decimal.Decimal
	OriginalBag    string
	StripePID      string
	// ConfirmationSent не даёт отправить второе письмо-подтверждение
	// при повторной доставке события платежа.
	ConfirmationSent bool
	LineItems        []OrderLineItem
}

// OrderLineItem описывает одну позицию заказа. Жизненный цикл позиции
// полностью привязан к родительскому заказу.
type OrderLineItem struct {
	ID            int64
	OrderID       int64
	ProductID     int64
	ProductName   string
	ProductSize   *string
	Quantity      int
	LineItemTotal decimal.Decimal
}
